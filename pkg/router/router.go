// Package router orchestrates cross-chain transfers: it checks the protocol
// registry, the security manager and the fee manager, delegates execution to
// the selected bridge module and keeps the append-only transfer history.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/internal/metrics"
	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/bridge"
	"github.com/chainsafe/bridge-router/pkg/fees"
	"github.com/chainsafe/bridge-router/pkg/registry"
	"github.com/chainsafe/bridge-router/pkg/security"
)

// Status is the transfer record lifecycle. Initiated is the only entry state,
// Delivered and Failed are terminal, Refunded is reachable only from Failed.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// TransferRecord is one initiated bridge operation. Records are never
// deleted; status is the only mutable field.
type TransferRecord struct {
	ID               string          `json:"id"`
	Account          string          `json:"account"`
	DestinationChain string          `json:"destination_chain"`
	Recipient        []byte          `json:"recipient"`
	Amount           decimal.Decimal `json:"amount"`
	Protocol         bridge.Protocol `json:"protocol"`
	Fee              decimal.Decimal `json:"fee"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FeeQuote is the cost breakdown for a prospective transfer.
type FeeQuote struct {
	Protocol     bridge.Protocol `json:"protocol"`
	ProtocolFee  decimal.Decimal `json:"protocol_fee"`
	TransportFee decimal.Decimal `json:"transport_fee"`
	TotalFee     decimal.Decimal `json:"total_fee"`
}

// Store mirrors transfer records to durable storage for audit. The in-memory
// state stays authoritative for all checks.
type Store interface {
	SaveTransfer(rec *TransferRecord) error
	UpdateTransferStatus(id string, status string) error
}

// Router is the orchestration entry point. One mutex serializes every
// externally triggered operation, matching the execution-atomicity model the
// rest of the design assumes.
type Router struct {
	mu sync.Mutex

	localChain string
	registry   *registry.Registry
	security   *security.Manager
	fees       *fees.Manager
	store      Store
	logger     *zap.Logger

	records   map[string]*TransferRecord
	order     []string
	byAccount map[string][]string
	nonces    map[string]uint64

	paused bool
	now    func() time.Time
}

// New creates a router. store may be nil when no audit database is attached.
func New(localChain string, reg *registry.Registry, sec *security.Manager, fm *fees.Manager, store Store, logger *zap.Logger) *Router {
	return &Router{
		localChain: localChain,
		registry:   reg,
		security:   sec,
		fees:       fm,
		store:      store,
		logger:     logger,
		records:    make(map[string]*TransferRecord),
		byAccount:  make(map[string][]string),
		nonces:     make(map[string]uint64),
		now:        time.Now,
	}
}

// EstimateFee quotes the cost of bridging amount to destinationChain via the
// given protocol. The chain multiplier scales the transport part only.
func (r *Router) EstimateFee(p bridge.Protocol, destinationChain string, amount decimal.Decimal) (*FeeQuote, error) {
	if !amount.IsPositive() {
		return nil, apperrors.BadRequestError(nil, "amount must be positive")
	}
	mod, err := r.registry.Route(p, destinationChain)
	if err != nil {
		return nil, err
	}
	transportFee, err := mod.EstimateTransportFee(destinationChain, amount)
	if err != nil {
		return nil, err
	}
	transportFee = transportFee.Mul(r.fees.ChainMultiplier(destinationChain))
	protocolFee := r.fees.ProtocolFee(p, amount)
	return &FeeQuote{
		Protocol:     p,
		ProtocolFee:  protocolFee,
		TransportFee: transportFee,
		TotalFee:     protocolFee.Add(transportFee),
	}, nil
}

// Bridge initiates a transfer via an explicitly chosen protocol. paidFee is
// the transport currency supplied by the caller and must cover the quote's
// total. All preconditions run before any state mutation; a failed
// precondition leaves no side effects.
func (r *Router) Bridge(ctx context.Context, account string, p bridge.Protocol, destinationChain string, recipient []byte, amount, paidFee decimal.Decimal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bridgeLocked(ctx, account, p, destinationChain, recipient, amount, paidFee)
}

// BridgeAuto selects the cheapest enabled protocol for the destination chain.
// It never bypasses any check to find a route; with nothing enabled it fails
// with a no-route condition.
func (r *Router) BridgeAuto(ctx context.Context, account, destinationChain string, recipient []byte, amount, paidFee decimal.Decimal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := r.registry.EnabledForChain(destinationChain)
	if len(candidates) == 0 {
		return "", apperrors.NotSupportedError(nil,
			fmt.Sprintf("no route available to chain %s", destinationChain))
	}

	var best bridge.Protocol
	bestTotal := decimal.Zero
	found := false
	for _, desc := range candidates {
		quote, err := r.EstimateFee(desc.Protocol, destinationChain, amount)
		if err != nil {
			continue
		}
		if !found || quote.TotalFee.LessThan(bestTotal) {
			best = desc.Protocol
			bestTotal = quote.TotalFee
			found = true
		}
	}
	if !found {
		return "", apperrors.NotSupportedError(nil,
			fmt.Sprintf("no route available to chain %s", destinationChain))
	}

	return r.bridgeLocked(ctx, account, best, destinationChain, recipient, amount, paidFee)
}

func (r *Router) bridgeLocked(ctx context.Context, account string, p bridge.Protocol, destinationChain string, recipient []byte, amount, paidFee decimal.Decimal) (string, error) {
	if r.paused {
		return "", apperrors.LockedError(nil, "router is paused")
	}

	// Precondition order per the orchestration contract: route, input
	// validity, security policy, fee sufficiency.
	mod, err := r.registry.Route(p, destinationChain)
	if err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", apperrors.BadRequestError(nil, "amount must be positive")
	}
	if len(recipient) == 0 {
		return "", apperrors.BadRequestError(nil, "recipient must not be empty")
	}
	if account == "" {
		return "", apperrors.BadRequestError(nil, "account must not be empty")
	}
	if err := r.security.ValidateTransfer(account, destinationChain, amount); err != nil {
		return "", err
	}

	transportFee, err := mod.EstimateTransportFee(destinationChain, amount)
	if err != nil {
		return "", err
	}
	transportFee = transportFee.Mul(r.fees.ChainMultiplier(destinationChain))
	protocolFee := r.fees.ProtocolFee(p, amount)
	if paidFee.LessThan(protocolFee.Add(transportFee)) {
		return "", apperrors.BadRequestError(nil,
			fmt.Sprintf("paid fee %s below required %s", paidFee, protocolFee.Add(transportFee)))
	}

	nonce := r.nonces[account]

	id, err := mod.InitiateTransfer(ctx, bridge.TransferParams{
		Sender:           account,
		DestinationChain: destinationChain,
		Recipient:        recipient,
		Amount:           amount,
		Fee:              protocolFee,
		Nonce:            nonce,
	})
	if id == "" {
		// Local accounting never executed; nothing to record and the
		// account nonce stays unconsumed so the id sequence has no gap.
		return "", err
	}
	r.nonces[account] = nonce + 1

	now := r.now()
	rec := &TransferRecord{
		ID:               id,
		Account:          account,
		DestinationChain: destinationChain,
		Recipient:        recipient,
		Amount:           amount,
		Protocol:         p,
		Fee:              protocolFee,
		Status:           StatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.appendLocked(rec)

	// Local accounting executed, so capacity is charged even when the
	// hand-off failed.
	r.security.RecordTransfer(account, destinationChain, amount)

	if err != nil {
		r.setStatusLocked(rec, StatusFailed)
		metrics.TransfersTotal.WithLabelValues(string(p), string(StatusFailed)).Inc()
		return id, err
	}

	r.fees.Record(p, r.localChain, protocolFee)
	r.setStatusLocked(rec, StatusDelivered)
	metrics.TransfersTotal.WithLabelValues(string(p), string(StatusDelivered)).Inc()
	amt, _ := amount.Float64()
	metrics.TransferAmount.WithLabelValues(string(p), destinationChain).Observe(amt)

	r.logger.Info("Transfer bridged",
		zap.String("transfer_id", id),
		zap.String("account", account),
		zap.String("protocol", string(p)),
		zap.String("destination_chain", destinationChain),
		zap.String("amount", amount.String()),
		zap.String("fee", protocolFee.String()))
	return id, nil
}

// Refund reimburses a Failed transfer. It is an explicit, separately
// authorized operation, not a rollback of the original.
func (r *Router) Refund(ctx context.Context, transferID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[transferID]
	if !ok {
		return apperrors.ResourceNotFoundError(nil, fmt.Sprintf("unknown transfer %s", transferID))
	}
	if rec.Status != StatusFailed {
		return apperrors.ConflictError(nil,
			fmt.Sprintf("transfer %s is %s, only failed transfers are refundable", transferID, rec.Status))
	}

	mod, err := r.registry.Route(rec.Protocol, rec.DestinationChain)
	if err != nil {
		return err
	}
	// Amount and protocol fee were debited together on initiation.
	if err := mod.Reimburse(ctx, rec.Account, rec.Amount.Add(rec.Fee)); err != nil {
		return err
	}
	r.setStatusLocked(rec, StatusRefunded)
	metrics.TransfersTotal.WithLabelValues(string(rec.Protocol), string(StatusRefunded)).Inc()

	r.logger.Info("Transfer refunded",
		zap.String("transfer_id", transferID),
		zap.String("account", rec.Account),
		zap.String("amount", rec.Amount.Add(rec.Fee).String()))
	return nil
}

// Transfer returns a copy of one transfer record
func (r *Router) Transfer(id string) (*TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.ResourceNotFoundError(nil, fmt.Sprintf("unknown transfer %s", id))
	}
	cp := *rec
	return &cp, nil
}

// UserTransfers returns the account's transfer history in creation order
func (r *Router) UserTransfers(account string) []*TransferRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byAccount[account]
	out := make([]*TransferRecord, 0, len(ids))
	for _, id := range ids {
		cp := *r.records[id]
		out = append(out, &cp)
	}
	return out
}

// Pause stops new transfers; queries and refunds stay available.
// Implements the oracle's Pausable contract.
func (r *Router) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	metrics.ComponentPaused.WithLabelValues("router").Set(1)
	r.logger.Warn("Router paused")
}

// Unpause resumes transfers
func (r *Router) Unpause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	metrics.ComponentPaused.WithLabelValues("router").Set(0)
	r.logger.Info("Router unpaused")
}

// Paused reports whether the router is paused
func (r *Router) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Router) appendLocked(rec *TransferRecord) {
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.byAccount[rec.Account] = append(r.byAccount[rec.Account], rec.ID)
	if r.store != nil {
		if err := r.store.SaveTransfer(rec); err != nil {
			r.logger.Error("Failed to persist transfer record",
				zap.String("transfer_id", rec.ID), zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("router", "store").Inc()
		}
	}
}

func (r *Router) setStatusLocked(rec *TransferRecord, status Status) {
	rec.Status = status
	rec.UpdatedAt = r.now()
	if r.store != nil {
		if err := r.store.UpdateTransferStatus(rec.ID, string(status)); err != nil {
			r.logger.Error("Failed to persist transfer status",
				zap.String("transfer_id", rec.ID), zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("router", "store").Inc()
		}
	}
}
