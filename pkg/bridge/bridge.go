// Package bridge implements the protocol adapter abstraction. Each adapter
// encapsulates one external messaging protocol and one accounting mode, and
// exposes the uniform initiate/finalize/estimate contract the router drives.
package bridge

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/internal/metrics"
	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/ledger"
	"github.com/chainsafe/bridge-router/pkg/transport"
)

// Protocol identifies an external messaging protocol
type Protocol string

const (
	ProtocolLayerZero Protocol = "layerzero"
	ProtocolWormhole  Protocol = "wormhole"
	ProtocolAxelar    Protocol = "axelar"
)

// AccountingMode is how the adapter treats the local asset on initiation
type AccountingMode string

const (
	// ModeBurnAndMint destroys the asset locally and recreates it remotely
	ModeBurnAndMint AccountingMode = "burn_and_mint"
	// ModeLockAndMint escrows the asset locally; the remote side mints a
	// representative amount
	ModeLockAndMint AccountingMode = "lock_and_mint"
)

// TransferParams carries everything an adapter needs to initiate a transfer.
// Fee is the protocol fee, debited together with Amount; only Amount crosses.
type TransferParams struct {
	Sender           string
	DestinationChain string
	Recipient        []byte
	Amount           decimal.Decimal
	Fee              decimal.Decimal
	Nonce            uint64
}

// Module is the uniform adapter contract.
type Module interface {
	Protocol() Protocol
	Mode() AccountingMode

	// InitiateTransfer debits the local asset and hands the payload to the
	// transport. It returns a non-empty transfer id as soon as local
	// accounting has executed, even when the subsequent hand-off fails.
	InitiateTransfer(ctx context.Context, p TransferParams) (string, error)

	// FinalizeTransfer consumes an inbound delivery. It is idempotent per
	// proof and rejects untrusted origins with an authentication error.
	FinalizeTransfer(ctx context.Context, msg transport.InboundMessage) error

	// EstimateTransportFee quotes the transport cost for a destination,
	// before any chain multiplier is applied.
	EstimateTransportFee(destinationChain string, amount decimal.Decimal) (decimal.Decimal, error)

	// Reimburse reverses local accounting for a failed transfer. Explicit
	// follow-up operation, never called automatically.
	Reimburse(ctx context.Context, account string, amount decimal.Decimal) error
}

// envelope is the wire payload carried by the transport
type envelope struct {
	Proof     string `json:"proof"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// TransferID derives the deterministic transfer identifier from the sender,
// destination chain and per-account nonce.
func TransferID(sender, destinationChain string, nonce uint64) string {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h := crypto.Keccak256([]byte(sender), []byte(destinationChain), nb[:])
	return hex.EncodeToString(h)
}

// module is the shared adapter implementation; the per-protocol constructors
// differ in configuration and fee formula only.
type module struct {
	protocol     Protocol
	mode         AccountingMode
	localChain   string
	counterparts map[string]string
	baseFee      decimal.Decimal
	feeRate      decimal.Decimal // per-unit surcharge on the bridged amount

	ledger    ledger.Ledger
	transport transport.Transport
	logger    *zap.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// Deps are the collaborators every adapter needs.
type Deps struct {
	LocalChain string
	Ledger     ledger.Ledger
	Transport  transport.Transport
	Logger     *zap.Logger
}

func newModule(p Protocol, mode AccountingMode, counterparts map[string]string, baseFee, feeRate decimal.Decimal, deps Deps) *module {
	if counterparts == nil {
		counterparts = make(map[string]string)
	}
	return &module{
		protocol:     p,
		mode:         mode,
		localChain:   deps.LocalChain,
		counterparts: counterparts,
		baseFee:      baseFee,
		feeRate:      feeRate,
		ledger:       deps.Ledger,
		transport:    deps.Transport,
		logger:       deps.Logger,
		processed:    make(map[string]struct{}),
	}
}

func (m *module) Protocol() Protocol   { return m.protocol }
func (m *module) Mode() AccountingMode { return m.mode }

func (m *module) InitiateTransfer(ctx context.Context, p TransferParams) (string, error) {
	if _, ok := m.counterparts[p.DestinationChain]; !ok {
		return "", apperrors.NotSupportedError(nil,
			fmt.Sprintf("%s has no counterpart on chain %s", m.protocol, p.DestinationChain))
	}

	id := TransferID(p.Sender, p.DestinationChain, p.Nonce)
	debit := p.Amount.Add(p.Fee)

	// Local accounting first. A transport failure after this point leaves the
	// only inconsistent state the system tolerates; the supply oracle and the
	// explicit refund path reconcile it.
	var err error
	if m.mode == ModeBurnAndMint {
		err = m.ledger.Burn(ctx, p.Sender, debit)
	} else {
		err = m.ledger.Lock(ctx, p.Sender, debit)
	}
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(envelope{
		Proof:     id,
		Sender:    p.Sender,
		Recipient: hex.EncodeToString(p.Recipient),
		Amount:    p.Amount.String(),
	})
	if err != nil {
		return id, apperrors.GeneralError(err)
	}

	if err := m.transport.Send(ctx, p.DestinationChain, payload); err != nil {
		m.logger.Error("Transport hand-off failed",
			zap.String("protocol", string(m.protocol)),
			zap.String("transfer_id", id),
			zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues(string(m.protocol), "transport").Inc()
		return id, apperrors.DependencyError(err, "transport delivery failed")
	}

	m.logger.Info("Transfer initiated",
		zap.String("protocol", string(m.protocol)),
		zap.String("transfer_id", id),
		zap.String("destination_chain", p.DestinationChain),
		zap.String("amount", p.Amount.String()))
	return id, nil
}

func (m *module) FinalizeTransfer(ctx context.Context, msg transport.InboundMessage) error {
	trusted, ok := m.counterparts[msg.OriginChain]
	if !ok || msg.Sender != trusted {
		metrics.ErrorsTotal.WithLabelValues(string(m.protocol), "untrusted_origin").Inc()
		return apperrors.UnAuthorizedError(nil,
			fmt.Sprintf("message from untrusted origin %s on chain %s", msg.Sender, msg.OriginChain))
	}

	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return apperrors.BadRequestError(err, "malformed bridge payload")
	}
	amount, err := decimal.NewFromString(env.Amount)
	if err != nil || !amount.IsPositive() {
		return apperrors.BadRequestError(err, "invalid amount in bridge payload")
	}
	recipient, err := hex.DecodeString(env.Recipient)
	if err != nil || len(recipient) == 0 {
		return apperrors.BadRequestError(err, "invalid recipient in bridge payload")
	}

	m.mu.Lock()
	if _, done := m.processed[env.Proof]; done {
		m.mu.Unlock()
		metrics.FinalizeReplays.WithLabelValues(string(m.protocol)).Inc()
		m.logger.Warn("Duplicate finalize delivery ignored",
			zap.String("protocol", string(m.protocol)),
			zap.String("proof", env.Proof))
		return nil
	}
	m.processed[env.Proof] = struct{}{}
	m.mu.Unlock()

	account := string(recipient)
	if m.mode == ModeLockAndMint && m.ledger.LockedSupply().GreaterThanOrEqual(amount) {
		// Returning escrowed funds to the home chain.
		err = m.ledger.Release(ctx, account, amount)
	} else {
		err = m.ledger.Mint(ctx, account, amount)
	}
	if err != nil {
		// Roll the proof back out so an explicit redelivery can succeed.
		m.mu.Lock()
		delete(m.processed, env.Proof)
		m.mu.Unlock()
		return err
	}

	m.logger.Info("Transfer finalized",
		zap.String("protocol", string(m.protocol)),
		zap.String("origin_chain", msg.OriginChain),
		zap.String("proof", env.Proof),
		zap.String("amount", amount.String()))
	return nil
}

func (m *module) EstimateTransportFee(destinationChain string, amount decimal.Decimal) (decimal.Decimal, error) {
	if _, ok := m.counterparts[destinationChain]; !ok {
		return decimal.Zero, apperrors.NotSupportedError(nil,
			fmt.Sprintf("%s has no counterpart on chain %s", m.protocol, destinationChain))
	}
	return m.baseFee.Add(amount.Mul(m.feeRate)), nil
}

func (m *module) Reimburse(ctx context.Context, account string, amount decimal.Decimal) error {
	if m.mode == ModeBurnAndMint {
		return m.ledger.Mint(ctx, account, amount)
	}
	return m.ledger.Release(ctx, account, amount)
}
