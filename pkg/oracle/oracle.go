// Package oracle implements the multi-signature supply oracle: independent
// reporters submit signed per-chain supply observations, a quorum of matching
// signatures commits a snapshot, and committed totals are reconciled against
// the policy ceiling. Excessive deviation trips the circuit breaker.
package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/internal/metrics"
	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
)

// Observation is one reporter's view of a chain's supply at a nonce.
type Observation struct {
	ChainID string          `json:"chain_id"`
	Total   decimal.Decimal `json:"total"`
	Locked  decimal.Decimal `json:"locked"`
	Nonce   uint64          `json:"nonce"`
}

// ChainSnapshot is the committed supply state for one chain.
type ChainSnapshot struct {
	ChainID   string          `json:"chain_id"`
	Total     decimal.Decimal `json:"total"`
	Locked    decimal.Decimal `json:"locked"`
	Nonce     uint64          `json:"nonce"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GlobalView is the derived cross-chain supply picture.
type GlobalView struct {
	Total        decimal.Decimal `json:"total"`
	Locked       decimal.Decimal `json:"locked"`
	Expected     decimal.Decimal `json:"expected"`
	DeviationBps int64           `json:"deviation_bps"`
	Deviated     bool            `json:"deviated"`
}

// Pausable is a component the circuit breaker can halt.
type Pausable interface {
	Pause()
	Unpause()
}

// Store mirrors committed snapshots to durable storage.
type Store interface {
	SaveSnapshot(chainID, total, locked string, nonce int64) error
}

// pending accumulates matching signatures for one (chain, nonce) tuple.
// Conflicting tuples for the same nonce are rejected rather than kept as
// parallel proposals, but a proposal that outlives PendingTTL without
// reaching quorum is superseded by the next conflicting observation.
type pending struct {
	obs       Observation
	signers   map[common.Address]struct{}
	updatedAt time.Time
}

type chainState struct {
	snapshot ChainSnapshot
	// pendings is keyed by nonce; committing clears every superseded entry.
	pendings map[uint64]*pending
}

// Config holds oracle policy.
type Config struct {
	// SignatureThreshold is the quorum size (distinct reporters).
	SignatureThreshold int
	// DeviationToleranceBps is the allowed absolute deviation from the
	// expected ceiling, in basis points of the ceiling.
	DeviationToleranceBps int64
	// AutoPause halts registered dependents when the tolerance is exceeded.
	AutoPause bool
	// PendingTTL bounds how long a below-quorum proposal can keep rejecting
	// conflicting observations for its nonce. Once a proposal has seen no
	// new signature for this long, a conflicting observation replaces it
	// instead of being refused, so one reporter's stale view cannot wedge
	// the quorum after the underlying supply moved. Zero selects the
	// default of ten minutes.
	PendingTTL time.Duration
}

// Oracle is the supply oracle. Commit logic runs synchronously inside the
// call that receives the quorum-completing signature; there is no background
// counting job.
type Oracle struct {
	mu sync.Mutex

	cfg       Config
	reporters map[common.Address]struct{}
	chains    map[string]*chainState
	expected  decimal.Decimal
	deviated  bool

	dependents map[string]Pausable
	store      Store
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a supply oracle. store may be nil.
func New(cfg Config, store Store, logger *zap.Logger) *Oracle {
	if cfg.SignatureThreshold < 1 {
		cfg.SignatureThreshold = 3
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	return &Oracle{
		cfg:        cfg,
		reporters:  make(map[common.Address]struct{}),
		chains:     make(map[string]*chainState),
		dependents: make(map[string]Pausable),
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// AddReporter authorizes a reporter identity
func (o *Oracle) AddReporter(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reporters[addr] = struct{}{}
}

// RemoveReporter revokes a reporter identity. Signatures it already
// contributed to pending accumulators remain standing until the accumulator
// commits or expires.
func (o *Oracle) RemoveReporter(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.reporters, addr)
}

// RegisterPausable registers a component the circuit breaker controls
func (o *Oracle) RegisterPausable(name string, p Pausable) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dependents[name] = p
}

// UpdateSupply accepts one signed observation. The signature is recovered to
// a reporter identity; stale nonces and duplicate signatures are rejected
// individually without touching other reporters' standing signatures. When
// the quorum is reached the snapshot commits and the global view is
// reconciled in the same call.
func (o *Oracle) UpdateSupply(obs Observation, sig []byte) error {
	reporter, err := RecoverReporter(obs, sig)
	if err != nil {
		metrics.OracleUpdates.WithLabelValues(obs.ChainID, "bad_signature").Inc()
		return apperrors.UnAuthorizedError(err, "unrecoverable signature")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.reporters[reporter]; !ok {
		metrics.OracleUpdates.WithLabelValues(obs.ChainID, "unknown_reporter").Inc()
		return apperrors.UnAuthorizedError(nil,
			fmt.Sprintf("reporter %s is not authorized", reporter.Hex()))
	}
	if obs.Total.IsNegative() || obs.Locked.IsNegative() {
		return apperrors.BadRequestError(nil, "supply figures must not be negative")
	}
	if obs.Nonce == 0 {
		return apperrors.BadRequestError(nil, "nonce must start at 1")
	}

	st, ok := o.chains[obs.ChainID]
	if !ok {
		st = &chainState{
			snapshot: ChainSnapshot{ChainID: obs.ChainID},
			pendings: make(map[uint64]*pending),
		}
		o.chains[obs.ChainID] = st
	}

	// Downgrade-replay protection: nonces at or below the committed one are
	// rejected outright, not silently ignored.
	if st.snapshot.Nonce > 0 && obs.Nonce <= st.snapshot.Nonce {
		metrics.OracleUpdates.WithLabelValues(obs.ChainID, "stale_nonce").Inc()
		return apperrors.ConflictError(nil,
			fmt.Sprintf("nonce %d not above committed nonce %d for chain %s",
				obs.Nonce, st.snapshot.Nonce, obs.ChainID))
	}

	p, ok := st.pendings[obs.Nonce]
	if ok && (!p.obs.Total.Equal(obs.Total) || !p.obs.Locked.Equal(obs.Locked)) {
		if o.now().Sub(p.updatedAt) <= o.cfg.PendingTTL {
			metrics.OracleUpdates.WithLabelValues(obs.ChainID, "tuple_mismatch").Inc()
			return apperrors.ConflictError(nil,
				fmt.Sprintf("observation for chain %s nonce %d conflicts with the pending value",
					obs.ChainID, obs.Nonce))
		}
		// The standing proposal expired without quorum. Its signatures are
		// discarded with it; the fresh observation starts a new accumulator.
		metrics.OracleUpdates.WithLabelValues(obs.ChainID, "superseded").Inc()
		o.logger.Warn("Expired pending proposal superseded",
			zap.String("chain", obs.ChainID),
			zap.Uint64("nonce", obs.Nonce),
			zap.Int("discarded_signatures", len(p.signers)))
		ok = false
	}
	if !ok {
		p = &pending{obs: obs, signers: make(map[common.Address]struct{})}
		st.pendings[obs.Nonce] = p
	}
	if _, dup := p.signers[reporter]; dup {
		metrics.OracleUpdates.WithLabelValues(obs.ChainID, "duplicate_signature").Inc()
		return apperrors.ConflictError(nil,
			fmt.Sprintf("reporter %s already signed nonce %d for chain %s",
				reporter.Hex(), obs.Nonce, obs.ChainID))
	}
	p.signers[reporter] = struct{}{}
	p.updatedAt = o.now()
	metrics.OracleUpdates.WithLabelValues(obs.ChainID, "accepted").Inc()

	if len(p.signers) < o.cfg.SignatureThreshold {
		o.logger.Debug("Supply observation pending",
			zap.String("chain", obs.ChainID),
			zap.Uint64("nonce", obs.Nonce),
			zap.Int("signatures", len(p.signers)),
			zap.Int("threshold", o.cfg.SignatureThreshold))
		return nil
	}

	o.commitLocked(st, p)
	return nil
}

// commitLocked applies a quorum-complete pending value and reconciles.
func (o *Oracle) commitLocked(st *chainState, p *pending) {
	st.snapshot.Total = p.obs.Total
	st.snapshot.Locked = p.obs.Locked
	st.snapshot.Nonce = p.obs.Nonce
	st.snapshot.UpdatedAt = o.now()

	// Clear the committed accumulator and everything it superseded.
	for nonce := range st.pendings {
		if nonce <= p.obs.Nonce {
			delete(st.pendings, nonce)
		}
	}

	total, _ := st.snapshot.Total.Float64()
	locked, _ := st.snapshot.Locked.Float64()
	metrics.ChainSupply.WithLabelValues(st.snapshot.ChainID, "total").Set(total)
	metrics.ChainSupply.WithLabelValues(st.snapshot.ChainID, "locked").Set(locked)

	if o.store != nil {
		err := o.store.SaveSnapshot(st.snapshot.ChainID,
			st.snapshot.Total.String(), st.snapshot.Locked.String(), int64(st.snapshot.Nonce))
		if err != nil {
			o.logger.Error("Failed to persist supply snapshot",
				zap.String("chain", st.snapshot.ChainID), zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("oracle", "store").Inc()
		}
	}

	o.logger.Info("Supply snapshot committed",
		zap.String("chain", st.snapshot.ChainID),
		zap.Uint64("nonce", st.snapshot.Nonce),
		zap.String("total", st.snapshot.Total.String()),
		zap.String("locked", st.snapshot.Locked.String()))

	o.reconcileLocked()
}

// reconcileLocked recomputes the global view and trips the circuit breaker
// when the deviation exceeds the tolerance.
func (o *Oracle) reconcileLocked() {
	view := o.globalViewLocked()
	metrics.SupplyDeviationBps.Set(float64(view.DeviationBps))

	if !view.Deviated {
		return
	}
	o.deviated = true
	o.logger.Error("Supply deviation beyond tolerance",
		zap.String("global_total", view.Total.String()),
		zap.String("expected", view.Expected.String()),
		zap.Int64("deviation_bps", view.DeviationBps),
		zap.Int64("tolerance_bps", o.cfg.DeviationToleranceBps))

	if !o.cfg.AutoPause {
		return
	}
	for name, dep := range o.dependents {
		dep.Pause()
		o.logger.Warn("Dependent component paused by supply oracle", zap.String("component", name))
	}
}

func (o *Oracle) globalViewLocked() GlobalView {
	view := GlobalView{Expected: o.expected}
	for _, st := range o.chains {
		view.Total = view.Total.Add(st.snapshot.Total)
		view.Locked = view.Locked.Add(st.snapshot.Locked)
	}
	if o.expected.IsPositive() {
		deviation := view.Total.Sub(o.expected).Abs()
		bps := deviation.Mul(decimal.NewFromInt(10000)).Div(o.expected)
		view.DeviationBps = bps.IntPart()
		view.Deviated = view.DeviationBps > o.cfg.DeviationToleranceBps
	}
	return view
}

// SetExpectedSupply sets the policy ceiling. Privileged, non-quorum: it
// states intent, not observed fact. The deviation check reruns immediately.
func (o *Oracle) SetExpectedSupply(expected decimal.Decimal) error {
	if expected.IsNegative() {
		return apperrors.BadRequestError(nil, "expected supply must not be negative")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expected = expected
	o.reconcileLocked()
	return nil
}

// ChainSupply returns the committed snapshot for a chain. A chain with only
// pending submissions has no committed snapshot and reads as not found.
func (o *Oracle) ChainSupply(chainID string) (*ChainSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.chains[chainID]
	if !ok || st.snapshot.Nonce == 0 {
		return nil, apperrors.ResourceNotFoundError(nil,
			fmt.Sprintf("no supply snapshot for chain %s", chainID))
	}
	cp := st.snapshot
	return &cp, nil
}

// GlobalSupply returns the derived cross-chain view
func (o *Oracle) GlobalSupply() GlobalView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.globalViewLocked()
}

// Deviated reports whether the oracle has flagged a deviation since the last
// explicit reset.
func (o *Oracle) Deviated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.deviated
}

// Resume clears the deviation flag and unpauses all dependents. Explicit
// administrative recovery after the underlying cause is resolved.
func (o *Oracle) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deviated = false
	for name, dep := range o.dependents {
		dep.Unpause()
		o.logger.Info("Dependent component unpaused", zap.String("component", name))
	}
}
