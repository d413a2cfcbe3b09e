// Package security enforces per-account, per-chain and global transfer
// ceilings and runs the suspicious-activity heuristics.
package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-router/internal/metrics"
	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
)

// AccountStatus is the per-account state machine:
// Normal -> Flagged -> Blacklisted.
type AccountStatus string

const (
	StatusNormal      AccountStatus = "normal"
	StatusFlagged     AccountStatus = "flagged"
	StatusBlacklisted AccountStatus = "blacklisted"
)

// Config holds the rate limiting and detection policy.
type Config struct {
	PerTxCeiling       decimal.Decimal
	ChainDailyCeiling  decimal.Decimal
	GlobalDailyCeiling decimal.Decimal
	// WindowPeriod is the rolling-window length for the daily ceilings.
	WindowPeriod time.Duration
	// FlagThreshold transfers within FlagWindow flags the account.
	FlagThreshold int
	FlagWindow    time.Duration
	// AutoBlacklist escalates a flagged account to blacklisted automatically.
	// Detection stays advisory when this is off.
	AutoBlacklist bool
}

type window struct {
	start time.Time
	used  decimal.Decimal
}

type accountState struct {
	status AccountStatus
	recent []time.Time
}

// Manager is the security manager. Every check-then-reserve runs under one
// lock so two concurrent transfers cannot both pass against a stale window.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	accounts     map[string]*accountState
	chainWindows map[string]*window
	globalWindow window

	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a security manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.WindowPeriod <= 0 {
		cfg.WindowPeriod = 24 * time.Hour
	}
	if cfg.FlagWindow <= 0 {
		cfg.FlagWindow = time.Hour
	}
	return &Manager{
		cfg:          cfg,
		accounts:     make(map[string]*accountState),
		chainWindows: make(map[string]*window),
		logger:       logger,
		now:          time.Now,
	}
}

// ValidateTransfer checks, in order: blacklist, per-transaction ceiling,
// per-chain daily window, global daily window. It reserves nothing; capacity
// is charged by RecordTransfer once the router has committed.
func (m *Manager) ValidateTransfer(account, chain string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	if st, ok := m.accounts[account]; ok && st.status == StatusBlacklisted {
		metrics.RateLimitRejections.WithLabelValues("blacklist").Inc()
		return apperrors.ForbiddenError(nil, fmt.Sprintf("account %s is blacklisted", account))
	}
	if m.cfg.PerTxCeiling.IsPositive() && amount.GreaterThan(m.cfg.PerTxCeiling) {
		metrics.RateLimitRejections.WithLabelValues("per_tx").Inc()
		return apperrors.LockedError(nil,
			fmt.Sprintf("amount %s exceeds per-transaction ceiling %s", amount, m.cfg.PerTxCeiling))
	}

	cw := m.chainWindowLocked(chain, now)
	if m.cfg.ChainDailyCeiling.IsPositive() && cw.used.Add(amount).GreaterThan(m.cfg.ChainDailyCeiling) {
		metrics.RateLimitRejections.WithLabelValues("chain_daily").Inc()
		return apperrors.LockedError(nil,
			fmt.Sprintf("chain %s daily ceiling %s exceeded", chain, m.cfg.ChainDailyCeiling))
	}

	m.rolloverLocked(&m.globalWindow, now)
	if m.cfg.GlobalDailyCeiling.IsPositive() && m.globalWindow.used.Add(amount).GreaterThan(m.cfg.GlobalDailyCeiling) {
		metrics.RateLimitRejections.WithLabelValues("global_daily").Inc()
		return apperrors.LockedError(nil,
			fmt.Sprintf("global daily ceiling %s exceeded", m.cfg.GlobalDailyCeiling))
	}

	return nil
}

// RecordTransfer charges the windows and runs suspicious-activity detection.
// Called only after the router has committed to the transfer, so rejected
// attempts never consume capacity.
func (m *Manager) RecordTransfer(account, chain string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	cw := m.chainWindowLocked(chain, now)
	cw.used = cw.used.Add(amount)

	m.rolloverLocked(&m.globalWindow, now)
	m.globalWindow.used = m.globalWindow.used.Add(amount)

	st, ok := m.accounts[account]
	if !ok {
		st = &accountState{status: StatusNormal}
		m.accounts[account] = st
	}

	// Trim activity outside the detection window, then append.
	cutoff := now.Add(-m.cfg.FlagWindow)
	kept := st.recent[:0]
	for _, t := range st.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.recent = append(kept, now)

	if m.cfg.FlagThreshold > 0 && len(st.recent) >= m.cfg.FlagThreshold && st.status == StatusNormal {
		st.status = StatusFlagged
		metrics.SuspiciousAccounts.Inc()
		m.logger.Warn("Suspicious transfer pattern detected",
			zap.String("account", account),
			zap.Int("transfers_in_window", len(st.recent)),
			zap.Duration("window", m.cfg.FlagWindow))
		if m.cfg.AutoBlacklist {
			st.status = StatusBlacklisted
			m.logger.Warn("Account auto-blacklisted", zap.String("account", account))
		}
	}
}

// SetCeilings replaces the transfer ceilings. A zero value disables the
// corresponding check. Already-used window capacity is unaffected.
func (m *Manager) SetCeilings(perTx, chainDaily, globalDaily decimal.Decimal) error {
	if perTx.IsNegative() || chainDaily.IsNegative() || globalDaily.IsNegative() {
		return apperrors.BadRequestError(nil, "ceilings must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.PerTxCeiling = perTx
	m.cfg.ChainDailyCeiling = chainDaily
	m.cfg.GlobalDailyCeiling = globalDaily
	return nil
}

// Blacklist marks the account blacklisted (administrative action)
func (m *Manager) Blacklist(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.accounts[account]
	if !ok {
		st = &accountState{}
		m.accounts[account] = st
	}
	st.status = StatusBlacklisted
}

// Unblacklist returns the account to normal standing
func (m *Manager) Unblacklist(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.accounts[account]; ok {
		st.status = StatusNormal
		st.recent = nil
	}
}

// Status returns the current account status
func (m *Manager) Status(account string) AccountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.accounts[account]; ok {
		return st.status
	}
	return StatusNormal
}

// RemainingChainCapacity reports the unused portion of a chain's daily window
func (m *Manager) RemainingChainCapacity(chain string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	cw := m.chainWindowLocked(chain, m.now())
	remaining := m.cfg.ChainDailyCeiling.Sub(cw.used)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// chainWindowLocked returns the chain window, rolled over if the period
// boundary has passed. Rollover is lazy; there is no timer.
func (m *Manager) chainWindowLocked(chain string, now time.Time) *window {
	cw, ok := m.chainWindows[chain]
	if !ok {
		cw = &window{start: now}
		m.chainWindows[chain] = cw
	}
	m.rolloverLocked(cw, now)
	return cw
}

func (m *Manager) rolloverLocked(w *window, now time.Time) {
	if w.start.IsZero() {
		w.start = now
		return
	}
	if now.Sub(w.start) >= m.cfg.WindowPeriod {
		w.start = now
		w.used = decimal.Zero
	}
}
