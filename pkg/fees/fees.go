// Package fees computes protocol fees and tracks collected-fee balances per
// protocol and origin chain.
package fees

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chainsafe/bridge-router/internal/metrics"
	apperrors "github.com/chainsafe/bridge-router/pkg/app/errors"
	"github.com/chainsafe/bridge-router/pkg/bridge"
)

var tenThousand = decimal.NewFromInt(10000)

type bucketKey struct {
	protocol bridge.Protocol
	chain    string
}

// Manager holds fee policy and collected balances. All access runs under one
// lock so concurrent callers never observe a partially applied update.
type Manager struct {
	mu          sync.Mutex
	maxBps      int64
	bps         map[bridge.Protocol]int64
	multipliers map[string]decimal.Decimal
	collected   map[bucketKey]decimal.Decimal
}

// NewManager creates a fee manager with the given hard cap in basis points.
func NewManager(maxBps int64) *Manager {
	if maxBps <= 0 {
		maxBps = 500
	}
	return &Manager{
		maxBps:      maxBps,
		bps:         make(map[bridge.Protocol]int64),
		multipliers: make(map[string]decimal.Decimal),
		collected:   make(map[bucketKey]decimal.Decimal),
	}
}

// SetProtocolFeeBps sets a protocol's fee percentage. Values above the hard
// cap are rejected to bound economic risk.
func (m *Manager) SetProtocolFeeBps(p bridge.Protocol, bps int64) error {
	if bps < 0 {
		return apperrors.BadRequestError(nil, "fee bps must not be negative")
	}
	if bps > m.maxBps {
		return apperrors.BadRequestError(nil,
			fmt.Sprintf("fee %d bps exceeds cap of %d bps", bps, m.maxBps))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bps[p] = bps
	return nil
}

// ProtocolFee returns the fee charged for bridging amount via protocol p.
func (m *Manager) ProtocolFee(p bridge.Protocol, amount decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	bps := m.bps[p]
	m.mu.Unlock()
	if bps == 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(bps)).Div(tenThousand)
}

// SetChainMultiplier sets the transport-fee multiplier for a destination
// chain. It scales transport estimates only, never the protocol fee.
func (m *Manager) SetChainMultiplier(chain string, multiplier decimal.Decimal) error {
	if !multiplier.IsPositive() {
		return apperrors.BadRequestError(nil, "chain multiplier must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multipliers[chain] = multiplier
	return nil
}

// ChainMultiplier returns the configured multiplier for a chain, defaulting
// to 1.
func (m *Manager) ChainMultiplier(chain string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mul, ok := m.multipliers[chain]; ok {
		return mul
	}
	return decimal.NewFromInt(1)
}

// Record accumulates a collected protocol fee into the (protocol, origin
// chain) bucket.
func (m *Manager) Record(p bridge.Protocol, originChain string, fee decimal.Decimal) {
	if !fee.IsPositive() {
		return
	}
	key := bucketKey{protocol: p, chain: originChain}
	m.mu.Lock()
	m.collected[key] = m.collected[key].Add(fee)
	m.mu.Unlock()
	f, _ := fee.Float64()
	metrics.FeesCollected.WithLabelValues(string(p), originChain).Add(f)
}

// Collected returns the current balance of one bucket.
func (m *Manager) Collected(p bridge.Protocol, originChain string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collected[bucketKey{protocol: p, chain: originChain}]
}

// Withdraw zeroes exactly one bucket and returns its balance. Draining across
// buckets is not possible by construction.
func (m *Manager) Withdraw(p bridge.Protocol, originChain string) (decimal.Decimal, error) {
	key := bucketKey{protocol: p, chain: originChain}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.collected[key]
	if !balance.IsPositive() {
		return decimal.Zero, apperrors.ResourceNotFoundError(nil,
			fmt.Sprintf("no collected fees for %s on %s", p, originChain))
	}
	m.collected[key] = decimal.Zero
	return balance, nil
}
