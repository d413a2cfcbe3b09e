package bridge

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/shopspring/decimal"
)

// WormholeConfig holds Wormhole adapter settings.
type WormholeConfig struct {
	Counterparts map[string]string
	// BaseFee is the flat transport fee quoted per message. Wormhole guardian
	// attestation is priced per message, so the proportional part is zero by
	// default.
	BaseFee string `default:"0.5"`
	FeeRate string `default:"0"`
}

// NewWormhole creates the Wormhole adapter. Tokens are escrowed on the origin
// chain and a representative amount is minted on the destination.
func NewWormhole(cfg WormholeConfig, deps Deps) (Module, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("wormhole defaults: %w", err)
	}
	baseFee, err := decimal.NewFromString(cfg.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("wormhole base fee: %w", err)
	}
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("wormhole fee rate: %w", err)
	}
	return newModule(ProtocolWormhole, ModeLockAndMint, cfg.Counterparts, baseFee, feeRate, deps), nil
}
