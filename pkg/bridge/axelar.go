package bridge

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/shopspring/decimal"
)

// AxelarConfig holds Axelar adapter settings.
type AxelarConfig struct {
	Counterparts map[string]string
	BaseFee      string `default:"0.4"`
	FeeRate      string `default:"0.00005"`
}

// NewAxelar creates the Axelar adapter (burn on origin, mint on destination).
func NewAxelar(cfg AxelarConfig, deps Deps) (Module, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("axelar defaults: %w", err)
	}
	baseFee, err := decimal.NewFromString(cfg.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("axelar base fee: %w", err)
	}
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("axelar fee rate: %w", err)
	}
	return newModule(ProtocolAxelar, ModeBurnAndMint, cfg.Counterparts, baseFee, feeRate, deps), nil
}
