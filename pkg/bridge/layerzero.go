package bridge

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/shopspring/decimal"
)

// LayerZeroConfig holds LayerZero adapter settings.
type LayerZeroConfig struct {
	// Counterparts maps remote chain id to the trusted endpoint identity.
	Counterparts map[string]string
	// BaseFee is the flat transport fee quoted per message.
	BaseFee string `default:"0.25"`
	// FeeRate is the proportional transport surcharge on the amount.
	FeeRate string `default:"0.0001"`
}

// NewLayerZero creates the LayerZero adapter. LayerZero endpoints burn on the
// origin chain and mint on the destination.
func NewLayerZero(cfg LayerZeroConfig, deps Deps) (Module, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("layerzero defaults: %w", err)
	}
	baseFee, err := decimal.NewFromString(cfg.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("layerzero base fee: %w", err)
	}
	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("layerzero fee rate: %w", err)
	}
	return newModule(ProtocolLayerZero, ModeBurnAndMint, cfg.Counterparts, baseFee, feeRate, deps), nil
}
