package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// SupplyConfig drives the supply-release bot: watch the pool price and,
// when it deviates above the ceiling, mint and sell a fraction of supply.
type SupplyConfig struct {
	RPCURLs []string

	TokenAddress   common.Address
	StableAddress  common.Address
	FactoryAddress common.Address
	RouterAddress  common.Address

	PoolFee uint32

	// PriceCeiling is the stable-denominated price above which releases
	// trigger. DeviationThreshold is the fractional overshoot required
	// before acting (0.05 = 5%).
	PriceCeiling       float64
	DeviationThreshold float64

	// ReleaseFraction scales mint size: supply · deviation · fraction.
	ReleaseFraction float64

	// ReleaseCap bounds lifetime minted amount, in whole tokens.
	ReleaseCap *big.Int

	CheckIntervalSec int
	StatePath        string

	MaxGasPriceWei *big.Int
}

// DefaultSupply returns the supply bot's Base mainnet defaults.
func DefaultSupply() *SupplyConfig {
	base := Default()
	return &SupplyConfig{
		RPCURLs:        base.RPCURLs,
		TokenAddress:   base.TokenAddress,
		StableAddress:  base.StableAddress,
		FactoryAddress: base.FactoryAddress,
		RouterAddress:  base.RouterAddress,

		PoolFee: CanonicalPoolFee,

		PriceCeiling:       0.05,
		DeviationThreshold: 0.02,
		ReleaseFraction:    0.1,
		ReleaseCap:         big.NewInt(10_000_000),

		CheckIntervalSec: 60,
		StatePath:        "./out/supply-state.json",

		MaxGasPriceWei: base.MaxGasPriceWei,
	}
}

type supplyFileConfig struct {
	RPCURL  *string  `json:"rpc_url"`
	RPCURLs []string `json:"rpc_urls"`

	TokenAddress   *string `json:"token_address"`
	USDCAddress    *string `json:"usdc_address"`
	FactoryAddress *string `json:"factory_address"`
	RouterAddress  *string `json:"router_address"`

	PriceCeiling       *float64 `json:"price_ceiling"`
	DeviationThreshold *float64 `json:"deviation_threshold"`
	ReleaseFraction    *float64 `json:"release_fraction"`
	ReleaseCap         *int64   `json:"release_cap"`

	CheckIntervalSec *int    `json:"check_interval_sec"`
	StatePath        *string `json:"state_path"`

	MaxGasPriceGwei *int64 `json:"max_gas_price_gwei"`
}

// LoadSupply merges the JSON file at path over DefaultSupply.
func LoadSupply(path string) (*SupplyConfig, error) {
	cfg := DefaultSupply()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc supplyFileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.RPCURL != nil && *fc.RPCURL != "" {
		cfg.RPCURLs = []string{*fc.RPCURL}
	}
	if len(fc.RPCURLs) > 0 {
		cfg.RPCURLs = append([]string(nil), fc.RPCURLs...)
	}
	if err := setAddr(&cfg.TokenAddress, fc.TokenAddress, "token_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.StableAddress, fc.USDCAddress, "usdc_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.FactoryAddress, fc.FactoryAddress, "factory_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.RouterAddress, fc.RouterAddress, "router_address"); err != nil {
		return nil, err
	}
	setFloat(&cfg.PriceCeiling, fc.PriceCeiling)
	setFloat(&cfg.DeviationThreshold, fc.DeviationThreshold)
	setFloat(&cfg.ReleaseFraction, fc.ReleaseFraction)
	if fc.ReleaseCap != nil && *fc.ReleaseCap > 0 {
		cfg.ReleaseCap = big.NewInt(*fc.ReleaseCap)
	}
	setInt(&cfg.CheckIntervalSec, fc.CheckIntervalSec)
	setString(&cfg.StatePath, fc.StatePath)
	if fc.MaxGasPriceGwei != nil && *fc.MaxGasPriceGwei > 0 {
		cfg.MaxGasPriceWei = new(big.Int).Mul(big.NewInt(*fc.MaxGasPriceGwei), big.NewInt(1_000_000_000))
	}

	return cfg, nil
}
