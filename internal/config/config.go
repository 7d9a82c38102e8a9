// Package config builds the immutable runtime configuration for both bots.
// Defaults target Base mainnet; an optional JSON file overrides individual
// keys. The resulting struct is constructed once and passed by pointer —
// nothing mutates it after load.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// CanonicalPoolFee is the only fee tier this deployment trades. Config
// files may say otherwise; they are overridden.
const CanonicalPoolFee = uint32(3000)

// DefaultRPCURLs are the public Base endpoints the gateway rotates over.
// BASE_MAINNET_RPC, when set, is prepended at load time.
var DefaultRPCURLs = []string{
	"https://mainnet.base.org",
	"https://base.blockpi.network/v1/rpc/public",
	"https://base.meowrpc.com",
	"https://base-mainnet.public.blastapi.io",
	"https://base.drpc.org",
}

// Config is the volume bot's runtime configuration.
type Config struct {
	RPCURLs []string

	TokenAddress     common.Address // the token volume is generated for
	StableAddress    common.Address // USDC
	WETHAddress      common.Address
	RouterAddress    common.Address
	FactoryAddress   common.Address
	TreasuryAddress  common.Address
	UniversalAddress common.Address

	PoolFee     uint32
	TickSpacing int64
	HookAddress common.Address

	NumTradingWallets int
	WalletsPath       string
	TradeLogPath      string

	// Trade intervals in minutes, sizes in human units.
	TradeIntervalMin  float64
	TradeIntervalMax  float64
	MinTradeSize      float64 // stable-denominated buys
	MaxTradeSize      float64
	MinTradeSizeToken float64 // token-denominated sells
	MaxTradeSizeToken float64

	// Min-out policy. MinOutRatio is the haircut applied to generic swaps;
	// StableMinOutFloor is the absolute floor (stable base units) for
	// token→stable sells, which tolerates the 18→6 decimal gap.
	MinOutRatio       float64
	StableMinOutFloor uint64

	// EmergencyGasSwapStable bounds how much stable (human units) a gas
	// recovery may convert to native currency in one go.
	EmergencyGasSwapStable float64

	MaxGasPriceWei *big.Int
}

// Default returns the Base mainnet configuration the original deployment
// ran with.
func Default() *Config {
	urls := DefaultRPCURLs
	if env := os.Getenv("BASE_MAINNET_RPC"); env != "" {
		urls = append([]string{env}, urls...)
	}
	return &Config{
		RPCURLs:          append([]string(nil), urls...),
		TokenAddress:     common.HexToAddress("0xfdd6013bF2757018D8c087244F03E5A521b2D3b7"),
		StableAddress:    common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		WETHAddress:      common.HexToAddress("0x4200000000000000000000000000000000000006"),
		RouterAddress:    common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
		FactoryAddress:   common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		TreasuryAddress:  common.HexToAddress("0x0a9A62e77326953E5e17948a1A7374dB6eCBB229"),
		UniversalAddress: common.HexToAddress("0x198EF79F1F515F02dFE9e3115eD9fC07183f02fC"),

		PoolFee:     CanonicalPoolFee,
		TickSpacing: 60,
		HookAddress: common.Address{},

		NumTradingWallets: 3,
		WalletsPath:       "trading-wallets.json",
		TradeLogPath:      "./out/trades.jsonl",

		TradeIntervalMin:  1,
		TradeIntervalMax:  2,
		MinTradeSize:      0.26,
		MaxTradeSize:      4.44,
		MinTradeSizeToken: 5,
		MaxTradeSizeToken: 122,

		MinOutRatio:       0.2,
		StableMinOutFloor: 1000, // 0.001 USDC

		EmergencyGasSwapStable: 0.1,

		MaxGasPriceWei: new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000)), // 100 gwei
	}
}

// fileConfig is the on-disk shape. Pointers distinguish "absent" from
// zero values; unknown keys are ignored by encoding/json.
type fileConfig struct {
	RPCURL  *string  `json:"rpc_url"`
	RPCURLs []string `json:"rpc_urls"`

	TokenAddress    *string `json:"token_address"`
	USDCAddress     *string `json:"usdc_address"`
	ETHAddress      *string `json:"eth_address"`
	RouterAddress   *string `json:"router_address"`
	FactoryAddress  *string `json:"factory_address"`
	TreasuryAddress *string `json:"treasury_address"`

	PoolFee *uint32 `json:"pool_fee"`

	NumTradingWallets *int    `json:"num_trading_wallets"`
	WalletsPath       *string `json:"wallets_storage_path"`
	TradeLogPath      *string `json:"trade_log_path"`

	TradeIntervalMin  *float64 `json:"trade_interval_min"`
	TradeIntervalMax  *float64 `json:"trade_interval_max"`
	MinTradeSize      *float64 `json:"min_trade_size"`
	MaxTradeSize      *float64 `json:"max_trade_size"`
	MinTradeSizeToken *float64 `json:"min_trade_size_myso"`
	MaxTradeSizeToken *float64 `json:"max_trade_size_myso"`

	MinOutRatio       *float64 `json:"min_out_ratio"`
	StableMinOutFloor *uint64  `json:"stable_min_out_floor"`

	EmergencyGasSwapStable *float64 `json:"emergency_gas_swap_stable"`

	MaxGasPriceGwei *int64 `json:"max_gas_price_gwei"`
}

// Load merges the JSON file at path over Default. A missing file yields
// the defaults; a malformed file is an error. pool_fee in the file is
// ignored — this deployment trades one tier.
func Load(path string) (*Config, error) {
	cfg := Default()
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
	var fc fileConfig
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
	if err := setAddr(&cfg.WETHAddress, fc.ETHAddress, "eth_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.RouterAddress, fc.RouterAddress, "router_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.FactoryAddress, fc.FactoryAddress, "factory_address"); err != nil {
		return nil, err
	}
	if err := setAddr(&cfg.TreasuryAddress, fc.TreasuryAddress, "treasury_address"); err != nil {
		return nil, err
	}

	if fc.PoolFee != nil && *fc.PoolFee != CanonicalPoolFee {
		log.Printf("[cfg] pool_fee %d in config ignored; using %d", *fc.PoolFee, CanonicalPoolFee)
	}
	cfg.PoolFee = CanonicalPoolFee

	setInt(&cfg.NumTradingWallets, fc.NumTradingWallets)
	setString(&cfg.WalletsPath, fc.WalletsPath)
	setString(&cfg.TradeLogPath, fc.TradeLogPath)
	setFloat(&cfg.TradeIntervalMin, fc.TradeIntervalMin)
	setFloat(&cfg.TradeIntervalMax, fc.TradeIntervalMax)
	setFloat(&cfg.MinTradeSize, fc.MinTradeSize)
	setFloat(&cfg.MaxTradeSize, fc.MaxTradeSize)
	setFloat(&cfg.MinTradeSizeToken, fc.MinTradeSizeToken)
	setFloat(&cfg.MaxTradeSizeToken, fc.MaxTradeSizeToken)
	setFloat(&cfg.MinOutRatio, fc.MinOutRatio)
	if fc.StableMinOutFloor != nil {
		cfg.StableMinOutFloor = *fc.StableMinOutFloor
	}
	setFloat(&cfg.EmergencyGasSwapStable, fc.EmergencyGasSwapStable)
	if fc.MaxGasPriceGwei != nil && *fc.MaxGasPriceGwei > 0 {
		cfg.MaxGasPriceWei = new(big.Int).Mul(big.NewInt(*fc.MaxGasPriceGwei), big.NewInt(1_000_000_000))
	}

	return cfg, nil
}

func setAddr(dst *common.Address, src *string, key string) error {
	if src == nil || *src == "" {
		return nil
	}
	if !common.IsHexAddress(*src) {
		return fmt.Errorf("config %s: %q is not an address", key, *src)
	}
	*dst = common.HexToAddress(*src)
	return nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}
