// Command volumebot manages the trading wallet pool and generates
// randomized buy/sell volume on the token's pool.
//
// Subcommands:
//
//	create-wallets  grow the pool to the configured size
//	fund            send gas and stable from the treasury to the pool
//	test-trade      execute one tiny buy from the first active wallet
//	run             start the volume loop (default)
//	deactivate      retire the newest wallets from the pool
//	info            print pool addresses and trade stats
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/dotenv"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/funding"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/gateway"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/tradelog"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/trader"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/units"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/volume"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

// testTradeStable is the stable size of the smoke-test buy.
const testTradeStable = 0.04

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var (
		configPath = flag.String("config", "", "Path to JSON config (defaults apply when missing)")
		count      = flag.Int("count", 0, "Wallet count for create-wallets/deactivate (default: config value)")
		ethPer     = flag.Float64("eth", funding.DefaultETHPerWallet, "ETH per wallet for fund")
		stablePer  = flag.Float64("stable", 0, "Stable per wallet for fund (0 skips the stable phase)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.New(cfg.RPCURLs, cfg.MaxGasPriceWei)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer gw.Close()

	store, err := wallet.Open(cfg.WalletsPath)
	if err != nil {
		log.Fatalf("[fatal] open wallet store: %v", err)
	}

	switch cmd {
	case "create-wallets":
		err = createWallets(store, cfg, *count)
	case "fund":
		err = fund(ctx, gw, store, cfg, *ethPer, *stablePer)
	case "test-trade":
		err = testTrade(ctx, gw, store, cfg)
	case "run":
		err = run(ctx, gw, store, cfg)
	case "deactivate":
		err = deactivate(store, *count)
	case "info":
		err = info(ctx, gw, store, cfg)
	default:
		log.Fatalf("[fatal] unknown command %q", cmd)
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[info] shutting down")
			return
		}
		log.Fatalf("[fatal] %v", err)
	}
}

func createWallets(store *wallet.Store, cfg *config.Config, count int) error {
	if count <= 0 {
		count = cfg.NumTradingWallets
	}
	wallets, err := store.EnsureWallets(count)
	if err != nil {
		return err
	}
	log.Printf("[info] pool holds %d trading wallets", len(wallets))
	for _, w := range wallets {
		fmt.Println(w.Address().Hex())
	}
	return nil
}

func fund(ctx context.Context, gw *gateway.Gateway, store *wallet.Store, cfg *config.Config, ethPer, stablePer float64) error {
	treasury, err := treasuryWallet()
	if err != nil {
		return err
	}
	active, err := store.ActiveWallets()
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return fmt.Errorf("no active wallets; run create-wallets first")
	}
	f, err := funding.New(ctx, gw, treasury, cfg)
	if err != nil {
		return err
	}
	recipients := make([]common.Address, len(active))
	for i, w := range active {
		recipients[i] = w.Address()
	}
	return f.Distribute(ctx, recipients, ethPer, stablePer)
}

func testTrade(ctx context.Context, gw *gateway.Gateway, store *wallet.Store, cfg *config.Config) error {
	active, err := store.ActiveWallets()
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return fmt.Errorf("no active wallets")
	}
	w := active[0]

	exec, err := trader.NewExecutor(ctx, gw, w, cfg)
	if err != nil {
		return err
	}
	dec, err := gw.TokenDecimals(ctx, cfg.StableAddress)
	if err != nil {
		return err
	}
	amount := units.ToBase(decimal.NewFromFloat(testTradeStable), int32(dec))
	log.Printf("[trade] test buy of %.2f stable from %s via %s router", testTradeStable, w.Address(), exec.Router().Version())

	out, err := exec.ExecuteSwap(ctx, trader.SwapIntent{
		TokenIn:  cfg.StableAddress,
		TokenOut: cfg.TokenAddress,
		AmountIn: amount,
	})
	if err != nil {
		return err
	}
	if out.Confirmed {
		log.Printf("[trade] test trade confirmed in tx %s (gas %d)", out.TxHash, out.GasUsed)
	} else {
		log.Printf("[warn] test trade did not confirm (%s), tx %s", out.FailureReason, out.TxHash)
	}
	return nil
}

func run(ctx context.Context, gw *gateway.Gateway, store *wallet.Store, cfg *config.Config) error {
	trades := tradelog.Open(cfg.TradeLogPath)
	defer trades.Close()

	factory := func(ctx context.Context, w *wallet.Wallet) (volume.Swapper, error) {
		return trader.NewExecutor(ctx, gw, w, cfg)
	}
	gen, err := volume.New(ctx, cfg, store, gw, factory, trades)
	if err != nil {
		return err
	}
	return gen.Run(ctx)
}

func deactivate(store *wallet.Store, count int) error {
	if count <= 0 {
		return fmt.Errorf("pass -count to say how many wallets to retire")
	}
	retired, err := store.DeactivateWallets(count)
	if err != nil {
		return err
	}
	log.Printf("[info] retired %d wallets", len(retired))
	for _, addr := range retired {
		fmt.Println(addr)
	}
	return nil
}

func info(ctx context.Context, gw *gateway.Gateway, store *wallet.Store, cfg *config.Config) error {
	records := store.Records()
	if len(records) == 0 {
		fmt.Println("no wallets")
		return nil
	}
	for _, r := range records {
		status := "active"
		if !r.Active {
			status = "retired"
		}
		fmt.Printf("%s  %s  buys=%d sells=%d volume=%.4f\n",
			r.Address, status, r.Stats.Buys, r.Stats.Sells, r.Stats.Volume)
	}
	return nil
}

func treasuryWallet() (*wallet.Wallet, error) {
	key := strings.TrimSpace(os.Getenv("TREASURY_PRIVATE_KEY"))
	if key == "" {
		return nil, fmt.Errorf("TREASURY_PRIVATE_KEY not set")
	}
	return wallet.New(key)
}
