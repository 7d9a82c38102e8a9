package volume

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/trader"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

type stubChain struct {
	balances map[common.Address]*big.Int // token -> balance for every wallet
}

func (s *stubChain) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if b, ok := s.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (s *stubChain) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	cfg := config.Default()
	if token == cfg.StableAddress {
		return 6, nil
	}
	return 18, nil
}

type stubSwapper struct {
	intents []trader.SwapIntent
	err     error
}

func (s *stubSwapper) ExecuteSwap(ctx context.Context, intent trader.SwapIntent) (*trader.TradeOutcome, error) {
	s.intents = append(s.intents, intent)
	if s.err != nil {
		return nil, s.err
	}
	return &trader.TradeOutcome{TxHash: common.HexToHash("0x01"), Confirmed: true, GasUsed: 100_000}, nil
}

func newTestGenerator(t *testing.T, chain *stubChain, sw *stubSwapper) (*Generator, *wallet.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.WalletsPath = filepath.Join(t.TempDir(), "wallets.json")
	cfg.TradeLogPath = "" // discard

	store, err := wallet.Open(cfg.WalletsPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.EnsureWallets(2); err != nil {
		t.Fatal(err)
	}

	factory := func(ctx context.Context, w *wallet.Wallet) (Swapper, error) { return sw, nil }
	g, err := New(context.Background(), cfg, store, chain, factory, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return g, store
}

func TestTradeOnceExecutesWithinConfiguredSizes(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 128)
	cfg := config.Default()
	chain := &stubChain{balances: map[common.Address]*big.Int{
		cfg.StableAddress: huge,
		cfg.TokenAddress:  huge,
	}}
	sw := &stubSwapper{}
	g, _ := newTestGenerator(t, chain, sw)

	for i := 0; i < 20; i++ {
		if err := g.TradeOnce(context.Background()); err != nil {
			t.Fatalf("TradeOnce: %v", err)
		}
	}
	if len(sw.intents) != 20 {
		t.Fatalf("executed %d trades, want 20", len(sw.intents))
	}

	minBuy := big.NewInt(260_000)                                     // 0.26 USDC
	maxBuy := big.NewInt(4_440_001)                                   // 4.44 USDC
	minSell, _ := new(big.Int).SetString("5000000000000000000", 10)   // 5 tokens
	maxSell, _ := new(big.Int).SetString("122000000000000000001", 10) // 122 tokens
	for _, in := range sw.intents {
		switch in.TokenIn {
		case cfg.StableAddress:
			if in.AmountIn.Cmp(minBuy) < 0 || in.AmountIn.Cmp(maxBuy) > 0 {
				t.Fatalf("buy amount %s outside [0.26, 4.44] USDC", in.AmountIn)
			}
		case cfg.TokenAddress:
			if in.AmountIn.Cmp(minSell) < 0 || in.AmountIn.Cmp(maxSell) > 0 {
				t.Fatalf("sell amount %s outside [5, 122] tokens", in.AmountIn)
			}
		default:
			t.Fatalf("unexpected tokenIn %s", in.TokenIn)
		}
	}
}

func TestTradeOnceFlipsDirectionWhenShort(t *testing.T) {
	// Wallets hold only stable, so every round must come out a buy.
	cfg := config.Default()
	chain := &stubChain{balances: map[common.Address]*big.Int{
		cfg.StableAddress: new(big.Int).Lsh(big.NewInt(1), 128),
	}}
	sw := &stubSwapper{}
	g, _ := newTestGenerator(t, chain, sw)

	for i := 0; i < 10; i++ {
		if err := g.TradeOnce(context.Background()); err != nil {
			t.Fatalf("TradeOnce: %v", err)
		}
	}
	for _, in := range sw.intents {
		if in.TokenIn != cfg.StableAddress {
			t.Fatalf("traded tokenIn %s with zero token balance", in.TokenIn)
		}
	}
}

func TestTradeOnceSkipsWhenBothSidesShort(t *testing.T) {
	chain := &stubChain{balances: map[common.Address]*big.Int{}}
	sw := &stubSwapper{}
	g, _ := newTestGenerator(t, chain, sw)

	if err := g.TradeOnce(context.Background()); err != nil {
		t.Fatalf("TradeOnce: %v", err)
	}
	if len(sw.intents) != 0 {
		t.Fatalf("executed %d trades with empty wallets, want 0", len(sw.intents))
	}
}

func TestTradeOncePropagatesSwapError(t *testing.T) {
	cfg := config.Default()
	chain := &stubChain{balances: map[common.Address]*big.Int{
		cfg.StableAddress: new(big.Int).Lsh(big.NewInt(1), 128),
		cfg.TokenAddress:  new(big.Int).Lsh(big.NewInt(1), 128),
	}}
	sw := &stubSwapper{err: errors.New("swap reverted")}
	g, _ := newTestGenerator(t, chain, sw)

	if err := g.TradeOnce(context.Background()); err == nil {
		t.Fatal("expected swap error to propagate")
	}
}

func TestTradeOnceUpdatesStats(t *testing.T) {
	cfg := config.Default()
	chain := &stubChain{balances: map[common.Address]*big.Int{
		cfg.StableAddress: new(big.Int).Lsh(big.NewInt(1), 128),
	}}
	sw := &stubSwapper{}
	g, store := newTestGenerator(t, chain, sw)

	if err := g.TradeOnce(context.Background()); err != nil {
		t.Fatalf("TradeOnce: %v", err)
	}

	var buys int
	var volume float64
	for _, r := range store.Records() {
		buys += r.Stats.Buys
		volume += r.Stats.Volume
	}
	if buys != 1 {
		t.Fatalf("recorded %d buys across pool, want 1", buys)
	}
	if volume <= 0 {
		t.Fatalf("pool volume = %v after a confirmed buy, want > 0", volume)
	}
}

func TestTradeOnceCountsSellVolume(t *testing.T) {
	// Wallets hold only the token, so every round comes out a sell.
	cfg := config.Default()
	chain := &stubChain{balances: map[common.Address]*big.Int{
		cfg.TokenAddress: new(big.Int).Lsh(big.NewInt(1), 128),
	}}
	sw := &stubSwapper{}
	g, store := newTestGenerator(t, chain, sw)

	if err := g.TradeOnce(context.Background()); err != nil {
		t.Fatalf("TradeOnce: %v", err)
	}

	var sells int
	var volume float64
	for _, r := range store.Records() {
		sells += r.Stats.Sells
		volume += r.Stats.Volume
	}
	if sells != 1 {
		t.Fatalf("recorded %d sells across pool, want 1", sells)
	}
	if volume <= 0 {
		t.Fatalf("pool volume = %v after a confirmed sell, want > 0", volume)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	chain := &stubChain{balances: map[common.Address]*big.Int{}}
	g, _ := newTestGenerator(t, chain, &stubSwapper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestNextIntervalWithinBounds(t *testing.T) {
	chain := &stubChain{balances: map[common.Address]*big.Int{}}
	g, _ := newTestGenerator(t, chain, &stubSwapper{})

	lo := time.Duration(g.cfg.TradeIntervalMin * float64(time.Minute))
	hi := time.Duration(g.cfg.TradeIntervalMax * float64(time.Minute))
	for i := 0; i < 100; i++ {
		d := g.nextInterval()
		if d < lo || d > hi {
			t.Fatalf("interval %s outside [%s, %s]", d, lo, hi)
		}
	}
}
