// Package volume drives randomized buy/sell activity across the trading
// wallet pool: a random wallet, a random size, a coin flip for direction,
// with balance checks that flip or skip a trade the wallet cannot fund.
package volume

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/tradelog"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/trader"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/units"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

// errorCooldown is how long the generator backs off after a failed trade
// before picking the next wallet.
const errorCooldown = 60 * time.Second

// Swapper is the slice of the executor the generator drives. Tests
// substitute a recorder.
type Swapper interface {
	ExecuteSwap(ctx context.Context, intent trader.SwapIntent) (*trader.TradeOutcome, error)
}

// Balances reads token balances; *gateway.Gateway satisfies it.
type Balances interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// ExecutorFactory builds a swapper for one wallet. The production
// factory wraps trader.NewExecutor.
type ExecutorFactory func(ctx context.Context, w *wallet.Wallet) (Swapper, error)

// Generator runs the volume loop over the active wallet pool.
type Generator struct {
	cfg     *config.Config
	store   *wallet.Store
	chain   Balances
	factory ExecutorFactory
	trades  *tradelog.Log

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error

	stableDecimals int32
	tokenDecimals  int32
}

// New builds a generator. Token decimals are resolved once up front so
// the loop never re-reads them.
func New(ctx context.Context, cfg *config.Config, store *wallet.Store, chain Balances, factory ExecutorFactory, trades *tradelog.Log) (*Generator, error) {
	sd, err := chain.TokenDecimals(ctx, cfg.StableAddress)
	if err != nil {
		return nil, fmt.Errorf("stable decimals: %w", err)
	}
	td, err := chain.TokenDecimals(ctx, cfg.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("token decimals: %w", err)
	}
	return &Generator{
		cfg:            cfg,
		store:          store,
		chain:          chain,
		factory:        factory,
		trades:         trades,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:          sleepCtx,
		stableDecimals: int32(sd),
		tokenDecimals:  int32(td),
	}, nil
}

// Run loops until ctx is cancelled: wait a randomized interval, pick a
// wallet, trade. Errors cool the loop down instead of stopping it.
func (g *Generator) Run(ctx context.Context) error {
	log.Printf("[info] volume generator started, interval %.1f-%.1f min",
		g.cfg.TradeIntervalMin, g.cfg.TradeIntervalMax)

	for {
		delay := g.nextInterval()
		log.Printf("[info] next trade in %s", delay.Round(time.Second))
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}

		if err := g.TradeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[warn] trade failed: %v; cooling down %s", err, errorCooldown)
			if err := g.sleep(ctx, errorCooldown); err != nil {
				return err
			}
		}
	}
}

// TradeOnce picks a random active wallet and executes a single trade.
func (g *Generator) TradeOnce(ctx context.Context) error {
	active, err := g.store.ActiveWallets()
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	if len(active) == 0 {
		return fmt.Errorf("no active trading wallets")
	}
	w := active[g.rng.Intn(len(active))]

	buy := g.rng.Intn(2) == 0
	intent, human, err := g.buildIntent(ctx, w.Address(), buy)
	if err != nil {
		return err
	}
	if intent == nil {
		log.Printf("[info] wallet %s short on both sides, skipping round", w.Address())
		return nil
	}
	buy = intent.TokenIn == g.cfg.StableAddress

	swapper, err := g.factory(ctx, w)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	side := "sell"
	if buy {
		side = "buy"
	}
	log.Printf("[trade] wallet %s %s %.6f", w.Address(), side, human)

	out, err := swapper.ExecuteSwap(ctx, *intent)
	entry := tradelog.Entry{
		Wallet:   w.Address().Hex(),
		Side:     side,
		TokenIn:  intent.TokenIn.Hex(),
		TokenOut: intent.TokenOut.Hex(),
		AmountIn: human,
	}
	if err != nil {
		entry.Error = err.Error()
		if lerr := g.trades.Record(entry); lerr != nil {
			log.Printf("[warn] trade log write failed: %v", lerr)
		}
		return err
	}

	entry.TxHash = out.TxHash.Hex()
	entry.Confirmed = out.Confirmed
	entry.GasUsed = out.GasUsed
	entry.Error = out.FailureReason
	if lerr := g.trades.Record(entry); lerr != nil {
		log.Printf("[warn] trade log write failed: %v", lerr)
	}
	if out.Confirmed {
		// Volume counts the notional of both sides: stable units for buys,
		// token units for sells.
		if err := g.store.UpdateStats(w.Address(), buy, human, 0); err != nil {
			log.Printf("[warn] stats update failed: %v", err)
		}
		log.Printf("[trade] wallet %s %s confirmed in tx %s (gas %d)", w.Address(), side, out.TxHash, out.GasUsed)
	} else {
		log.Printf("[warn] wallet %s %s did not confirm (%s), tx %s", w.Address(), side, out.FailureReason, out.TxHash)
	}
	return nil
}

// buildIntent sizes the trade and verifies the wallet can fund it,
// flipping direction when the preferred side lacks balance. A nil intent
// with nil error means both sides are short and the round is skipped.
func (g *Generator) buildIntent(ctx context.Context, addr common.Address, buy bool) (*trader.SwapIntent, float64, error) {
	for i := 0; i < 2; i++ {
		var (
			tokenIn, tokenOut common.Address
			human             float64
			amount            *big.Int
		)
		if buy {
			human = g.randRange(g.cfg.MinTradeSize, g.cfg.MaxTradeSize)
			tokenIn, tokenOut = g.cfg.StableAddress, g.cfg.TokenAddress
			amount = units.ToBase(decimal.NewFromFloat(human), g.stableDecimals)
		} else {
			human = g.randRange(g.cfg.MinTradeSizeToken, g.cfg.MaxTradeSizeToken)
			tokenIn, tokenOut = g.cfg.TokenAddress, g.cfg.StableAddress
			amount = units.ToBase(decimal.NewFromFloat(human), g.tokenDecimals)
		}

		balance, err := g.chain.TokenBalance(ctx, tokenIn, addr)
		if err != nil {
			return nil, 0, fmt.Errorf("read balance: %w", err)
		}
		if balance.Cmp(amount) >= 0 {
			return &trader.SwapIntent{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amount}, human, nil
		}
		buy = !buy
	}
	return nil, 0, nil
}

func (g *Generator) nextInterval() time.Duration {
	minutes := g.randRange(g.cfg.TradeIntervalMin, g.cfg.TradeIntervalMax)
	return time.Duration(minutes * float64(time.Minute))
}

func (g *Generator) randRange(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Float64()*(hi-lo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
