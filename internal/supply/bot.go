// Package supply implements the price-ceiling defense: watch the pool,
// and when the token trades above its ceiling, mint a deviation-scaled
// slice of supply and sell it into the pool, up to a lifetime cap.
package supply

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/chainfeed"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/trader"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

const (
	gasLimitMint = 200_000
	gasMultMint  = 1.2
	mintTimeout  = 60 * time.Second
)

// ErrCapExhausted means the lifetime release cap has been fully minted.
var ErrCapExhausted = errors.New("supply: release cap exhausted")

// Bot watches the pool price and releases supply above the ceiling.
type Bot struct {
	cfg  *config.SupplyConfig
	gw   trader.Gateway
	exec *trader.Executor

	pool          common.Address
	invertPrice   bool // true when the target token is the pool's token1
	decimals0     int32
	decimals1     int32
	tokenDecimals int32
	capBase       *big.Int // release cap in base units

	statePath string
	state     State
}

// New resolves the pool, its token ordering and decimals once, loads
// persisted release state, and returns a bot signing with owner.
func New(ctx context.Context, gw trader.Gateway, owner *wallet.Wallet, cfg *config.SupplyConfig) (*Bot, error) {
	exec, err := trader.NewExecutor(ctx, gw, owner, executorConfig(cfg))
	if err != nil {
		return nil, err
	}

	b := &Bot{cfg: cfg, gw: gw, exec: exec, statePath: cfg.StatePath}
	if err := b.resolvePool(ctx); err != nil {
		return nil, err
	}

	td, err := gw.TokenDecimals(ctx, cfg.TokenAddress)
	if err != nil {
		return nil, fmt.Errorf("token decimals: %w", err)
	}
	b.tokenDecimals = int32(td)
	b.capBase = new(big.Int).Mul(cfg.ReleaseCap,
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(td)), nil))

	st, err := LoadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	b.state = st
	log.Printf("[info] supply bot: pool %s, released so far %s (cap %s base units)",
		b.pool, st.Released, b.capBase)
	return b, nil
}

// executorConfig projects the supply config onto the trade executor's
// config so swaps reuse the same machinery as the volume bot.
func executorConfig(sc *config.SupplyConfig) *config.Config {
	cfg := config.Default()
	cfg.RPCURLs = sc.RPCURLs
	cfg.TokenAddress = sc.TokenAddress
	cfg.StableAddress = sc.StableAddress
	cfg.FactoryAddress = sc.FactoryAddress
	cfg.RouterAddress = sc.RouterAddress
	cfg.PoolFee = sc.PoolFee
	cfg.MaxGasPriceWei = sc.MaxGasPriceWei
	return cfg
}

func (b *Bot) resolvePool(ctx context.Context) error {
	pool, err := b.exec.PoolAddress(ctx, b.cfg.TokenAddress, b.cfg.StableAddress)
	if err != nil {
		return err
	}
	b.pool = pool

	token0, err := b.callAddress(ctx, pool, "token0")
	if err != nil {
		return fmt.Errorf("pool token0: %w", err)
	}
	b.invertPrice = token0 != b.cfg.TokenAddress

	var t0, t1 common.Address
	if b.invertPrice {
		t0, t1 = b.cfg.StableAddress, b.cfg.TokenAddress
	} else {
		t0, t1 = b.cfg.TokenAddress, b.cfg.StableAddress
	}
	d0, err := b.gw.TokenDecimals(ctx, t0)
	if err != nil {
		return err
	}
	d1, err := b.gw.TokenDecimals(ctx, t1)
	if err != nil {
		return err
	}
	b.decimals0, b.decimals1 = int32(d0), int32(d1)
	return nil
}

// PoolPrice reads slot0 and returns the token's stable-denominated
// price.
func (b *Bot) PoolPrice(ctx context.Context) (float64, error) {
	data, err := ethabi.Pool.Pack("slot0")
	if err != nil {
		return 0, err
	}
	out, err := b.gw.Call(ctx, ethereum.CallMsg{To: &b.pool, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("pool slot0: %w", err)
	}
	vals, err := ethabi.Pool.Unpack("slot0", out)
	if err != nil {
		return 0, fmt.Errorf("decode slot0: %w", err)
	}
	sqrtP, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("decode slot0: sqrtPriceX96 is %T", vals[0])
	}
	price := trader.PriceFromSqrtX96(sqrtP, b.decimals0, b.decimals1, b.invertPrice)
	if price <= 0 {
		return 0, fmt.Errorf("pool reports non-positive price")
	}
	return price, nil
}

// Check reads the price and releases supply when it sits far enough
// above the ceiling. It returns true when a release happened.
func (b *Bot) Check(ctx context.Context) (bool, error) {
	price, err := b.PoolPrice(ctx)
	if err != nil {
		return false, err
	}

	trigger := b.cfg.PriceCeiling * (1 + b.cfg.DeviationThreshold)
	if price <= trigger {
		log.Printf("[info] price %.6f at or under trigger %.6f, holding", price, trigger)
		return false, nil
	}
	deviation := (price - b.cfg.PriceCeiling) / b.cfg.PriceCeiling
	log.Printf("[info] price %.6f above ceiling %.6f (deviation %.2f%%)", price, b.cfg.PriceCeiling, deviation*100)

	amount, err := b.releaseAmount(ctx, deviation)
	if err != nil {
		if errors.Is(err, ErrCapExhausted) {
			log.Printf("[warn] %v", err)
			return false, nil
		}
		return false, err
	}
	if amount.Sign() <= 0 {
		return false, nil
	}

	if err := b.mintAndSell(ctx, amount); err != nil {
		return false, err
	}
	return true, nil
}

// / releaseAmount sizes the mint: totalSupply · deviation · fraction,
// clamped to whatever headroom the cap still has.
func (b *Bot) releaseAmount(ctx context.Context, deviation float64) (*big.Int, error) {
	remaining := new(big.Int).Sub(b.capBase, b.state.Released)
	if remaining.Sign() <= 0 {
		return nil, ErrCapExhausted
	}

	data, err := ethabi.ERC20.Pack("totalSupply")
	if err != nil {
		return nil, err
	}
	token := b.cfg.TokenAddress
	out, err := b.gw.Call(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("totalSupply: short return")
	}
	supply := new(big.Int).SetBytes(out[:32])

	f := new(big.Float).SetInt(supply)
	f.Mul(f, big.NewFloat(deviation*b.cfg.ReleaseFraction))
	amount, _ := f.Int(nil)
	if amount.Cmp(remaining) > 0 {
		amount = remaining
	}
	return amount, nil
}

// mintAndSell mints amount to the owner wallet, sells it into the pool,
// and persists the new released total. The mint counts against the cap
// even when the sell leg fails; minted supply exists either way.
func (b *Bot) mintAndSell(ctx context.Context, amount *big.Int) error {
	owner := b.exec.Wallet().Address()
	data, err := ethabi.ERC20.Pack("mint", owner, amount)
	if err != nil {
		return err
	}
	hash, err := b.exec.SendContractTx(ctx, b.cfg.TokenAddress, data, gasLimitMint, gasMultMint)
	if err != nil {
		return fmt.Errorf("send mint: %w", err)
	}
	receipt, err := b.gw.WaitForReceipt(ctx, hash, mintTimeout)
	if err != nil {
		return fmt.Errorf("wait mint receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("supply: mint %s reverted", hash)
	}
	log.Printf("[info] minted %s base units in tx %s", amount, hash)

	b.state.Released = new(big.Int).Add(b.state.Released, amount)
	b.state.Releases++
	b.state.LastRelease = time.Now().UTC()
	if err := SaveState(b.statePath, b.state); err != nil {
		log.Printf("[warn] persist release state: %v", err)
	}

	out, err := b.exec.ExecuteSwap(ctx, trader.SwapIntent{
		TokenIn:  b.cfg.TokenAddress,
		TokenOut: b.cfg.StableAddress,
		AmountIn: amount,
	})
	if err != nil {
		return fmt.Errorf("sell released supply: %w", err)
	}
	if out.Confirmed {
		log.Printf("[trade] released supply sold in tx %s (gas %d)", out.TxHash, out.GasUsed)
	} else {
		// The mint already counted against the cap; a failed sell leaves
		// the tokens in the owner wallet for the next cycle.
		log.Printf("[warn] release sell did not confirm (%s), tx %s", out.FailureReason, out.TxHash)
	}
	return nil
}

// Released reports the lifetime released amount in base units.
func (b *Bot) Released() *big.Int { return new(big.Int).Set(b.state.Released) }

// Run checks on every new head, throttled to the configured interval,
// falling back to a plain ticker when heads is nil or closes.
func (b *Bot) Run(ctx context.Context, heads <-chan chainfeed.Head) error {
	interval := time.Duration(b.cfg.CheckIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastCheck time.Time
	check := func() {
		if time.Since(lastCheck) < interval {
			return
		}
		lastCheck = time.Now()
		if _, err := b.Check(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[warn] supply check: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-heads:
			if !ok {
				heads = nil
				continue
			}
			log.Printf("[info] head %d", h.BlockNumber())
			check()
		case <-ticker.C:
			check()
		}
	}
}

func (b *Bot) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	data, err := ethabi.Pool.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := b.gw.Call(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, fmt.Errorf("short return for %s", method)
	}
	return common.BytesToAddress(out[12:32]), nil
}
