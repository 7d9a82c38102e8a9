// Package funding distributes gas money and trading stable from the
// treasury wallet to the trading pool: native transfers first, then
// ERC-20 transfers, all under one tracked nonce sequence, followed by a
// confirmation sweep.
package funding

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/trader"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/units"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

const (
	gasLimitNativeTransfer = 30_000
	gasLimitTokenTransfer  = 100_000

	// sendSpacing keeps endpoints from rate limiting the burst.
	sendSpacing = 200 * time.Millisecond

	confirmationPasses  = 3
	confirmationTimeout = 20 * time.Second
)

// DefaultETHPerWallet is the gas stake each trading wallet receives.
const DefaultETHPerWallet = 0.003

// Funder sends treasury funds to trading wallets.
type Funder struct {
	gw       trader.Gateway
	treasury *wallet.Wallet
	cfg      *config.Config
	chainID  *big.Int

	sleep func(ctx context.Context, d time.Duration) error
}

// New resolves the chain ID and returns a funder signing with treasury.
func New(ctx context.Context, gw trader.Gateway, treasury *wallet.Wallet, cfg *config.Config) (*Funder, error) {
	chainID, err := gw.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	return &Funder{gw: gw, treasury: treasury, cfg: cfg, chainID: chainID, sleep: sleepCtx}, nil
}

// Distribute sends ethPer native currency and stablePer stable tokens
// (both human units) to every recipient. All transfers go out with
// consecutive nonces read once up front; confirmations are swept after
// the last send so one slow receipt never stalls the queue.
func (f *Funder) Distribute(ctx context.Context, recipients []common.Address, ethPer, stablePer float64) error {
	if len(recipients) == 0 {
		return fmt.Errorf("funding: no recipients")
	}

	nonce, err := f.gw.Nonce(ctx, f.treasury.Address())
	if err != nil {
		return fmt.Errorf("treasury nonce: %w", err)
	}
	gasPrice, err := f.gw.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	var pending []common.Hash

	if ethPer > 0 {
		wei := units.ToBaseFloat(ethPer, 18)
		log.Printf("[info] funding %d wallets with %.6f ETH each", len(recipients), ethPer)
		for _, to := range recipients {
			hash, err := f.sendNative(ctx, nonce, to, wei, gasPrice)
			if err != nil {
				return fmt.Errorf("fund %s with gas: %w", to, err)
			}
			pending = append(pending, hash)
			nonce++
			if err := f.sleep(ctx, sendSpacing); err != nil {
				return err
			}
		}
	}

	if stablePer > 0 {
		dec, err := f.gw.TokenDecimals(ctx, f.cfg.StableAddress)
		if err != nil {
			return fmt.Errorf("stable decimals: %w", err)
		}
		amount := units.ToBaseFloat(stablePer, int32(dec))
		log.Printf("[info] funding %d wallets with %.6f stable each", len(recipients), stablePer)
		for _, to := range recipients {
			hash, err := f.sendStable(ctx, nonce, to, amount, gasPrice)
			if err != nil {
				return fmt.Errorf("fund %s with stable: %w", to, err)
			}
			pending = append(pending, hash)
			nonce++
			if err := f.sleep(ctx, sendSpacing); err != nil {
				return err
			}
		}
	}

	return f.confirm(ctx, pending)
}

func (f *Funder) sendNative(ctx context.Context, nonce uint64, to common.Address, wei, gasPrice *big.Int) (common.Hash, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    wei,
		Gas:      gasLimitNativeTransfer,
		GasPrice: gasPrice,
	})
	return f.signAndSend(ctx, tx)
}

func (f *Funder) sendStable(ctx context.Context, nonce uint64, to common.Address, amount, gasPrice *big.Int) (common.Hash, error) {
	data, err := ethabi.ERC20.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, err
	}
	token := f.cfg.StableAddress
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      gasLimitTokenTransfer,
		GasPrice: gasPrice,
		Data:     data,
	})
	return f.signAndSend(ctx, tx)
}

func (f *Funder) signAndSend(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signed, err := f.treasury.SignTx(tx, f.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := f.gw.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// confirm sweeps the pending set, dropping hashes as receipts land.
// Anything still unconfirmed after the final pass is logged, not fatal;
// the transfers are already on the wire.
func (f *Funder) confirm(ctx context.Context, pending []common.Hash) error {
	for pass := 1; pass <= confirmationPasses && len(pending) > 0; pass++ {
		var remaining []common.Hash
		for _, hash := range pending {
			receipt, err := f.gw.WaitForReceipt(ctx, hash, confirmationTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				remaining = append(remaining, hash)
				continue
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				log.Printf("[warn] funding tx %s reverted", hash)
			}
		}
		pending = remaining
		if len(pending) > 0 {
			log.Printf("[info] confirmation pass %d/%d: %d transfers outstanding", pass, confirmationPasses, len(pending))
		}
	}
	if len(pending) > 0 {
		log.Printf("[warn] %d funding transfers unconfirmed after %d passes", len(pending), confirmationPasses)
	}
	return nil
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
