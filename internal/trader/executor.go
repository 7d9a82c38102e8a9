// Package trader executes swaps against the token's V3 pool: allowance
// management, router dispatch, receipt tracking, and the gas recovery
// that keeps drained wallets trading.
package trader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/gateway"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/units"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

var (
	ErrNoLiquidityPool          = errors.New("trader: no liquidity pool for pair")
	ErrApprovalFailed           = errors.New("trader: token approval failed")
	ErrInsufficientGasFunds     = errors.New("trader: wallet cannot cover gas")
	ErrGasRecoveryFailed        = errors.New("trader: gas recovery exhausted")
	ErrInsufficientTokenBalance = errors.New("trader: tokenIn balance below trade amount")
)

// maxUint256 is the unlimited-allowance approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ApprovalSkipped is the hash reported when the existing allowance
// already covered the swap and no approve transaction was sent.
var ApprovalSkipped = common.Hash{}

// Gas limits and receipt timeouts per transaction kind.
const (
	gasLimitApprove      = 100_000
	gasLimitSwap         = 500_000
	gasLimitRecoverySwap = 300_000
	gasLimitUnwrap       = 100_000

	approveTimeout         = 60 * time.Second
	swapTimeout            = 180 * time.Second
	unwrapTimeout          = 60 * time.Second
	recoveryApproveTimeout = 30 * time.Second
)

// Gas price multipliers: approvals ride slightly above base, swaps well
// above to beat the pool's other takers, recovery below since it only
// has to land eventually.
const (
	gasMultApprove  = 1.2
	gasMultSwap     = 1.4
	gasMultRecovery = 0.8
)

// recoveryPropagationPause is how long to wait after a successful gas
// recovery before retrying the original swap, so the new native balance
// is visible to whichever endpoint serves the retry.
const recoveryPropagationPause = 3 * time.Second

// Gateway is the chain surface the executor needs. *gateway.Gateway
// satisfies it; tests substitute a stub.
type Gateway interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// SwapIntent is one exact-input swap request. AmountIn is base units of
// TokenIn.
type SwapIntent struct {
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

// TradeOutcome reports what happened to a swap that made it on chain.
// Confirmed false with a non-zero TxHash means the transaction did not
// land as a success: FailureReason says whether it reverted on chain or
// the receipt never arrived inside the timeout (in which case it may
// still land later).
type TradeOutcome struct {
	TxHash        common.Hash
	Approval      common.Hash
	Confirmed     bool
	GasUsed       uint64
	FailureReason string
}

// Executor runs swaps for a single wallet. Router family and chain ID
// are resolved once at construction and never re-probed.
type Executor struct {
	gw      Gateway
	wallet  *wallet.Wallet
	cfg     *config.Config
	adapter RouterAdapter
	chainID *big.Int

	decimals map[common.Address]uint8

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor resolves the chain ID and router adapter for w and returns
// an executor bound to them.
func NewExecutor(ctx context.Context, gw Gateway, w *wallet.Wallet, cfg *config.Config) (*Executor, error) {
	chainID, err := gw.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	adapter := DetectRouter(ctx, gw, cfg.RouterAddress)
	return &Executor{
		gw:       gw,
		wallet:   w,
		cfg:      cfg,
		adapter:  adapter,
		chainID:  chainID,
		decimals: make(map[common.Address]uint8),
		sleep:    sleepCtx,
	}, nil
}

// Wallet returns the signer this executor trades with.
func (e *Executor) Wallet() *wallet.Wallet { return e.wallet }

// Router returns the adapter resolved at construction.
func (e *Executor) Router() RouterAdapter { return e.adapter }

// PoolAddress asks the factory for the pair's pool at the configured fee
// tier. The pair is sorted the way the factory keys it, so argument
// order never matters. A zero result is ErrNoLiquidityPool.
func (e *Executor) PoolAddress(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1 := sortPair(tokenA, tokenB)
	data, err := ethabi.Factory.Pack("getPool", token0, token1, big.NewInt(int64(e.cfg.PoolFee)))
	if err != nil {
		return common.Address{}, err
	}
	factory := e.cfg.FactoryAddress
	out, err := e.gw.Call(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory getPool: %w", err)
	}
	if len(out) < 32 {
		return common.Address{}, fmt.Errorf("factory getPool: short return (%d bytes)", len(out))
	}
	pool := common.BytesToAddress(out[12:32])
	if pool == (common.Address{}) {
		return common.Address{}, ErrNoLiquidityPool
	}
	return pool, nil
}

// sortPair orders a pair the way the factory stores it, ascending by
// address bytes.
func sortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// ExecuteSwap runs the intent, recovering gas from the wallet's stable
// balance at most once if the first attempt cannot cover fees.
func (e *Executor) ExecuteSwap(ctx context.Context, intent SwapIntent) (*TradeOutcome, error) {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("trader: non-positive amount in")
	}

	recovered := false
	for {
		out, err := e.trySwap(ctx, intent)
		if err == nil {
			return out, nil
		}
		if gateway.Classify(err) != gateway.KindInsufficientGas {
			return nil, err
		}
		// Recovery sells stable for gas. When the trade itself spends the
		// stable, that would eat the very balance the trade needs.
		if intent.TokenIn == e.cfg.StableAddress {
			return nil, fmt.Errorf("%w: trade spends the stable asset, recovery would be circular (%v)", ErrInsufficientGasFunds, err)
		}
		if recovered {
			return nil, fmt.Errorf("%w: shortfall persists after recovery (%v)", ErrInsufficientGasFunds, err)
		}
		log.Printf("[warn] wallet %s short on gas, attempting recovery", e.wallet.Address())
		if rerr := e.recoverGasFunds(ctx); rerr != nil {
			return nil, fmt.Errorf("%w (original: %v)", rerr, err)
		}
		recovered = true
	}
}

func (e *Executor) trySwap(ctx context.Context, intent SwapIntent) (*TradeOutcome, error) {
	// Both checks run before any transaction is signed: a missing pool or
	// short balance must not cost gas.
	if _, err := e.PoolAddress(ctx, intent.TokenIn, intent.TokenOut); err != nil {
		return nil, err
	}
	balance, err := e.gw.TokenBalance(ctx, intent.TokenIn, e.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("read tokenIn balance: %w", err)
	}
	if balance.Cmp(intent.AmountIn) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientTokenBalance, balance, intent.AmountIn)
	}

	approval, err := e.ensureAllowance(ctx, intent.TokenIn, intent.AmountIn, gasMultApprove, approveTimeout)
	if err != nil {
		return nil, err
	}

	minOut := e.minAmountOut(intent)
	calldata, err := e.adapter.SwapCalldata(SwapParams{
		TokenIn:      intent.TokenIn,
		TokenOut:     intent.TokenOut,
		Fee:          big.NewInt(int64(e.cfg.PoolFee)),
		Recipient:    e.wallet.Address(),
		AmountIn:     intent.AmountIn,
		MinAmountOut: minOut,
	})
	if err != nil {
		return nil, fmt.Errorf("encode swap: %w", err)
	}

	hash, err := e.SendContractTx(ctx, e.adapter.Address(), calldata, gasLimitSwap, gasMultSwap)
	if err != nil {
		return nil, fmt.Errorf("send swap: %w", err)
	}

	receipt, err := e.gw.WaitForReceipt(ctx, hash, swapTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("[warn] swap %s unconfirmed after %s", hash, swapTimeout)
			return &TradeOutcome{TxHash: hash, Approval: approval, Confirmed: false, FailureReason: "receipt timeout"}, nil
		}
		return nil, fmt.Errorf("wait swap receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		e.logRevertReason(ctx, e.adapter.Address(), calldata, receipt)
		return &TradeOutcome{TxHash: hash, Approval: approval, Confirmed: false, GasUsed: receipt.GasUsed, FailureReason: "reverted"}, nil
	}
	return &TradeOutcome{TxHash: hash, Approval: approval, Confirmed: true, GasUsed: receipt.GasUsed}, nil
}

// ensureAllowance approves the router when the current allowance falls
// short of amount. Approvals are unlimited so each wallet pays the
// approve gas once per token, and the allowance is re-read afterwards
// rather than trusting the receipt alone. It returns ApprovalSkipped
// when nothing was sent.
func (e *Executor) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int, gasMult float64, timeout time.Duration) (common.Hash, error) {
	current, err := e.gw.Allowance(ctx, token, e.wallet.Address(), e.adapter.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return ApprovalSkipped, nil
	}

	data, err := ethabi.ERC20.Pack("approve", e.adapter.Address(), maxUint256)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := e.SendContractTx(ctx, token, data, gasLimitApprove, gasMult)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send approve: %w", err)
	}
	receipt, err := e.gw.WaitForReceipt(ctx, hash, timeout)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait approve receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("%w: approve %s reverted", ErrApprovalFailed, hash)
	}

	after, err := e.gw.Allowance(ctx, token, e.wallet.Address(), e.adapter.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("re-read allowance: %w", err)
	}
	if after.Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("%w: allowance %s still below %s after approve %s", ErrApprovalFailed, after, amount, hash)
	}
	return hash, nil
}

// minAmountOut applies the slippage policy: token→stable sells get the
// configured absolute floor (the decimal gap makes a ratio meaningless
// there), everything else a flat fraction of the input amount.
func (e *Executor) minAmountOut(intent SwapIntent) *big.Int {
	if intent.TokenIn == e.cfg.TokenAddress && intent.TokenOut == e.cfg.StableAddress {
		return new(big.Int).SetUint64(e.cfg.StableMinOutFloor)
	}
	scaled := new(big.Float).SetInt(intent.AmountIn)
	scaled.Mul(scaled, big.NewFloat(e.cfg.MinOutRatio))
	out, _ := scaled.Int(nil)
	return out
}

// recoverGasFunds swaps a slice of the wallet's stable balance into WETH,
// unwraps it, and waits for propagation. Two internal attempts.
func (e *Executor) recoverGasFunds(ctx context.Context) error {
	stableDec, err := e.decimalsOf(ctx, e.cfg.StableAddress)
	if err != nil {
		return err
	}
	balance, err := e.gw.TokenBalance(ctx, e.cfg.StableAddress, e.wallet.Address())
	if err != nil {
		return fmt.Errorf("read stable balance: %w", err)
	}

	// min(configured cap, 20% of balance)
	amount := units.ToBaseFloat(e.cfg.EmergencyGasSwapStable, int32(stableDec))
	fifth := new(big.Int).Div(balance, big.NewInt(5))
	if fifth.Cmp(amount) < 0 {
		amount = fifth
	}
	if amount.Sign() <= 0 {
		return ErrInsufficientGasFunds
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := e.swapStableForGas(ctx, amount); err != nil {
			lastErr = err
			log.Printf("[warn] gas recovery attempt %d/2 failed: %v", attempt, err)
			continue
		}
		log.Printf("[info] gas recovery for %s complete, pausing %s", e.wallet.Address(), recoveryPropagationPause)
		if err := e.sleep(ctx, recoveryPropagationPause); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrGasRecoveryFailed, lastErr)
}

func (e *Executor) swapStableForGas(ctx context.Context, amount *big.Int) error {
	if _, err := e.ensureAllowance(ctx, e.cfg.StableAddress, amount, gasMultRecovery, recoveryApproveTimeout); err != nil {
		return err
	}

	calldata, err := e.adapter.SwapCalldata(SwapParams{
		TokenIn:      e.cfg.StableAddress,
		TokenOut:     e.cfg.WETHAddress,
		Fee:          big.NewInt(int64(e.cfg.PoolFee)),
		Recipient:    e.wallet.Address(),
		AmountIn:     amount,
		MinAmountOut: big.NewInt(1),
	})
	if err != nil {
		return fmt.Errorf("encode recovery swap: %w", err)
	}
	hash, err := e.SendContractTx(ctx, e.adapter.Address(), calldata, gasLimitRecoverySwap, gasMultRecovery)
	if err != nil {
		return fmt.Errorf("send recovery swap: %w", err)
	}
	receipt, err := e.gw.WaitForReceipt(ctx, hash, swapTimeout)
	if err != nil {
		return fmt.Errorf("wait recovery swap: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("recovery swap %s reverted", hash)
	}

	wethBal, err := e.gw.TokenBalance(ctx, e.cfg.WETHAddress, e.wallet.Address())
	if err != nil {
		return fmt.Errorf("read weth balance: %w", err)
	}
	if wethBal.Sign() <= 0 {
		return fmt.Errorf("recovery swap landed but weth balance is zero")
	}
	unwrap, err := ethabi.WETH.Pack("withdraw", wethBal)
	if err != nil {
		return err
	}
	hash, err = e.SendContractTx(ctx, e.cfg.WETHAddress, unwrap, gasLimitUnwrap, gasMultRecovery)
	if err != nil {
		return fmt.Errorf("send unwrap: %w", err)
	}
	receipt, err = e.gw.WaitForReceipt(ctx, hash, unwrapTimeout)
	if err != nil {
		return fmt.Errorf("wait unwrap: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("unwrap %s reverted", hash)
	}
	return nil
}

// SendContractTx signs and submits a legacy contract call from the
// executor's wallet and returns its hash.
func (e *Executor) SendContractTx(ctx context.Context, to common.Address, data []byte, gasLimit uint64, gasMult float64) (common.Hash, error) {
	nonce, err := e.gw.Nonce(ctx, e.wallet.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("read nonce: %w", err)
	}
	price, err := e.gw.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read gas price: %w", err)
	}
	price = mulGasPrice(price, gasMult)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: price,
		Data:     data,
	})
	signed, err := e.wallet.SignTx(tx, e.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := e.gw.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// logRevertReason replays the failing calldata at the receipt's block and
// logs whatever the node reports. Replay failures are logged, never
// surfaced; the outcome already tells the caller what matters.
func (e *Executor) logRevertReason(ctx context.Context, to common.Address, data []byte, receipt *types.Receipt) {
	from := e.wallet.Address()
	_, err := e.gw.Call(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, receipt.BlockNumber)
	if err != nil {
		log.Printf("[warn] swap %s reverted: %v", receipt.TxHash, err)
		return
	}
	log.Printf("[warn] swap %s reverted; replay at block %s succeeded (state drift)", receipt.TxHash, receipt.BlockNumber)
}

func (e *Executor) decimalsOf(ctx context.Context, token common.Address) (uint8, error) {
	if d, ok := e.decimals[token]; ok {
		return d, nil
	}
	d, err := e.gw.TokenDecimals(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("read decimals of %s: %w", token, err)
	}
	e.decimals[token] = d
	return d, nil
}

// mulGasPrice scales price by mult using integer math on hundredths.
func mulGasPrice(price *big.Int, mult float64) *big.Int {
	scaled := new(big.Int).Mul(price, big.NewInt(int64(mult*100)))
	return scaled.Div(scaled, big.NewInt(100))
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
