// Package gateway is the single place the bots talk to the chain. It owns a
// round-robin list of JSON-RPC endpoints, retries transient failures with
// exponential backoff while rotating endpoints, and exposes the handful of
// reads and writes trading needs.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
)

const (
	maxAttempts        = 5
	initialBackoff     = 1 * time.Second
	receiptPollEvery   = 2 * time.Second
	defaultCallTimeout = 30 * time.Second
)

// Gateway fans chain access out over a fixed endpoint list. Safe for use
// from a single trading loop; endpoint rotation is internally locked.
type Gateway struct {
	endpoints   []string
	maxGasPrice *big.Int

	mu      sync.Mutex
	idx     int
	clients map[string]*ethclient.Client

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a gateway over the given endpoints. maxGasPrice caps every
// GasPrice read; nil means no cap.
func New(endpoints []string, maxGasPrice *big.Int) (*Gateway, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one RPC endpoint required")
	}
	return &Gateway{
		endpoints:   append([]string(nil), endpoints...),
		maxGasPrice: maxGasPrice,
		clients:     make(map[string]*ethclient.Client),
		sleep:       sleepCtx,
	}, nil
}

// Close releases all dialed clients.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.clients {
		c.Close()
	}
	g.clients = make(map[string]*ethclient.Client)
}

func (g *Gateway) currentEndpoint() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endpoints[g.idx]
}

func (g *Gateway) advance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx = (g.idx + 1) % len(g.endpoints)
	if len(g.endpoints) > 1 {
		log.Printf("[warn] switching to RPC endpoint %s", g.endpoints[g.idx])
	}
}

func (g *Gateway) client(ctx context.Context) (*ethclient.Client, error) {
	g.mu.Lock()
	url := g.endpoints[g.idx]
	if c, ok := g.clients[url]; ok {
		g.mu.Unlock()
		return c, nil
	}
	g.mu.Unlock()

	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.clients[url]; ok {
		c.Close()
		return existing, nil
	}
	g.clients[url] = c
	return c, nil
}

// do runs op with retry: up to maxAttempts tries, exponential backoff from
// initialBackoff, advancing to the next endpoint before every retry.
// Non-retryable errors return immediately; exhaustion wraps
// ErrGatewayUnavailable.
func (g *Gateway) do(ctx context.Context, label string, op func(ctx context.Context, ec *ethclient.Client) error) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			g.advance()
			if err := g.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}

		ec, err := g.client(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		opCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		err = op(opCtx, ec)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		log.Printf("[warn] %s failed (%s), retrying in %s: %v", label, Classify(err), backoff, err)
	}
	return fmt.Errorf("%s: %w: %v", label, ErrGatewayUnavailable, lastErr)
}

// Balance returns the native balance of addr.
func (g *Gateway) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := g.do(ctx, "balance", func(ctx context.Context, ec *ethclient.Client) error {
		b, err := ec.BalanceAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// TokenBalance reads balanceOf(owner) on an ERC-20 token.
func (g *Gateway) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, ethabi.BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := g.callUint256(ctx, "token balance", token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on %s: %w", owner.Hex(), token.Hex(), err)
	}
	return out, nil
}

// Allowance reads allowance(owner, spender) on an ERC-20 token.
func (g *Gateway) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, ethabi.AllowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	out, err := g.callUint256(ctx, "token allowance", token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s) on %s: %w", owner.Hex(), spender.Hex(), token.Hex(), err)
	}
	return out, nil
}

// TokenDecimals reads decimals() on an ERC-20 token.
func (g *Gateway) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := g.callUint256(ctx, "token decimals", token, append([]byte(nil), ethabi.DecimalsSelector...))
	if err != nil {
		return 0, fmt.Errorf("decimals() on %s: %w", token.Hex(), err)
	}
	if !out.IsUint64() || out.Uint64() > 77 {
		return 0, fmt.Errorf("decimals() on %s: implausible value %s", token.Hex(), out)
	}
	return uint8(out.Uint64()), nil
}

func (g *Gateway) callUint256(ctx context.Context, label string, to common.Address, data []byte) (*big.Int, error) {
	var out *big.Int
	err := g.do(ctx, label, func(ctx context.Context, ec *ethclient.Client) error {
		res, err := ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return fmt.Errorf("empty result")
		}
		out = new(big.Int).SetBytes(res)
		return nil
	})
	return out, err
}

// Nonce returns the pending nonce for addr.
func (g *Gateway) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out uint64
	err := g.do(ctx, "nonce", func(ctx context.Context, ec *ethclient.Client) error {
		n, err := ec.PendingNonceAt(ctx, addr)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// GasPrice returns the suggested gas price clamped to the configured
// ceiling. Trade policy multipliers are applied by callers, not here.
func (g *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := g.do(ctx, "gas price", func(ctx context.Context, ec *ethclient.Client) error {
		p, err := ec.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clampGasPrice(out, g.maxGasPrice), nil
}

func clampGasPrice(price, ceiling *big.Int) *big.Int {
	if ceiling != nil && price.Cmp(ceiling) > 0 {
		return new(big.Int).Set(ceiling)
	}
	return price
}

// ChainID returns the chain id of the connected network.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := g.do(ctx, "chain id", func(ctx context.Context, ec *ethclient.Client) error {
		id, err := ec.ChainID(ctx)
		if err != nil {
			return err
		}
		out = id
		return nil
	})
	return out, err
}

// CodeAt returns the deployed bytecode at addr.
func (g *Gateway) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var out []byte
	err := g.do(ctx, "code", func(ctx context.Context, ec *ethclient.Client) error {
		code, err := ec.CodeAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		out = code
		return nil
	})
	return out, err
}

// Call executes a read-only call, optionally against a historical block.
// Used for contract reads and for revert-reason probing.
func (g *Gateway) Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := g.do(ctx, "call", func(ctx context.Context, ec *ethclient.Client) error {
		res, err := ec.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// SendTransaction submits a signed transaction. Submission errors are NOT
// retried across endpoints: a tx may have been accepted even when the
// response was lost, and a blind resubmit invites nonce conflicts.
func (g *Gateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ec, err := g.client(ctx)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	if err := ec.SendTransaction(sendCtx, tx); err != nil {
		return fmt.Errorf("send tx %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// WaitForReceipt polls for a receipt until it lands or timeout elapses.
func (g *Gateway) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		ec, err := g.client(waitCtx)
		if err == nil {
			receipt, rerr := ec.TransactionReceipt(waitCtx, hash)
			if rerr == nil {
				return receipt, nil
			}
			if !errors.Is(rerr, ethereum.NotFound) && retryable(rerr) {
				g.advance()
			}
		}

		if err := g.sleep(waitCtx, receiptPollEvery); err != nil {
			return nil, fmt.Errorf("wait receipt %s: %w", hash.Hex(), err)
		}
	}
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
