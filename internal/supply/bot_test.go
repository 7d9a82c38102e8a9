package supply

import (
	"bytes"
	"context"
	"math"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/config"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/wallet"
)

var testPool = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// chainStub scripts eth_call responses by selector so the bot can be
// exercised without a node.
type chainStub struct {
	cfg          *config.SupplyConfig
	sqrtPriceX96 *big.Int
	totalSupply  *big.Int

	nonce uint64
	sent  []*types.Transaction
}

func (s *chainStub) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *chainStub) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	// Minted supply is credited instantly, so the sell leg always has
	// funds in these scenarios.
	return new(big.Int).Lsh(big.NewInt(1), 200), nil
}

func (s *chainStub) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return new(big.Int).Lsh(big.NewInt(1), 200), nil
}

func (s *chainStub) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == s.cfg.StableAddress {
		return 6, nil
	}
	return 18, nil
}

func (s *chainStub) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	n := s.nonce
	s.nonce++
	return n, nil
}

func (s *chainStub) GasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (s *chainStub) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

func (s *chainStub) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return nil, nil
}

func (s *chainStub) Call(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	word := func(v *big.Int) []byte {
		out := make([]byte, 32)
		v.FillBytes(out)
		return out
	}
	addrWord := func(a common.Address) []byte {
		out := make([]byte, 32)
		copy(out[12:], a.Bytes())
		return out
	}

	switch {
	case bytes.HasPrefix(msg.Data, ethabi.Factory.Methods["getPool"].ID):
		return addrWord(testPool), nil
	case bytes.HasPrefix(msg.Data, ethabi.Pool.Methods["token0"].ID):
		// target token is token0
		return addrWord(s.cfg.TokenAddress), nil
	case bytes.HasPrefix(msg.Data, ethabi.Pool.Methods["slot0"].ID):
		out := word(s.sqrtPriceX96)
		for i := 0; i < 6; i++ {
			out = append(out, make([]byte, 32)...)
		}
		return out, nil
	case bytes.HasPrefix(msg.Data, ethabi.ERC20.Methods["totalSupply"].ID):
		return word(s.totalSupply), nil
	}
	return make([]byte, 32), nil
}

func (s *chainStub) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.sent = append(s.sent, tx)
	return nil
}

func (s *chainStub) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     90_000,
		BlockNumber: big.NewInt(1),
	}, nil
}

// sqrtX96For builds a sqrtPriceX96 so that token0 (18 decimals) trades
// at price token1 (6 decimals) units.
func sqrtX96For(price float64) *big.Int {
	raw := price * 1e-12 // undo the decimal rescale
	f := new(big.Float).SetPrec(256).SetFloat64(math.Sqrt(raw))
	f.Mul(f, new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	out, _ := f.Int(nil)
	return out
}

func newTestBot(t *testing.T, price float64) (*Bot, *chainStub) {
	t.Helper()
	cfg := config.DefaultSupply()
	cfg.StatePath = filepath.Join(t.TempDir(), "supply-state.json")

	// 1M tokens outstanding
	supply, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	stub := &chainStub{cfg: cfg, sqrtPriceX96: sqrtX96For(price), totalSupply: supply}

	owner, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(context.Background(), stub, owner, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, stub
}

func TestPoolPrice(t *testing.T) {
	b, _ := newTestBot(t, 0.04)
	price, err := b.PoolPrice(context.Background())
	if err != nil {
		t.Fatalf("PoolPrice: %v", err)
	}
	if math.Abs(price-0.04) > 1e-6 {
		t.Fatalf("price = %v, want 0.04", price)
	}
}

func TestCheckHoldsUnderTrigger(t *testing.T) {
	// ceiling 0.05, threshold 2% -> trigger 0.051
	b, stub := newTestBot(t, 0.05)
	released, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if released {
		t.Fatal("released at the ceiling")
	}
	if len(stub.sent) != 0 {
		t.Fatalf("sent %d txs, want 0", len(stub.sent))
	}
}

func TestCheckReleasesAboveTrigger(t *testing.T) {
	// price 0.10 over ceiling 0.05: deviation 100%, so the mint is
	// supply * 1.0 * 0.1 = 100k tokens.
	b, stub := newTestBot(t, 0.10)
	released, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !released {
		t.Fatal("expected a release")
	}
	// mint + sell swap
	if len(stub.sent) != 2 {
		t.Fatalf("sent %d txs, want 2", len(stub.sent))
	}
	if to := stub.sent[0].To(); to == nil || *to != b.cfg.TokenAddress {
		t.Fatalf("first tx to %v, want token mint", to)
	}

	want, _ := new(big.Int).SetString("100000000000000000000000", 10)
	got := b.Released()
	diff := new(big.Int).Sub(got, want)
	tolerance, _ := new(big.Int).SetString("1000000000000000000", 10) // 1 token of float slack
	if diff.CmpAbs(tolerance) > 0 {
		t.Fatalf("released %s, want ~%s", got, want)
	}

	// state survived to disk
	st, err := LoadState(b.statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Released.Cmp(got) != 0 || st.Releases != 1 {
		t.Fatalf("persisted state = %+v, want released %s", st, got)
	}
}

func TestCheckClampsToCap(t *testing.T) {
	b, stub := newTestBot(t, 0.10)
	// Pretend almost everything was already released: 1 token of headroom.
	headroom, _ := new(big.Int).SetString("1000000000000000000", 10)
	b.state.Released = new(big.Int).Sub(b.capBase, headroom)

	released, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !released {
		t.Fatal("expected a clamped release")
	}
	if b.Released().Cmp(b.capBase) != 0 {
		t.Fatalf("released %s, want exactly the cap %s", b.Released(), b.capBase)
	}
	// mint + sell still went out, just clamped.
	if len(stub.sent) != 2 {
		t.Fatalf("sent %d txs, want 2", len(stub.sent))
	}
}

func TestCheckStopsAtCap(t *testing.T) {
	b, stub := newTestBot(t, 0.10)
	b.state.Released = new(big.Int).Set(b.capBase)

	released, err := b.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if released {
		t.Fatal("released past the cap")
	}
	if len(stub.sent) != 0 {
		t.Fatalf("sent %d txs past the cap, want 0", len(stub.sent))
	}
}
