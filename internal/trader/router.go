package trader

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/The-Social-Proof-Foundation/mysocial-token/internal/ethabi"
)

// RouterVersion identifies which router family the executor talks to.
type RouterVersion int

const (
	RouterV3 RouterVersion = iota
	RouterUniversal
)

func (v RouterVersion) String() string {
	switch v {
	case RouterV3:
		return "v3"
	case RouterUniversal:
		return "universal"
	default:
		return fmt.Sprintf("RouterVersion(%d)", int(v))
	}
}

// swapRouter02 is the canonical SwapRouter02 deployment on Base. A config
// pointing here never needs a bytecode probe.
var swapRouter02 = common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481")

// universalMarker is a selector fragment present in universal router
// bytecode and absent from SwapRouter02's.
var universalMarker = []byte{0x42, 0x71, 0x2a, 0x67}

// SwapParams carries everything an adapter needs to encode one
// exact-input single-hop swap. Amounts are base units.
type SwapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          *big.Int // uint24 fee tier
	Recipient    common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// RouterAdapter encodes swaps for one router family. Adapters are
// stateless beyond the router address and safe to share.
type RouterAdapter interface {
	Version() RouterVersion
	Address() common.Address
	SwapCalldata(p SwapParams) ([]byte, error)
}

// V3Adapter encodes exactInputSingle for SwapRouter02.
type V3Adapter struct {
	Router common.Address
}

func (a *V3Adapter) Version() RouterVersion  { return RouterV3 }
func (a *V3Adapter) Address() common.Address { return a.Router }

// exactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
// SwapRouter02 dropped the deadline field the older router carried.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

func (a *V3Adapter) SwapCalldata(p SwapParams) ([]byte, error) {
	return ethabi.RouterV3.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               p.Fee,
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.MinAmountOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
}

// UniversalAdapter encodes execute() for the universal router with a
// single V3_SWAP_EXACT_IN command.
type UniversalAdapter struct {
	Router common.Address
}

func (a *UniversalAdapter) Version() RouterVersion  { return RouterUniversal }
func (a *UniversalAdapter) Address() common.Address { return a.Router }

// v3SwapInputArgs is the abi layout of one V3_SWAP_EXACT_IN input:
// (recipient, amountIn, amountOutMin, path, payerIsUser).
var v3SwapInputArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
	{Type: mustType("bool")},
}

func (a *UniversalAdapter) SwapCalldata(p SwapParams) ([]byte, error) {
	path := encodePath(p.TokenIn, p.Fee, p.TokenOut)
	input, err := v3SwapInputArgs.Pack(p.Recipient, p.AmountIn, p.MinAmountOut, path, true)
	if err != nil {
		return nil, fmt.Errorf("pack v3 swap input: %w", err)
	}
	deadline := big.NewInt(time.Now().Add(20 * time.Minute).Unix())
	// 0x00 = V3_SWAP_EXACT_IN
	return ethabi.UniversalRouter.Pack("execute", []byte{0x00}, [][]byte{input}, deadline)
}

// encodePath builds the packed V3 path: tokenIn ++ fee (3 bytes big
// endian) ++ tokenOut.
func encodePath(tokenIn common.Address, fee *big.Int, tokenOut common.Address) []byte {
	path := make([]byte, 0, 43)
	path = append(path, tokenIn.Bytes()...)
	f := fee.Uint64()
	path = append(path, byte(f>>16), byte(f>>8), byte(f))
	path = append(path, tokenOut.Bytes()...)
	return path
}

func mustType(s string) abi.Type {
	t, err := abi.NewType(s, "", nil)
	if err != nil {
		panic(fmt.Sprintf("trader: abi type %q: %v", s, err))
	}
	return t
}

// codeReader is the slice of the gateway DetectRouter needs.
type codeReader interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// DetectRouter decides once, at startup, which adapter matches the
// configured router address. The canonical SwapRouter02 address short
// circuits; anything else gets a bytecode probe for the universal
// router's marker. Ambiguity (no code, probe failure, no marker) falls
// back to the V3 adapter, which is by far the more common deployment.
func DetectRouter(ctx context.Context, cr codeReader, router common.Address) RouterAdapter {
	if router == swapRouter02 {
		return &V3Adapter{Router: router}
	}

	code, err := cr.CodeAt(ctx, router)
	if err != nil {
		log.Printf("[warn] router probe at %s failed: %v; assuming v3", router, err)
		return &V3Adapter{Router: router}
	}
	if len(code) > 0 && bytes.Contains(code, universalMarker) {
		log.Printf("[info] router %s detected as universal", router)
		return &UniversalAdapter{Router: router}
	}
	return &V3Adapter{Router: router}
}
