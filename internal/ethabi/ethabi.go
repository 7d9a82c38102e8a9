// Package ethabi holds the parsed contract surfaces the bots touch: an
// ERC-20 with the token owner's mint extension, the Uniswap V3 factory and
// SwapRouter02, the universal router, the pool itself, and WETH's withdraw.
// Everything is parsed once at init; a malformed ABI literal is a programmer
// error and panics.
package ethabi

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20JSON = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// SwapRouter02 on Base: exactInputSingle without a deadline field.
const routerV3JSON = `[
	{"inputs":[{"components":[
		{"internalType":"address","name":"tokenIn","type":"address"},
		{"internalType":"address","name":"tokenOut","type":"address"},
		{"internalType":"uint24","name":"fee","type":"uint24"},
		{"internalType":"address","name":"recipient","type":"address"},
		{"internalType":"uint256","name":"amountIn","type":"uint256"},
		{"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},
		{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}
	],"internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],
	"name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

const universalRouterJSON = `[
	{"inputs":[
		{"internalType":"bytes","name":"commands","type":"bytes"},
		{"internalType":"bytes[]","name":"inputs","type":"bytes[]"},
		{"internalType":"uint256","name":"deadline","type":"uint256"}
	],"name":"execute","outputs":[],"stateMutability":"payable","type":"function"}
]`

const factoryJSON = `[
	{"inputs":[
		{"internalType":"address","name":"tokenA","type":"address"},
		{"internalType":"address","name":"tokenB","type":"address"},
		{"internalType":"uint24","name":"fee","type":"uint24"}
	],"name":"getPool","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const poolJSON = `[
	{"inputs":[],"name":"slot0","outputs":[
		{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
		{"internalType":"int24","name":"tick","type":"int24"},
		{"internalType":"uint16","name":"observationIndex","type":"uint16"},
		{"internalType":"uint16","name":"observationCardinality","type":"uint16"},
		{"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
		{"internalType":"uint8","name":"feeProtocol","type":"uint8"},
		{"internalType":"bool","name":"unlocked","type":"bool"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

const wethJSON = `[
	{"constant":false,"inputs":[{"name":"wad","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ERC20           = mustParse(erc20JSON)
	RouterV3        = mustParse(routerV3JSON)
	UniversalRouter = mustParse(universalRouterJSON)
	Factory         = mustParse(factoryJSON)
	Pool            = mustParse(poolJSON)
	WETH            = mustParse(wethJSON)
)

// Raw 4-byte selectors for the simple ERC-20 reads the gateway issues
// without going through abi.Pack.
var (
	BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	AllowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	DecimalsSelector  = crypto.Keccak256([]byte("decimals()"))[:4]
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ethabi: parse: %v", err))
	}
	return parsed
}
