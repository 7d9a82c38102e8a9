package trader

import (
	"math/big"
)

// twoPow192 is the Q96 square's fixed-point denominator.
var twoPow192 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

// PriceFromSqrtX96 converts a pool's slot0 sqrtPriceX96 into a float price
// of token0 denominated in token1, adjusted for the tokens' decimals. Set
// invert when the token of interest is token1, so the result is always
// "target token priced in the other asset".
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 int32, invert bool) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}

	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	ratio := new(big.Float).SetPrec(256).SetInt(sq)
	ratio.Quo(ratio, twoPow192)

	// ratio is token1-per-token0 in raw base units; rescale to human units.
	exp := int(decimals0 - decimals1)
	if exp != 0 {
		scale := pow10(exp)
		ratio.Mul(ratio, scale)
	}

	if invert {
		if ratio.Sign() == 0 {
			return 0
		}
		ratio.Quo(new(big.Float).SetPrec(256).SetInt64(1), ratio)
	}

	out, _ := ratio.Float64()
	return out
}

func pow10(exp int) *big.Float {
	neg := exp < 0
	if neg {
		exp = -exp
	}
	p := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	f := new(big.Float).SetPrec(256).SetInt(p)
	if neg {
		f.Quo(new(big.Float).SetPrec(256).SetInt64(1), f)
	}
	return f
}
