package stable

import "math/big"

var (
	// precision is the fixed-point scale shared by USD values and health
	// factors. All division truncates toward zero.
	precision = mustBigInt("1000000000000000000") // 1e18

	// maxHealthFactor is the sentinel returned for zero-debt positions.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// feedTargetDecimals is the scale oracle prices are normalised to before any
// valuation math.
const feedTargetDecimals = 18

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Precision returns the fixed-point scale used for USD values and scores.
func Precision() *big.Int {
	return new(big.Int).Set(precision)
}

// MaxHealthFactor returns the sentinel score assigned to zero-debt positions.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}
