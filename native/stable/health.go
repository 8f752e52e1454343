package stable

import "math/big"

// healthFactor maps minted debt and total collateral USD value to the
// dimensionless solvency score. A zero-debt position scores the sentinel
// maximum because it cannot be undercollateralized. Otherwise the collateral
// value is discounted by the liquidation threshold and scaled against the
// outstanding debt:
//
//	adjusted = collateralUsd * threshold / liquidationPrecision
//	score    = adjusted * precision / debt
//
// All division truncates toward zero.
func healthFactor(debtMinted, collateralUsd *big.Int, params Params) *big.Int {
	if debtMinted == nil || debtMinted.Sign() == 0 {
		return MaxHealthFactor()
	}
	value := big.NewInt(0)
	if collateralUsd != nil {
		value = collateralUsd
	}
	adjusted := new(big.Int).Mul(value, new(big.Int).SetUint64(params.LiquidationThreshold))
	adjusted.Quo(adjusted, new(big.Int).SetUint64(params.LiquidationPrecision))
	score := adjusted.Mul(adjusted, precision)
	return score.Quo(score, debtMinted)
}

// belowMinimum reports whether the score is strictly under the configured
// minimum. The boundary value itself is healthy.
func belowMinimum(score *big.Int, params Params) bool {
	return score.Cmp(params.MinHealthFactor) < 0
}
