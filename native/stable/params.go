package stable

import (
	"errors"
	"math/big"
)

// Params groups the immutable protocol constants fixed at engine construction.
type Params struct {
	// LiquidationThreshold is the collateral fraction counted toward solvency,
	// expressed as a numerator over LiquidationPrecision (50/100 = 50%).
	LiquidationThreshold uint64
	// LiquidationPrecision is the denominator for LiquidationThreshold and
	// LiquidationBonus.
	LiquidationPrecision uint64
	// LiquidationBonus is the liquidator reward as a percentage of the seized
	// base amount, over LiquidationPrecision.
	LiquidationBonus uint64
	// MinHealthFactor is the fixed-point score below which a position is
	// liquidatable. The bound is inclusive: a score equal to the minimum is
	// healthy.
	MinHealthFactor *big.Int
}

// DefaultParams returns the production constants: 50% threshold, 10% bonus and
// a 1e18 minimum health factor.
func DefaultParams() Params {
	return Params{
		LiquidationThreshold: 50,
		LiquidationPrecision: 100,
		LiquidationBonus:     10,
		MinHealthFactor:      new(big.Int).Set(precision),
	}
}

// Validate checks internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.LiquidationPrecision == 0 {
		return errors.New("stable params: liquidation precision must be positive")
	}
	if p.LiquidationThreshold == 0 || p.LiquidationThreshold > p.LiquidationPrecision {
		return errors.New("stable params: liquidation threshold out of range")
	}
	if p.LiquidationBonus > p.LiquidationPrecision {
		return errors.New("stable params: liquidation bonus out of range")
	}
	if p.MinHealthFactor == nil || p.MinHealthFactor.Sign() <= 0 {
		return errors.New("stable params: minimum health factor must be positive")
	}
	return nil
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.MinHealthFactor != nil {
		clone.MinHealthFactor = new(big.Int).Set(p.MinHealthFactor)
	}
	return clone
}
