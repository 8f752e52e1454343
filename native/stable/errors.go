package stable

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidAmount rejects zero or negative quantities.
	ErrInvalidAmount = errors.New("stable engine: amount must be positive")
	// ErrUnsupportedAsset rejects assets outside the configured collateral set.
	ErrUnsupportedAsset = errors.New("stable engine: collateral asset not supported")
	// ErrLengthMismatch signals inconsistent asset/feed wiring at construction.
	ErrLengthMismatch = errors.New("stable engine: collateral assets and price feeds length mismatch")
	// ErrInsufficientBalance signals a ledger or token balance below the
	// requested withdrawal or burn.
	ErrInsufficientBalance = errors.New("stable engine: insufficient balance")
	// ErrPositionHealthy rejects liquidation of a position at or above the
	// minimum health factor.
	ErrPositionHealthy = errors.New("stable engine: position health factor above minimum")
	// ErrLiquidationNotImproved rejects a liquidation that failed to raise the
	// target's health factor.
	ErrLiquidationNotImproved = errors.New("stable engine: liquidation did not improve position health")

	errNilState      = errors.New("stable engine: state not configured")
	errNilDebtToken  = errors.New("stable engine: debt token not configured")
	errNilAssetToken = errors.New("stable engine: collateral token not configured")
)

// HealthFactorError reports an operation that would leave (or left) a position
// below the minimum health factor. Score carries the exact fixed-point value
// that triggered the rejection so callers can assert against it.
type HealthFactorError struct {
	Score *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("stable engine: health factor %s below minimum", e.Score)
}
