package stable

import (
	"math/big"

	"stablecore/crypto"
)

// CollateralLedger is the pure bookkeeping layer for deposited quantities. It
// mutates positions in memory only; moving external token balances, solvency
// checks and persistence all belong to the engine, which pairs a ledger update
// with the matching transfer inside one atomic operation.
type CollateralLedger struct {
	view *PriceView
}

// NewCollateralLedger binds the ledger to the configured collateral set.
func NewCollateralLedger(view *PriceView) *CollateralLedger {
	return &CollateralLedger{view: view}
}

// Deposit increments the recorded quantity for the asset.
func (l *CollateralLedger) Deposit(pos *Position, asset crypto.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.view.Supported(asset) {
		return ErrUnsupportedAsset
	}
	pos.normalize()
	key := asset.String()
	current, ok := pos.Collateral[key]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	pos.Collateral[key] = new(big.Int).Add(current, quantity)
	return nil
}

// Withdraw decrements the recorded quantity for the asset. The recorded
// balance must cover the full quantity.
func (l *CollateralLedger) Withdraw(pos *Position, asset crypto.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !l.view.Supported(asset) {
		return ErrUnsupportedAsset
	}
	pos.normalize()
	key := asset.String()
	current, ok := pos.Collateral[key]
	if !ok || current == nil || current.Cmp(quantity) < 0 {
		return ErrInsufficientBalance
	}
	remaining := new(big.Int).Sub(current, quantity)
	if remaining.Sign() == 0 {
		delete(pos.Collateral, key)
	} else {
		pos.Collateral[key] = remaining
	}
	return nil
}

// UsdValue sums the position's collateral across all assets at the snapshot
// prices.
func (l *CollateralLedger) UsdValue(pos *Position, snap *PriceSnapshot) (*big.Int, error) {
	total := big.NewInt(0)
	if pos == nil {
		return total, nil
	}
	for _, asset := range l.view.Assets() {
		quantity, ok := pos.Collateral[asset.String()]
		if !ok || quantity == nil || quantity.Sign() == 0 {
			continue
		}
		value, err := snap.UsdValue(asset, quantity)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
