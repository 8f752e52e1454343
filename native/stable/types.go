package stable

import (
	"math/big"

	"stablecore/crypto"
)

// Position tracks the collateral and minted debt attributed to a single user.
// Collateral is keyed by the bech32 form of the asset handle. Positions are
// created implicitly on first deposit; an all-zero position is equivalent to
// no position.
type Position struct {
	Address    crypto.Address
	Collateral map[string]*big.Int
	DebtMinted *big.Int
}

// NewPosition returns an empty position for the address.
func NewPosition(addr crypto.Address) *Position {
	return &Position{
		Address:    addr,
		Collateral: make(map[string]*big.Int),
		DebtMinted: big.NewInt(0),
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.Address)
	for asset, quantity := range p.Collateral {
		if quantity != nil {
			clone.Collateral[asset] = new(big.Int).Set(quantity)
		}
	}
	if p.DebtMinted != nil {
		clone.DebtMinted = new(big.Int).Set(p.DebtMinted)
	}
	return clone
}

// CollateralQuantity returns the deposited quantity for the asset, zero when
// none is recorded.
func (p *Position) CollateralQuantity(asset crypto.Address) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	quantity, ok := p.Collateral[asset.String()]
	if !ok || quantity == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(quantity)
}

// normalize backfills nil fields so loaded positions are always safe to use.
func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	if p.DebtMinted == nil {
		p.DebtMinted = big.NewInt(0)
	}
}
