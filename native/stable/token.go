package stable

import (
	"math/big"

	"stablecore/crypto"
)

// DebtTokenLedger is the surface the engine requires from the pegged debt
// token. The engine's module address must be the token's owner; Mint and Burn
// are rejected for any other caller at the token boundary.
type DebtTokenLedger interface {
	Mint(caller, to crypto.Address, amount *big.Int) error
	Burn(caller crypto.Address, amount *big.Int) error
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
	RefundAllowance(owner, spender crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Owner() crypto.Address
}

// AssetTokenLedger is the surface the engine requires from each collateral
// asset: standard fungible transfer semantics.
type AssetTokenLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
	RefundAllowance(owner, spender crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
}
