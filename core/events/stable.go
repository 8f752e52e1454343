package events

import (
	"math/big"

	"stablecore/core/types"
	"stablecore/crypto"
)

const (
	// TypeCollateralDeposited is emitted when a user locks collateral in the
	// position controller.
	TypeCollateralDeposited = "stable.collateral.deposited"
	// TypeCollateralRedeemed is emitted when locked collateral is released
	// back to a user.
	TypeCollateralRedeemed = "stable.collateral.redeemed"
	// TypeDebtMinted is emitted when NUSD is minted against a position.
	TypeDebtMinted = "stable.debt.minted"
	// TypeDebtBurned is emitted when NUSD is repaid and destroyed.
	TypeDebtBurned = "stable.debt.burned"
	// TypePositionLiquidated is emitted when a third party repays an unhealthy
	// position and seizes collateral.
	TypePositionLiquidated = "stable.position.liquidated"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type CollateralDeposited struct {
	User     crypto.Address
	Asset    crypto.Address
	Quantity *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":     e.User.String(),
			"asset":    e.Asset.String(),
			"quantity": bigString(e.Quantity),
		},
	}
}

type CollateralRedeemed struct {
	User     crypto.Address
	Asset    crypto.Address
	Quantity *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"user":     e.User.String(),
			"asset":    e.Asset.String(),
			"quantity": bigString(e.Quantity),
		},
	}
}

type DebtMinted struct {
	User   crypto.Address
	Amount *big.Int
}

func (DebtMinted) EventType() string { return TypeDebtMinted }

func (e DebtMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtMinted,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"amount": bigString(e.Amount),
		},
	}
}

type DebtBurned struct {
	User   crypto.Address
	Amount *big.Int
}

func (DebtBurned) EventType() string { return TypeDebtBurned }

func (e DebtBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtBurned,
		Attributes: map[string]string{
			"user":   e.User.String(),
			"amount": bigString(e.Amount),
		},
	}
}

type PositionLiquidated struct {
	Liquidator    crypto.Address
	Target        crypto.Address
	Asset         crypto.Address
	DebtCovered   *big.Int
	SeizedAmount  *big.Int
	EndingHealth  *big.Int
	StartedHealth *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"liquidator":     e.Liquidator.String(),
			"target":         e.Target.String(),
			"asset":          e.Asset.String(),
			"debtCovered":    bigString(e.DebtCovered),
			"seizedAmount":   bigString(e.SeizedAmount),
			"startingHealth": bigString(e.StartedHealth),
			"endingHealth":   bigString(e.EndingHealth),
		},
	}
}
