package stable

import (
	"errors"
	"math/big"
	"testing"

	"stablecore/core/events"
	"stablecore/crypto"
)

// setupLiquidation opens a target position of 10 WETH backing 10000 NUSD at
// the initial 2000 USD price and gives the liquidator their own position with
// liquidatorMint of spendable NUSD.
func setupLiquidation(t *testing.T, liquidatorMint *big.Int) (*testEnv, crypto.Address, crypto.Address) {
	t.Helper()
	env := newTestEnv(t)
	target := makeAddress(crypto.AccountPrefix, 0x30)
	liquidator := makeAddress(crypto.AccountPrefix, 0x31)

	ten := mustBigInt("10000000000000000000")
	twenty := mustBigInt("20000000000000000000")
	targetDebt := mustBigInt("10000000000000000000000")

	env.fund(t, target, ten)
	if err := env.engine.DepositCollateral(target, env.weth, ten); err != nil {
		t.Fatalf("target deposit: %v", err)
	}
	if err := env.engine.MintDebt(target, targetDebt); err != nil {
		t.Fatalf("target mint: %v", err)
	}

	env.fund(t, liquidator, twenty)
	if err := env.engine.DepositCollateral(liquidator, env.weth, twenty); err != nil {
		t.Fatalf("liquidator deposit: %v", err)
	}
	if err := env.engine.MintDebt(liquidator, liquidatorMint); err != nil {
		t.Fatalf("liquidator mint: %v", err)
	}
	env.approveDebt(t, liquidator, liquidatorMint)

	return env, target, liquidator
}

func (env *testEnv) postPrice(t *testing.T, price string) {
	t.Helper()
	if err := env.feed.Post("ETH/USD", mustBigInt(price), 8); err != nil {
		t.Fatalf("post price: %v", err)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	env, target, liquidator := setupLiquidation(t, mustBigInt("5000000000000000000000"))

	// At 2000 USD the target sits exactly on the minimum, which is healthy.
	err := env.engine.Liquidate(liquidator, target, env.weth, mustBigInt("1000000000000000000000"))
	if !errors.Is(err, ErrPositionHealthy) {
		t.Fatalf("expected healthy rejection, got %v", err)
	}

	debt, _, err := env.engine.GetAccountInformation(target)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(mustBigInt("10000000000000000000000")) != 0 {
		t.Fatalf("rejected liquidation must not change debt, got %s", debt)
	}
	if balance := env.debtBalance(t, liquidator); balance.Cmp(mustBigInt("5000000000000000000000")) != 0 {
		t.Fatalf("liquidator funds must be untouched, got %s", balance)
	}
}

func TestLiquidateFullCoversDebt(t *testing.T) {
	cover := mustBigInt("10000000000000000000000")
	env, target, liquidator := setupLiquidation(t, cover)
	env.emitter.events = nil

	// At 1000 USD the target scores 0.5e18. Covering the full debt seizes
	// 10 ETH plus bonus, capped at the 10 ETH actually held.
	env.postPrice(t, "100000000000")
	if err := env.engine.Liquidate(liquidator, target, env.weth, cover); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	debt, collateralUsd, err := env.engine.GetAccountInformation(target)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Sign() != 0 || collateralUsd.Sign() != 0 {
		t.Fatalf("expected a cleared position, got debt=%s collateral=%s", debt, collateralUsd)
	}
	if balance := env.assetBalance(t, liquidator); balance.Cmp(mustBigInt("10000000000000000000")) != 0 {
		t.Fatalf("unexpected seized collateral: %s", balance)
	}
	if balance := env.debtBalance(t, liquidator); balance.Sign() != 0 {
		t.Fatalf("liquidator debt tokens must be spent, got %s", balance)
	}
	supply, err := env.debt.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(mustBigInt("10000000000000000000000")) != 0 {
		t.Fatalf("covered debt must be burned from supply, got %s", supply)
	}

	if len(env.emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(env.emitter.events))
	}
	liquidated, ok := env.emitter.events[0].(events.PositionLiquidated)
	if !ok {
		t.Fatalf("unexpected event type %T", env.emitter.events[0])
	}
	if liquidated.DebtCovered.Cmp(cover) != 0 {
		t.Fatalf("unexpected covered debt in event: %s", liquidated.DebtCovered)
	}
	if liquidated.SeizedAmount.Cmp(mustBigInt("10000000000000000000")) != 0 {
		t.Fatalf("unexpected seized amount in event: %s", liquidated.SeizedAmount)
	}
}

func TestLiquidatePartialExactEconomics(t *testing.T) {
	cover := mustBigInt("5000000000000000000000")
	env, target, liquidator := setupLiquidation(t, cover)

	// At 1800 USD the target scores 0.9e18. Covering 5000 NUSD seizes
	// 5000/1800 ETH plus a 10% bonus, every division truncating.
	env.postPrice(t, "180000000000")
	if err := env.engine.Liquidate(liquidator, target, env.weth, cover); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	seized := mustBigInt("3055555555555555554")
	if balance := env.assetBalance(t, liquidator); balance.Cmp(seized) != 0 {
		t.Fatalf("unexpected seized collateral: got %s want %s", balance, seized)
	}
	if balance := env.debtBalance(t, liquidator); balance.Sign() != 0 {
		t.Fatalf("liquidator debt tokens must be spent, got %s", balance)
	}

	recorded, err := env.engine.GetCollateralBalanceOfUser(target, env.weth)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if want := mustBigInt("6944444444444444446"); recorded.Cmp(want) != 0 {
		t.Fatalf("unexpected remaining collateral: got %s want %s", recorded, want)
	}
	debt, _, err := env.engine.GetAccountInformation(target)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(cover) != 0 {
		t.Fatalf("unexpected remaining debt: %s", debt)
	}

	score, err := env.engine.HealthFactor(target)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if want := mustBigInt("1250000000000000000"); score.Cmp(want) != 0 {
		t.Fatalf("unexpected ending score: got %s want %s", score, want)
	}
}

func TestLiquidateRequiresImprovement(t *testing.T) {
	cover := mustBigInt("5000000000000000000000")
	env, target, liquidator := setupLiquidation(t, cover)

	// At 1000 USD a half cover seizes 5.5 ETH and leaves the score at
	// 0.45e18, below the 0.5e18 start.
	env.postPrice(t, "100000000000")
	err := env.engine.Liquidate(liquidator, target, env.weth, cover)
	if !errors.Is(err, ErrLiquidationNotImproved) {
		t.Fatalf("expected improvement rejection, got %v", err)
	}

	recorded, err := env.engine.GetCollateralBalanceOfUser(target, env.weth)
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if recorded.Cmp(mustBigInt("10000000000000000000")) != 0 {
		t.Fatalf("rejected liquidation must not touch collateral, got %s", recorded)
	}
	debt, _, err := env.engine.GetAccountInformation(target)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(mustBigInt("10000000000000000000000")) != 0 {
		t.Fatalf("rejected liquidation must not touch debt, got %s", debt)
	}
	if balance := env.debtBalance(t, liquidator); balance.Cmp(cover) != 0 {
		t.Fatalf("liquidator funds must be untouched, got %s", balance)
	}
}

func TestLiquidateCoverExceedingDebt(t *testing.T) {
	env, target, liquidator := setupLiquidation(t, mustBigInt("5000000000000000000000"))

	env.postPrice(t, "100000000000")
	err := env.engine.Liquidate(liquidator, target, env.weth, mustBigInt("20000000000000000000000"))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestLiquidateRejectsBadInput(t *testing.T) {
	env, target, liquidator := setupLiquidation(t, mustBigInt("5000000000000000000000"))

	if err := env.engine.Liquidate(liquidator, target, env.weth, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	other := makeAddress(crypto.AssetPrefix, 0x33)
	if err := env.engine.Liquidate(liquidator, target, other, big.NewInt(1)); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
}
