package stable

import (
	"math/big"
	"sync"

	"stablecore/core/events"
	"stablecore/crypto"
	nativecommon "stablecore/native/common"
)

const (
	opDeposit   = "stable.deposit"
	opMint      = "stable.mint"
	opBurn      = "stable.burn"
	opRedeem    = "stable.redeem"
	opLiquidate = "stable.liquidate"
)

// PositionStore is the persistence boundary for user positions. GetPosition
// returns nil when the address has no stored position.
type PositionStore interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(pos *Position) error
}

// Engine orchestrates every state transition of the stable core: collateral
// deposits and redemptions, debt mint and burn, and liquidation. It is the
// sole mutator of position state and the sole authorised minter and burner of
// the debt token. A single mutex serialises operations, so each one runs to
// completion (success or full rollback) before the next begins.
type Engine struct {
	mu            sync.Mutex
	state         PositionStore
	moduleAddress crypto.Address
	params        Params
	view          *PriceView
	ledger        *CollateralLedger
	debt          DebtTokenLedger
	assetTokens   map[string]AssetTokenLedger
	emitter       events.Emitter
	pauses        nativecommon.PauseView
}

// NewEngine constructs the position controller for the given collateral set.
// The assets and feeds slices must be index-aligned; a length mismatch fails
// before any state is created.
func NewEngine(moduleAddr crypto.Address, assets []crypto.Address, feeds []Feed, params Params) (*Engine, error) {
	view, err := NewPriceView(assets, feeds)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		moduleAddress: moduleAddr,
		params:        params.Clone(),
		view:          view,
		ledger:        NewCollateralLedger(view),
		assetTokens:   make(map[string]AssetTokenLedger),
		emitter:       events.NoopEmitter{},
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state PositionStore) { e.state = state }

// SetDebtToken wires the role-gated debt token ledger.
func (e *Engine) SetDebtToken(token DebtTokenLedger) { e.debt = token }

// SetAssetToken wires the transferable ledger backing a collateral asset.
func (e *Engine) SetAssetToken(asset crypto.Address, token AssetTokenLedger) {
	if e == nil || token == nil {
		return
	}
	e.assetTokens[asset.String()] = token
}

// SetEmitter wires the event sink. A nil emitter restores the no-op sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the per-operation pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// ModuleAddress returns the engine's own account, which escrows collateral
// and owns the debt token.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// Params returns a copy of the immutable protocol constants.
func (e *Engine) Params() Params { return e.params.Clone() }

// CollateralAssets returns the configured collateral set.
func (e *Engine) CollateralAssets() []crypto.Address { return e.view.Assets() }

// DepositCollateral pulls quantity of the asset from the caller's token
// balance into the module escrow and records it on the caller's position.
// Deposits only improve solvency, so no health check follows.
func (e *Engine) DepositCollateral(user, asset crypto.Address, quantity *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opDeposit); err != nil {
		return err
	}
	return e.depositLocked(user, asset, quantity)
}

// MintDebt attributes amount of new debt to the caller and mints that much of
// the debt token to them. The whole call fails when the position would drop
// below the minimum health factor.
func (e *Engine) MintDebt(user crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opMint); err != nil {
		return err
	}
	return e.mintLocked(user, amount, e.snapshot())
}

// BurnDebt pulls amount of the debt token from the caller, destroys it, and
// reduces the caller's attributed debt. Burns only improve solvency.
func (e *Engine) BurnDebt(user crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opBurn); err != nil {
		return err
	}
	return e.burnLocked(user, amount)
}

// RedeemCollateral releases quantity of the asset back to the caller. The
// position must remain healthy after the decrement or the whole call fails.
func (e *Engine) RedeemCollateral(user, asset crypto.Address, quantity *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opRedeem); err != nil {
		return err
	}
	return e.redeemLocked(user, asset, quantity, e.snapshot())
}

// DepositAndMint performs a deposit followed by a mint as one atomic unit:
// when the mint leg fails the deposit leg is unwound in full.
func (e *Engine) DepositAndMint(user, asset crypto.Address, quantity, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opDeposit); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, opMint); err != nil {
		return err
	}
	if err := e.depositLocked(user, asset, quantity); err != nil {
		return err
	}
	if err := e.mintLocked(user, amount, e.snapshot()); err != nil {
		if undoErr := e.undoDeposit(user, asset, quantity); undoErr != nil {
			return undoErr
		}
		return err
	}
	return nil
}

// RedeemForBurn performs a burn followed by a redeem as one atomic unit: when
// the redeem leg fails the burn leg is unwound in full.
func (e *Engine) RedeemForBurn(user, asset crypto.Address, quantity, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opBurn); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, opRedeem); err != nil {
		return err
	}
	if err := e.burnLocked(user, amount); err != nil {
		return err
	}
	if err := e.redeemLocked(user, asset, quantity, e.snapshot()); err != nil {
		if undoErr := e.undoBurn(user, amount); undoErr != nil {
			return undoErr
		}
		return err
	}
	return nil
}

func (e *Engine) snapshot() *PriceSnapshot { return e.view.Snapshot() }

func (e *Engine) assetToken(asset crypto.Address) (AssetTokenLedger, error) {
	token, ok := e.assetTokens[asset.String()]
	if !ok || token == nil {
		return nil, errNilAssetToken
	}
	return token, nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = NewPosition(addr)
	}
	pos.normalize()
	return pos, nil
}

func (e *Engine) depositLocked(user, asset crypto.Address, quantity *big.Int) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.view.Supported(asset) {
		return ErrUnsupportedAsset
	}
	token, err := e.assetToken(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	prev := pos.Clone()
	if err := e.ledger.Deposit(pos, asset, quantity); err != nil {
		return err
	}
	// External transfer first: the ledger credit must never outlive a failed
	// pull of the backing asset.
	if err := token.TransferFrom(e.moduleAddress, user, e.moduleAddress, quantity); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		_ = token.Transfer(e.moduleAddress, user, quantity)
		_ = token.RefundAllowance(user, e.moduleAddress, quantity)
		_ = e.state.PutPosition(prev)
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{User: user, Asset: asset, Quantity: new(big.Int).Set(quantity)})
	return nil
}

func (e *Engine) undoDeposit(user, asset crypto.Address, quantity *big.Int) error {
	token, err := e.assetToken(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	if err := e.ledger.Withdraw(pos, asset, quantity); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	// The deposit consumed both balance and approval; restore both so a
	// retry of the combined call does not fail on a spent allowance.
	if err := token.Transfer(e.moduleAddress, user, quantity); err != nil {
		return err
	}
	return token.RefundAllowance(user, e.moduleAddress, quantity)
}

func (e *Engine) mintLocked(user crypto.Address, amount *big.Int, snap *PriceSnapshot) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.debt == nil {
		return errNilDebtToken
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	prev := pos.Clone()
	collateralUsd, err := e.ledger.UsdValue(pos, snap)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(pos.DebtMinted, amount)
	score := healthFactor(projected, collateralUsd, e.params)
	if belowMinimum(score, e.params) {
		return &HealthFactorError{Score: score}
	}
	pos.DebtMinted = projected
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := e.debt.Mint(e.moduleAddress, user, amount); err != nil {
		_ = e.state.PutPosition(prev)
		return err
	}
	e.emitter.Emit(events.DebtMinted{User: user, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) burnLocked(user crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.debt == nil {
		return errNilDebtToken
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	prev := pos.Clone()
	if pos.DebtMinted.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.debt.TransferFrom(e.moduleAddress, user, e.moduleAddress, amount); err != nil {
		return err
	}
	if err := e.debt.Burn(e.moduleAddress, amount); err != nil {
		_ = e.debt.Transfer(e.moduleAddress, user, amount)
		_ = e.debt.RefundAllowance(user, e.moduleAddress, amount)
		return err
	}
	pos.DebtMinted = new(big.Int).Sub(pos.DebtMinted, amount)
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.debt.Mint(e.moduleAddress, user, amount)
		_ = e.debt.RefundAllowance(user, e.moduleAddress, amount)
		_ = e.state.PutPosition(prev)
		return err
	}
	e.emitter.Emit(events.DebtBurned{User: user, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) undoBurn(user crypto.Address, amount *big.Int) error {
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	pos.DebtMinted = new(big.Int).Add(pos.DebtMinted, amount)
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	// The burn consumed both tokens and approval; restore both.
	if err := e.debt.Mint(e.moduleAddress, user, amount); err != nil {
		return err
	}
	return e.debt.RefundAllowance(user, e.moduleAddress, amount)
}

func (e *Engine) redeemLocked(user, asset crypto.Address, quantity *big.Int, snap *PriceSnapshot) error {
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.view.Supported(asset) {
		return ErrUnsupportedAsset
	}
	token, err := e.assetToken(asset)
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	prev := pos.Clone()
	if err := e.ledger.Withdraw(pos, asset, quantity); err != nil {
		return err
	}
	if pos.DebtMinted.Sign() > 0 {
		collateralUsd, err := e.ledger.UsdValue(pos, snap)
		if err != nil {
			return err
		}
		score := healthFactor(pos.DebtMinted, collateralUsd, e.params)
		if belowMinimum(score, e.params) {
			return &HealthFactorError{Score: score}
		}
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := token.Transfer(e.moduleAddress, user, quantity); err != nil {
		_ = e.state.PutPosition(prev)
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{User: user, Asset: asset, Quantity: new(big.Int).Set(quantity)})
	return nil
}

// Liquidate lets a third party repay debtToCover of an unhealthy target
// position in exchange for the USD-equivalent collateral plus the liquidation
// bonus. The seizure is capped at the target's recorded balance for the
// chosen asset. The target's health factor must strictly improve or the whole
// call fails. The full call is one indivisible unit under the engine mutex;
// every conversion uses prices fetched once into a single snapshot.
func (e *Engine) Liquidate(liquidator, target, asset crypto.Address, debtToCover *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, opLiquidate); err != nil {
		return err
	}
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.view.Supported(asset) {
		return ErrUnsupportedAsset
	}
	if e.debt == nil {
		return errNilDebtToken
	}
	token, err := e.assetToken(asset)
	if err != nil {
		return err
	}

	pos, err := e.loadPosition(target)
	if err != nil {
		return err
	}
	prev := pos.Clone()
	snap := e.snapshot()

	startingUsd, err := e.ledger.UsdValue(pos, snap)
	if err != nil {
		return err
	}
	startingScore := healthFactor(pos.DebtMinted, startingUsd, e.params)
	if !belowMinimum(startingScore, e.params) {
		return ErrPositionHealthy
	}
	if debtToCover.Cmp(pos.DebtMinted) > 0 {
		return ErrInvalidAmount
	}

	base, err := snap.QuantityFromUsd(asset, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(base, new(big.Int).SetUint64(e.params.LiquidationBonus))
	bonus.Quo(bonus, new(big.Int).SetUint64(e.params.LiquidationPrecision))
	seize := new(big.Int).Add(base, bonus)
	if held := pos.CollateralQuantity(asset); seize.Cmp(held) > 0 {
		seize = held
	}

	if err := e.ledger.Withdraw(pos, asset, seize); err != nil {
		return err
	}
	pos.DebtMinted = new(big.Int).Sub(pos.DebtMinted, debtToCover)

	endingUsd, err := e.ledger.UsdValue(pos, snap)
	if err != nil {
		return err
	}
	endingScore := healthFactor(pos.DebtMinted, endingUsd, e.params)
	if endingScore.Cmp(startingScore) <= 0 {
		return ErrLiquidationNotImproved
	}

	// All checks passed: repay from the liquidator, burn, persist, pay out.
	if err := e.debt.TransferFrom(e.moduleAddress, liquidator, e.moduleAddress, debtToCover); err != nil {
		return err
	}
	if err := e.debt.Burn(e.moduleAddress, debtToCover); err != nil {
		_ = e.debt.Transfer(e.moduleAddress, liquidator, debtToCover)
		_ = e.debt.RefundAllowance(liquidator, e.moduleAddress, debtToCover)
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		_ = e.debt.Mint(e.moduleAddress, liquidator, debtToCover)
		_ = e.debt.RefundAllowance(liquidator, e.moduleAddress, debtToCover)
		return err
	}
	if err := token.Transfer(e.moduleAddress, liquidator, seize); err != nil {
		_ = e.state.PutPosition(prev)
		_ = e.debt.Mint(e.moduleAddress, liquidator, debtToCover)
		_ = e.debt.RefundAllowance(liquidator, e.moduleAddress, debtToCover)
		return err
	}

	e.emitter.Emit(events.PositionLiquidated{
		Liquidator:    liquidator,
		Target:        target,
		Asset:         asset,
		DebtCovered:   new(big.Int).Set(debtToCover),
		SeizedAmount:  seize,
		StartedHealth: startingScore,
		EndingHealth:  endingScore,
	})
	return nil
}

// --- Read-only queries ---

// GetAccountInformation returns the minted debt and total collateral USD value
// for the user at current prices.
func (e *Engine) GetAccountInformation(user crypto.Address) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, nil, err
	}
	collateralUsd, err := e.ledger.UsdValue(pos, e.snapshot())
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pos.DebtMinted), collateralUsd, nil
}

// GetUsdValue converts an asset quantity to its USD value at current prices.
func (e *Engine) GetUsdValue(asset crypto.Address, quantity *big.Int) (*big.Int, error) {
	return e.snapshot().UsdValue(asset, quantity)
}

// GetTokenAmountFromUsd converts a USD amount to the asset quantity it buys at
// current prices.
func (e *Engine) GetTokenAmountFromUsd(asset crypto.Address, usdAmount *big.Int) (*big.Int, error) {
	return e.snapshot().QuantityFromUsd(asset, usdAmount)
}

// GetCollateralBalanceOfUser returns the recorded deposit for the user/asset.
func (e *Engine) GetCollateralBalanceOfUser(user, asset crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.CollateralQuantity(asset), nil
}

// HealthFactor returns the user's current solvency score at current prices.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	collateralUsd, err := e.ledger.UsdValue(pos, e.snapshot())
	if err != nil {
		return nil, err
	}
	return healthFactor(pos.DebtMinted, collateralUsd, e.params), nil
}

// CalculateHealthFactor is the pure scoring function, exposed for external
// risk simulation. It performs no reads of engine state.
func (e *Engine) CalculateHealthFactor(debtMinted, collateralUsd *big.Int) *big.Int {
	return healthFactor(debtMinted, collateralUsd, e.params)
}
