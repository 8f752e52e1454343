package token

import (
	"errors"
	"math/big"
	"sync"

	"stablecore/crypto"
)

var (
	errInvalidAmount         = errors.New("token: amount must be positive")
	errInsufficientBalance   = errors.New("token: insufficient balance")
	errInsufficientAllowance = errors.New("token: insufficient allowance")
	errZeroAddress           = errors.New("token: zero address")
	errNotAuthorized         = errors.New("token: caller is not the owner")
)

// Exported views of the sentinel failures so callers can branch on them.
var (
	ErrInvalidAmount         = errInvalidAmount
	ErrInsufficientBalance   = errInsufficientBalance
	ErrInsufficientAllowance = errInsufficientAllowance
	ErrZeroAddress           = errZeroAddress
	ErrNotAuthorized         = errNotAuthorized
)

// Ledger implements standard fungible-token semantics over a BalanceStore.
// There is no transaction context in this runtime, so every method takes the
// acting address explicitly.
type Ledger struct {
	mu     sync.Mutex
	symbol string
	store  BalanceStore
}

// NewLedger constructs a fungible ledger for the given symbol.
func NewLedger(symbol string, store BalanceStore) *Ledger {
	return &Ledger{symbol: symbol, store: store}
}

// Symbol returns the ledger's token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns the current balance for the address.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Balance(addr)
}

// TotalSupply returns the outstanding token supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.TotalSupply()
}

// Allowance returns the remaining amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Allowance(owner, spender)
}

// Approve sets the spender allowance for the owner.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if spender.IsZero() {
		return errZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.SetAllowance(owner, spender, new(big.Int).Set(amount))
}

// Transfer moves amount from the caller's balance to the recipient.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves amount from the owner's balance using the spender's
// allowance. The allowance is decremented before balances move so a failed
// balance check cannot leave a stale approval behind.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance, err := l.store.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return errInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(allowance, amount)
	return l.store.SetAllowance(from, spender, remaining)
}

// RefundAllowance re-credits a consumed approval after the spend it funded
// has been unwound. Only the spend's own compensating path may call this.
func (l *Ledger) RefundAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	allowance, err := l.store.Allowance(owner, spender)
	if err != nil {
		return err
	}
	return l.store.SetAllowance(owner, spender, new(big.Int).Add(allowance, amount))
}

// move is the shared balance update path. Callers hold the ledger lock.
func (l *Ledger) move(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if to.IsZero() {
		return errZeroAddress
	}
	fromBal, err := l.store.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toBal, err := l.store.Balance(to)
	if err != nil {
		return err
	}
	if err := l.store.SetBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.store.SetBalance(to, new(big.Int).Add(toBal, amount)); err != nil {
		// Restore the sender balance so a partial write cannot destroy value.
		_ = l.store.SetBalance(from, fromBal)
		return err
	}
	return nil
}

// credit adds freshly minted units to the address. Callers hold the lock.
func (l *Ledger) credit(addr crypto.Address, amount *big.Int) error {
	balance, err := l.store.Balance(addr)
	if err != nil {
		return err
	}
	supply, err := l.store.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.store.SetBalance(addr, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	if err := l.store.SetTotalSupply(new(big.Int).Add(supply, amount)); err != nil {
		_ = l.store.SetBalance(addr, balance)
		return err
	}
	return nil
}

// debit removes units from the address and shrinks supply. Callers hold the
// lock.
func (l *Ledger) debit(addr crypto.Address, amount *big.Int) error {
	balance, err := l.store.Balance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	supply, err := l.store.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.store.SetBalance(addr, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	if err := l.store.SetTotalSupply(new(big.Int).Sub(supply, amount)); err != nil {
		_ = l.store.SetBalance(addr, balance)
		return err
	}
	return nil
}

// DebtToken is a Ledger whose supply may only be changed by the single
// authority fixed at construction. The position controller holds that
// authority; nothing else can mint or burn NUSD.
type DebtToken struct {
	Ledger
	owner crypto.Address
}

// NewDebtToken constructs the role-gated mintable ledger. The owner address is
// immutable for the lifetime of the token.
func NewDebtToken(symbol string, store BalanceStore, owner crypto.Address) *DebtToken {
	return &DebtToken{
		Ledger: Ledger{symbol: symbol, store: store},
		owner:  owner,
	}
}

// Owner returns the sole address authorised to mint and burn.
func (t *DebtToken) Owner() crypto.Address { return t.owner }

// Mint creates amount units for the recipient. Fails when the caller is not
// the owner, the recipient is the zero address, or the amount is not positive.
func (t *DebtToken) Mint(caller, to crypto.Address, amount *big.Int) error {
	if !caller.Equal(t.owner) {
		return errNotAuthorized
	}
	if to.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.credit(to, amount)
}

// Burn destroys amount units held by the caller. Fails when the caller is not
// the owner, the amount is not positive, or it exceeds the caller's balance.
func (t *DebtToken) Burn(caller crypto.Address, amount *big.Int) error {
	if !caller.Equal(t.owner) {
		return errNotAuthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.debit(caller, amount)
}

// AssetToken is a plain transferable ledger used for collateral assets. The
// Fund entry point mirrors value arriving from outside the core (bridge or
// custodian) and is reserved for the operator surface.
type AssetToken struct {
	Ledger
}

// NewAssetToken constructs a collateral asset ledger.
func NewAssetToken(symbol string, store BalanceStore) *AssetToken {
	return &AssetToken{Ledger: Ledger{symbol: symbol, store: store}}
}

// Fund credits amount to the recipient, expanding supply.
func (t *AssetToken) Fund(to crypto.Address, amount *big.Int) error {
	if to.IsZero() {
		return errZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.credit(to, amount)
}
