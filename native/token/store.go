package token

import (
	"errors"
	"fmt"
	"math/big"

	"stablecore/crypto"
	"stablecore/storage"
)

// BalanceStore abstracts the persistence of token balances and allowances so
// ledgers can run against any storage.Database backend.
type BalanceStore interface {
	Balance(addr crypto.Address) (*big.Int, error)
	SetBalance(addr crypto.Address, amount *big.Int) error
	Allowance(owner, spender crypto.Address) (*big.Int, error)
	SetAllowance(owner, spender crypto.Address, amount *big.Int) error
	TotalSupply() (*big.Int, error)
	SetTotalSupply(amount *big.Int) error
}

// KVStore persists balances as decimal strings under prefixed keys in a
// key-value database. Keys are namespaced by token symbol so multiple ledgers
// can share one database.
type KVStore struct {
	db     storage.Database
	symbol string
}

// NewKVStore constructs a store for the given token symbol.
func NewKVStore(db storage.Database, symbol string) *KVStore {
	return &KVStore{db: db, symbol: symbol}
}

func (s *KVStore) balanceKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/balance/%s", s.symbol, addr.String()))
}

func (s *KVStore) allowanceKey(owner, spender crypto.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/allowance/%s/%s", s.symbol, owner.String(), spender.String()))
}

func (s *KVStore) supplyKey() []byte {
	return []byte(fmt.Sprintf("token/%s/supply", s.symbol))
}

func (s *KVStore) read(key []byte) (*big.Int, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("token store: corrupt amount at %q", key)
	}
	return value, nil
}

func (s *KVStore) write(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.db.Delete(key)
	}
	return s.db.Put(key, []byte(amount.String()))
}

func (s *KVStore) Balance(addr crypto.Address) (*big.Int, error) {
	return s.read(s.balanceKey(addr))
}

func (s *KVStore) SetBalance(addr crypto.Address, amount *big.Int) error {
	return s.write(s.balanceKey(addr), amount)
}

func (s *KVStore) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	return s.read(s.allowanceKey(owner, spender))
}

func (s *KVStore) SetAllowance(owner, spender crypto.Address, amount *big.Int) error {
	return s.write(s.allowanceKey(owner, spender), amount)
}

func (s *KVStore) TotalSupply() (*big.Int, error) {
	return s.read(s.supplyKey())
}

func (s *KVStore) SetTotalSupply(amount *big.Int) error {
	return s.write(s.supplyKey(), amount)
}
