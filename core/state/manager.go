package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"stablecore/crypto"
	"stablecore/native/stable"
	"stablecore/storage"
)

const positionPrefix = "stable/position/"

// Manager persists engine positions as JSON documents in a key-value
// database. It implements stable.PositionStore.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// positionDoc is the stored form of a position. Amounts are decimal strings
// so documents stay readable and independent of big.Int internals.
type positionDoc struct {
	Address    string            `json:"address"`
	Collateral map[string]string `json:"collateral,omitempty"`
	DebtMinted string            `json:"debtMinted"`
}

func positionKey(addr crypto.Address) []byte {
	return []byte(positionPrefix + addr.String())
}

// GetPosition loads the stored position, or nil when none exists.
func (m *Manager) GetPosition(addr crypto.Address) (*stable.Position, error) {
	raw, err := m.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc positionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("state: corrupt position document for %s: %w", addr, err)
	}
	return docToPosition(addr, doc)
}

// PutPosition stores the position, deleting the record entirely when the
// position has returned to all-zero.
func (m *Manager) PutPosition(pos *stable.Position) error {
	if pos == nil {
		return errors.New("state: nil position")
	}
	doc := positionDoc{
		Address:    pos.Address.String(),
		DebtMinted: "0",
	}
	if pos.DebtMinted != nil {
		doc.DebtMinted = pos.DebtMinted.String()
	}
	empty := doc.DebtMinted == "0"
	for asset, quantity := range pos.Collateral {
		if quantity == nil || quantity.Sign() == 0 {
			continue
		}
		if doc.Collateral == nil {
			doc.Collateral = make(map[string]string)
		}
		doc.Collateral[asset] = quantity.String()
		empty = false
	}
	if empty {
		return m.db.Delete(positionKey(pos.Address))
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return m.db.Put(positionKey(pos.Address), raw)
}

func docToPosition(addr crypto.Address, doc positionDoc) (*stable.Position, error) {
	pos := stable.NewPosition(addr)
	debt, ok := new(big.Int).SetString(doc.DebtMinted, 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt debt amount %q", doc.DebtMinted)
	}
	pos.DebtMinted = debt
	for asset, raw := range doc.Collateral {
		quantity, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("state: corrupt collateral amount %q for %s", raw, asset)
		}
		pos.Collateral[asset] = quantity
	}
	return pos, nil
}
