// Package accounts is the read-only view of trading-account metadata the
// exchange core depends on: active flag, issuer settlement account, fee
// rate, total issued shares and current share price.
package accounts

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/qbands/share-exchange/internal/model"
)

// Directory resolves trading-account metadata.
type Directory interface {
	Get(ctx context.Context, id string) (*model.TradingAccount, error)
	List(ctx context.Context) ([]model.TradingAccount, error)
}

// MemoryDirectory is a Directory backed by a map. Used for testing and
// for running the server without a database.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]model.TradingAccount
}

// NewMemoryDirectory creates a directory seeded with accts.
func NewMemoryDirectory(accts ...model.TradingAccount) *MemoryDirectory {
	d := &MemoryDirectory{accounts: make(map[string]model.TradingAccount, len(accts))}
	for _, a := range accts {
		d.accounts[a.ID] = a
	}
	return d
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (*model.TradingAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[id]
	if !ok {
		return nil, fmt.Errorf("trading account %s: %w", id, model.ErrNotFound)
	}
	return &a, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]model.TradingAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]model.TradingAccount, 0, len(d.accounts))
	for _, a := range d.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Put inserts or replaces an account.
func (d *MemoryDirectory) Put(_ context.Context, a *model.TradingAccount) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.ID] = *a
	return nil
}
