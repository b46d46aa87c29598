package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
)

type walletKey struct{ owner, currency string }

type portfolioKey struct{ owner, account string }

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the store's write lock for its whole lifetime and
// stages writes in an overlay that is applied only on commit, so a failed
// transaction leaves no trace.
type MemoryStore struct {
	mu         sync.RWMutex
	wallets    map[walletKey]model.Wallet
	entries    []model.WalletEntry
	fundsHolds map[string]model.FundsHold
	portfolio  map[portfolioKey]model.PortfolioEntry
	shareHolds map[string]model.ShareHold
	offerings  map[string]model.Offering
	orders     map[string]model.Order
	trades     []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:    make(map[walletKey]model.Wallet),
		fundsHolds: make(map[string]model.FundsHold),
		portfolio:  make(map[portfolioKey]model.PortfolioEntry),
		shareHolds: make(map[string]model.ShareHold),
		offerings:  make(map[string]model.Offering),
		orders:     make(map[string]model.Order),
	}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		wallets:    newOverlay(s.wallets),
		fundsHolds: newOverlay(s.fundsHolds),
		portfolio:  newOverlay(s.portfolio),
		shareHolds: newOverlay(s.shareHolds),
		offerings:  newOverlay(s.offerings),
		orders:     newOverlay(s.orders),
	}
	if err := fn(tx); err != nil {
		return err
	}

	tx.wallets.commit()
	tx.fundsHolds.commit()
	tx.portfolio.commit()
	tx.shareHolds.commit()
	tx.offerings.commit()
	tx.orders.commit()
	s.entries = append(s.entries, tx.entries...)
	s.trades = append(s.trades, tx.trades...)
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, ownerID, currency string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.wallets, walletKey{ownerID, currency}, "wallet "+ownerID)
}

func (s *MemoryStore) ListWalletEntries(_ context.Context, ownerID string, limit int) ([]model.WalletEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WalletEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].OwnerID != ownerID {
			continue
		}
		result = append(result, s.entries[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) GetFundsHold(_ context.Context, id string) (*model.FundsHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.fundsHolds, id, "funds hold "+id)
}

func (s *MemoryStore) GetPortfolioEntry(_ context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.portfolio, portfolioKey{ownerID, tradingAccountID}, "portfolio entry "+ownerID)
}

func (s *MemoryStore) ListPortfolio(_ context.Context, ownerID string) ([]model.PortfolioEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PortfolioEntry
	for k, p := range s.portfolio {
		if k.owner == ownerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TradingAccountID < result[j].TradingAccountID })
	return result, nil
}

func (s *MemoryStore) GetShareHold(_ context.Context, id string) (*model.ShareHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.shareHolds, id, "share hold "+id)
}

func (s *MemoryStore) GetOffering(_ context.Context, id string) (*model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.offerings, id, "offering "+id)
}

func (s *MemoryStore) ListOfferings(_ context.Context, tradingAccountID string) ([]model.Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterOfferings(s.offerings, tradingAccountID), nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.orders, id, "order "+id)
}

func (s *MemoryStore) ListOrdersByOwner(_ context.Context, ownerID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	return result, nil
}

func (s *MemoryStore) ListRestingOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.Resting() {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, tradingAccountID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestTrades(limit, func(t model.Trade) bool { return t.TradingAccountID == tradingAccountID }), nil
}

func (s *MemoryStore) ListTradesByOwner(_ context.Context, ownerID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestTrades(limit, func(t model.Trade) bool { return t.BuyerID == ownerID || t.SellerID == ownerID }), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if f.Match(&o) {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	return window(result, f.Limit, f.Offset), len(result), nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f TradeFilter) ([]model.Trade, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.newestTrades(0, func(t model.Trade) bool { return f.Match(&t) })
	return window(result, f.Limit, f.Offset), len(result), nil
}

func (s *MemoryStore) newestTrades(limit int, keep func(model.Trade) bool) []model.Trade {
	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if !keep(s.trades[i]) {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// --- transaction ---

type memTx struct {
	s          *MemoryStore
	wallets    *overlay[walletKey, model.Wallet]
	fundsHolds *overlay[string, model.FundsHold]
	portfolio  *overlay[portfolioKey, model.PortfolioEntry]
	shareHolds *overlay[string, model.ShareHold]
	offerings  *overlay[string, model.Offering]
	orders     *overlay[string, model.Order]
	entries    []model.WalletEntry
	trades     []model.Trade
}

// LockWallets is a no-op: the transaction already holds the store lock.
func (t *memTx) LockWallets(context.Context, string, ...string) error { return nil }

func (t *memTx) EnsureWallet(ctx context.Context, ownerID, currency string, at time.Time) (*model.Wallet, error) {
	w, err := t.GetWallet(ctx, ownerID, currency)
	if err == nil {
		return w, nil
	}
	w = &model.Wallet{OwnerID: ownerID, Currency: currency, Available: decimal.Zero, Reserved: decimal.Zero, UpdatedAt: at}
	t.wallets.put(walletKey{ownerID, currency}, *w)
	return w, nil
}

func (t *memTx) GetWallet(_ context.Context, ownerID, currency string) (*model.Wallet, error) {
	return t.wallets.get(walletKey{ownerID, currency}, "wallet "+ownerID)
}

func (t *memTx) PutWallet(_ context.Context, w *model.Wallet) error {
	t.wallets.put(walletKey{w.OwnerID, w.Currency}, *w)
	return nil
}

func (t *memTx) InsertWalletEntry(_ context.Context, e *model.WalletEntry) error {
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memTx) GetFundsHold(_ context.Context, id string) (*model.FundsHold, error) {
	return t.fundsHolds.get(id, "funds hold "+id)
}

func (t *memTx) PutFundsHold(_ context.Context, h *model.FundsHold) error {
	t.fundsHolds.put(h.ID, *h)
	return nil
}

func (t *memTx) GetPortfolioEntry(_ context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	return t.portfolio.get(portfolioKey{ownerID, tradingAccountID}, "portfolio entry "+ownerID)
}

func (t *memTx) PutPortfolioEntry(_ context.Context, p *model.PortfolioEntry) error {
	t.portfolio.put(portfolioKey{p.OwnerID, p.TradingAccountID}, *p)
	return nil
}

func (t *memTx) GetShareHold(_ context.Context, id string) (*model.ShareHold, error) {
	return t.shareHolds.get(id, "share hold "+id)
}

func (t *memTx) PutShareHold(_ context.Context, h *model.ShareHold) error {
	t.shareHolds.put(h.ID, *h)
	return nil
}

func (t *memTx) LockTradingAccount(context.Context, string) error { return nil }

func (t *memTx) GetOffering(_ context.Context, id string) (*model.Offering, error) {
	return t.offerings.get(id, "offering "+id)
}

func (t *memTx) PutOffering(_ context.Context, o *model.Offering) error {
	t.offerings.put(o.ID, *o)
	return nil
}

func (t *memTx) ListOfferings(_ context.Context, tradingAccountID string) ([]model.Offering, error) {
	return filterOfferings(t.offerings.merged(), tradingAccountID), nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*model.Order, error) {
	return t.orders.get(id, "order "+id)
}

func (t *memTx) PutOrder(_ context.Context, o *model.Order) error {
	t.orders.put(o.ID, *o)
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.trades = append(t.trades, *tr)
	return nil
}

// overlay stages writes on top of a base map until commit.
type overlay[K comparable, V any] struct {
	base   map[K]V
	staged map[K]V
}

func newOverlay[K comparable, V any](base map[K]V) *overlay[K, V] {
	return &overlay[K, V]{base: base, staged: make(map[K]V)}
}

func (o *overlay[K, V]) get(k K, what string) (*V, error) {
	if v, ok := o.staged[k]; ok {
		return &v, nil
	}
	return lookup(o.base, k, what)
}

func (o *overlay[K, V]) put(k K, v V) {
	o.staged[k] = v
}

func (o *overlay[K, V]) merged() map[K]V {
	m := make(map[K]V, len(o.base)+len(o.staged))
	for k, v := range o.base {
		m[k] = v
	}
	for k, v := range o.staged {
		m[k] = v
	}
	return m
}

func (o *overlay[K, V]) commit() {
	for k, v := range o.staged {
		o.base[k] = v
	}
}

func lookup[K comparable, V any](m map[K]V, k K, what string) (*V, error) {
	v, ok := m[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return &v, nil
}

func filterOfferings(m map[string]model.Offering, tradingAccountID string) []model.Offering {
	var result []model.Offering
	for _, o := range m {
		if tradingAccountID == "" || o.TradingAccountID == tradingAccountID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
