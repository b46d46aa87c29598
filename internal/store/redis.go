package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qbands/share-exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Transactions always read the primary, so cached values are only ever
// served to callers outside the matching path.
//
// Each cached record has a version key holding the time of its last write.
// Values are stored under "<key>@<version>", so a reader that loaded the
// primary before a commit can only populate a version nobody reads anymore.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write path (write to primary, invalidate cache) ---

func (s *CachedStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.RunInTx(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&trackingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.bump(ctx, touched)
	}
	return nil
}

// bump moves every touched key to a fresh version; the next read
// re-populates it. Version keys outlive cached values so that an expired
// version never resurrects an older value.
func (s *CachedStore) bump(ctx context.Context, keys []string) {
	version := strconv.FormatInt(time.Now().UnixNano(), 10)
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, versionKey(k), version, s.versionTTL())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache invalidation failed", "keys", len(keys), "err", err)
	}
}

func (s *CachedStore) versionTTL() time.Duration {
	return 2*s.ttl + time.Minute
}

// trackingTx records the cache keys of every row written through it.
type trackingTx struct {
	Tx
	touched *[]string
}

func (t *trackingTx) mark(key string) { *t.touched = append(*t.touched, key) }

func (t *trackingTx) EnsureWallet(ctx context.Context, ownerID, currency string, at time.Time) (*model.Wallet, error) {
	t.mark(walletCacheKey(ownerID, currency))
	return t.Tx.EnsureWallet(ctx, ownerID, currency, at)
}

func (t *trackingTx) PutWallet(ctx context.Context, w *model.Wallet) error {
	t.mark(walletCacheKey(w.OwnerID, w.Currency))
	return t.Tx.PutWallet(ctx, w)
}

func (t *trackingTx) PutPortfolioEntry(ctx context.Context, p *model.PortfolioEntry) error {
	t.mark(portfolioCacheKey(p.OwnerID, p.TradingAccountID))
	return t.Tx.PutPortfolioEntry(ctx, p)
}

func (t *trackingTx) PutOffering(ctx context.Context, o *model.Offering) error {
	t.mark(offeringCacheKey(o.ID))
	return t.Tx.PutOffering(ctx, o)
}

func (t *trackingTx) PutOrder(ctx context.Context, o *model.Order) error {
	t.mark(orderCacheKey(o.ID))
	return t.Tx.PutOrder(ctx, o)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	return readThrough(ctx, s, walletCacheKey(ownerID, currency), func() (*model.Wallet, error) {
		return s.primary.GetWallet(ctx, ownerID, currency)
	})
}

func (s *CachedStore) GetPortfolioEntry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	return readThrough(ctx, s, portfolioCacheKey(ownerID, tradingAccountID), func() (*model.PortfolioEntry, error) {
		return s.primary.GetPortfolioEntry(ctx, ownerID, tradingAccountID)
	})
}

func (s *CachedStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return readThrough(ctx, s, offeringCacheKey(id), func() (*model.Offering, error) {
		return s.primary.GetOffering(ctx, id)
	})
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return readThrough(ctx, s, orderCacheKey(id), func() (*model.Order, error) {
		return s.primary.GetOrder(ctx, id)
	})
}

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (*T, error)) (*T, error) {
	version, err := s.rdb.Get(ctx, versionKey(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		version = "0"
	case err != nil:
		return load()
	}
	vkey := key + "@" + version

	// Try cache.
	data, err := s.rdb.Get(ctx, vkey).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, vkey, data, s.ttl)
	}
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListWalletEntries(ctx context.Context, ownerID string, limit int) ([]model.WalletEntry, error) {
	return s.primary.ListWalletEntries(ctx, ownerID, limit)
}

func (s *CachedStore) GetFundsHold(ctx context.Context, id string) (*model.FundsHold, error) {
	return s.primary.GetFundsHold(ctx, id)
}

func (s *CachedStore) ListPortfolio(ctx context.Context, ownerID string) ([]model.PortfolioEntry, error) {
	return s.primary.ListPortfolio(ctx, ownerID)
}

func (s *CachedStore) GetShareHold(ctx context.Context, id string) (*model.ShareHold, error) {
	return s.primary.GetShareHold(ctx, id)
}

func (s *CachedStore) ListOfferings(ctx context.Context, tradingAccountID string) ([]model.Offering, error) {
	return s.primary.ListOfferings(ctx, tradingAccountID)
}

func (s *CachedStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	return s.primary.ListOrdersByOwner(ctx, ownerID)
}

func (s *CachedStore) ListRestingOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListRestingOrders(ctx)
}

func (s *CachedStore) ListTradesByAccount(ctx context.Context, tradingAccountID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByAccount(ctx, tradingAccountID, limit)
}

func (s *CachedStore) ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTradesByOwner(ctx, ownerID, limit)
}

func (s *CachedStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, int, error) {
	return s.primary.ListOrders(ctx, f)
}

func (s *CachedStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, int, error) {
	return s.primary.ListTrades(ctx, f)
}

// --- Cache keys ---

func walletCacheKey(owner, currency string) string {
	return fmt.Sprintf("wallet:%s:%s", owner, currency)
}

func portfolioCacheKey(owner, tradingAccountID string) string {
	return fmt.Sprintf("portfolio:%s:%s", owner, tradingAccountID)
}

func offeringCacheKey(id string) string {
	return fmt.Sprintf("offering:%s", id)
}

func orderCacheKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

func versionKey(key string) string {
	return "version:" + key
}
