// Package store defines the persistence interface for the exchange core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// Every mutation happens inside RunInTx: a transaction either commits all of
// its writes or none of them, which is what makes holds and settlements
// all-or-nothing across a restart.
package store

import (
	"context"
	"time"

	"github.com/qbands/share-exchange/internal/model"
)

// Store is the persistence interface.
type Store interface {
	Reader

	// RunInTx runs fn inside a transaction. If fn returns an error the
	// transaction is rolled back and the error returned unchanged.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader holds the non-transactional queries. Results are copies.
// Lookups of a missing record return an error wrapping model.ErrNotFound.
type Reader interface {
	GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error)
	ListWalletEntries(ctx context.Context, ownerID string, limit int) ([]model.WalletEntry, error)
	GetFundsHold(ctx context.Context, id string) (*model.FundsHold, error)

	GetPortfolioEntry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error)
	ListPortfolio(ctx context.Context, ownerID string) ([]model.PortfolioEntry, error)
	GetShareHold(ctx context.Context, id string) (*model.ShareHold, error)

	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	// ListOfferings returns offerings for one trading account, or all when
	// tradingAccountID is empty, oldest first.
	ListOfferings(ctx context.Context, tradingAccountID string) ([]model.Offering, error)

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error)
	// ListRestingOrders returns Open and PartiallyFilled orders in seq order.
	ListRestingOrders(ctx context.Context) ([]model.Order, error)

	// ListTradesByAccount and ListTradesByOwner return newest first.
	ListTradesByAccount(ctx context.Context, tradingAccountID string, limit int) ([]model.Trade, error)
	ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error)

	// ListOrders and ListTrades return one page, newest first, plus the
	// number of records matching the filter.
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, int, error)
	ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, int, error)
}

// Tx is the transactional view. Get methods lock the returned row until the
// transaction ends; Put methods upsert.
type Tx interface {
	// LockWallets locks the given wallets in a deterministic order so that
	// concurrent settlements touching the same pair cannot deadlock.
	// Row-locking implementations create missing wallets empty first so
	// that the lock covers them.
	LockWallets(ctx context.Context, currency string, ownerIDs ...string) error
	// EnsureWallet returns the wallet locked, creating an empty one when it
	// does not exist. Two transactions creating the same wallet serialize.
	EnsureWallet(ctx context.Context, ownerID, currency string, at time.Time) (*model.Wallet, error)
	GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error)
	PutWallet(ctx context.Context, w *model.Wallet) error
	InsertWalletEntry(ctx context.Context, e *model.WalletEntry) error
	GetFundsHold(ctx context.Context, id string) (*model.FundsHold, error)
	PutFundsHold(ctx context.Context, h *model.FundsHold) error

	GetPortfolioEntry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error)
	PutPortfolioEntry(ctx context.Context, p *model.PortfolioEntry) error
	GetShareHold(ctx context.Context, id string) (*model.ShareHold, error)
	PutShareHold(ctx context.Context, h *model.ShareHold) error

	// LockTradingAccount serializes offering changes of one trading account
	// until the transaction ends.
	LockTradingAccount(ctx context.Context, tradingAccountID string) error
	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	PutOffering(ctx context.Context, o *model.Offering) error
	ListOfferings(ctx context.Context, tradingAccountID string) ([]model.Offering, error)

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	PutOrder(ctx context.Context, o *model.Order) error
	InsertTrade(ctx context.Context, t *model.Trade) error
}
