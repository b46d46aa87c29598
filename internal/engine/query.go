package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// BookView is a point-in-time snapshot of one trading account's book.
type BookView struct {
	TradingAccountID string           `json:"trading_account_id"`
	Bids             []Level          `json:"bids"`
	Asks             []Level          `json:"asks"`
	BestBid          *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk          *decimal.Decimal `json:"best_ask,omitempty"`
	LastPrice        *decimal.Decimal `json:"last_price,omitempty"`
	RestingOrders    int              `json:"resting_orders"`
	At               time.Time        `json:"at"`
}

// MarketData combines the book snapshot with primary-market and trade data.
type MarketData struct {
	Book              *BookView        `json:"book"`
	CurrentSharePrice decimal.Decimal  `json:"current_share_price"`
	Offerings         []model.Offering `json:"offerings"`
	RecentTrades      []model.Trade    `json:"recent_trades"`
}

// GetOrder returns the stored state of an order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// ListOrders returns an owner's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, ownerID string) ([]model.Order, error) {
	return e.store.ListOrdersByOwner(ctx, ownerID)
}

// SearchOrders returns one page of orders matching f and the total match count.
func (e *Engine) SearchOrders(ctx context.Context, f store.OrderFilter) ([]model.Order, int, error) {
	return e.store.ListOrders(ctx, f)
}

// SearchTrades returns one page of trades matching f and the total match count.
func (e *Engine) SearchTrades(ctx context.Context, f store.TradeFilter) ([]model.Trade, int, error) {
	return e.store.ListTrades(ctx, f)
}

// Trades returns the most recent trades on a trading account.
func (e *Engine) Trades(ctx context.Context, tradingAccountID string, limit int) ([]model.Trade, error) {
	return e.store.ListTradesByAccount(ctx, tradingAccountID, limit)
}

// OwnerTrades returns the most recent trades an owner took part in.
func (e *Engine) OwnerTrades(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	return e.store.ListTradesByOwner(ctx, ownerID, limit)
}

// OrderBook returns up to depth aggregated levels per side. The snapshot is
// taken on the account's actor so it never shows a half-applied match.
func (e *Engine) OrderBook(ctx context.Context, tradingAccountID string, depth int) (*BookView, error) {
	if _, err := e.accounts.Get(ctx, tradingAccountID); err != nil {
		return nil, err
	}
	a, err := e.actorFor(tradingAccountID)
	if err != nil {
		return nil, err
	}
	return submit(ctx, e, a, func() (*BookView, error) {
		bids, asks := a.book.depth(depth)
		v := &BookView{
			TradingAccountID: tradingAccountID,
			Bids:             bids,
			Asks:             asks,
			RestingOrders:    a.book.Len(),
			At:               e.now(),
		}
		if len(bids) > 0 {
			p := bids[0].Price
			v.BestBid = &p
		}
		if len(asks) > 0 {
			p := asks[0].Price
			v.BestAsk = &p
		}
		if a.lastPrice != nil {
			p := *a.lastPrice
			v.LastPrice = &p
		}
		return v, nil
	})
}

// MarketData returns the book snapshot, the allocatable offerings and the
// latest trades for a trading account.
func (e *Engine) MarketData(ctx context.Context, tradingAccountID string, depth, tradeLimit int) (*MarketData, error) {
	acct, err := e.accounts.Get(ctx, tradingAccountID)
	if err != nil {
		return nil, err
	}
	book, err := e.OrderBook(ctx, tradingAccountID, depth)
	if err != nil {
		return nil, err
	}
	offers, err := e.offerings.Active(ctx, tradingAccountID, e.now())
	if err != nil {
		return nil, err
	}
	trades, err := e.store.ListTradesByAccount(ctx, tradingAccountID, tradeLimit)
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []model.Offering{}
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return &MarketData{
		Book:              book,
		CurrentSharePrice: acct.CurrentSharePrice,
		Offerings:         offers,
		RecentTrades:      trades,
	}, nil
}
