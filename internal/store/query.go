package store

import (
	"slices"
	"time"

	"github.com/qbands/share-exchange/internal/model"
)

// OrderFilter selects orders for paged listings. Zero fields match
// everything; From and To bound created_at inclusively.
type OrderFilter struct {
	OwnerID          string
	TradingAccountID string
	Statuses         []model.OrderStatus
	Side             model.Side
	Type             model.OrderType
	From, To         time.Time
	Limit, Offset    int
}

// Match reports whether o passes every set field.
func (f OrderFilter) Match(o *model.Order) bool {
	switch {
	case f.OwnerID != "" && o.OwnerID != f.OwnerID:
		return false
	case f.TradingAccountID != "" && o.TradingAccountID != f.TradingAccountID:
		return false
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status):
		return false
	case f.Side != 0 && o.Side != f.Side:
		return false
	case f.Type != 0 && o.Type != f.Type:
		return false
	}
	return inRange(o.CreatedAt, f.From, f.To)
}

// TradeFilter selects trades for paged listings. Zero fields match
// everything; From and To bound executed_at inclusively.
type TradeFilter struct {
	TradingAccountID string
	BuyerID          string
	SellerID         string
	From, To         time.Time
	Limit, Offset    int
}

// Match reports whether t passes every set field.
func (f TradeFilter) Match(t *model.Trade) bool {
	switch {
	case f.TradingAccountID != "" && t.TradingAccountID != f.TradingAccountID:
		return false
	case f.BuyerID != "" && t.BuyerID != f.BuyerID:
		return false
	case f.SellerID != "" && t.SellerID != f.SellerID:
		return false
	}
	return inRange(t.ExecutedAt, f.From, f.To)
}

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	return to.IsZero() || !at.After(to)
}

// window returns items[offset:offset+limit], clamped. limit <= 0 means no limit.
func window[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
