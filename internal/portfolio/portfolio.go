// Package portfolio tracks share holdings per owner and trading account,
// the share holds backing resting sell orders, and weighted-average cost.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// Reserve sets qty shares aside for a sell order.
func Reserve(ctx context.Context, tx store.Tx, ownerID, tradingAccountID string, qty int64, at time.Time) (*model.ShareHold, error) {
	if qty <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	p, err := tx.GetPortfolioEntry(ctx, ownerID, tradingAccountID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: need %d, available 0", model.ErrInsufficientShares, qty)
	}
	if err != nil {
		return nil, err
	}
	if p.Available() < qty {
		return nil, fmt.Errorf("%w: need %d, available %d", model.ErrInsufficientShares, qty, p.Available())
	}

	p.Reserved += qty
	p.UpdatedAt = at
	if err := tx.PutPortfolioEntry(ctx, p); err != nil {
		return nil, err
	}

	h := &model.ShareHold{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		TradingAccountID: tradingAccountID,
		Quantity:         qty,
		Remaining:        qty,
		Status:           model.HoldActive,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	return h, tx.PutShareHold(ctx, h)
}

// Release returns the hold's remaining shares to the owner's available
// quantity and reports how many were released.
func Release(ctx context.Context, tx store.Tx, holdID string, at time.Time) (int64, error) {
	h, err := activeHold(ctx, tx, holdID)
	if err != nil {
		return 0, err
	}
	p, err := tx.GetPortfolioEntry(ctx, h.OwnerID, h.TradingAccountID)
	if err != nil {
		return 0, err
	}
	released := h.Remaining
	p.Reserved -= released
	p.UpdatedAt = at
	if err := tx.PutPortfolioEntry(ctx, p); err != nil {
		return 0, err
	}

	h.Status = model.HoldReleased
	if h.Remaining != h.Quantity {
		h.Status = model.HoldSettled
	}
	h.Remaining = 0
	h.UpdatedAt = at
	return released, tx.PutShareHold(ctx, h)
}

// Settle moves qty reserved shares from the hold's owner to buyerID at
// price, updating the buyer's average cost. The seller's average cost is
// unchanged.
func Settle(ctx context.Context, tx store.Tx, holdID string, qty int64, buyerID string, price decimal.Decimal, at time.Time) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	h, err := activeHold(ctx, tx, holdID)
	if err != nil {
		return err
	}
	if h.Remaining < qty {
		return fmt.Errorf("%w: hold %s has %d, settling %d", model.ErrInsufficientShares, holdID, h.Remaining, qty)
	}

	seller, err := tx.GetPortfolioEntry(ctx, h.OwnerID, h.TradingAccountID)
	if err != nil {
		return err
	}
	if seller.Quantity-qty < 0 || seller.Reserved-qty < 0 {
		return fmt.Errorf("%w: seller %s holds %d", model.ErrInsufficientShares, h.OwnerID, seller.Quantity)
	}
	seller.Quantity -= qty
	seller.Reserved -= qty
	seller.UpdatedAt = at
	if err := tx.PutPortfolioEntry(ctx, seller); err != nil {
		return err
	}

	h.Remaining -= qty
	if h.Remaining == 0 {
		h.Status = model.HoldSettled
	}
	h.UpdatedAt = at
	if err := tx.PutShareHold(ctx, h); err != nil {
		return err
	}

	return Issue(ctx, tx, buyerID, h.TradingAccountID, qty, price, at)
}

// Issue adds qty shares bought at price to the owner's holding.
func Issue(ctx context.Context, tx store.Tx, ownerID, tradingAccountID string, qty int64, price decimal.Decimal, at time.Time) error {
	if qty <= 0 {
		return model.ErrInvalidQuantity
	}
	p, err := tx.GetPortfolioEntry(ctx, ownerID, tradingAccountID)
	if errors.Is(err, model.ErrNotFound) {
		p = &model.PortfolioEntry{OwnerID: ownerID, TradingAccountID: tradingAccountID}
	} else if err != nil {
		return err
	}
	p.AverageCost = AverageCost(p.Quantity, p.AverageCost, qty, price)
	p.Quantity += qty
	p.UpdatedAt = at
	return tx.PutPortfolioEntry(ctx, p)
}

// AverageCost returns (oldQty*oldAvg + qty*price) / (oldQty+qty).
func AverageCost(oldQty int64, oldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	total := oldQty + qty
	if total <= 0 {
		return decimal.Zero
	}
	value := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(price.Mul(decimal.NewFromInt(qty)))
	return value.Div(decimal.NewFromInt(total)).Round(model.PriceScale)
}

func activeHold(ctx context.Context, tx store.Tx, holdID string) (*model.ShareHold, error) {
	h, err := tx.GetShareHold(ctx, holdID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrHoldNotFound, holdID)
	}
	if err != nil {
		return nil, err
	}
	if h.Status != model.HoldActive {
		return nil, fmt.Errorf("%w: %s is %s", model.ErrHoldAlreadyConsumed, holdID, h.Status)
	}
	return h, nil
}
