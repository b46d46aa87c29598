// Package model defines the core domain types shared across the exchange core.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a per-owner, per-currency cash balance. Reserved funds back
// resting buy orders and can only leave the wallet through a settled hold.
type Wallet struct {
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available_balance"`
	Reserved  decimal.Decimal `json:"reserved_balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns available plus reserved balance.
func (w Wallet) Total() decimal.Decimal {
	return w.Available.Add(w.Reserved)
}

// FundsHold is a reservation carved out of a wallet's available balance.
// Amount is the original reservation; Remaining is what is still reserved.
type FundsHold struct {
	ID        string          `json:"hold_id"`
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    HoldStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletEntry is an immutable journal line written for every wallet movement.
type WalletEntry struct {
	ID             string          `json:"entry_id"`
	OwnerID        string          `json:"owner_id"`
	Currency       string          `json:"currency"`
	Kind           EntryKind       `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	ReservedAfter  decimal.Decimal `json:"reserved_after"`
	Reference      string          `json:"reference,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PortfolioEntry is an owner's holding of one trading account's shares.
// The record survives a return to zero quantity.
type PortfolioEntry struct {
	OwnerID          string          `json:"owner_id"`
	TradingAccountID string          `json:"trading_account_id"`
	Quantity         int64           `json:"quantity"`
	Reserved         int64           `json:"reserved_quantity"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Available returns the unreserved quantity.
func (p PortfolioEntry) Available() int64 {
	return p.Quantity - p.Reserved
}

// ShareHold reserves shares for a resting sell order.
type ShareHold struct {
	ID               string     `json:"hold_id"`
	OwnerID          string     `json:"owner_id"`
	TradingAccountID string     `json:"trading_account_id"`
	Quantity         int64      `json:"quantity"`
	Remaining        int64      `json:"remaining"`
	Status           HoldStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Offering is a primary-market Initial Share Offering.
type Offering struct {
	ID               string           `json:"offering_id"`
	TradingAccountID string           `json:"trading_account_id"`
	AdminID          string           `json:"admin_id"`
	SharesOffered    int64            `json:"shares_offered"`
	SharesSold       int64            `json:"shares_sold"`
	PricePerShare    decimal.Decimal  `json:"price_per_share"`
	FloorPrice       *decimal.Decimal `json:"floor_price,omitempty"`
	CeilingPrice     *decimal.Decimal `json:"ceiling_price,omitempty"`
	StartDate        time.Time        `json:"start_date"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	Status           OfferingStatus   `json:"status"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Remaining returns shares still available for allocation.
func (o Offering) Remaining() int64 {
	return o.SharesOffered - o.SharesSold
}

// ExpiredAt reports whether the offering's end date has passed at now.
func (o Offering) ExpiredAt(now time.Time) bool {
	return o.EndDate != nil && !now.Before(*o.EndDate)
}

// Order is a share order on one trading account's book.
type Order struct {
	ID               string           `json:"order_id"`
	OwnerID          string           `json:"owner_id"`
	TradingAccountID string           `json:"trading_account_id"`
	Side             Side             `json:"side"`
	Type             OrderType        `json:"type"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	QuantityOrdered  int64            `json:"quantity_ordered"`
	QuantityFilled   int64            `json:"quantity_filled"`
	AverageFillPrice decimal.Decimal  `json:"average_fill_price"`
	TransactionFee   decimal.Decimal  `json:"transaction_fee"`
	Status           OrderStatus      `json:"status"`
	HoldID           string           `json:"hold_id,omitempty"`
	RejectReason     string           `json:"reject_reason,omitempty"`
	Seq              int64            `json:"seq"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.QuantityOrdered - o.QuantityFilled
}

// Resting reports whether the order can still be matched or cancelled.
func (o *Order) Resting() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// ApplyFill records qty shares filled at price and the fee charged to this
// order's owner. Status is re-derived from fill progress.
func (o *Order) ApplyFill(qty int64, price, fee decimal.Decimal, at time.Time) error {
	if qty <= 0 || qty > o.Remaining() {
		return ErrOverfill
	}
	next := FillStatus(o.QuantityFilled+qty, o.QuantityOrdered)
	if next != o.Status && !o.Status.CanTransition(next) {
		return ErrInvalidStateTransition
	}
	filledValue := o.AverageFillPrice.Mul(decimal.NewFromInt(o.QuantityFilled))
	filledValue = filledValue.Add(price.Mul(decimal.NewFromInt(qty)))
	o.QuantityFilled += qty
	o.AverageFillPrice = filledValue.Div(decimal.NewFromInt(o.QuantityFilled)).Round(PriceScale)
	o.TransactionFee = o.TransactionFee.Add(fee)
	o.Status = next
	o.UpdatedAt = at
	return nil
}

// Cancel terminalizes a resting order.
func (o *Order) Cancel(at time.Time) error {
	if !o.Status.CanTransition(OrderCancelled) {
		return ErrInvalidStateTransition
	}
	o.Status = OrderCancelled
	o.UpdatedAt = at
	return nil
}

// Trade is an immutable record of one executed match. SellOrderID is empty
// and OfferingID set when the shares came from a primary offering.
type Trade struct {
	ID               string          `json:"trade_id"`
	TradingAccountID string          `json:"trading_account_id"`
	BuyOrderID       string          `json:"buy_order_id"`
	SellOrderID      string          `json:"sell_order_id,omitempty"`
	OfferingID       string          `json:"offering_id,omitempty"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	BuyerFee         decimal.Decimal `json:"buyer_fee"`
	SellerFee        decimal.Decimal `json:"seller_fee"`
	ExecutedAt       time.Time       `json:"executed_at"`
}

// Notional returns quantity * price.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// TradingAccount is the read-only metadata the core needs about a managed
// trading account. It is owned by the account-metadata service.
type TradingAccount struct {
	ID                string          `json:"trading_account_id"`
	Name              string          `json:"name"`
	Active            bool            `json:"active"`
	IssuerID          string          `json:"issuer_id"`
	TotalSharesIssued int64           `json:"total_shares_issued"`
	CurrentSharePrice decimal.Decimal `json:"current_share_price"`
	FeeRate           decimal.Decimal `json:"fee_rate"`
}

// PriceScale is the number of decimal places kept for prices and money.
const PriceScale int32 = 8
