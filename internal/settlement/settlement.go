// Package settlement applies one match between a buy order and either a
// resting sell order or a primary offering. Every match is a single store
// transaction: funds, shares, offering inventory, trade record and both
// orders' fill progress commit together or not at all.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/ledger"
	"github.com/qbands/share-exchange/internal/metrics"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/portfolio"
	"github.com/qbands/share-exchange/internal/store"
)

// Match is one fill to settle. Exactly one of SellOrderID and OfferingID
// is set.
type Match struct {
	TradingAccountID string
	BuyOrderID       string
	SellOrderID      string
	OfferingID       string
	// IssuerID receives the proceeds of an offering sale.
	IssuerID string
	Quantity int64
	Price    decimal.Decimal
	FeeRate  decimal.Decimal
	// BuyReservePrice is the per-share price the buy hold was sized at.
	// Whatever the hold carries beyond what the unfilled remainder needs at
	// this price is released after the fill.
	BuyReservePrice decimal.Decimal
}

// Source labels the match for metrics and logs.
func (m Match) Source() string {
	if m.OfferingID != "" {
		return "offering"
	}
	return "book"
}

// Result is the committed state after a match.
type Result struct {
	Trade    *model.Trade
	Buy      *model.Order
	Sell     *model.Order
	Offering *model.Offering
	// Released is the buy hold excess returned to the buyer.
	Released decimal.Decimal
}

// Coordinator settles matches.
type Coordinator struct {
	store      store.Store
	currency   string
	feeAccount string
	now        func() time.Time
}

// NewCoordinator creates a coordinator settling in currency. Fees are
// credited to feeAccount.
func NewCoordinator(st store.Store, currency, feeAccount string) *Coordinator {
	return &Coordinator{
		store:      st,
		currency:   currency,
		feeAccount: feeAccount,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Currency returns the settlement currency.
func (c *Coordinator) Currency() string { return c.currency }

// Fee returns the fee charged on notional at rate, rounded down.
func Fee(notional, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return notional.Mul(rate).RoundFloor(model.PriceScale)
}

// Reservation returns the funds needed to buy qty shares at price including
// the fee at rate, rounded up.
func Reservation(qty int64, price, rate decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(qty)).Mul(decimal.NewFromInt(1).Add(rate))
	return gross.RoundCeil(model.PriceScale)
}

// Settle applies m in one transaction. On any error nothing is written.
func (c *Coordinator) Settle(ctx context.Context, m Match) (*Result, error) {
	if m.Quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	res, err := c.settle(ctx, m)
	if err != nil {
		metrics.SettlementFailures.WithLabelValues(m.Source()).Inc()
		slog.Error("settlement failed",
			"trading_account_id", m.TradingAccountID,
			"buy_order_id", m.BuyOrderID,
			"sell_order_id", m.SellOrderID,
			"offering_id", m.OfferingID,
			"qty", m.Quantity,
			"price", m.Price.String(),
			"err", err,
		)
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(m.Source()).Inc()
	metrics.TradeVolume.WithLabelValues(m.TradingAccountID).Add(float64(m.Quantity))
	slog.Info("trade settled",
		"trade_id", res.Trade.ID,
		"trading_account_id", m.TradingAccountID,
		"source", m.Source(),
		"buyer", res.Trade.BuyerID,
		"seller", res.Trade.SellerID,
		"qty", res.Trade.Quantity,
		"price", res.Trade.Price.String(),
		"buyer_fee", res.Trade.BuyerFee.String(),
		"seller_fee", res.Trade.SellerFee.String(),
	)
	return res, nil
}

func (c *Coordinator) settle(ctx context.Context, m Match) (*Result, error) {
	res := &Result{}
	err := c.store.RunInTx(ctx, func(tx store.Tx) error {
		at := c.now()

		buy, err := restingOrder(ctx, tx, m.BuyOrderID)
		if err != nil {
			return err
		}
		var sell *model.Order
		sellerID := m.IssuerID
		if m.SellOrderID != "" {
			if sell, err = restingOrder(ctx, tx, m.SellOrderID); err != nil {
				return err
			}
			sellerID = sell.OwnerID
		}
		if sellerID == "" {
			return fmt.Errorf("settlement: no seller for buy order %s", buy.ID)
		}

		if err := tx.LockWallets(ctx, c.currency, buy.OwnerID, sellerID, c.feeAccount); err != nil {
			return err
		}

		price := m.Price
		if m.OfferingID != "" {
			o, err := offering.Allocate(ctx, tx, m.OfferingID, m.Quantity, at)
			if err != nil {
				return err
			}
			price = o.PricePerShare
			res.Offering = o
		}

		notional := price.Mul(decimal.NewFromInt(m.Quantity))
		buyerFee := Fee(notional, m.FeeRate)
		sellerFee := decimal.Zero
		if sell != nil {
			sellerFee = Fee(notional, m.FeeRate)
		}

		tradeID := uuid.New().String()
		if err := ledger.Settle(ctx, tx, buy.HoldID, notional.Sub(sellerFee), sellerID, tradeID, at); err != nil {
			return fmt.Errorf("debit buyer: %w", err)
		}
		if fees := buyerFee.Add(sellerFee); fees.IsPositive() {
			if err := ledger.Settle(ctx, tx, buy.HoldID, fees, c.feeAccount, tradeID, at); err != nil {
				return fmt.Errorf("collect fees: %w", err)
			}
		}

		if sell != nil {
			if err := portfolio.Settle(ctx, tx, sell.HoldID, m.Quantity, buy.OwnerID, price, at); err != nil {
				return fmt.Errorf("move shares: %w", err)
			}
		} else {
			if err := portfolio.Issue(ctx, tx, buy.OwnerID, m.TradingAccountID, m.Quantity, price, at); err != nil {
				return fmt.Errorf("issue shares: %w", err)
			}
		}

		if err := buy.ApplyFill(m.Quantity, price, buyerFee, at); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, buy); err != nil {
			return err
		}
		if sell != nil {
			if err := sell.ApplyFill(m.Quantity, price, sellerFee, at); err != nil {
				return err
			}
			if err := tx.PutOrder(ctx, sell); err != nil {
				return err
			}
		}

		// Return funds the remainder no longer needs.
		keep := Reservation(buy.Remaining(), m.BuyReservePrice, m.FeeRate)
		if hold, err := tx.GetFundsHold(ctx, buy.HoldID); err != nil {
			return err
		} else if hold.Status == model.HoldActive {
			if res.Released, err = ledger.Trim(ctx, tx, buy.HoldID, keep, at); err != nil {
				return err
			}
		}

		trade := &model.Trade{
			ID:               tradeID,
			TradingAccountID: m.TradingAccountID,
			BuyOrderID:       buy.ID,
			SellOrderID:      m.SellOrderID,
			OfferingID:       m.OfferingID,
			BuyerID:          buy.OwnerID,
			SellerID:         sellerID,
			Quantity:         m.Quantity,
			Price:            price,
			BuyerFee:         buyerFee,
			SellerFee:        sellerFee,
			ExecutedAt:       at,
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		res.Trade = trade
		res.Buy = buy
		res.Sell = sell
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func restingOrder(ctx context.Context, tx store.Tx, id string) (*model.Order, error) {
	o, err := tx.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Resting() {
		return nil, fmt.Errorf("%w: order %s is %s", model.ErrInvalidStateTransition, id, o.Status)
	}
	return o, nil
}
