// Package limits implements the pre-trade risk checks applied to new
// orders: per-account and aggregate share position caps, and a maximum
// order notional.
package limits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
)

// PositionLimiter enforces position limits on buy orders. A zero limit
// disables that check.
type PositionLimiter struct {
	// MaxPerAccount is the maximum number of shares one owner may hold in
	// a single trading account.
	MaxPerAccount int64

	// MaxAggregate is the maximum number of shares one owner may hold
	// across all trading accounts.
	MaxAggregate int64

	// MaxOrderNotional caps quantity * reference price of a single order.
	MaxOrderNotional decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given limits.
func NewPositionLimiter(maxPerAccount, maxAggregate int64, maxOrderNotional decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerAccount:    maxPerAccount,
		MaxAggregate:     maxAggregate,
		MaxOrderNotional: maxOrderNotional,
	}
}

// CheckLimit validates whether buying delta more shares of target keeps the
// owner within position limits.
//
// Parameters:
//   - target: trading account whose shares are being bought
//   - delta: shares to add (sells pass a negative delta and always pass)
//   - existing: trading account ID -> shares held or pending on resting buys
func (l *PositionLimiter) CheckLimit(target string, delta int64, existing map[string]int64) error {
	if l == nil || delta <= 0 {
		return nil
	}

	// 1. Per-account limit.
	newPosition := existing[target] + delta
	if l.MaxPerAccount > 0 && newPosition > l.MaxPerAccount {
		return fmt.Errorf("%w: %d shares of %s exceeds %d", model.ErrPositionLimitExceeded,
			newPosition, target, l.MaxPerAccount)
	}

	// 2. Aggregate across all accounts.
	if l.MaxAggregate > 0 {
		total := newPosition
		for acct, qty := range existing {
			if acct == target {
				continue // already counted via newPosition above
			}
			total += qty
		}
		if total > l.MaxAggregate {
			return fmt.Errorf("%w: %d shares held in total exceeds %d", model.ErrPositionLimitExceeded,
				total, l.MaxAggregate)
		}
	}
	return nil
}

// CheckNotional validates qty * price against MaxOrderNotional.
func (l *PositionLimiter) CheckNotional(qty int64, price decimal.Decimal) error {
	if l == nil || !l.MaxOrderNotional.IsPositive() {
		return nil
	}
	notional := price.Mul(decimal.NewFromInt(qty))
	if notional.GreaterThan(l.MaxOrderNotional) {
		return fmt.Errorf("%w: %s exceeds %s", model.ErrOrderNotionalLimitExceeded, notional, l.MaxOrderNotional)
	}
	return nil
}
