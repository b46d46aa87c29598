// Package offering manages Initial Share Offerings: primary-market
// inventory that administrators put up for sale at a fixed price.
//
// Lifecycle:
//
//	Active -> Completed   (all shares sold)
//	Active -> Cancelled   (administrator)
//	Active -> Expired     (end date passed, applied by Sweep)
//
// Every non-Active state is terminal.
package offering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/accounts"
	"github.com/qbands/share-exchange/internal/feed"
	"github.com/qbands/share-exchange/internal/metrics"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// CreateRequest describes a new offering.
type CreateRequest struct {
	TradingAccountID string           `json:"trading_account_id"`
	SharesOffered    int64            `json:"shares_offered"`
	PricePerShare    decimal.Decimal  `json:"price_per_share"`
	FloorPrice       *decimal.Decimal `json:"floor_price,omitempty"`
	CeilingPrice     *decimal.Decimal `json:"ceiling_price,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
}

// UpdateRequest changes an Active offering. Nil fields are left unchanged.
type UpdateRequest struct {
	SharesOffered *int64           `json:"shares_offered,omitempty"`
	PricePerShare *decimal.Decimal `json:"price_per_share,omitempty"`
	FloorPrice    *decimal.Decimal `json:"floor_price,omitempty"`
	CeilingPrice  *decimal.Decimal `json:"ceiling_price,omitempty"`
	EndDate       *time.Time       `json:"end_date,omitempty"`
}

// Empty reports whether no field is set.
func (u UpdateRequest) Empty() bool {
	return u.SharesOffered == nil && u.PricePerShare == nil && u.FloorPrice == nil &&
		u.CeilingPrice == nil && u.EndDate == nil
}

// Manager owns the offering lifecycle.
type Manager struct {
	store    store.Store
	accounts accounts.Directory
	events   feed.Publisher
	now      func() time.Time
}

// NewManager creates an offering manager. Pass feed.Nop{} if events are not needed.
func NewManager(st store.Store, dir accounts.Directory, events feed.Publisher) *Manager {
	if events == nil {
		events = feed.Nop{}
	}
	return &Manager{
		store:    st,
		accounts: dir,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates req and opens a new Active offering on behalf of adminID.
func (m *Manager) Create(ctx context.Context, adminID string, req CreateRequest) (*model.Offering, error) {
	if req.SharesOffered <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	if err := validatePricing(req.PricePerShare, req.FloorPrice, req.CeilingPrice); err != nil {
		return nil, err
	}
	now := m.now()
	if req.EndDate != nil && !req.EndDate.After(now) {
		return nil, model.ErrInvalidEndDate
	}
	acct, err := m.accounts.Get(ctx, req.TradingAccountID)
	if err != nil {
		return nil, err
	}

	o := &model.Offering{
		ID:               uuid.New().String(),
		TradingAccountID: req.TradingAccountID,
		AdminID:          adminID,
		SharesOffered:    req.SharesOffered,
		PricePerShare:    req.PricePerShare,
		FloorPrice:       req.FloorPrice,
		CeilingPrice:     req.CeilingPrice,
		StartDate:        now,
		EndDate:          req.EndDate,
		Status:           model.OfferingActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = m.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := checkIssued(ctx, tx, acct, "", req.SharesOffered); err != nil {
			return err
		}
		return tx.PutOffering(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("offering created",
		"offering_id", o.ID,
		"trading_account_id", o.TradingAccountID,
		"admin_id", adminID,
		"shares", o.SharesOffered,
		"price", o.PricePerShare.String(),
	)
	m.events.Publish(feed.OfferingEvent(feed.OfferingCreated, o))
	return o, nil
}

// Update applies req to an Active offering. Nothing is written if any
// check fails.
func (m *Manager) Update(ctx context.Context, offeringID string, req UpdateRequest) (*model.Offering, error) {
	if req.Empty() {
		return nil, model.ErrEmptyUpdate
	}
	now := m.now()
	if req.EndDate != nil && !req.EndDate.After(now) {
		return nil, model.ErrInvalidEndDate
	}

	var updated *model.Offering
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOffering(ctx, offeringID)
		if err != nil {
			return err
		}
		if o.Status != model.OfferingActive {
			return fmt.Errorf("%w: offering is %s", model.ErrInvalidStateTransition, o.Status)
		}

		next := *o
		if req.SharesOffered != nil {
			next.SharesOffered = *req.SharesOffered
		}
		if req.PricePerShare != nil {
			next.PricePerShare = *req.PricePerShare
		}
		if req.FloorPrice != nil {
			next.FloorPrice = req.FloorPrice
		}
		if req.CeilingPrice != nil {
			next.CeilingPrice = req.CeilingPrice
		}
		if req.EndDate != nil {
			next.EndDate = req.EndDate
		}

		if o.SharesSold > 0 && (next.SharesOffered != o.SharesOffered || !next.PricePerShare.Equal(o.PricePerShare)) {
			return model.ErrFrozenAfterSale
		}
		if next.SharesOffered <= 0 || next.SharesOffered < next.SharesSold {
			return model.ErrInvalidQuantity
		}
		if err := validatePricing(next.PricePerShare, next.FloorPrice, next.CeilingPrice); err != nil {
			return err
		}
		if next.SharesOffered > o.SharesOffered {
			acct, err := m.accounts.Get(ctx, o.TradingAccountID)
			if err != nil {
				return err
			}
			if err := checkIssued(ctx, tx, acct, o.ID, next.SharesOffered); err != nil {
				return err
			}
		}
		if next.Remaining() == 0 {
			next.Status = model.OfferingCompleted
		}
		next.UpdatedAt = now
		updated = &next
		return tx.PutOffering(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("offering updated", "offering_id", updated.ID, "status", updated.Status.String())
	m.events.Publish(feed.OfferingEvent(feed.OfferingUpdated, updated))
	if updated.Status == model.OfferingCompleted {
		metrics.OfferingTransitions.WithLabelValues(updated.Status.String()).Inc()
		m.events.Publish(feed.OfferingEvent(feed.OfferingCompleted, updated))
	}
	return updated, nil
}

// Cancel moves an Active offering to Cancelled.
func (m *Manager) Cancel(ctx context.Context, offeringID, reason string) (*model.Offering, error) {
	var cancelled *model.Offering
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOffering(ctx, offeringID)
		if err != nil {
			return err
		}
		if err := transition(o, model.OfferingCancelled, m.now()); err != nil {
			return err
		}
		o.CancelReason = reason
		cancelled = o
		return tx.PutOffering(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("offering cancelled", "offering_id", offeringID, "reason", reason, "sold", cancelled.SharesSold)
	metrics.OfferingTransitions.WithLabelValues(cancelled.Status.String()).Inc()
	m.events.Publish(feed.OfferingEvent(feed.OfferingCancelled, cancelled))
	return cancelled, nil
}

// Allocate sells qty shares out of the offering in its own transaction and
// returns the offering after the sale.
func (m *Manager) Allocate(ctx context.Context, offeringID string, qty int64) (*model.Offering, error) {
	var o *model.Offering
	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		o, err = Allocate(ctx, tx, offeringID, qty, m.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	m.Allocated(o, qty)
	return o, nil
}

// Allocated records a committed allocation of qty shares from o.
func (m *Manager) Allocated(o *model.Offering, qty int64) {
	metrics.OfferingSharesAllocated.Add(float64(qty))
	if o.Status == model.OfferingCompleted {
		slog.Info("offering completed", "offering_id", o.ID, "shares", o.SharesOffered)
		metrics.OfferingTransitions.WithLabelValues(o.Status.String()).Inc()
		m.events.Publish(feed.OfferingEvent(feed.OfferingCompleted, o))
		return
	}
	m.events.Publish(feed.OfferingEvent(feed.OfferingUpdated, o))
}

// Allocate sells qty shares out of the offering inside tx. The request
// fails as a whole if it cannot be fully satisfied. The offering moves to
// Completed when nothing remains.
func Allocate(ctx context.Context, tx store.Tx, offeringID string, qty int64, at time.Time) (*model.Offering, error) {
	if qty <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	o, err := tx.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OfferingActive || o.ExpiredAt(at) {
		return nil, fmt.Errorf("%w: %s", model.ErrOfferingNotActive, offeringID)
	}
	if o.Remaining() < qty {
		return nil, fmt.Errorf("%w: %d remaining, %d requested", model.ErrInsufficientSharesRemaining, o.Remaining(), qty)
	}

	o.SharesSold += qty
	o.UpdatedAt = at
	if o.Remaining() == 0 {
		if err := transition(o, model.OfferingCompleted, at); err != nil {
			return nil, err
		}
	}
	return o, tx.PutOffering(ctx, o)
}

// Sweep expires every Active offering whose end date is at or before now
// and returns how many were expired. Each expiry is its own transaction.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	all, err := m.store.ListOfferings(ctx, "")
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range all {
		if candidate.Status != model.OfferingActive || !candidate.ExpiredAt(now) {
			continue
		}
		var o *model.Offering
		err := m.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			o, err = tx.GetOffering(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// Re-check under the row lock: it may have completed meanwhile.
			if o.Status != model.OfferingActive || !o.ExpiredAt(now) {
				o = nil
				return nil
			}
			if err := transition(o, model.OfferingExpired, now); err != nil {
				return err
			}
			return tx.PutOffering(ctx, o)
		})
		if err != nil {
			return expired, fmt.Errorf("expire offering %s: %w", candidate.ID, err)
		}
		if o == nil {
			continue
		}
		expired++
		slog.Info("offering expired", "offering_id", o.ID, "sold", o.SharesSold, "offered", o.SharesOffered)
		metrics.OfferingTransitions.WithLabelValues(o.Status.String()).Inc()
		m.events.Publish(feed.OfferingEvent(feed.OfferingExpired, o))
	}
	return expired, nil
}

// Run sweeps expired offerings every interval until ctx is cancelled.
// Must be called in a goroutine.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx, m.now()); err != nil {
				slog.Error("offering sweep failed", "err", err)
			}
		}
	}
}

func (m *Manager) Get(ctx context.Context, offeringID string) (*model.Offering, error) {
	return m.store.GetOffering(ctx, offeringID)
}

// List returns the trading account's offerings, oldest first.
func (m *Manager) List(ctx context.Context, tradingAccountID string) ([]model.Offering, error) {
	return m.store.ListOfferings(ctx, tradingAccountID)
}

// Active returns the allocatable offerings of a trading account at now,
// in matching order.
func (m *Manager) Active(ctx context.Context, tradingAccountID string, now time.Time) ([]model.Offering, error) {
	all, err := m.store.ListOfferings(ctx, tradingAccountID)
	if err != nil {
		return nil, err
	}
	return Allocatable(all, now), nil
}

// Allocatable filters offerings to those that can still sell shares at now
// and orders them cheapest first, then oldest.
func Allocatable(offerings []model.Offering, now time.Time) []model.Offering {
	var result []model.Offering
	for _, o := range offerings {
		if o.Status == model.OfferingActive && o.Remaining() > 0 && !o.ExpiredAt(now) {
			result = append(result, o)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].PricePerShare.Equal(result[j].PricePerShare) {
			return result[i].PricePerShare.LessThan(result[j].PricePerShare)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func transition(o *model.Offering, to model.OfferingStatus, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: offering %s -> %s", model.ErrInvalidStateTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// validatePricing checks price > 0 and floor <= price <= ceiling for the
// bounds that are set.
func validatePricing(price decimal.Decimal, floor, ceiling *decimal.Decimal) error {
	if !price.IsPositive() {
		return model.ErrInvalidPrice
	}
	if floor != nil && !floor.IsPositive() || ceiling != nil && !ceiling.IsPositive() {
		return model.ErrInvalidPrice
	}
	if floor != nil && ceiling != nil && floor.GreaterThan(*ceiling) {
		return fmt.Errorf("%w: floor %s above ceiling %s", model.ErrInvalidBounds, floor, ceiling)
	}
	if floor != nil && price.LessThan(*floor) {
		return fmt.Errorf("%w: price %s below floor %s", model.ErrInvalidBounds, price, floor)
	}
	if ceiling != nil && price.GreaterThan(*ceiling) {
		return fmt.Errorf("%w: price %s above ceiling %s", model.ErrInvalidBounds, price, ceiling)
	}
	return nil
}

// checkIssued verifies that shares, plus everything already offered by
// non-cancelled offerings other than exclude, fits within the account's
// issued shares. The account stays locked until tx ends so that concurrent
// creates cannot both pass the cap.
func checkIssued(ctx context.Context, tx store.Tx, acct *model.TradingAccount, exclude string, shares int64) error {
	if err := tx.LockTradingAccount(ctx, acct.ID); err != nil {
		return err
	}
	existing, err := tx.ListOfferings(ctx, acct.ID)
	if err != nil {
		return err
	}
	var offered int64
	for _, o := range existing {
		if o.ID == exclude || o.Status == model.OfferingCancelled {
			continue
		}
		offered += o.SharesOffered
	}
	if offered+shares > acct.TotalSharesIssued {
		return fmt.Errorf("%w: %d already offered, %d issued", model.ErrSharesExceedIssued, offered, acct.TotalSharesIssued)
	}
	return nil
}
