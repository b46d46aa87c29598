package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

// Store runs each portfolio operation in its own transaction.
type Store struct {
	store store.Store
	now   func() time.Time
}

// New creates a portfolio Store over st.
func New(st store.Store) *Store {
	return &Store{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// ReserveShares places a share hold and returns its id.
func (s *Store) ReserveShares(ctx context.Context, ownerID, tradingAccountID string, qty int64) (string, error) {
	var id string
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		h, err := Reserve(ctx, tx, ownerID, tradingAccountID, qty, s.now())
		if err != nil {
			return err
		}
		id = h.ID
		return nil
	})
	return id, err
}

func (s *Store) ReleaseShares(ctx context.Context, holdID string) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		_, err := Release(ctx, tx, holdID, s.now())
		return err
	})
}

func (s *Store) SettleShares(ctx context.Context, holdID string, qty int64, buyerID string, price decimal.Decimal) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		return Settle(ctx, tx, holdID, qty, buyerID, price, s.now())
	})
}

// IssueShares credits newly issued shares, e.g. for an administrative grant.
func (s *Store) IssueShares(ctx context.Context, ownerID, tradingAccountID string, qty int64, price decimal.Decimal) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		return Issue(ctx, tx, ownerID, tradingAccountID, qty, price, s.now())
	})
}

func (s *Store) Entry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	return s.store.GetPortfolioEntry(ctx, ownerID, tradingAccountID)
}

func (s *Store) Entries(ctx context.Context, ownerID string) ([]model.PortfolioEntry, error) {
	return s.store.ListPortfolio(ctx, ownerID)
}

func (s *Store) Hold(ctx context.Context, holdID string) (*model.ShareHold, error) {
	return s.store.GetShareHold(ctx, holdID)
}
