package portfolio_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/portfolio"
	"github.com/qbands/share-exchange/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAverageCost(t *testing.T) {
	tests := []struct {
		name     string
		oldQty   int64
		oldAvg   string
		qty      int64
		price    string
		expected string
	}{
		{"first purchase", 0, "0", 10, "50", "50"},
		{"same price", 10, "50", 10, "50", "50"},
		{"weighted", 10, "50", 10, "46", "48"},
		{"no new shares", 3, "1", 0, "0", "1"},
		{"repeating", 1, "1", 2, "2", "1.66666667"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := portfolio.AverageCost(tc.oldQty, d(tc.oldAvg), tc.qty, d(tc.price))
			assert.True(t, got.Equal(d(tc.expected)), "got %s, want %s", got, tc.expected)
		})
	}
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := portfolio.New(store.NewMemoryStore())
	require.NoError(t, s.IssueShares(ctx, "bob", "acct-1", 50, d("40")))

	holdID, err := s.ReserveShares(ctx, "bob", "acct-1", 30)
	require.NoError(t, err)

	p, err := s.Entry(ctx, "bob", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.Quantity)
	assert.Equal(t, int64(30), p.Reserved)
	assert.Equal(t, int64(20), p.Available())

	_, err = s.ReserveShares(ctx, "bob", "acct-1", 21)
	assert.ErrorIs(t, err, model.ErrInsufficientShares)

	require.NoError(t, s.ReleaseShares(ctx, holdID))
	p, err = s.Entry(ctx, "bob", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Reserved)

	h, err := s.Hold(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, h.Status)
	assert.ErrorIs(t, s.ReleaseShares(ctx, holdID), model.ErrHoldAlreadyConsumed)
}

func TestReserve_NoHolding(t *testing.T) {
	s := portfolio.New(store.NewMemoryStore())
	_, err := s.ReserveShares(context.Background(), "carol", "acct-1", 1)
	assert.ErrorIs(t, err, model.ErrInsufficientShares)
}

func TestSettleShares_MovesToBuyer(t *testing.T) {
	ctx := context.Background()
	s := portfolio.New(store.NewMemoryStore())
	require.NoError(t, s.IssueShares(ctx, "bob", "acct-1", 10, d("40")))
	require.NoError(t, s.IssueShares(ctx, "alice", "acct-1", 10, d("50")))

	holdID, err := s.ReserveShares(ctx, "bob", "acct-1", 10)
	require.NoError(t, err)
	require.NoError(t, s.SettleShares(ctx, holdID, 10, "alice", d("46")))

	seller, err := s.Entry(ctx, "bob", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seller.Quantity)
	assert.Equal(t, int64(0), seller.Reserved)
	assert.True(t, seller.AverageCost.Equal(d("40")), "seller average cost is unchanged")

	buyer, err := s.Entry(ctx, "alice", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), buyer.Quantity)
	assert.True(t, buyer.AverageCost.Equal(d("48")))

	h, err := s.Hold(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldSettled, h.Status)

	entries, err := s.Entries(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "zero-quantity entry is retained")
}

func TestSettleShares_PartialKeepsHoldActive(t *testing.T) {
	ctx := context.Background()
	s := portfolio.New(store.NewMemoryStore())
	require.NoError(t, s.IssueShares(ctx, "bob", "acct-1", 10, d("40")))
	holdID, err := s.ReserveShares(ctx, "bob", "acct-1", 10)
	require.NoError(t, err)

	require.NoError(t, s.SettleShares(ctx, holdID, 4, "alice", d("45")))
	err = s.SettleShares(ctx, holdID, 7, "alice", d("45"))
	assert.ErrorIs(t, err, model.ErrInsufficientShares)

	h, err := s.Hold(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, h.Status)
	assert.Equal(t, int64(6), h.Remaining)

	require.NoError(t, s.ReleaseShares(ctx, holdID))
	h, err = s.Hold(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldSettled, h.Status, "a drawn-on hold closes as settled")

	p, err := s.Entry(ctx, "bob", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), p.Quantity)
	assert.Equal(t, int64(6), p.Available())
}
