package offering_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/accounts"
	"github.com/qbands/share-exchange/internal/feed"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type recorder struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *recorder) Publish(ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []feed.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []feed.EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestEnv(t *testing.T) (*offering.Manager, *store.MemoryStore, *recorder) {
	t.Helper()
	ms := store.NewMemoryStore()
	dir := accounts.NewMemoryDirectory(model.TradingAccount{
		ID:                "acct-1",
		Name:              "Alpha Fund",
		Active:            true,
		IssuerID:          "issuer-1",
		TotalSharesIssued: 1000,
		CurrentSharePrice: d("10"),
		FeeRate:           d("0.001"),
	})
	rec := &recorder{}
	return offering.NewManager(ms, dir, rec), ms, rec
}

func create(t *testing.T, m *offering.Manager, shares int64, price string) *model.Offering {
	t.Helper()
	o, err := m.Create(context.Background(), "admin", offering.CreateRequest{
		TradingAccountID: "acct-1",
		SharesOffered:    shares,
		PricePerShare:    d(price),
	})
	require.NoError(t, err)
	return o
}

func TestCreate_Valid(t *testing.T) {
	m, _, rec := newTestEnv(t)

	o, err := m.Create(context.Background(), "admin", offering.CreateRequest{
		TradingAccountID: "acct-1",
		SharesOffered:    100,
		PricePerShare:    d("12"),
		FloorPrice:       dp("10"),
		CeilingPrice:     dp("15"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OfferingActive, o.Status)
	assert.Equal(t, int64(0), o.SharesSold)
	assert.Equal(t, "admin", o.AdminID)
	assert.Equal(t, []feed.EventType{feed.OfferingCreated}, rec.types())
}

func TestCreate_FloorAboveCeilingLeavesNoRecord(t *testing.T) {
	m, ms, _ := newTestEnv(t)

	_, err := m.Create(context.Background(), "admin", offering.CreateRequest{
		TradingAccountID: "acct-1",
		SharesOffered:    100,
		PricePerShare:    d("12"),
		FloorPrice:       dp("15"),
		CeilingPrice:     dp("10"),
	})
	assert.ErrorIs(t, err, model.ErrInvalidBounds)
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	list, err := ms.ListOfferings(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_Validation(t *testing.T) {
	m, _, _ := newTestEnv(t)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name string
		req  offering.CreateRequest
		want error
	}{
		{"zero shares", offering.CreateRequest{TradingAccountID: "acct-1", PricePerShare: d("1")}, model.ErrInvalidQuantity},
		{"zero price", offering.CreateRequest{TradingAccountID: "acct-1", SharesOffered: 1}, model.ErrInvalidPrice},
		{"price below floor", offering.CreateRequest{TradingAccountID: "acct-1", SharesOffered: 1, PricePerShare: d("5"), FloorPrice: dp("6")}, model.ErrInvalidBounds},
		{"end date in past", offering.CreateRequest{TradingAccountID: "acct-1", SharesOffered: 1, PricePerShare: d("5"), EndDate: &past}, model.ErrInvalidEndDate},
		{"exceeds issued", offering.CreateRequest{TradingAccountID: "acct-1", SharesOffered: 1001, PricePerShare: d("5")}, model.ErrSharesExceedIssued},
		{"unknown account", offering.CreateRequest{TradingAccountID: "nope", SharesOffered: 1, PricePerShare: d("5")}, model.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), "admin", tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreate_IssuedSharesAcrossOfferings(t *testing.T) {
	m, _, _ := newTestEnv(t)
	first := create(t, m, 600, "10")

	_, err := m.Create(context.Background(), "admin", offering.CreateRequest{
		TradingAccountID: "acct-1", SharesOffered: 401, PricePerShare: d("10"),
	})
	assert.ErrorIs(t, err, model.ErrSharesExceedIssued)

	_, err = m.Cancel(context.Background(), first.ID, "restructure")
	require.NoError(t, err)
	create(t, m, 1000, "10")
}

func TestAllocate_Exhaustion(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestEnv(t)
	o := create(t, m, 100, "10")

	after, err := m.Allocate(ctx, o.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), after.Remaining())

	_, err = m.Allocate(ctx, o.ID, 50)
	assert.ErrorIs(t, err, model.ErrInsufficientSharesRemaining)

	got, err := m.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.SharesSold, "failed allocation must not change inventory")

	after, err = m.Allocate(ctx, o.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, model.OfferingCompleted, after.Status)

	_, err = m.Allocate(ctx, o.ID, 1)
	assert.ErrorIs(t, err, model.ErrOfferingNotActive)
	assert.Contains(t, rec.types(), feed.OfferingCompleted)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestEnv(t)
	o := create(t, m, 100, "10")

	_, err := m.Update(ctx, o.ID, offering.UpdateRequest{})
	assert.ErrorIs(t, err, model.ErrEmptyUpdate)

	price := d("11")
	updated, err := m.Update(ctx, o.ID, offering.UpdateRequest{PricePerShare: &price})
	require.NoError(t, err)
	assert.True(t, updated.PricePerShare.Equal(price))

	_, err = m.Allocate(ctx, o.ID, 30)
	require.NoError(t, err)

	shares := int64(200)
	_, err = m.Update(ctx, o.ID, offering.UpdateRequest{SharesOffered: &shares})
	assert.ErrorIs(t, err, model.ErrFrozenAfterSale)

	end := time.Now().Add(48 * time.Hour)
	updated, err = m.Update(ctx, o.ID, offering.UpdateRequest{EndDate: &end})
	require.NoError(t, err)
	require.NotNil(t, updated.EndDate)
	assert.True(t, updated.EndDate.Equal(end))
}

func TestUpdate_ShrinkBelowSoldBeforeSale(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestEnv(t)
	o := create(t, m, 100, "10")

	zero := int64(0)
	_, err := m.Update(ctx, o.ID, offering.UpdateRequest{SharesOffered: &zero})
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)

	tooMany := int64(1001)
	_, err = m.Update(ctx, o.ID, offering.UpdateRequest{SharesOffered: &tooMany})
	assert.ErrorIs(t, err, model.ErrSharesExceedIssued)
}

func TestCancel_Terminal(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestEnv(t)
	o := create(t, m, 100, "10")

	cancelled, err := m.Cancel(ctx, o.ID, "withdrawn")
	require.NoError(t, err)
	assert.Equal(t, model.OfferingCancelled, cancelled.Status)
	assert.Equal(t, "withdrawn", cancelled.CancelReason)

	_, err = m.Cancel(ctx, o.ID, "again")
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)

	price := d("12")
	_, err = m.Update(ctx, o.ID, offering.UpdateRequest{PricePerShare: &price})
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestSweep_ExpiresPastEndDate(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestEnv(t)

	end := time.Now().Add(time.Hour)
	expiring, err := m.Create(ctx, "admin", offering.CreateRequest{
		TradingAccountID: "acct-1", SharesOffered: 10, PricePerShare: d("10"), EndDate: &end,
	})
	require.NoError(t, err)
	open := create(t, m, 10, "10")

	n, err := m.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = m.Sweep(ctx, end.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Get(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferingExpired, got.Status)

	got, err = m.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferingActive, got.Status)
	assert.Contains(t, rec.types(), feed.OfferingExpired)

	n, err = m.Sweep(ctx, end.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "sweep is idempotent")
}

func TestAllocatable_Order(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	list := []model.Offering{
		{ID: "expensive", Status: model.OfferingActive, SharesOffered: 10, PricePerShare: d("12"), CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "cheap-new", Status: model.OfferingActive, SharesOffered: 10, PricePerShare: d("10"), CreatedAt: now.Add(-time.Hour)},
		{ID: "cheap-old", Status: model.OfferingActive, SharesOffered: 10, PricePerShare: d("10"), CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "sold-out", Status: model.OfferingActive, SharesOffered: 10, SharesSold: 10, PricePerShare: d("1")},
		{ID: "expired", Status: model.OfferingActive, SharesOffered: 10, PricePerShare: d("1"), EndDate: &past},
		{ID: "cancelled", Status: model.OfferingCancelled, SharesOffered: 10, PricePerShare: d("1")},
	}

	got := offering.Allocatable(list, now)
	var ids []string
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"cheap-old", "cheap-new", "expensive"}, ids)
}

func TestCreate_ConcurrentRespectsIssued(t *testing.T) {
	ctx := context.Background()
	m, ms, _ := newTestEnv(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, "admin", offering.CreateRequest{
				TradingAccountID: "acct-1", SharesOffered: 300, PricePerShare: d("10"),
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrSharesExceedIssued)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	list, err := ms.ListOfferings(ctx, "acct-1")
	require.NoError(t, err)
	var offered int64
	for _, o := range list {
		offered += o.SharesOffered
	}
	assert.LessOrEqual(t, offered, int64(1000))
}
