package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/store"
)

func TestMemoryStore_RollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	boom := errors.New("boom")

	err := ms.RunInTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.PutWallet(ctx, &model.Wallet{OwnerID: "alice", Currency: "USD", Available: decimal.NewFromInt(10)}))
		require.NoError(t, tx.PutOrder(ctx, &model.Order{ID: "o1", OwnerID: "alice", Status: model.OrderOpen}))
		require.NoError(t, tx.InsertTrade(ctx, &model.Trade{ID: "t1", TradingAccountID: "acct-1"}))

		w, err := tx.GetWallet(ctx, "alice", "USD")
		require.NoError(t, err, "writes are visible inside the transaction")
		assert.True(t, w.Available.Equal(decimal.NewFromInt(10)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = ms.GetWallet(ctx, "alice", "USD")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = ms.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	trades, err := ms.ListTradesByAccount(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestMemoryStore_CommitAndCopyOnRead(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	require.NoError(t, ms.RunInTx(ctx, func(tx store.Tx) error {
		return tx.PutOrder(ctx, &model.Order{ID: "o1", OwnerID: "alice", Status: model.OrderOpen, QuantityOrdered: 5})
	}))

	o, err := ms.GetOrder(ctx, "o1")
	require.NoError(t, err)
	o.QuantityFilled = 5

	again, err := ms.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.QuantityFilled)
}

func TestMemoryStore_RestingOrdersInSeqOrder(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	require.NoError(t, ms.RunInTx(ctx, func(tx store.Tx) error {
		for _, o := range []model.Order{
			{ID: "late", Status: model.OrderOpen, Seq: 3},
			{ID: "done", Status: model.OrderFilled, Seq: 1},
			{ID: "early", Status: model.OrderPartiallyFilled, Seq: 2},
		} {
			if err := tx.PutOrder(ctx, &o); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := ms.ListRestingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "late", got[1].ID)
}

func TestMemoryStore_TradesNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Now()

	require.NoError(t, ms.RunInTx(ctx, func(tx store.Tx) error {
		for i, id := range []string{"t1", "t2", "t3"} {
			tr := model.Trade{ID: id, TradingAccountID: "acct-1", BuyerID: "alice", SellerID: "bob", ExecutedAt: now.Add(time.Duration(i) * time.Second)}
			if err := tx.InsertTrade(ctx, &tr); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := ms.ListTradesByAccount(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t3", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)

	mine, err := ms.ListTradesByOwner(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	none, err := ms.ListTradesByOwner(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.NewMemoryStore().RunInTx(ctx, func(store.Tx) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ListOrdersFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ms.RunInTx(ctx, func(tx store.Tx) error {
		statuses := []model.OrderStatus{model.OrderOpen, model.OrderFilled, model.OrderCancelled}
		for i := range 9 {
			o := model.Order{
				ID:               fmt.Sprintf("o%d", i),
				OwnerID:          "alice",
				TradingAccountID: "acct-1",
				Side:             model.SideBuy,
				Type:             model.OrderTypeLimit,
				Status:           statuses[i%3],
				Seq:              int64(i + 1),
				CreatedAt:        start.Add(time.Duration(i) * time.Hour),
			}
			if i == 8 {
				o.OwnerID, o.Side = "bob", model.SideSell
			}
			if err := tx.PutOrder(ctx, &o); err != nil {
				return err
			}
		}
		return nil
	}))

	page, total, err := ms.ListOrders(ctx, store.OrderFilter{OwnerID: "alice", Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"o4", "o3", "o2"}, []string{page[0].ID, page[1].ID, page[2].ID})

	open, total, err := ms.ListOrders(ctx, store.OrderFilter{Statuses: []model.OrderStatus{model.OrderOpen, model.OrderFilled}})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	for _, o := range open {
		assert.NotEqual(t, model.OrderCancelled, o.Status)
	}

	sells, total, err := ms.ListOrders(ctx, store.OrderFilter{Side: model.SideSell})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob", sells[0].OwnerID)

	window, total, err := ms.ListOrders(ctx, store.OrderFilter{From: start.Add(2 * time.Hour), To: start.Add(4 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "o4", window[0].ID)

	past, total, err := ms.ListOrders(ctx, store.OrderFilter{OwnerID: "alice", Limit: 3, Offset: 30})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Empty(t, past)
}

func TestMemoryStore_ListTradesFilters(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Now()

	require.NoError(t, ms.RunInTx(ctx, func(tx store.Tx) error {
		for i, tr := range []model.Trade{
			{ID: "t1", TradingAccountID: "acct-1", BuyerID: "alice", SellerID: "bob"},
			{ID: "t2", TradingAccountID: "acct-2", BuyerID: "carol", SellerID: "bob"},
			{ID: "t3", TradingAccountID: "acct-1", BuyerID: "bob", SellerID: "alice"},
		} {
			tr.ExecutedAt = now.Add(time.Duration(i) * time.Second)
			if err := tx.InsertTrade(ctx, &tr); err != nil {
				return err
			}
		}
		return nil
	}))

	got, total, err := ms.ListTrades(ctx, store.TradeFilter{SellerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "t2", got[0].ID)

	got, total, err = ms.ListTrades(ctx, store.TradeFilter{TradingAccountID: "acct-1", BuyerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "t3", got[0].ID)

	got, total, err = ms.ListTrades(ctx, store.TradeFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ID)
}
