package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/accounts"
	"github.com/qbands/share-exchange/internal/api"
	"github.com/qbands/share-exchange/internal/engine"
	"github.com/qbands/share-exchange/internal/ledger"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/portfolio"
	"github.com/qbands/share-exchange/internal/settlement"
	"github.com/qbands/share-exchange/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEnv creates the HTTP service over an in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	dir := accounts.NewMemoryDirectory(model.TradingAccount{
		ID:                "acct-1",
		Name:              "Alpha Fund",
		Active:            true,
		IssuerID:          "issuer",
		TotalSharesIssued: 1000,
		CurrentSharePrice: d("10"),
	})
	offerings := offering.NewManager(ms, dir, nil)
	eng := engine.New(engine.Deps{
		Store:      ms,
		Accounts:   dir,
		Offerings:  offerings,
		Settlement: settlement.NewCoordinator(ms, "USD", "fees"),
	})
	t.Cleanup(eng.Stop)

	svc := api.NewService(eng, offerings, ledger.New(ms), portfolio.New(ms), dir, "USD")
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path, user string, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.HeaderUserID, user)
	}
	if admin {
		req.Header.Set(api.HeaderAdmin, "true")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPlaceOrder_RequiresUser(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/orders", "", false, map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlaceOrder_ValidationIs400(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/orders", "alice", false, map[string]any{
		"trading_account_id": "acct-1",
		"side":               "sideways",
		"order_type":         "limit",
		"quantity":           1,
		"limit_price":        "10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/orders", "alice", false, "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrder_RejectedIs422WithOrder(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/orders", "alice", false, map[string]any{
		"trading_account_id": "acct-1",
		"side":               "buy",
		"order_type":         "limit",
		"quantity":           10,
		"limit_price":        "50",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp api.RejectedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, model.OrderRejected, resp.Order.Status)
	assert.Contains(t, resp.Error, "insufficient funds")
}

func TestOrderFlow(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/wallets/alice/deposits", "alice", false, api.DepositRequest{Amount: d("1000")})
	assert.Equal(t, http.StatusForbidden, w.Code, "deposits are admin only")

	w = do(t, router, "POST", "/api/v1/wallets/alice/deposits", "ops", true, api.DepositRequest{Amount: d("1000")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/orders", "alice", false, map[string]any{
		"trading_account_id": "acct-1",
		"side":               "buy",
		"order_type":         "limit",
		"quantity":           10,
		"limit_price":        "50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o model.Order
	require.NoError(t, json.NewDecoder(w.Body).Decode(&o))
	assert.Equal(t, model.OrderOpen, o.Status)

	w = do(t, router, "GET", "/api/v1/orders/"+o.ID, "mallory", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/accounts/acct-1/book", "", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var book engine.BookView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&book))
	require.Len(t, book.Bids, 1)
	assert.Equal(t, int64(10), book.Bids[0].Quantity)

	w = do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "mallory", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "DELETE", "/api/v1/orders/"+o.ID, "alice", false, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", "/api/v1/wallets/alice", "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var wallet model.Wallet
	require.NoError(t, json.NewDecoder(w.Body).Decode(&wallet))
	assert.True(t, wallet.Available.Equal(d("1000")))

	w = do(t, router, "GET", "/api/v1/wallets/alice", "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "GET", "/api/v1/orders", "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders api.Page[model.Order]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&orders))
	assert.Len(t, orders.Items, 1)
	assert.Equal(t, 1, orders.Total)
}

func TestOfferingEndpoints(t *testing.T) {
	ms, router := newTestEnv(t)

	body := map[string]any{
		"trading_account_id": "acct-1",
		"shares_offered":     100,
		"price_per_share":    "12",
		"floor_price":        "15",
		"ceiling_price":      "10",
	}
	w := do(t, router, "POST", "/api/v1/offerings", "alice", false, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "POST", "/api/v1/offerings", "ops", true, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	list, err := ms.ListOfferings(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	delete(body, "floor_price")
	delete(body, "ceiling_price")
	w = do(t, router, "POST", "/api/v1/offerings", "ops", true, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o model.Offering
	require.NoError(t, json.NewDecoder(w.Body).Decode(&o))

	w = do(t, router, "PATCH", "/api/v1/offerings/"+o.ID, "ops", true, map[string]any{"price_per_share": "13"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "DELETE", "/api/v1/offerings/"+o.ID+"?reason=withdrawn", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "PATCH", "/api/v1/offerings/"+o.ID, "ops", true, map[string]any{"price_per_share": "14"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "GET", "/api/v1/offerings/missing", "", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/accounts/acct-1/offerings", "", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var offerings []model.Offering
	require.NoError(t, json.NewDecoder(w.Body).Decode(&offerings))
	require.Len(t, offerings, 1)
	assert.Equal(t, model.OfferingCancelled, offerings[0].Status)
}

func TestPutAccount(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/accounts/acct-2", "ops", true, map[string]any{
		"name":                "Beta Fund",
		"active":              true,
		"issuer_id":           "issuer-2",
		"total_shares_issued": 500,
		"current_share_price": "4",
		"fee_rate":            "0.002",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "GET", "/api/v1/accounts/acct-2", "", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var a model.TradingAccount
	require.NoError(t, json.NewDecoder(w.Body).Decode(&a))
	assert.Equal(t, "Beta Fund", a.Name)
	assert.True(t, a.FeeRate.Equal(d("0.002")))

	w = do(t, router, "PUT", "/api/v1/accounts/acct-2", "ops", true, map[string]any{"fee_rate": "1.5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func placeLimit(t *testing.T, router chi.Router, user, side string, qty int, price string) model.Order {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", user, false, map[string]any{
		"trading_account_id": "acct-1",
		"side":               side,
		"order_type":         "limit",
		"quantity":           qty,
		"limit_price":        price,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o model.Order
	require.NoError(t, json.NewDecoder(w.Body).Decode(&o))
	return o
}

func TestListOrders_FiltersAndPages(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/wallets/alice/deposits", "ops", true, api.DepositRequest{Amount: d("100")})
	require.Equal(t, http.StatusOK, w.Code)

	first := placeLimit(t, router, "alice", "buy", 1, "5")
	placeLimit(t, router, "alice", "buy", 1, "6")
	placeLimit(t, router, "alice", "buy", 1, "7")
	w = do(t, router, "DELETE", "/api/v1/orders/"+first.ID, "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := func(query string) api.Page[model.Order] {
		t.Helper()
		w := do(t, router, "GET", "/api/v1/orders"+query, "alice", false, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var page api.Page[model.Order]
		require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
		return page
	}

	page := list("?status=Open")
	assert.Equal(t, 2, page.Total)
	page = list("?status=Cancelled,Filled")
	require.Equal(t, 1, page.Total)
	assert.Equal(t, first.ID, page.Items[0].ID)

	page = list("?page=2&page_size=2")
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID, "oldest order lands on the last page")

	page = list("?page_size=1000")
	assert.Equal(t, 100, page.PageSize)

	page = list("?side=sell")
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Items)

	w = do(t, router, "GET", "/api/v1/orders", "bob", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var other api.Page[model.Order]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&other))
	assert.Zero(t, other.Total, "listings are scoped to the caller")

	for _, q := range []string{"?status=Bogus", "?page=0", "?page_size=x", "?from=yesterday", "?side=up"} {
		w := do(t, router, "GET", "/api/v1/orders"+q, "alice", false, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAdminListings(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/offerings", "ops", true, map[string]any{
		"trading_account_id": "acct-1",
		"shares_offered":     100,
		"price_per_share":    "12",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	for _, user := range []string{"alice", "bob"} {
		w = do(t, router, "POST", "/api/v1/wallets/"+user+"/deposits", "ops", true, api.DepositRequest{Amount: d("100")})
		require.Equal(t, http.StatusOK, w.Code)
	}

	bought := placeLimit(t, router, "alice", "buy", 5, "12")
	require.Equal(t, model.OrderFilled, bought.Status)
	placeLimit(t, router, "bob", "buy", 1, "3")

	w = do(t, router, "GET", "/api/v1/admin/orders", "alice", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, router, "GET", "/api/v1/admin/trades", "alice", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "GET", "/api/v1/admin/orders?trading_account_id=acct-1", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var orders api.Page[model.Order]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&orders))
	assert.Equal(t, 2, orders.Total, "admins see every owner")

	w = do(t, router, "GET", "/api/v1/admin/orders?owner_id=bob&status=Open", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&orders))
	require.Equal(t, 1, orders.Total)
	assert.Equal(t, "bob", orders.Items[0].OwnerID)

	w = do(t, router, "GET", "/api/v1/admin/trades?seller_id=issuer", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trades api.Page[model.Trade]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&trades))
	require.Equal(t, 1, trades.Total)
	assert.Equal(t, "alice", trades.Items[0].BuyerID)
	assert.Equal(t, int64(5), trades.Items[0].Quantity)

	w = do(t, router, "GET", "/api/v1/admin/trades?buyer_id=bob", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&trades))
	assert.Zero(t, trades.Total)

	w = do(t, router, "GET", "/api/v1/admin/trades?from=2030-01-01T00:00:00Z&to=2029-01-01T00:00:00Z", "ops", true, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
