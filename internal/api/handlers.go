package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/engine"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/store"
)

const (
	defaultDepth      = 20
	defaultTradeLimit = 50
)

// --- Orders ---

// RejectedResponse is returned when an order was recorded as Rejected.
type RejectedResponse struct {
	Error string       `json:"error"`
	Order *model.Order `json:"order"`
}

// PlaceOrder handles POST /orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.PlaceRequest
	if !decode(w, r, &req) {
		return
	}
	req.OwnerID = caller(r).userID

	o, err := s.engine.Place(r.Context(), req)
	if err != nil {
		if o != nil {
			writeJSON(w, statusFor(err), RejectedResponse{Error: err.Error(), Order: o})
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CancelOrder handles DELETE /orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	o, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "orderID"), id.userID, id.isAdmin)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetOrder handles GET /orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	// Foreign orders are reported as missing.
	if !selfOrAdmin(r, o.OwnerID) {
		writeErr(w, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrders handles GET /orders?status=&side=&type=&from=&to=&page=&page_size=
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	f.OwnerID = caller(r).userID
	s.searchOrders(w, r, f)
}

// AdminListOrders handles GET /admin/orders (admin). It takes the ListOrders
// parameters plus owner_id and trading_account_id.
func (s *Service) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	f.OwnerID = r.URL.Query().Get("owner_id")
	f.TradingAccountID = r.URL.Query().Get("trading_account_id")
	s.searchOrders(w, r, f)
}

func (s *Service) searchOrders(w http.ResponseWriter, r *http.Request, f store.OrderFilter) {
	orders, total, err := s.engine.SearchOrders(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(orders, f.Offset, f.Limit, total))
}

// AdminListTrades handles GET /admin/trades?trading_account_id=&buyer_id=&seller_id=&from=&to=&page=&page_size= (admin)
func (s *Service) AdminListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TradeFilter{
		TradingAccountID: q.Get("trading_account_id"),
		BuyerID:          q.Get("buyer_id"),
		SellerID:         q.Get("seller_id"),
	}
	var err error
	if f.From, f.To, err = timeRange(r); err != nil {
		writeErr(w, err)
		return
	}
	if f.Limit, f.Offset, err = paging(r); err != nil {
		writeErr(w, err)
		return
	}
	trades, total, err := s.engine.SearchTrades(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(trades, f.Offset, f.Limit, total))
}

// MyTrades handles GET /trades?limit=
func (s *Service) MyTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.OwnerTrades(r.Context(), caller(r).userID, queryInt(r, "limit", defaultTradeLimit))
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Market data ---

// GetOrderBook handles GET /accounts/{accountID}/book?depth=
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.OrderBook(r.Context(), chi.URLParam(r, "accountID"), queryInt(r, "depth", defaultDepth))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetMarketData handles GET /accounts/{accountID}/market
func (s *Service) GetMarketData(w http.ResponseWriter, r *http.Request) {
	md, err := s.engine.MarketData(r.Context(), chi.URLParam(r, "accountID"),
		queryInt(r, "depth", defaultDepth), queryInt(r, "trades", defaultTradeLimit))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// ListAccountTrades handles GET /accounts/{accountID}/trades?limit=
func (s *Service) ListAccountTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.Trades(r.Context(), chi.URLParam(r, "accountID"), queryInt(r, "limit", defaultTradeLimit))
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Offerings ---

// CreateOffering handles POST /offerings (admin)
func (s *Service) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req offering.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.offerings.Create(r.Context(), caller(r).userID, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// UpdateOffering handles PATCH /offerings/{offeringID} (admin)
func (s *Service) UpdateOffering(w http.ResponseWriter, r *http.Request) {
	var req offering.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := s.offerings.Update(r.Context(), chi.URLParam(r, "offeringID"), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOffering handles DELETE /offerings/{offeringID}?reason= (admin)
func (s *Service) CancelOffering(w http.ResponseWriter, r *http.Request) {
	o, err := s.offerings.Cancel(r.Context(), chi.URLParam(r, "offeringID"), r.URL.Query().Get("reason"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetOffering handles GET /offerings/{offeringID}
func (s *Service) GetOffering(w http.ResponseWriter, r *http.Request) {
	o, err := s.offerings.Get(r.Context(), chi.URLParam(r, "offeringID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOfferings handles GET /accounts/{accountID}/offerings
func (s *Service) ListOfferings(w http.ResponseWriter, r *http.Request) {
	list, err := s.offerings.List(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []model.Offering{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Wallets and portfolio ---

// DepositRequest is the JSON body for POST /wallets/{ownerID}/deposits.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit handles POST /wallets/{ownerID}/deposits (admin)
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	wallet, err := s.ledger.Deposit(r.Context(), chi.URLParam(r, "ownerID"), s.currency, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GetWallet handles GET /wallets/{ownerID}
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !selfOrAdmin(r, ownerID) {
		writeErr(w, model.ErrForbidden)
		return
	}
	wallet, err := s.ledger.Wallet(r.Context(), ownerID, s.currency)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListWalletEntries handles GET /wallets/{ownerID}/entries?limit=
func (s *Service) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !selfOrAdmin(r, ownerID) {
		writeErr(w, model.ErrForbidden)
		return
	}
	entries, err := s.ledger.Entries(r.Context(), ownerID, queryInt(r, "limit", 100))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []model.WalletEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPortfolio handles GET /portfolio/{ownerID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if !selfOrAdmin(r, ownerID) {
		writeErr(w, model.ErrForbidden)
		return
	}
	entries, err := s.portfolio.Entries(r.Context(), ownerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []model.PortfolioEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Trading accounts ---

// ListAccounts handles GET /accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []model.TradingAccount{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetAccount handles GET /accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Get(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PutAccount handles PUT /accounts/{accountID} (admin). It mirrors account
// metadata owned by the account service into the local directory.
func (s *Service) PutAccount(w http.ResponseWriter, r *http.Request) {
	var a model.TradingAccount
	if !decode(w, r, &a) {
		return
	}
	a.ID = chi.URLParam(r, "accountID")
	switch {
	case a.TotalSharesIssued < 0:
		writeErr(w, model.ErrInvalidQuantity)
		return
	case a.CurrentSharePrice.IsNegative(), a.FeeRate.IsNegative(), a.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		writeErr(w, model.ErrInvalidPrice)
		return
	}
	if err := s.accounts.Put(r.Context(), &a); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
