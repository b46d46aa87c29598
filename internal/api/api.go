// Package api exposes the exchange core over HTTP. Handlers are a thin
// adapter: they decode JSON, resolve the caller identity set by the upstream
// auth gateway and translate error kinds to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/qbands/share-exchange/internal/engine"
	"github.com/qbands/share-exchange/internal/ledger"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/portfolio"
)

// Identity headers, trusted as set by the gateway.
const (
	HeaderUserID = "X-User-ID"
	HeaderAdmin  = "X-User-Admin"
)

// AccountStore is the trading account directory plus the admin upsert.
type AccountStore interface {
	Get(ctx context.Context, id string) (*model.TradingAccount, error)
	List(ctx context.Context) ([]model.TradingAccount, error)
	Put(ctx context.Context, a *model.TradingAccount) error
}

// Service handles exchange requests.
type Service struct {
	engine    *engine.Engine
	offerings *offering.Manager
	ledger    *ledger.Ledger
	portfolio *portfolio.Store
	accounts  AccountStore
	currency  string
}

// NewService creates the HTTP adapter. Wallet endpoints operate in currency.
func NewService(eng *engine.Engine, offerings *offering.Manager, l *ledger.Ledger, p *portfolio.Store, accts AccountStore, currency string) *Service {
	return &Service{
		engine:    eng,
		offerings: offerings,
		ledger:    l,
		portfolio: p,
		accounts:  accts,
		currency:  currency,
	}
}

// Routes mounts every endpoint on r.
func (s *Service) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/orders", s.PlaceOrder)
		r.Get("/orders", s.ListOrders)
		r.Get("/orders/{orderID}", s.GetOrder)
		r.Delete("/orders/{orderID}", s.CancelOrder)
		r.Get("/trades", s.MyTrades)

		r.Get("/wallets/{ownerID}", s.GetWallet)
		r.Get("/wallets/{ownerID}/entries", s.ListWalletEntries)
		r.Get("/portfolio/{ownerID}", s.GetPortfolio)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/wallets/{ownerID}/deposits", s.Deposit)
			r.Put("/accounts/{accountID}", s.PutAccount)
			r.Post("/offerings", s.CreateOffering)
			r.Patch("/offerings/{offeringID}", s.UpdateOffering)
			r.Delete("/offerings/{offeringID}", s.CancelOffering)
			r.Get("/admin/orders", s.AdminListOrders)
			r.Get("/admin/trades", s.AdminListTrades)
		})
	})

	r.Get("/accounts", s.ListAccounts)
	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Get("/accounts/{accountID}/book", s.GetOrderBook)
	r.Get("/accounts/{accountID}/market", s.GetMarketData)
	r.Get("/accounts/{accountID}/trades", s.ListAccountTrades)
	r.Get("/accounts/{accountID}/offerings", s.ListOfferings)
	r.Get("/offerings/{offeringID}", s.GetOffering)
}

type identityKey struct{}

type identity struct {
	userID  string
	isAdmin bool
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			writeError(w, "missing "+HeaderUserID, http.StatusUnauthorized)
			return
		}
		admin, _ := strconv.ParseBool(r.Header.Get(HeaderAdmin))
		ctx := context.WithValue(r.Context(), identityKey{}, identity{userID: userID, isAdmin: admin})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !caller(r).isAdmin {
			writeError(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey{}).(identity)
	return id
}

// selfOrAdmin reports whether the caller may read ownerID's data.
func selfOrAdmin(r *http.Request, ownerID string) bool {
	id := caller(r)
	return id.isAdmin || id.userID == ownerID
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error to its HTTP status by kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindResource:
		return http.StatusUnprocessableEntity
	case model.KindState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}
