package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	walletCols    = `owner_id, currency, available::TEXT, reserved::TEXT, updated_at`
	entryCols     = `id, owner_id, currency, kind, amount::TEXT, available_after::TEXT, reserved_after::TEXT, reference, created_at`
	fundsHoldCols = `id, owner_id, currency, amount::TEXT, remaining::TEXT, status, created_at, updated_at`
	portfolioCols = `owner_id, trading_account_id, quantity, reserved, average_cost::TEXT, updated_at`
	shareHoldCols = `id, owner_id, trading_account_id, quantity, remaining, status, created_at, updated_at`
	offeringCols  = `id, trading_account_id, admin_id, shares_offered, shares_sold, price_per_share::TEXT,
		floor_price::TEXT, ceiling_price::TEXT, start_date, end_date, status, cancel_reason, created_at, updated_at`
	orderCols = `id, owner_id, trading_account_id, side, type, limit_price::TEXT, quantity_ordered, quantity_filled,
		average_fill_price::TEXT, transaction_fee::TEXT, status, hold_id, reject_reason, seq, created_at, updated_at`
	tradeCols = `id, trading_account_id, buy_order_id, sell_order_id, offering_id, buyer_id, seller_id, quantity,
		price::TEXT, buyer_fee::TEXT, seller_fee::TEXT, executed_at`
)

// --- Reader (pool) ---

func (s *PostgresStore) GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	return getWallet(ctx, s.pool, ownerID, currency, "")
}

func (s *PostgresStore) ListWalletEntries(ctx context.Context, ownerID string, limit int) ([]model.WalletEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryCols+` FROM wallet_entries WHERE owner_id = $1
		 ORDER BY created_at DESC LIMIT $2`, ownerID, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WalletEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetFundsHold(ctx context.Context, id string) (*model.FundsHold, error) {
	return getFundsHold(ctx, s.pool, id, "")
}

func (s *PostgresStore) GetPortfolioEntry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	return getPortfolioEntry(ctx, s.pool, ownerID, tradingAccountID, "")
}

func (s *PostgresStore) ListPortfolio(ctx context.Context, ownerID string) ([]model.PortfolioEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+portfolioCols+` FROM portfolio_entries WHERE owner_id = $1 ORDER BY trading_account_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.PortfolioEntry
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetShareHold(ctx context.Context, id string) (*model.ShareHold, error) {
	return getShareHold(ctx, s.pool, id, "")
}

func (s *PostgresStore) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListOfferings(ctx context.Context, tradingAccountID string) ([]model.Offering, error) {
	return listOfferings(ctx, s.pool, tradingAccountID)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	return queryOrders(ctx, s.pool,
		`SELECT `+orderCols+` FROM share_orders WHERE owner_id = $1 ORDER BY seq DESC`, ownerID)
}

func (s *PostgresStore) ListRestingOrders(ctx context.Context) ([]model.Order, error) {
	return queryOrders(ctx, s.pool,
		`SELECT `+orderCols+` FROM share_orders WHERE status IN ($1, $2) ORDER BY seq`,
		model.OrderOpen.String(), model.OrderPartiallyFilled.String())
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, tradingAccountID string, limit int) ([]model.Trade, error) {
	return queryTrades(ctx, s.pool,
		`SELECT `+tradeCols+` FROM share_trades WHERE trading_account_id = $1
		 ORDER BY executed_at DESC LIMIT $2`, tradingAccountID, sqlLimit(limit))
}

func (s *PostgresStore) ListTradesByOwner(ctx context.Context, ownerID string, limit int) ([]model.Trade, error) {
	return queryTrades(ctx, s.pool,
		`SELECT `+tradeCols+` FROM share_trades WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY executed_at DESC LIMIT $2`, ownerID, sqlLimit(limit))
}

func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, int, error) {
	var w where
	w.add("owner_id = ?", f.OwnerID, f.OwnerID != "")
	w.add("trading_account_id = ?", f.TradingAccountID, f.TradingAccountID != "")
	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			names[i] = st.String()
		}
		w.add("status = ANY(?)", names, true)
	}
	w.add("side = ?", f.Side.String(), f.Side != 0)
	w.add("type = ?", f.Type.String(), f.Type != 0)
	w.add("created_at >= ?", f.From, !f.From.IsZero())
	w.add("created_at <= ?", f.To, !f.To.IsZero())

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM share_orders`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	orders, err := queryOrders(ctx, s.pool,
		`SELECT `+orderCols+` FROM share_orders`+w.String()+w.page(" ORDER BY seq DESC", f.Limit, f.Offset),
		w.args...)
	return orders, total, err
}

func (s *PostgresStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, int, error) {
	var w where
	w.add("trading_account_id = ?", f.TradingAccountID, f.TradingAccountID != "")
	w.add("buyer_id = ?", f.BuyerID, f.BuyerID != "")
	w.add("seller_id = ?", f.SellerID, f.SellerID != "")
	w.add("executed_at >= ?", f.From, !f.From.IsZero())
	w.add("executed_at <= ?", f.To, !f.To.IsZero())

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM share_trades`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count trades: %w", err)
	}
	trades, err := queryTrades(ctx, s.pool,
		`SELECT `+tradeCols+` FROM share_trades`+w.String()+w.page(" ORDER BY executed_at DESC", f.Limit, f.Offset),
		w.args...)
	return trades, total, err
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any, ok bool) {
	if !ok {
		return
	}
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends the ordering and LIMIT/OFFSET clauses. The values are ints
// formatted directly so the count query can share w.args.
func (w *where) page(orderBy string, limit, offset int) string {
	clause := orderBy
	if limit > 0 {
		clause += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		clause += " OFFSET " + strconv.Itoa(offset)
	}
	return clause
}

// --- Tx ---

type pgTx struct {
	q querier
}

const forUpdate = " FOR UPDATE"

func (t *pgTx) LockWallets(ctx context.Context, currency string, ownerIDs ...string) error {
	ids := append([]string(nil), ownerIDs...)
	sort.Strings(ids)
	now := time.Now()
	for _, id := range ids {
		if _, err := t.EnsureWallet(ctx, id, currency, now); err != nil {
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
	}
	return nil
}

// EnsureWallet inserts an empty row when none exists and then locks it.
// SELECT ... FOR UPDATE alone locks nothing for a missing row: two
// transactions would both insert and the later upsert would overwrite the
// earlier balance.
func (t *pgTx) EnsureWallet(ctx context.Context, ownerID, currency string, at time.Time) (*model.Wallet, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO wallets (owner_id, currency, available, reserved, updated_at)
		 VALUES ($1, $2, 0, 0, $3)
		 ON CONFLICT (owner_id, currency) DO NOTHING`, ownerID, currency, at); err != nil {
		return nil, fmt.Errorf("create wallet %s: %w", ownerID, err)
	}
	return getWallet(ctx, t.q, ownerID, currency, forUpdate)
}

func (t *pgTx) GetWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	return getWallet(ctx, t.q, ownerID, currency, forUpdate)
}

func (t *pgTx) PutWallet(ctx context.Context, w *model.Wallet) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallets (owner_id, currency, available, reserved, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (owner_id, currency) DO UPDATE
		 SET available = EXCLUDED.available, reserved = EXCLUDED.reserved, updated_at = EXCLUDED.updated_at`,
		w.OwnerID, w.Currency, w.Available.String(), w.Reserved.String(), w.UpdatedAt)
	return err
}

func (t *pgTx) InsertWalletEntry(ctx context.Context, e *model.WalletEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallet_entries (id, owner_id, currency, kind, amount, available_after, reserved_after, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		e.ID, e.OwnerID, e.Currency, string(e.Kind),
		e.Amount.String(), e.AvailableAfter.String(), e.ReservedAfter.String(),
		e.Reference, e.CreatedAt)
	return err
}

func (t *pgTx) GetFundsHold(ctx context.Context, id string) (*model.FundsHold, error) {
	return getFundsHold(ctx, t.q, id, forUpdate)
}

func (t *pgTx) PutFundsHold(ctx context.Context, h *model.FundsHold) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO funds_holds (id, owner_id, currency, amount, remaining, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET remaining = EXCLUDED.remaining, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		h.ID, h.OwnerID, h.Currency, h.Amount.String(), h.Remaining.String(),
		h.Status.String(), h.CreatedAt, h.UpdatedAt)
	return err
}

func (t *pgTx) GetPortfolioEntry(ctx context.Context, ownerID, tradingAccountID string) (*model.PortfolioEntry, error) {
	return getPortfolioEntry(ctx, t.q, ownerID, tradingAccountID, forUpdate)
}

func (t *pgTx) PutPortfolioEntry(ctx context.Context, p *model.PortfolioEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO portfolio_entries (owner_id, trading_account_id, quantity, reserved, average_cost, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (owner_id, trading_account_id) DO UPDATE
		 SET quantity = EXCLUDED.quantity, reserved = EXCLUDED.reserved,
		     average_cost = EXCLUDED.average_cost, updated_at = EXCLUDED.updated_at`,
		p.OwnerID, p.TradingAccountID, p.Quantity, p.Reserved, p.AverageCost.String(), p.UpdatedAt)
	return err
}

func (t *pgTx) GetShareHold(ctx context.Context, id string) (*model.ShareHold, error) {
	return getShareHold(ctx, t.q, id, forUpdate)
}

func (t *pgTx) PutShareHold(ctx context.Context, h *model.ShareHold) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO share_holds (id, owner_id, trading_account_id, quantity, remaining, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET remaining = EXCLUDED.remaining, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		h.ID, h.OwnerID, h.TradingAccountID, h.Quantity, h.Remaining, h.Status.String(), h.CreatedAt, h.UpdatedAt)
	return err
}

func (t *pgTx) LockTradingAccount(ctx context.Context, tradingAccountID string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "trading_account:"+tradingAccountID)
	if err != nil {
		return fmt.Errorf("lock trading account %s: %w", tradingAccountID, err)
	}
	return nil
}

func (t *pgTx) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	return getOffering(ctx, t.q, id, forUpdate)
}

func (t *pgTx) PutOffering(ctx context.Context, o *model.Offering) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO offerings (id, trading_account_id, admin_id, shares_offered, shares_sold, price_per_share,
		                        floor_price, ceiling_price, start_date, end_date, status, cancel_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE
		 SET shares_offered = EXCLUDED.shares_offered, shares_sold = EXCLUDED.shares_sold,
		     price_per_share = EXCLUDED.price_per_share, floor_price = EXCLUDED.floor_price,
		     ceiling_price = EXCLUDED.ceiling_price, end_date = EXCLUDED.end_date,
		     status = EXCLUDED.status, cancel_reason = EXCLUDED.cancel_reason, updated_at = EXCLUDED.updated_at`,
		o.ID, o.TradingAccountID, o.AdminID, o.SharesOffered, o.SharesSold, o.PricePerShare.String(),
		decimalArg(o.FloorPrice), decimalArg(o.CeilingPrice), o.StartDate, o.EndDate,
		o.Status.String(), o.CancelReason, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) ListOfferings(ctx context.Context, tradingAccountID string) ([]model.Offering, error) {
	return listOfferings(ctx, t.q, tradingAccountID)
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return getOrder(ctx, t.q, id, forUpdate)
}

func (t *pgTx) PutOrder(ctx context.Context, o *model.Order) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO share_orders (id, owner_id, trading_account_id, side, type, limit_price, quantity_ordered,
		                           quantity_filled, average_fill_price, transaction_fee, status, hold_id,
		                           reject_reason, seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE
		 SET quantity_filled = EXCLUDED.quantity_filled, average_fill_price = EXCLUDED.average_fill_price,
		     transaction_fee = EXCLUDED.transaction_fee, status = EXCLUDED.status,
		     hold_id = EXCLUDED.hold_id, updated_at = EXCLUDED.updated_at`,
		o.ID, o.OwnerID, o.TradingAccountID, o.Side.String(), o.Type.String(), decimalArg(o.LimitPrice),
		o.QuantityOrdered, o.QuantityFilled, o.AverageFillPrice.String(), o.TransactionFee.String(),
		o.Status.String(), o.HoldID, o.RejectReason, o.Seq, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO share_trades (id, trading_account_id, buy_order_id, sell_order_id, offering_id, buyer_id,
		                           seller_id, quantity, price, buyer_fee, seller_fee, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		tr.ID, tr.TradingAccountID, tr.BuyOrderID, tr.SellOrderID, tr.OfferingID, tr.BuyerID, tr.SellerID,
		tr.Quantity, tr.Price.String(), tr.BuyerFee.String(), tr.SellerFee.String(), tr.ExecutedAt)
	return err
}

// --- shared query helpers ---

func getWallet(ctx context.Context, q querier, ownerID, currency, suffix string) (*model.Wallet, error) {
	row := q.QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE owner_id = $1 AND currency = $2`+suffix, ownerID, currency)
	var w model.Wallet
	var available, reserved string
	if err := row.Scan(&w.OwnerID, &w.Currency, &available, &reserved, &w.UpdatedAt); err != nil {
		return nil, notFound(err, "wallet "+ownerID)
	}
	var err error
	if w.Available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}
	if w.Reserved, err = decimal.NewFromString(reserved); err != nil {
		return nil, fmt.Errorf("parse reserved: %w", err)
	}
	return &w, nil
}

func scanEntry(row scanner) (*model.WalletEntry, error) {
	var e model.WalletEntry
	var kind, amount, availableAfter, reservedAfter string
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Currency, &kind, &amount,
		&availableAfter, &reservedAfter, &e.Reference, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = model.EntryKind(kind)
	e.Amount, _ = decimal.NewFromString(amount)
	e.AvailableAfter, _ = decimal.NewFromString(availableAfter)
	e.ReservedAfter, _ = decimal.NewFromString(reservedAfter)
	return &e, nil
}

func getFundsHold(ctx context.Context, q querier, id, suffix string) (*model.FundsHold, error) {
	row := q.QueryRow(ctx, `SELECT `+fundsHoldCols+` FROM funds_holds WHERE id = $1`+suffix, id)
	var h model.FundsHold
	var amount, remaining, status string
	if err := row.Scan(&h.ID, &h.OwnerID, &h.Currency, &amount, &remaining, &status, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, notFound(err, "funds hold "+id)
	}
	var err error
	if h.Status, err = model.ParseHoldStatus(status); err != nil {
		return nil, err
	}
	h.Amount, _ = decimal.NewFromString(amount)
	h.Remaining, _ = decimal.NewFromString(remaining)
	return &h, nil
}

func getPortfolioEntry(ctx context.Context, q querier, ownerID, tradingAccountID, suffix string) (*model.PortfolioEntry, error) {
	row := q.QueryRow(ctx,
		`SELECT `+portfolioCols+` FROM portfolio_entries WHERE owner_id = $1 AND trading_account_id = $2`+suffix,
		ownerID, tradingAccountID)
	p, err := scanPortfolio(row)
	if err != nil {
		return nil, notFound(err, "portfolio entry "+ownerID)
	}
	return p, nil
}

func scanPortfolio(row scanner) (*model.PortfolioEntry, error) {
	var p model.PortfolioEntry
	var avg string
	if err := row.Scan(&p.OwnerID, &p.TradingAccountID, &p.Quantity, &p.Reserved, &avg, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AverageCost, _ = decimal.NewFromString(avg)
	return &p, nil
}

func getShareHold(ctx context.Context, q querier, id, suffix string) (*model.ShareHold, error) {
	row := q.QueryRow(ctx, `SELECT `+shareHoldCols+` FROM share_holds WHERE id = $1`+suffix, id)
	var h model.ShareHold
	var status string
	if err := row.Scan(&h.ID, &h.OwnerID, &h.TradingAccountID, &h.Quantity, &h.Remaining,
		&status, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, notFound(err, "share hold "+id)
	}
	var err error
	if h.Status, err = model.ParseHoldStatus(status); err != nil {
		return nil, err
	}
	return &h, nil
}

func getOffering(ctx context.Context, q querier, id, suffix string) (*model.Offering, error) {
	row := q.QueryRow(ctx, `SELECT `+offeringCols+` FROM offerings WHERE id = $1`+suffix, id)
	o, err := scanOffering(row)
	if err != nil {
		return nil, notFound(err, "offering "+id)
	}
	return o, nil
}

func listOfferings(ctx context.Context, q querier, tradingAccountID string) ([]model.Offering, error) {
	rows, err := q.Query(ctx,
		`SELECT `+offeringCols+` FROM offerings
		 WHERE $1 = '' OR trading_account_id = $1 ORDER BY created_at, id`, tradingAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Offering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func scanOffering(row scanner) (*model.Offering, error) {
	var o model.Offering
	var price, status string
	var floor, ceiling *string
	var endDate *time.Time
	if err := row.Scan(&o.ID, &o.TradingAccountID, &o.AdminID, &o.SharesOffered, &o.SharesSold, &price,
		&floor, &ceiling, &o.StartDate, &endDate, &status, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.Status, err = model.ParseOfferingStatus(status); err != nil {
		return nil, err
	}
	o.PricePerShare, _ = decimal.NewFromString(price)
	o.FloorPrice = parseDecimalPtr(floor)
	o.CeilingPrice = parseDecimalPtr(ceiling)
	o.EndDate = endDate
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id, suffix string) (*model.Order, error) {
	row := q.QueryRow(ctx, `SELECT `+orderCols+` FROM share_orders WHERE id = $1`+suffix, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order "+id)
	}
	return o, nil
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]model.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func scanOrder(row scanner) (*model.Order, error) {
	var o model.Order
	var side, typ, status, avg, fee string
	var limit *string
	if err := row.Scan(&o.ID, &o.OwnerID, &o.TradingAccountID, &side, &typ, &limit,
		&o.QuantityOrdered, &o.QuantityFilled, &avg, &fee, &status, &o.HoldID,
		&o.RejectReason, &o.Seq, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.Side, err = model.ParseSide(side); err != nil {
		return nil, err
	}
	if o.Type, err = model.ParseOrderType(typ); err != nil {
		return nil, err
	}
	if o.Status, err = model.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	o.LimitPrice = parseDecimalPtr(limit)
	o.AverageFillPrice, _ = decimal.NewFromString(avg)
	o.TransactionFee, _ = decimal.NewFromString(fee)
	return &o, nil
}

func queryTrades(ctx context.Context, q querier, sql string, args ...any) ([]model.Trade, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, buyerFee, sellerFee string
		if err := rows.Scan(&t.ID, &t.TradingAccountID, &t.BuyOrderID, &t.SellOrderID, &t.OfferingID,
			&t.BuyerID, &t.SellerID, &t.Quantity, &price, &buyerFee, &sellerFee, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.BuyerFee, _ = decimal.NewFromString(buyerFee)
		t.SellerFee, _ = decimal.NewFromString(sellerFee)
		result = append(result, t)
	}
	return result, rows.Err()
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimalPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

// sqlLimit maps "no limit" (<= 0) to NULL, which LIMIT treats as unbounded.
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
