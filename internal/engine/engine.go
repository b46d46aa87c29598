// Package engine runs one serialized order book per trading account.
//
// Each trading account gets an actor goroutine that owns its Book and
// consumes a FIFO command queue. Placement, cancellation and book snapshots
// for that account all go through the queue, so matching never races with
// itself; different accounts proceed in parallel. Callers block until their
// command has been processed.
//
// Matching uses price-time priority and executes at the resting (maker)
// order's price. A buy order first trades against the secondary book and
// then, for any remainder, against the account's Active offerings. Every
// fill is settled atomically by the settlement coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/accounts"
	"github.com/qbands/share-exchange/internal/feed"
	"github.com/qbands/share-exchange/internal/ledger"
	"github.com/qbands/share-exchange/internal/limits"
	"github.com/qbands/share-exchange/internal/metrics"
	"github.com/qbands/share-exchange/internal/model"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/portfolio"
	"github.com/qbands/share-exchange/internal/settlement"
	"github.com/qbands/share-exchange/internal/store"
)

// ErrStopped is returned for commands submitted after Stop.
var ErrStopped = errors.New("engine: stopped")

// PlaceRequest is an order submission from an authenticated owner.
type PlaceRequest struct {
	OwnerID          string           `json:"-"`
	TradingAccountID string           `json:"trading_account_id"`
	Side             string           `json:"side"`
	Type             string           `json:"order_type"`
	Quantity         int64            `json:"quantity"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
}

// Deps are the collaborators an Engine needs. Limiter and Events are optional.
type Deps struct {
	Store      store.Store
	Accounts   accounts.Directory
	Offerings  *offering.Manager
	Settlement *settlement.Coordinator
	Limiter    *limits.PositionLimiter
	Events     feed.Publisher
	QueueSize  int
}

// Engine routes commands to per-account actors.
type Engine struct {
	store      store.Store
	accounts   accounts.Directory
	offerings  *offering.Manager
	settlement *settlement.Coordinator
	limiter    *limits.PositionLimiter
	events     feed.Publisher
	queueSize  int

	// ctx bounds every actor and every store call made on an actor, so a
	// caller giving up does not abort a half-applied command.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor

	seq atomic.Int64
	now func() time.Time
}

type actor struct {
	id        string
	cmds      chan func()
	book      *Book
	lastPrice *decimal.Decimal
}

// New creates an engine. Call Stop to shut down its actors.
func New(d Deps) *Engine {
	if d.Events == nil {
		d.Events = feed.Nop{}
	}
	if d.QueueSize <= 0 {
		d.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      d.Store,
		accounts:   d.Accounts,
		offerings:  d.Offerings,
		settlement: d.Settlement,
		limiter:    d.Limiter,
		events:     d.Events,
		queueSize:  d.QueueSize,
		ctx:        ctx,
		cancel:     cancel,
		actors:     make(map[string]*actor),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Stop terminates every actor and waits for in-flight commands to finish.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) actorFor(tradingAccountID string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if a, ok := e.actors[tradingAccountID]; ok {
		return a, nil
	}
	a := &actor{
		id:   tradingAccountID,
		cmds: make(chan func(), e.queueSize),
		book: newBook(),
	}
	e.actors[tradingAccountID] = a
	e.wg.Add(1)
	go e.run(a)
	return a, nil
}

func (e *Engine) run(a *actor) {
	defer e.wg.Done()
	metrics.ActiveBooks.Inc()
	defer metrics.ActiveBooks.Dec()

	if trades, err := e.store.ListTradesByAccount(e.ctx, a.id, 1); err == nil && len(trades) > 0 {
		p := trades[0].Price
		a.lastPrice = &p
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-a.cmds:
			cmd()
		}
	}
}

// submit queues fn on a and waits for its result.
func submit[T any](ctx context.Context, e *Engine, a *actor, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	reply := make(chan result, 1)
	cmd := func() {
		v, err := fn()
		reply <- result{v, err}
	}

	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.ctx.Done():
		return zero, ErrStopped
	}

	select {
	case r := <-reply:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.ctx.Done():
		return zero, ErrStopped
	}
}

// nextSeq returns a strictly increasing sequence number close to wall time.
func (e *Engine) nextSeq() int64 {
	for {
		last := e.seq.Load()
		next := max(last+1, time.Now().UnixNano())
		if e.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (e *Engine) observeSeq(seq int64) {
	for {
		last := e.seq.Load()
		if seq <= last || e.seq.CompareAndSwap(last, seq) {
			return
		}
	}
}

// Place validates, reserves and matches a new order and returns its state
// once matching has finished. Validation failures return an error and
// persist nothing. Resource failures (funds, shares, limits) persist the
// order as Rejected and return it together with the error.
func (e *Engine) Place(ctx context.Context, req PlaceRequest) (*model.Order, error) {
	start := time.Now()
	draft, acct, err := e.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	a, err := e.actorFor(acct.ID)
	if err != nil {
		return nil, err
	}

	o, err := submit(ctx, e, a, func() (*model.Order, error) {
		return e.place(a, draft, acct)
	})
	metrics.PlacementLatency.WithLabelValues(draft.Side.String()).Observe(time.Since(start).Seconds())
	if o != nil {
		metrics.OrdersTotal.WithLabelValues(o.Side.String(), o.Type.String(), o.Status.String()).Inc()
	}
	return o, err
}

func (e *Engine) validate(ctx context.Context, req PlaceRequest) (*model.Order, *model.TradingAccount, error) {
	if req.OwnerID == "" {
		return nil, nil, model.ErrMissingOwner
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		return nil, nil, err
	}
	typ, err := model.ParseOrderType(req.Type)
	if err != nil {
		return nil, nil, err
	}
	if req.Quantity <= 0 {
		return nil, nil, model.ErrInvalidQuantity
	}
	var limit *decimal.Decimal
	if typ == model.OrderTypeLimit {
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return nil, nil, model.ErrInvalidPrice
		}
		p := *req.LimitPrice
		limit = &p
	}

	acct, err := e.accounts.Get(ctx, req.TradingAccountID)
	if err != nil {
		return nil, nil, err
	}
	if !acct.Active {
		return nil, nil, model.ErrAccountInactive
	}

	return &model.Order{
		ID:               uuid.New().String(),
		OwnerID:          req.OwnerID,
		TradingAccountID: acct.ID,
		Side:             side,
		Type:             typ,
		LimitPrice:       limit,
		QuantityOrdered:  req.Quantity,
		AverageFillPrice: decimal.Zero,
		TransactionFee:   decimal.Zero,
		Status:           model.OrderOpen,
	}, acct, nil
}

// place runs on the actor goroutine.
func (e *Engine) place(a *actor, o *model.Order, acct *model.TradingAccount) (*model.Order, error) {
	ctx := e.ctx
	now := e.now()
	o.Seq = e.nextSeq()
	o.CreatedAt = now
	o.UpdatedAt = now

	var reservePrice decimal.Decimal
	if o.Side == model.SideBuy {
		var err error
		if reservePrice, err = e.referencePrice(ctx, a, o, acct); err != nil {
			return nil, err
		}
	}
	if err := e.checkLimits(ctx, o, acct, reservePrice); err != nil {
		if model.KindOf(err) == model.KindResource {
			return e.reject(ctx, o, err)
		}
		return nil, err
	}

	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		if o.Side == model.SideBuy {
			amount := settlement.Reservation(o.QuantityOrdered, reservePrice, acct.FeeRate)
			h, err := ledger.Reserve(ctx, tx, o.OwnerID, e.settlement.Currency(), amount, o.ID, now)
			if err != nil {
				return err
			}
			o.HoldID = h.ID
		} else {
			h, err := portfolio.Reserve(ctx, tx, o.OwnerID, o.TradingAccountID, o.QuantityOrdered, now)
			if err != nil {
				return err
			}
			o.HoldID = h.ID
		}
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		if model.KindOf(err) == model.KindResource {
			return e.reject(ctx, o, err)
		}
		return nil, err
	}

	slog.Info("order placed",
		"order_id", o.ID,
		"owner", o.OwnerID,
		"trading_account_id", o.TradingAccountID,
		"side", o.Side.String(),
		"type", o.Type.String(),
		"qty", o.QuantityOrdered,
		"reserve_price", reservePrice.String(),
	)
	e.events.Publish(feed.OrderEvent(feed.OrderPlaced, o))

	o = e.match(ctx, a, o, acct, reservePrice)

	switch {
	case o.Remaining() == 0:
		return o, nil
	case o.Type == model.OrderTypeLimit:
		a.book.add(o)
		return o, nil
	default:
		// Market orders never rest.
		return e.closeOrder(ctx, a, o.ID)
	}
}

// referencePrice is the per-share price a buy hold is sized at: the limit
// price, or for a market order the worst price it could pay walking the
// book and then the offerings. With no liquidity the account's current
// share price is used.
func (e *Engine) referencePrice(ctx context.Context, a *actor, o *model.Order, acct *model.TradingAccount) (decimal.Decimal, error) {
	if o.LimitPrice != nil {
		return *o.LimitPrice, nil
	}

	need := o.QuantityOrdered
	worst := decimal.Zero
	for _, maker := range a.book.crossing(model.SideBuy, nil) {
		if need <= 0 {
			break
		}
		if maker.OwnerID == o.OwnerID {
			continue
		}
		worst = decimal.Max(worst, *maker.LimitPrice)
		need -= maker.Remaining()
	}
	if need > 0 {
		offers, err := e.offerings.Active(ctx, acct.ID, e.now())
		if err != nil {
			return decimal.Zero, err
		}
		for _, off := range offers {
			if need <= 0 {
				break
			}
			worst = decimal.Max(worst, off.PricePerShare)
			need -= off.Remaining()
		}
	}
	if worst.IsZero() {
		worst = acct.CurrentSharePrice
	}
	if !worst.IsPositive() {
		return decimal.Zero, model.ErrNoReferencePrice
	}
	return worst, nil
}

func (e *Engine) checkLimits(ctx context.Context, o *model.Order, acct *model.TradingAccount, reservePrice decimal.Decimal) error {
	if e.limiter == nil {
		return nil
	}
	price := reservePrice
	if o.Side == model.SideSell {
		price = acct.CurrentSharePrice
		if o.LimitPrice != nil {
			price = *o.LimitPrice
		}
	}
	if err := e.limiter.CheckNotional(o.QuantityOrdered, price); err != nil {
		metrics.LimitRejections.WithLabelValues("notional").Inc()
		return err
	}
	if o.Side == model.SideSell {
		return nil
	}

	// Exposure is what the owner holds plus what their resting buys can
	// still add.
	entries, err := e.store.ListPortfolio(ctx, o.OwnerID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	existing := make(map[string]int64, len(entries))
	for _, p := range entries {
		existing[p.TradingAccountID] = p.Quantity
	}
	orders, err := e.store.ListOrdersByOwner(ctx, o.OwnerID)
	if err != nil {
		return fmt.Errorf("load resting orders: %w", err)
	}
	for _, r := range orders {
		if r.Side == model.SideBuy && r.Resting() {
			existing[r.TradingAccountID] += r.Remaining()
		}
	}
	if err := e.limiter.CheckLimit(acct.ID, o.QuantityOrdered, existing); err != nil {
		metrics.LimitRejections.WithLabelValues("position").Inc()
		return err
	}
	return nil
}

// reject persists o as Rejected with cause as the reason and returns both.
func (e *Engine) reject(ctx context.Context, o *model.Order, cause error) (*model.Order, error) {
	o.Status = model.OrderRejected
	o.RejectReason = cause.Error()
	o.HoldID = ""
	o.UpdatedAt = e.now()
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("record rejected order: %w", err)
	}

	slog.Warn("order rejected",
		"order_id", o.ID,
		"owner", o.OwnerID,
		"trading_account_id", o.TradingAccountID,
		"reason", o.RejectReason,
	)
	e.events.Publish(feed.OrderEvent(feed.OrderRejected, o))
	return o, cause
}

// match trades o against the book and, for buys, the Active offerings.
// A failed settlement skips that candidate.
func (e *Engine) match(ctx context.Context, a *actor, o *model.Order, acct *model.TradingAccount, reservePrice decimal.Decimal) *model.Order {
	for _, maker := range a.book.crossing(o.Side, o.LimitPrice) {
		if o.Remaining() == 0 {
			break
		}
		if maker.OwnerID == o.OwnerID {
			continue
		}
		m := settlement.Match{
			TradingAccountID: acct.ID,
			Quantity:         min(o.Remaining(), maker.Remaining()),
			Price:            *maker.LimitPrice,
			FeeRate:          acct.FeeRate,
		}
		if o.Side == model.SideBuy {
			m.BuyOrderID, m.SellOrderID, m.BuyReservePrice = o.ID, maker.ID, reservePrice
		} else {
			m.BuyOrderID, m.SellOrderID, m.BuyReservePrice = maker.ID, o.ID, *maker.LimitPrice
		}

		res, err := e.settlement.Settle(ctx, m)
		if err != nil {
			continue
		}
		if o.Side == model.SideBuy {
			o = res.Buy
			a.book.update(res.Sell)
		} else {
			o = res.Sell
			a.book.update(res.Buy)
		}
		e.applied(a, res)
	}

	if o.Side != model.SideBuy || o.Remaining() == 0 {
		return o
	}

	offers, err := e.offerings.Active(ctx, acct.ID, e.now())
	if err != nil {
		slog.Error("load offerings failed", "trading_account_id", acct.ID, "err", err)
		return o
	}
	for _, off := range offers {
		if o.Remaining() == 0 {
			break
		}
		if o.LimitPrice != nil && off.PricePerShare.GreaterThan(*o.LimitPrice) {
			break
		}
		qty := min(o.Remaining(), off.Remaining())
		res, err := e.settlement.Settle(ctx, settlement.Match{
			TradingAccountID: acct.ID,
			BuyOrderID:       o.ID,
			OfferingID:       off.ID,
			IssuerID:         acct.IssuerID,
			Quantity:         qty,
			Price:            off.PricePerShare,
			FeeRate:          acct.FeeRate,
			BuyReservePrice:  reservePrice,
		})
		if err != nil {
			continue
		}
		o = res.Buy
		e.offerings.Allocated(res.Offering, qty)
		e.applied(a, res)
	}
	return o
}

func (e *Engine) applied(a *actor, res *settlement.Result) {
	p := res.Trade.Price
	a.lastPrice = &p
	e.events.Publish(feed.TradeEvent(res.Trade))
	e.events.Publish(feed.OrderEvent(feed.OrderUpdated, res.Buy))
	if res.Sell != nil {
		e.events.Publish(feed.OrderEvent(feed.OrderUpdated, res.Sell))
	}
}

// closeOrder cancels a resting order's remainder and releases its hold.
// It runs on the actor goroutine.
func (e *Engine) closeOrder(ctx context.Context, a *actor, orderID string) (*model.Order, error) {
	var closed *model.Order
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Resting() {
			return fmt.Errorf("%w: order %s is %s", model.ErrInvalidStateTransition, o.ID, o.Status)
		}
		now := e.now()
		if o.HoldID != "" {
			if o.Side == model.SideBuy {
				_, err = ledger.Release(ctx, tx, o.HoldID, now)
			} else {
				_, err = portfolio.Release(ctx, tx, o.HoldID, now)
			}
			// A hold drawn down to exactly zero is already closed.
			if err != nil && !errors.Is(err, model.ErrHoldAlreadyConsumed) {
				return err
			}
		}
		if err := o.Cancel(now); err != nil {
			return err
		}
		closed = o
		return tx.PutOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	a.book.remove(orderID)
	metrics.OrderCancellations.Inc()
	slog.Info("order cancelled",
		"order_id", closed.ID,
		"trading_account_id", closed.TradingAccountID,
		"filled", closed.QuantityFilled,
		"ordered", closed.QuantityOrdered,
	)
	e.events.Publish(feed.OrderEvent(feed.OrderCancelled, closed))
	return closed, nil
}

// Cancel cancels a resting order on behalf of its owner or an admin.
func (e *Engine) Cancel(ctx context.Context, orderID, requesterID string, isAdmin bool) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != requesterID && !isAdmin {
		return nil, model.ErrForbidden
	}
	a, err := e.actorFor(o.TradingAccountID)
	if err != nil {
		return nil, err
	}
	return submit(ctx, e, a, func() (*model.Order, error) {
		return e.closeOrder(e.ctx, a, orderID)
	})
}

// Recover rebuilds the books from resting orders in storage. Market
// orders interrupted mid-placement are cancelled. Call once before
// serving traffic.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	orders, err := e.store.ListRestingOrders(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for i := range orders {
		o := orders[i]
		e.observeSeq(o.Seq)
		a, err := e.actorFor(o.TradingAccountID)
		if err != nil {
			return restored, err
		}
		_, err = submit(ctx, e, a, func() (struct{}, error) {
			if o.Type == model.OrderTypeMarket || o.LimitPrice == nil {
				_, err := e.closeOrder(e.ctx, a, o.ID)
				return struct{}{}, err
			}
			a.book.add(&o)
			return struct{}{}, nil
		})
		if err != nil {
			return restored, fmt.Errorf("recover order %s: %w", o.ID, err)
		}
		restored++
	}
	slog.Info("order books recovered", "orders", restored)
	return restored, nil
}
