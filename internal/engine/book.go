package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/qbands/share-exchange/internal/model"
)

// PriceLevel is a FIFO queue of resting orders at one price.
type PriceLevel struct {
	Price  decimal.Decimal
	orders []*model.Order
}

func (p *PriceLevel) enqueue(o *model.Order) {
	p.orders = append(p.orders, o)
}

func (p *PriceLevel) unlink(id string) bool {
	for i, o := range p.orders {
		if o.ID == id {
			p.orders = append(p.orders[:i], p.orders[i+1:]...)
			return true
		}
	}
	return false
}

// TotalQty returns the unfilled quantity resting at this level.
func (p *PriceLevel) TotalQty() int64 {
	var total int64
	for _, o := range p.orders {
		total += o.Remaining()
	}
	return total
}

// bookSide keeps price levels sorted best first: descending for bids,
// ascending for asks.
type bookSide struct {
	levels     []*PriceLevel
	descending bool
}

// better reports whether price a has priority over b on this side.
func (s *bookSide) better(a, b decimal.Decimal) bool {
	if s.descending {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// search returns the index of the first level not better than price.
func (s *bookSide) search(price decimal.Decimal) int {
	return sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].Price, price)
	})
}

func (s *bookSide) upsertLevel(price decimal.Decimal) *PriceLevel {
	i := s.search(price)
	if i < len(s.levels) && s.levels[i].Price.Equal(price) {
		return s.levels[i]
	}
	lvl := &PriceLevel{Price: price}
	s.levels = append(s.levels, nil)
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = lvl
	return lvl
}

func (s *bookSide) remove(o *model.Order) {
	i := s.search(*o.LimitPrice)
	if i >= len(s.levels) || !s.levels[i].Price.Equal(*o.LimitPrice) {
		return
	}
	lvl := s.levels[i]
	lvl.unlink(o.ID)
	if len(lvl.orders) == 0 {
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	}
}

// Book is one trading account's secondary-market order book. It is owned
// by a single actor goroutine and is not safe for concurrent use.
type Book struct {
	bids  bookSide
	asks  bookSide
	index map[string]*model.Order
}

func newBook() *Book {
	return &Book{
		bids:  bookSide{descending: true},
		asks:  bookSide{},
		index: make(map[string]*model.Order),
	}
}

func (b *Book) side(s model.Side) *bookSide {
	if s == model.SideBuy {
		return &b.bids
	}
	return &b.asks
}

// add rests a limit order at the back of its price level.
func (b *Book) add(o *model.Order) {
	if o.LimitPrice == nil || !o.Resting() {
		return
	}
	if _, ok := b.index[o.ID]; ok {
		return
	}
	c := *o
	b.side(o.Side).upsertLevel(*o.LimitPrice).enqueue(&c)
	b.index[o.ID] = &c
}

// remove drops the order from the book.
func (b *Book) remove(id string) {
	o, ok := b.index[id]
	if !ok {
		return
	}
	b.side(o.Side).remove(o)
	delete(b.index, id)
}

// update refreshes a resting order's fill progress in place, keeping its
// queue position. Orders that are no longer resting are removed.
func (b *Book) update(o *model.Order) {
	existing, ok := b.index[o.ID]
	if !ok {
		return
	}
	if !o.Resting() || o.Remaining() == 0 {
		b.remove(o.ID)
		return
	}
	*existing = *o
}

func (b *Book) get(id string) (*model.Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return len(b.index)
}

// crossing returns copies of the resting orders an incoming order on side
// taker could trade with, in price-time priority. A nil limit crosses every
// price.
func (b *Book) crossing(taker model.Side, limit *decimal.Decimal) []model.Order {
	opposite := b.side(taker.Opposite())
	var result []model.Order
	for _, lvl := range opposite.levels {
		if limit != nil {
			if taker == model.SideBuy && lvl.Price.GreaterThan(*limit) {
				break
			}
			if taker == model.SideSell && lvl.Price.LessThan(*limit) {
				break
			}
		}
		for _, o := range lvl.orders {
			result = append(result, *o)
		}
	}
	return result
}

// Level is an aggregated view of one price level.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// depth aggregates up to n levels per side, best first. n <= 0 means all.
func (b *Book) depth(n int) (bids, asks []Level) {
	return aggregate(b.bids.levels, n), aggregate(b.asks.levels, n)
}

func aggregate(levels []*PriceLevel, n int) []Level {
	result := []Level{}
	for _, lvl := range levels {
		if n > 0 && len(result) == n {
			break
		}
		result = append(result, Level{Price: lvl.Price, Quantity: lvl.TotalQty(), Orders: len(lvl.orders)})
	}
	return result
}
