// Package feed delivers order, trade and offering events to downstream
// consumers (WebSocket clients, Kafka, Redis pub/sub). Delivery is
// fire-and-forget: a slow or failing consumer never blocks matching.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/qbands/share-exchange/internal/metrics"
	"github.com/qbands/share-exchange/internal/model"
)

// EventType names an event on the feed.
type EventType string

const (
	OrderPlaced       EventType = "order.placed"
	OrderUpdated      EventType = "order.updated"
	OrderCancelled    EventType = "order.cancelled"
	OrderRejected     EventType = "order.rejected"
	TradeExecuted     EventType = "trade.executed"
	OfferingCreated   EventType = "offering.created"
	OfferingUpdated   EventType = "offering.updated"
	OfferingCancelled EventType = "offering.cancelled"
	OfferingCompleted EventType = "offering.completed"
	OfferingExpired   EventType = "offering.expired"
)

// Event is one message on the feed. Exactly one of Order, Trade or
// Offering is set.
type Event struct {
	Type             EventType       `json:"type"`
	TradingAccountID string          `json:"trading_account_id"`
	Order            *model.Order    `json:"order,omitempty"`
	Trade            *model.Trade    `json:"trade,omitempty"`
	Offering         *model.Offering `json:"offering,omitempty"`
	At               time.Time       `json:"at"`
}

// Key returns the partitioning key: events of one trading account stay ordered.
func (e Event) Key() string {
	return e.TradingAccountID
}

// OrderEvent builds an event carrying a copy of o.
func OrderEvent(t EventType, o *model.Order) Event {
	c := *o
	return Event{Type: t, TradingAccountID: o.TradingAccountID, Order: &c, At: o.UpdatedAt}
}

// TradeEvent builds an event carrying a copy of tr.
func TradeEvent(tr *model.Trade) Event {
	c := *tr
	return Event{Type: TradeExecuted, TradingAccountID: tr.TradingAccountID, Trade: &c, At: tr.ExecutedAt}
}

// OfferingEvent builds an event carrying a copy of o.
func OfferingEvent(t EventType, o *model.Offering) Event {
	c := *o
	return Event{Type: t, TradingAccountID: o.TradingAccountID, Offering: &c, At: o.UpdatedAt}
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Sink is a downstream consumer. Send may block; the Dispatcher calls it
// from its own goroutine.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Dispatcher buffers events and fans them out to every sink.
type Dispatcher struct {
	queue chan Event
	sinks []Sink
}

// NewDispatcher creates a dispatcher with a queue of size buffer.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{queue: make(chan Event, buffer), sinks: sinks}
}

// Publish enqueues ev, dropping it if the queue is full.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.queue <- ev:
	default:
		// Drop if buffer full to avoid blocking order execution.
		metrics.EventsDropped.WithLabelValues("dispatcher").Inc()
	}
}

// Run delivers queued events until ctx is cancelled. Must be called in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			for _, s := range d.sinks {
				if err := s.Send(ctx, ev); err != nil {
					slog.Warn("feed delivery failed", "sink", s.Name(), "type", ev.Type, "err", err)
				}
			}
		}
	}
}
