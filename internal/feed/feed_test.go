package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbands/share-exchange/internal/feed"
	"github.com/qbands/share-exchange/internal/model"
)

type captureSink struct {
	mu     sync.Mutex
	name   string
	events []feed.Event
	err    error
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Send(_ context.Context, ev feed.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcher_FansOutToEverySink(t *testing.T) {
	failing := &captureSink{name: "failing", err: errors.New("broker down")}
	ok := &captureSink{name: "ok"}
	d := feed.NewDispatcher(8, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Publish(feed.OrderEvent(feed.OrderPlaced, &model.Order{ID: "o1", TradingAccountID: "acct-1"}))
	d.Publish(feed.TradeEvent(&model.Trade{ID: "t1", TradingAccountID: "acct-1"}))

	require.Eventually(t, func() bool { return ok.count() == 2 && failing.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &captureSink{name: "slow"}
	d := feed.NewDispatcher(1, sink)

	d.Publish(feed.OfferingEvent(feed.OfferingCreated, &model.Offering{ID: "a", TradingAccountID: "acct-1"}))
	d.Publish(feed.OfferingEvent(feed.OfferingCreated, &model.Offering{ID: "b", TradingAccountID: "acct-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestEvent_CarriesCopies(t *testing.T) {
	o := &model.Order{ID: "o1", TradingAccountID: "acct-1", QuantityFilled: 1}
	ev := feed.OrderEvent(feed.OrderUpdated, o)
	o.QuantityFilled = 2

	assert.Equal(t, int64(1), ev.Order.QuantityFilled)
	assert.Equal(t, "acct-1", ev.Key())
}
