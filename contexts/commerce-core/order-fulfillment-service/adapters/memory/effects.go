package memory

import (
	"context"
	"sync"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/shopspring/decimal"
)

// Effects records outbound side effects in process. It backs the in-memory
// module and lets tests count how often an effect happened.
type Effects struct {
	mu sync.Mutex

	invalidated   map[string]int
	notifications []ports.Notification
	published     []PublishedEnvelope
	statsApplied  map[string]struct{}
	counters      map[string]StatCounter
	locks         map[string]time.Time
}

type PublishedEnvelope struct {
	Topic    string
	Envelope ports.EventEnvelope
}

type StatCounter struct {
	Count  int64
	Amount decimal.Decimal
}

func NewEffects() *Effects {
	return &Effects{
		invalidated:  make(map[string]int),
		statsApplied: make(map[string]struct{}),
		counters:     make(map[string]StatCounter),
		locks:        make(map[string]time.Time),
	}
}

func (e *Effects) Invalidate(_ context.Context, keys ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range keys {
		e.invalidated[key]++
	}
	return nil
}

func (e *Effects) Notify(_ context.Context, notification ports.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifications = append(e.notifications, notification)
	return nil
}

func (e *Effects) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, PublishedEnvelope{Topic: topic, Envelope: event})
	return nil
}

func (e *Effects) Apply(_ context.Context, eventID string, deltas []ports.StatDelta) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.statsApplied[eventID]; done {
		return false, nil
	}
	e.statsApplied[eventID] = struct{}{}
	for _, delta := range deltas {
		counter := e.counters[delta.Counter]
		counter.Count += delta.Count
		counter.Amount = counter.Amount.Add(delta.Amount)
		e.counters[delta.Counter] = counter
	}
	return true, nil
}

func (e *Effects) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if until, held := e.locks[key]; held && until.After(now) {
		return nil, false, nil
	}
	e.locks[key] = now.Add(ttl)
	return func(context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.locks, key)
		return nil
	}, true, nil
}

func (e *Effects) Notifications() []ports.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.Notification(nil), e.notifications...)
}

func (e *Effects) Published() []PublishedEnvelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PublishedEnvelope(nil), e.published...)
}

func (e *Effects) InvalidationCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidated[key]
}

func (e *Effects) Counter(name string) StatCounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[name]
}

const delayQueuePoll = 50 * time.Millisecond

type scheduledTicket struct {
	ticket entities.ExpirationTicket
	dueAt  time.Time
}

// DelayQueue holds expiration tickets until their delay elapses. A ticket
// whose handler fails is delivered again on the next poll.
type DelayQueue struct {
	mu      sync.Mutex
	tickets []scheduledTicket
	clock   func() time.Time
}

func NewDelayQueue(clock func() time.Time) *DelayQueue {
	if clock == nil {
		clock = time.Now
	}
	return &DelayQueue{clock: clock}
}

func (q *DelayQueue) Schedule(_ context.Context, ticket entities.ExpirationTicket) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	requested := ticket.RequestedAt
	if requested.IsZero() {
		requested = q.clock()
	}
	q.tickets = append(q.tickets, scheduledTicket{ticket: ticket, dueAt: requested.Add(ticket.Delay)})
	return nil
}

func (q *DelayQueue) Pending() []entities.ExpirationTicket {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]entities.ExpirationTicket, 0, len(q.tickets))
	for _, item := range q.tickets {
		items = append(items, item.ticket)
	}
	return items
}

// Drain delivers every due ticket once and keeps the ones that failed.
func (q *DelayQueue) Drain(ctx context.Context, handler func(context.Context, entities.ExpirationTicket) error) int {
	q.mu.Lock()
	now := q.clock()
	var due, waiting []scheduledTicket
	for _, item := range q.tickets {
		if item.dueAt.After(now) {
			waiting = append(waiting, item)
			continue
		}
		due = append(due, item)
	}
	q.tickets = waiting
	q.mu.Unlock()

	delivered := 0
	for _, item := range due {
		if err := handler(ctx, item.ticket); err != nil {
			q.mu.Lock()
			q.tickets = append(q.tickets, item)
			q.mu.Unlock()
			continue
		}
		delivered++
	}
	return delivered
}

func (q *DelayQueue) Consume(ctx context.Context, handler func(context.Context, entities.ExpirationTicket) error) error {
	ticker := time.NewTicker(delayQueuePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.Drain(ctx, handler)
		}
	}
}
