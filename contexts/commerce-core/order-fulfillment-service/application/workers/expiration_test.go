package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/adapters/memory"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/commands"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expirationFixture struct {
	store  *memory.Store
	clock  *manualClock
	queue  *memory.DelayQueue
	place  commands.PlaceOrderUseCase
	expire commands.ExpireOrderUseCase
}

func newExpirationFixture(t *testing.T, scheduler bool) *expirationFixture {
	t.Helper()
	clock := newManualClock()
	store := memory.NewStore([]entities.StockLevel{{ProductID: "P", TotalStock: 20}})
	store.SetClock(clock.Now)
	queue := memory.NewDelayQueue(clock.Now)
	place := commands.PlaceOrderUseCase{Orders: store, IDGen: store, Clock: clock, Expiry: 30 * time.Minute}
	if scheduler {
		place.Scheduler = queue
	}
	return &expirationFixture{
		store:  store,
		clock:  clock,
		queue:  queue,
		place:  place,
		expire: commands.ExpireOrderUseCase{Orders: store, Clock: clock},
	}
}

func (f *expirationFixture) placeOrder(t *testing.T, orderID string, qty int) {
	t.Helper()
	_, err := f.place.Execute(context.Background(), commands.PlaceOrderCommand{
		OrderID: orderID,
		UserID:  "user-1",
		Items:   []entities.OrderItem{{ProductID: "P", Quantity: qty, UnitPrice: decimal.NewFromInt(3)}},
	})
	require.NoError(t, err)
}

func (f *expirationFixture) order(t *testing.T, orderID string) entities.Order {
	t.Helper()
	order, err := f.store.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func TestConsumerCancelsUnpaidOrderWhenSignalArrives(t *testing.T) {
	f := newExpirationFixture(t, true)
	consumer := ExpirationConsumer{Source: f.queue, Expire: f.expire}
	f.placeOrder(t, "O1", 5)

	assert.Equal(t, 0, f.queue.Drain(context.Background(), consumer.Handle), "ticket not due yet")

	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, f.queue.Drain(context.Background(), consumer.Handle))
	assert.Equal(t, entities.OrderStatusCancelled, f.order(t, "O1").Status)

	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 0, level.LockedStock)
	assert.Empty(t, f.queue.Pending())
}

func TestConsumerIgnoresSignalForPaidOrder(t *testing.T) {
	f := newExpirationFixture(t, true)
	consumer := ExpirationConsumer{Source: f.queue, Expire: f.expire}
	f.placeOrder(t, "O1", 5)
	_, err := commands.ChangeOrderStatusUseCase{Orders: f.store, Clock: f.clock}.Execute(context.Background(),
		commands.ChangeOrderStatusCommand{OrderID: "O1", Action: commands.OrderActionPay})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.queue.Drain(context.Background(), consumer.Handle))
	assert.Equal(t, entities.OrderStatusPaid, f.order(t, "O1").Status)

	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 15, level.TotalStock)
}

type closedSource struct{ err error }

func (s closedSource) Consume(context.Context, func(context.Context, entities.ExpirationTicket) error) error {
	return s.err
}

func TestConsumerRunReportsSourceFailure(t *testing.T) {
	consumer := ExpirationConsumer{Source: closedSource{err: context.Canceled}}
	assert.NoError(t, consumer.Run(context.Background()))

	broken := errors.New("channel closed")
	consumer = ExpirationConsumer{Source: closedSource{err: broken}}
	assert.ErrorIs(t, consumer.Run(context.Background()), broken)
}

func TestSweepCancelsOrdersWhoseSignalWasLost(t *testing.T) {
	f := newExpirationFixture(t, false)
	sweeper := ExpirationSweeper{Orders: f.store, Expire: f.expire, Locker: memory.NewEffects(), Clock: f.clock}
	f.placeOrder(t, "O1", 2)
	f.placeOrder(t, "O2", 3)
	f.clock.Advance(10 * time.Minute)
	f.placeOrder(t, "O3", 4)

	f.clock.Advance(25 * time.Minute)
	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 2, Cancelled: 2}, report)
	assert.Equal(t, entities.OrderStatusCancelled, f.order(t, "O1").Status)
	assert.Equal(t, entities.OrderStatusCancelled, f.order(t, "O2").Status)
	assert.Equal(t, entities.OrderStatusCreated, f.order(t, "O3").Status)

	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 4, level.LockedStock)

	report, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweepSkipsWhenAnotherInstanceHoldsTheLock(t *testing.T) {
	f := newExpirationFixture(t, false)
	locker := memory.NewEffects()
	sweeper := ExpirationSweeper{Orders: f.store, Expire: f.expire, Locker: locker, Clock: f.clock}
	f.placeOrder(t, "O1", 1)
	f.clock.Advance(time.Hour)

	unlock, acquired, err := locker.TryLock(context.Background(), SweepLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, entities.OrderStatusCreated, f.order(t, "O1").Status)

	require.NoError(t, unlock(context.Background()))
	report, err = sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
}

func TestSignalAndSweepRaceCancelOnce(t *testing.T) {
	f := newExpirationFixture(t, true)
	consumer := ExpirationConsumer{Source: f.queue, Expire: f.expire}
	sweeper := ExpirationSweeper{Orders: f.store, Expire: f.expire, Clock: f.clock}
	f.placeOrder(t, "O1", 6)
	f.clock.Advance(31 * time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.queue.Drain(context.Background(), consumer.Handle)
	}()
	_, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	<-done

	cancelled := 0
	for _, message := range f.store.Messages() {
		if message.EventType == entities.EventTypeOrderCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 20, level.Available())
}

func TestExpiryAfterPartialReleaseFreesTheRemainder(t *testing.T) {
	f := newExpirationFixture(t, true)
	consumer := ExpirationConsumer{Source: f.queue, Expire: f.expire}
	f.placeOrder(t, "O1", 10)

	ledger := commands.AdjustInventoryUseCase{Ledger: f.store}
	require.True(t, ledger.Release(context.Background(), "P", 4, "O1").Success)

	f.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, f.queue.Drain(context.Background(), consumer.Handle))
	assert.Empty(t, f.queue.Pending(), "ticket must be settled, not redelivered")
	assert.Equal(t, entities.OrderStatusCancelled, f.order(t, "O1").Status)

	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 0, level.LockedStock)
	assert.Equal(t, 20, level.Available())

	var released []int
	for _, message := range f.store.Messages() {
		if message.EventType == entities.EventTypeStockReleased {
			var payload entities.StockReleasedPayload
			require.NoError(t, json.Unmarshal(message.Payload, &payload))
			released = append(released, payload.Quantity)
		}
	}
	assert.Equal(t, []int{4, 6}, released)
}

func TestSweepCancelsOrderWhoseLockWasAlreadyReleased(t *testing.T) {
	f := newExpirationFixture(t, false)
	sweeper := ExpirationSweeper{Orders: f.store, Expire: f.expire, Clock: f.clock}
	f.placeOrder(t, "O1", 5)

	ledger := commands.AdjustInventoryUseCase{Ledger: f.store}
	require.True(t, ledger.Release(context.Background(), "P", 5, "O1").Success)

	f.clock.Advance(31 * time.Minute)
	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Cancelled: 1}, report)
	assert.Equal(t, entities.OrderStatusCancelled, f.order(t, "O1").Status)

	level, err := f.store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 0, level.LockedStock)
	assert.Equal(t, 20, level.TotalStock)
}

func TestSweepRunPassesImmediatelyOnStart(t *testing.T) {
	f := newExpirationFixture(t, false)
	f.placeOrder(t, "O1", 2)
	f.clock.Advance(time.Hour)

	sweeper := ExpirationSweeper{Orders: f.store, Expire: f.expire, Clock: f.clock, Interval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool {
		order, err := f.store.GetOrder(context.Background(), "O1")
		return err == nil && order.Status == entities.OrderStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
