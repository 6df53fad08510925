package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentLocksNeverOversell(t *testing.T) {
	store := NewStore([]entities.StockLevel{{ProductID: "P", TotalStock: 10}})
	var granted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.ApplyStockOperation(context.Background(), entities.StockOperation{
				Kind:      entities.StockOperationLock,
				ProductID: "P",
				OrderID:   fmt.Sprintf("order-%d", i),
				Quantity:  1,
			})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, domainerrors.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	assert.Equal(t, int32(40), rejected.Load())
	level, err := store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 10, level.LockedStock)
	assert.Equal(t, 0, level.Available())

	locked := 0
	for _, message := range store.Messages() {
		if message.EventType == entities.EventTypeStockLocked {
			locked++
		}
	}
	assert.Equal(t, 10, locked)
}

func TestOrdersAcrossSharedProductsDoNotDeadlock(t *testing.T) {
	store := NewStore([]entities.StockLevel{
		{ProductID: "A", TotalStock: 100},
		{ProductID: "B", TotalStock: 100},
	})
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		items := []entities.OrderItem{
			{ProductID: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
			{ProductID: "B", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		order, err := services.NewOrder(fmt.Sprintf("order-%d", i), "user", items, now, time.Minute)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.PlaceOrder(context.Background(), order, []entities.DomainEvent{services.OrderCreatedEvent(order)}))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent placements deadlocked")
	}

	for _, productID := range []string{"A", "B"} {
		level, err := store.GetStock(context.Background(), productID)
		require.NoError(t, err)
		assert.Equal(t, 20, level.LockedStock, productID)
	}
}

func TestPlaceOrderRejectionLeavesNoPartialLock(t *testing.T) {
	store := NewStore([]entities.StockLevel{
		{ProductID: "A", TotalStock: 5},
		{ProductID: "B", TotalStock: 1},
	})
	order, err := services.NewOrder("order-1", "user", []entities.OrderItem{
		{ProductID: "A", Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
		{ProductID: "B", Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
	}, time.Now(), time.Minute)
	require.NoError(t, err)

	err = store.PlaceOrder(context.Background(), order, []entities.DomainEvent{services.OrderCreatedEvent(order)})
	require.ErrorIs(t, err, domainerrors.ErrInsufficientStock)

	level, _ := store.GetStock(context.Background(), "A")
	assert.Equal(t, 0, level.LockedStock)
	assert.Empty(t, store.Messages())
	_, err = store.GetOrder(context.Background(), "order-1")
	assert.ErrorIs(t, err, domainerrors.ErrOrderNotFound)
}

func TestClaimBatchFlipsEachRowOnce(t *testing.T) {
	store := NewStore(nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		message, err := entities.NewOutboxMessage(fmt.Sprintf("m-%02d", i), entities.DomainEvent{
			Type:    entities.EventTypeOrderPaid,
			Payload: entities.OrderPaidPayload{OrderID: "order-1"},
		}, now)
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), message))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := store.ClaimBatch(context.Background(), 4, now, ports.ClaimScopeAll)
				assert.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, message := range claimed {
					seen[message.MessageID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 30)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
}

func TestEventMarkersExpire(t *testing.T) {
	store := NewStore(nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	duplicate, err := store.ReserveEvent(context.Background(), "evt:notification", "hash-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, duplicate)

	_, err = store.ReserveEvent(context.Background(), "evt:notification", "hash-a", now.Add(time.Minute))
	assert.ErrorIs(t, err, domainerrors.ErrEventInProgress)

	require.NoError(t, store.CompleteEvent(context.Background(), "evt:notification", now.Add(time.Hour)))
	duplicate, err = store.ReserveEvent(context.Background(), "evt:notification", "hash-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, duplicate)

	_, err = store.ReserveEvent(context.Background(), "evt:notification", "hash-b", now.Add(time.Minute))
	assert.ErrorIs(t, err, domainerrors.ErrIdempotencyKeyConflict)

	now = now.Add(2 * time.Hour)
	duplicate, err = store.ReserveEvent(context.Background(), "evt:notification", "hash-b", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, duplicate)

	assert.ErrorIs(t, store.CompleteEvent(context.Background(), "evt:missing", now), domainerrors.ErrEventMarkerNotFound)
}

func TestLapsedLeaseIsTakenOver(t *testing.T) {
	store := NewStore(nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	_, err := store.ReserveEvent(context.Background(), "evt:notification", "hash-a", now.Add(30*time.Second))
	require.NoError(t, err)

	now = now.Add(time.Minute)
	duplicate, err := store.ReserveEvent(context.Background(), "evt:notification", "hash-a", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, duplicate)
}

func TestCompleteAndFailRequireAHeldClaim(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	message, err := entities.NewOutboxMessage("m1", entities.DomainEvent{
		Type:    entities.EventTypeOrderPaid,
		Payload: entities.OrderPaidPayload{OrderID: "o1"},
	}, now)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, message))

	assert.ErrorIs(t, store.Complete(ctx, "m1", now), domainerrors.ErrOutboxClaimLost)
	assert.ErrorIs(t, store.Fail(ctx, "m1", "boom", nil, now), domainerrors.ErrOutboxClaimLost)
	assert.ErrorIs(t, store.Complete(ctx, "missing", now), domainerrors.ErrOutboxMessageNotFound)

	_, err = store.ClaimBatch(ctx, 10, now, ports.ClaimScopePending)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "m1", now))
	assert.ErrorIs(t, store.Complete(ctx, "m1", now), domainerrors.ErrOutboxClaimLost)

	stored, ok := store.GetMessage("m1")
	require.True(t, ok)
	assert.Equal(t, entities.OutboxStatusCompleted, stored.Status)
}

func TestReservedOverrideAppendsInventoryEvent(t *testing.T) {
	store := NewStore([]entities.StockLevel{{ProductID: "P", TotalStock: 10, LockedStock: 2}})
	ctx := context.Background()

	_, err := store.SetReservedStock(ctx, "P", 9)
	require.ErrorIs(t, err, domainerrors.ErrInsufficientStock)
	assert.Empty(t, store.Messages())

	level, err := store.SetReservedStock(ctx, "P", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, level.Available())

	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, entities.EventTypeInventoryUpdated, messages[0].EventType)
	var payload entities.InventoryUpdatedPayload
	require.NoError(t, json.Unmarshal(messages[0].Payload, &payload))
	assert.Equal(t, entities.InventoryReservedOverride, payload.OperationType)
	assert.Equal(t, 3, payload.ReservedStock)
	assert.Equal(t, 5, payload.AvailableStock)
	assert.Equal(t, 3, payload.Quantity)
}
