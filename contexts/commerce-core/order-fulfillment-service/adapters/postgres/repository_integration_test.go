//go:build integration

package postgresadapter

import (
	"context"
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
	"ordercore/internal/platform/db"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := db.Connect(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, pg.Migrate(db.MigrateUp))

	return NewRepository(pg.DB, nil)
}

func restock(t *testing.T, repo *Repository, productID string, qty int) {
	t.Helper()
	_, err := repo.ApplyStockOperation(context.Background(), entities.StockOperation{
		Kind:      entities.StockOperationRestore,
		ProductID: productID,
		Quantity:  qty,
	})
	require.NoError(t, err)
}

func TestIntegration_LedgerRowLockPreventsOversell(t *testing.T) {
	repo := setupRepository(t)
	restock(t, repo, "P", 10)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.ApplyStockOperation(context.Background(), entities.StockOperation{
				Kind:      entities.StockOperationLock,
				ProductID: "P",
				OrderID:   fmt.Sprintf("order-%d", i),
				Quantity:  1,
			})
			if err == nil {
				granted.Add(1)
				return
			}
			if !errors.Is(err, domainerrors.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	level, err := repo.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, 10, level.LockedStock)
	assert.Equal(t, 0, level.Available())
}

func TestIntegration_OrderLifecycleWritesOutboxInSameTransaction(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	restock(t, repo, "A", 5)
	restock(t, repo, "B", 1)
	now := time.Now().UTC()

	rejected, err := services.NewOrder("order-x", "user", []entities.OrderItem{
		{ProductID: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(2)},
		{ProductID: "B", Quantity: 3, UnitPrice: decimal.NewFromInt(2)},
	}, now, time.Minute)
	require.NoError(t, err)
	err = repo.PlaceOrder(ctx, rejected, []entities.DomainEvent{services.OrderCreatedEvent(rejected)})
	require.ErrorIs(t, err, domainerrors.ErrInsufficientStock)
	_, err = repo.GetOrder(ctx, "order-x")
	require.ErrorIs(t, err, domainerrors.ErrOrderNotFound)

	order, err := services.NewOrder("order-1", "user", []entities.OrderItem{
		{ProductID: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("4.25")},
	}, now.Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.PlaceOrder(ctx, order, []entities.DomainEvent{services.OrderCreatedEvent(order)}))

	due, err := repo.ListDueOrders(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, decimal.RequireFromString("8.50").Equal(due[0].TotalAmount))

	cancelled, err := repo.TransitionOrder(ctx, services.OrderTransition{
		OrderID:    "order-1",
		Target:     entities.OrderStatusCancelled,
		Reason:     entities.CancelReasonExpired,
		RequireDue: true,
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusCancelled, cancelled.Status)

	_, err = repo.TransitionOrder(ctx, services.OrderTransition{
		OrderID: "order-1", Target: entities.OrderStatusCancelled, RequireDue: true, At: now,
	})
	assert.ErrorIs(t, err, domainerrors.ErrOrderAlreadyInState)

	level, err := repo.GetStock(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, level.LockedStock)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Positive(t, counts[entities.OutboxStatusPending])
}

func TestIntegration_ReservedOverrideWritesOutboxEvent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	restock(t, repo, "A", 10)

	before, err := repo.CountByStatus(ctx)
	require.NoError(t, err)

	level, err := repo.SetReservedStock(ctx, "A", 4)
	require.NoError(t, err)
	assert.Equal(t, 6, level.Available())

	after, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, before[entities.OutboxStatusPending]+1, after[entities.OutboxStatusPending])

	_, err = repo.SetReservedStock(ctx, "A", 11)
	require.ErrorIs(t, err, domainerrors.ErrInsufficientStock)
	unchanged, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, after[entities.OutboxStatusPending], unchanged[entities.OutboxStatusPending])
}

func TestIntegration_StockTransactionsFollowCommittedChanges(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	restock(t, repo, "A", 4)
	_, err := repo.ApplyStockOperation(ctx, entities.StockOperation{
		Kind: entities.StockOperationLock, ProductID: "A", OrderID: "order-1", Quantity: 3,
	})
	require.NoError(t, err)
	_, err = repo.ApplyStockOperation(ctx, entities.StockOperation{
		Kind: entities.StockOperationLock, ProductID: "A", OrderID: "order-2", Quantity: 3,
	})
	require.ErrorIs(t, err, domainerrors.ErrInsufficientStock)

	history, err := repo.ListStockTransactions(ctx, entities.StockTransactionFilter{ProductID: "A", Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entities.StockOperationLock, history[0].Kind)
	assert.Equal(t, "order-1", history[0].OrderID)
	assert.Equal(t, 3, history[0].LockedStock)

	restores, err := repo.ListStockTransactions(ctx, entities.StockTransactionFilter{Kind: entities.StockOperationRestore, Limit: 10})
	require.NoError(t, err)
	require.Len(t, restores, 1)
	assert.Equal(t, 4, restores[0].NewStock)

	got, err := repo.GetStockTransaction(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, got.ID)
	_, err = repo.GetStockTransaction(ctx, "missing")
	assert.ErrorIs(t, err, domainerrors.ErrStockTransactionNotFound)
}

func TestIntegration_OutboxClaimRetryAndRequeue(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	message, err := entities.NewOutboxMessage("msg-1", entities.DomainEvent{
		Type:    entities.EventTypeOrderPaid,
		Payload: entities.OrderPaidPayload{OrderID: "order-1"},
	}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, message))
	require.NoError(t, repo.Append(ctx, message))

	claimed, err := repo.ClaimBatch(ctx, 10, now, ports.ClaimScopePending)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	again, err := repo.ClaimBatch(ctx, 10, now, ports.ClaimScopeAll)
	require.NoError(t, err)
	assert.Empty(t, again)

	next := now.Add(time.Minute)
	require.NoError(t, repo.Fail(ctx, "msg-1", "timeout", &next, now))
	retry, err := repo.ClaimBatch(ctx, 10, now, ports.ClaimScopeRetryDue)
	require.NoError(t, err)
	assert.Empty(t, retry)
	retry, err = repo.ClaimBatch(ctx, 10, next, ports.ClaimScopeRetryDue)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 1, retry[0].RetryCount)

	require.NoError(t, repo.Fail(ctx, "msg-1", "still failing", nil, now))
	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	assert.ErrorIs(t, repo.Complete(ctx, "msg-1", now), domainerrors.ErrOutboxClaimLost)
	assert.ErrorIs(t, repo.Complete(ctx, "msg-missing", now), domainerrors.ErrOutboxMessageNotFound)

	require.NoError(t, repo.Requeue(ctx, "msg-1", now))
	assert.ErrorIs(t, repo.Requeue(ctx, "msg-1", now), domainerrors.ErrOutboxMessageNotFailed)

	claimed, err = repo.ClaimBatch(ctx, 10, now, ports.ClaimScopeRetryDue)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	recovered, err := repo.RecoverStuck(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
}

func TestIntegration_EventDedupMarkers(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	duplicate, err := repo.ReserveEvent(ctx, "evt:notification", "hash", expires)
	require.NoError(t, err)
	assert.False(t, duplicate)

	_, err = repo.ReserveEvent(ctx, "evt:notification", "hash", expires)
	assert.ErrorIs(t, err, domainerrors.ErrEventInProgress)

	require.NoError(t, repo.CompleteEvent(ctx, "evt:notification", expires))
	duplicate, err = repo.ReserveEvent(ctx, "evt:notification", "hash", expires)
	require.NoError(t, err)
	assert.True(t, duplicate)

	_, err = repo.ReserveEvent(ctx, "evt:notification", "other", expires)
	assert.ErrorIs(t, err, domainerrors.ErrIdempotencyKeyConflict)

	require.NoError(t, repo.ReleaseEvent(ctx, "evt:notification"))
	duplicate, err = repo.ReserveEvent(ctx, "evt:notification", "other", expires)
	require.NoError(t, err)
	assert.False(t, duplicate)

	assert.ErrorIs(t, repo.CompleteEvent(ctx, "evt:missing", expires), domainerrors.ErrEventMarkerNotFound)

	// A lease that lapsed is taken over by the next run.
	_, err = repo.ReserveEvent(ctx, "evt:lapsed", "hash", time.Now().Add(-time.Second))
	require.NoError(t, err)
	duplicate, err = repo.ReserveEvent(ctx, "evt:lapsed", "hash", expires)
	require.NoError(t, err)
	assert.False(t, duplicate)
}
