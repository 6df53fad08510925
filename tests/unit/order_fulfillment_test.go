package unit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	orderfulfillment "ordercore/contexts/commerce-core/order-fulfillment-service"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/commands"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/handlers"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/shopspring/decimal"
)

type scenarioClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *scenarioClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *scenarioClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newScenario(seed ...entities.StockLevel) (orderfulfillment.Module, *scenarioClock) {
	clock := &scenarioClock{now: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	module := orderfulfillment.NewInMemoryModule(seed, nil)
	module.Store.SetClock(clock.Now)
	return module, clock
}

func placeOrder(t *testing.T, module orderfulfillment.Module, orderID string, productID string, qty int) {
	t.Helper()
	_, err := module.Handler.PlaceOrder.Execute(context.Background(), commands.PlaceOrderCommand{
		OrderID: orderID,
		UserID:  "buyer-1",
		Items:   []entities.OrderItem{{ProductID: productID, Quantity: qty, UnitPrice: decimal.NewFromInt(4)}},
	})
	if err != nil {
		t.Fatalf("place order %s failed: %v", orderID, err)
	}
}

func drainOutbox(t *testing.T, module orderfulfillment.Module) {
	t.Helper()
	report, err := module.Processor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("processor cycle failed: %v", err)
	}
	if report.Retried != 0 || report.Failed != 0 {
		t.Fatalf("expected clean cycle, got %+v", report)
	}
	for _, message := range module.Store.Messages() {
		if message.Status != entities.OutboxStatusCompleted {
			t.Fatalf("expected message %s (%s) completed, got %s", message.MessageID, message.EventType, message.Status)
		}
	}
}

func notificationKinds(module orderfulfillment.Module) []ports.NotificationKind {
	var kinds []ports.NotificationKind
	for _, notification := range module.Effects.Notifications() {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}

func TestOrderPaidEndToEnd(t *testing.T) {
	module, _ := newScenario(entities.StockLevel{ProductID: "sku-a", TotalStock: 50})
	ctx := context.Background()

	placeOrder(t, module, "order-1", "sku-a", 5)
	drainOutbox(t, module)

	if _, err := module.Handler.ChangeOrderStatus.Execute(ctx, commands.ChangeOrderStatusCommand{
		OrderID:       "order-1",
		Action:        commands.OrderActionPay,
		PaymentMethod: "card",
	}); err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	drainOutbox(t, module)

	level, _ := module.Store.GetStock(ctx, "sku-a")
	if level.TotalStock != 45 || level.LockedStock != 0 {
		t.Fatalf("expected 45 total and nothing locked, got %+v", level)
	}

	kinds := notificationKinds(module)
	if len(kinds) != 2 || kinds[0] != ports.NotificationOrderConfirmation || kinds[1] != ports.NotificationPaymentReceipt {
		t.Fatalf("unexpected notifications: %v", kinds)
	}
	if created := module.Effects.Counter(handlers.StatOrdersCreated); created.Count != 1 || !created.Amount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected orders_created counter: %+v", created)
	}
	if paid := module.Effects.Counter(handlers.StatOrdersPaid); paid.Count != 1 {
		t.Fatalf("unexpected orders_paid counter: %+v", paid)
	}
	if got := module.Effects.InvalidationCount(handlers.OrderCacheKey("order-1")); got < 2 {
		t.Fatalf("expected order cache invalidated per status change, got %d", got)
	}
	if len(module.Effects.Published()) != len(module.Store.Messages()) {
		t.Fatalf("expected one relayed envelope per outbox message")
	}
}

func TestUnpaidOrderExpiresAndReleasesStock(t *testing.T) {
	module, clock := newScenario(entities.StockLevel{ProductID: "sku-a", TotalStock: 50})
	ctx := context.Background()

	placeOrder(t, module, "order-1", "sku-a", 5)
	if got := module.DelayQueue.Drain(ctx, module.Consumer.Handle); got != 0 {
		t.Fatalf("expected no ticket due before expiry, got %d", got)
	}

	clock.Advance(31 * time.Minute)
	if got := module.DelayQueue.Drain(ctx, module.Consumer.Handle); got != 1 {
		t.Fatalf("expected one ticket delivered, got %d", got)
	}
	report, err := module.Sweeper.RunOnce(ctx)
	if err != nil || report.Due != 0 {
		t.Fatalf("expected nothing left for the sweep, got %+v err=%v", report, err)
	}

	order, err := module.Store.GetOrder(ctx, "order-1")
	if err != nil || order.Status != entities.OrderStatusCancelled || order.CancelReason != entities.CancelReasonExpired {
		t.Fatalf("expected expired cancellation, got %+v err=%v", order, err)
	}
	level, _ := module.Store.GetStock(ctx, "sku-a")
	if level.Available() != 50 {
		t.Fatalf("expected all stock available again, got %+v", level)
	}

	drainOutbox(t, module)
	var cancelled []ports.Notification
	for _, notification := range module.Effects.Notifications() {
		if notification.Kind == ports.NotificationOrderCancelled {
			cancelled = append(cancelled, notification)
		}
	}
	if len(cancelled) != 1 || !strings.Contains(cancelled[0].Message, "payment was not received in time") {
		t.Fatalf("unexpected cancellation notifications: %+v", cancelled)
	}
}

func TestLowStockAlertAfterLock(t *testing.T) {
	module, _ := newScenario(entities.StockLevel{ProductID: "sku-a", TotalStock: 12})

	placeOrder(t, module, "order-1", "sku-a", 3)
	drainOutbox(t, module)

	var alerts int
	for _, notification := range module.Effects.Notifications() {
		if notification.Kind == ports.NotificationLowStockAlert && notification.ProductID == "sku-a" {
			alerts++
		}
	}
	if alerts != 1 {
		t.Fatalf("expected one low stock alert, got %d", alerts)
	}
}

func TestBatchUpdateAppliesIndependently(t *testing.T) {
	module, _ := newScenario(
		entities.StockLevel{ProductID: "sku-a", TotalStock: 50},
		entities.StockLevel{ProductID: "sku-b", TotalStock: 2},
	)
	result := module.Handler.AdjustInventory.BatchUpdate(context.Background(), []entities.StockOperation{
		{Kind: entities.StockOperationLock, ProductID: "sku-a", OrderID: "A", Quantity: 5},
		{Kind: entities.StockOperationLock, ProductID: "sku-b", OrderID: "A", Quantity: 3},
		{Kind: entities.StockOperationLock, ProductID: "sku-a", OrderID: "B", Quantity: 10},
	})
	if result.Success || len(result.Results) != 3 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
	if !result.Results[0].Success || result.Results[1].Success || !result.Results[2].Success {
		t.Fatalf("expected only the sku-b lock to fail: %+v", result.Results)
	}

	level, _ := module.Store.GetStock(context.Background(), "sku-a")
	if level.LockedStock != 15 || level.Available() != 35 {
		t.Fatalf("expected 15 locked and 35 available, got %+v", level)
	}
}
