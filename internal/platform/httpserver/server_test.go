package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	orderfulfillment "ordercore/contexts/commerce-core/order-fulfillment-service"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	orderhttp "ordercore/contexts/commerce-core/order-fulfillment-service/transport/http"
)

func newTestServer() (*Server, orderfulfillment.Module) {
	module := orderfulfillment.NewInMemoryModule([]entities.StockLevel{
		{ProductID: "sku-a", TotalStock: 10},
		{ProductID: "sku-b", TotalStock: 3},
	}, nil)
	return New(module, nil, ""), module
}

func doJSON(t *testing.T, server *Server, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "user-1")
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	return rr
}

func TestPlaceOrderRequiresUser(t *testing.T) {
	server, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"items":[]}`))
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	server, module := newTestServer()

	rr := doJSON(t, server, http.MethodPost, "/v1/orders",
		`{"order_id":"order-1","items":[{"product_id":"sku-a","quantity":4,"unit_price":"2.50"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var placed orderhttp.PlaceOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &placed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if placed.Order.TotalAmount != "10.00" || placed.Order.Status != "created" || !placed.ExpirationArmed {
		t.Fatalf("unexpected placed order: %+v", placed)
	}
	if len(module.DelayQueue.Pending()) != 1 {
		t.Fatalf("expected one armed expiration ticket")
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/inventory/sku-a/check?qty=7", "")
	var check orderhttp.StockCheckResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &check)
	if rr.Code != http.StatusOK || check.Satisfiable || check.Available != 6 {
		t.Fatalf("unexpected stock check %d: %+v", rr.Code, check)
	}

	rr = doJSON(t, server, http.MethodPost, "/v1/orders/order-1/pay", `{"payment_method":"card"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/orders/order-1/ship", `{"tracking_number":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tracking number, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/orders/order-1/cancel", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a paid order, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/inventory/sku-a", "")
	var level orderhttp.StockLevelDTO
	_ = json.Unmarshal(rr.Body.Bytes(), &level)
	if level.TotalStock != 6 || level.LockedStock != 0 || level.AvailableStock != 6 {
		t.Fatalf("unexpected level after payment: %+v", level)
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/orders/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPlaceOrderInsufficientStockConflicts(t *testing.T) {
	server, module := newTestServer()
	rr := doJSON(t, server, http.MethodPost, "/v1/orders",
		`{"items":[{"product_id":"sku-a","quantity":1,"unit_price":"1"},{"product_id":"sku-b","quantity":4,"unit_price":"1"}]}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	level, _ := module.Store.GetStock(context.Background(), "sku-a")
	if level.LockedStock != 0 {
		t.Fatalf("expected no partial lock, got %+v", level)
	}

	rr = doJSON(t, server, http.MethodPost, "/v1/orders", `{"items":[{"product_id":"sku-a","quantity":1,"unit_price":"abc"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad price, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/orders", `{`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
}

func TestBatchUpdateReportsPerOperation(t *testing.T) {
	server, _ := newTestServer()
	rr := doJSON(t, server, http.MethodPost, "/v1/inventory/batch", `{"operations":[
		{"kind":"lock","product_id":"sku-a","quantity":2,"order_id":"A"},
		{"kind":"lock","product_id":"sku-b","quantity":9,"order_id":"A"},
		{"kind":"restore","product_id":"sku-b","quantity":1}
	]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp orderhttp.BatchUpdateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.FailedCount != 1 || len(resp.Results) != 3 {
		t.Fatalf("unexpected batch response: %+v", resp)
	}
	if !resp.Results[0].Success || resp.Results[1].Success || resp.Results[1].Error == "" || !resp.Results[2].Success {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if resp.Results[2].Level.TotalStock != 4 {
		t.Fatalf("expected restore to add stock, got %+v", resp.Results[2].Level)
	}

	rr = doJSON(t, server, http.MethodPost, "/v1/inventory/operations", `{"kind":"teleport","product_id":"sku-a","quantity":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rr.Code)
	}
}

func TestSetReservedStockGuardsAvailability(t *testing.T) {
	server, _ := newTestServer()
	rr := doJSON(t, server, http.MethodPut, "/v1/inventory/sku-b/reserved", `{"reserved_stock":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPut, "/v1/inventory/sku-b/reserved", `{"reserved_stock":4}`)
	if rr.Code == http.StatusOK {
		t.Fatalf("expected reservation above total stock to fail")
	}
}

func TestRequeueFailedOutboxMessage(t *testing.T) {
	server, module := newTestServer()
	message, err := entities.NewOutboxMessage("msg-1", entities.DomainEvent{
		Type:    entities.EventTypeOrderPaid,
		Payload: entities.OrderPaidPayload{OrderID: "order-1"},
	}, time.Now())
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	message.Status = entities.OutboxStatusFailed
	message.RetryCount = 6
	if err := module.Store.Append(context.Background(), message); err != nil {
		t.Fatalf("append: %v", err)
	}

	rr := doJSON(t, server, http.MethodGet, "/v1/admin/outbox/failed?limit=10", "")
	var failed orderhttp.ListFailedOutboxResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &failed)
	if rr.Code != http.StatusOK || len(failed.Items) != 1 || failed.Items[0].MessageID != "msg-1" {
		t.Fatalf("unexpected failed list %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/v1/admin/outbox/msg-1/requeue", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/admin/outbox/msg-1/requeue", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second requeue, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/admin/outbox/unknown/requeue", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStockTransactionHistoryOverHTTP(t *testing.T) {
	server, _ := newTestServer()
	rr := doJSON(t, server, http.MethodPost, "/v1/orders",
		`{"order_id":"order-1","items":[{"product_id":"sku-a","quantity":2,"unit_price":"1.00"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/orders/order-1/cancel", `{"reason":"changed mind"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/admin/stock-transactions?product_id=sku-a", "")
	var history orderhttp.ListStockTransactionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || len(history.Items) != 2 {
		t.Fatalf("unexpected history %d: %s", rr.Code, rr.Body.String())
	}
	if history.Items[0].OperationType != "release" || history.Items[1].OperationType != "lock" {
		t.Fatalf("expected release after lock, got %+v", history.Items)
	}
	if history.Items[1].OrderID != "order-1" || history.Items[1].LockedStock != 2 {
		t.Fatalf("unexpected lock row: %+v", history.Items[1])
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/admin/stock-transactions?operation=lock&limit=5", "")
	var locks orderhttp.ListStockTransactionsResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &locks)
	if rr.Code != http.StatusOK || len(locks.Items) != 1 {
		t.Fatalf("unexpected lock history %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/admin/stock-transactions/"+locks.Items[0].TransactionID, "")
	var single orderhttp.StockTransactionDTO
	_ = json.Unmarshal(rr.Body.Bytes(), &single)
	if rr.Code != http.StatusOK || single.TransactionID != locks.Items[0].TransactionID {
		t.Fatalf("unexpected single row %d: %s", rr.Code, rr.Body.String())
	}

	for path, want := range map[string]int{
		"/v1/admin/stock-transactions?limit=1001":         http.StatusBadRequest,
		"/v1/admin/stock-transactions?limit=-3":           http.StatusBadRequest,
		"/v1/admin/stock-transactions?limit=ten":          http.StatusBadRequest,
		"/v1/admin/stock-transactions?operation=teleport": http.StatusBadRequest,
		"/v1/admin/stock-transactions/missing":            http.StatusNotFound,
	} {
		if rr := doJSON(t, server, http.MethodGet, path, ""); rr.Code != want {
			t.Fatalf("%s: expected %d, got %d body=%s", path, want, rr.Code, rr.Body.String())
		}
	}
}

func TestHealthReportsFailingDependency(t *testing.T) {
	server := NewOps(nil, "",
		WithHealthCheck("postgres", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("expected failing check in body: %s", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rr.Code)
	}
}
