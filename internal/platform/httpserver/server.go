package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	orderfulfillment "ordercore/contexts/commerce-core/order-fulfillment-service"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	orderhttp "ordercore/contexts/commerce-core/order-fulfillment-service/transport/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	_ "ordercore/internal/platform/httpserver/docs"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	addr    string
	orders  orderfulfillment.Module
	checks  map[string]HealthCheck
	metrics http.Handler
}

type Option func(*Server)

// WithHealthCheck adds a dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if name != "" && check != nil {
			s.checks[name] = check
		}
	}
}

// WithMetricsHandler overrides the /metrics handler; the default serves
// the process-wide Prometheus registry.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		if handler != nil {
			s.metrics = handler
		}
	}
}

func New(
	orders orderfulfillment.Module,
	logger *slog.Logger,
	addr string,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := newServer(logger, addr, opts)
	s.orders = orders
	s.registerRoutes()
	return s
}

// NewOps serves only /healthz and /metrics; the worker process uses it.
func NewOps(logger *slog.Logger, addr string, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":9090"
	}
	return newServer(logger, addr, opts)
}

func newServer(logger *slog.Logger, addr string, opts []Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		checks:  make(map[string]HealthCheck),
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.mux.Handle("GET /metrics", s.metrics)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed mux for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/orders", s.handlePlaceOrder)
	s.mux.HandleFunc("GET /v1/orders/{order_id}", s.handleGetOrder)
	s.mux.HandleFunc("POST /v1/orders/{order_id}/pay", s.handlePayOrder)
	s.mux.HandleFunc("POST /v1/orders/{order_id}/cancel", s.handleCancelOrder)
	s.mux.HandleFunc("POST /v1/orders/{order_id}/ship", s.handleShipOrder)
	s.mux.HandleFunc("POST /v1/orders/{order_id}/deliver", s.handleDeliverOrder)

	s.mux.HandleFunc("GET /v1/inventory", s.handleListInventory)
	s.mux.HandleFunc("GET /v1/inventory/{product_id}", s.handleGetInventory)
	s.mux.HandleFunc("GET /v1/inventory/{product_id}/check", s.handleCheckStock)
	s.mux.HandleFunc("PUT /v1/inventory/{product_id}/reserved", s.handleSetReservedStock)
	s.mux.HandleFunc("POST /v1/inventory/operations", s.handleStockOperation)
	s.mux.HandleFunc("POST /v1/inventory/batch", s.handleBatchUpdate)

	s.mux.HandleFunc("GET /v1/admin/outbox/failed", s.handleListFailedOutbox)
	s.mux.HandleFunc("GET /v1/admin/outbox/backlog", s.handleOutboxBacklog)
	s.mux.HandleFunc("POST /v1/admin/outbox/{message_id}/requeue", s.handleRequeueOutbox)
	s.mux.HandleFunc("GET /v1/admin/stock-transactions", s.handleListStockTransactions)
	s.mux.HandleFunc("GET /v1/admin/stock-transactions/{transaction_id}", s.handleGetStockTransaction)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	report := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": report})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	var req orderhttp.PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.PlaceOrderHandler(r.Context(), userID, req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.GetOrderHandler(r.Context(), r.PathValue("order_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.PayOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.PayOrderHandler(r.Context(), r.PathValue("order_id"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.CancelOrderRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.CancelOrderHandler(r.Context(), r.PathValue("order_id"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.ShipOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.ShipOrderHandler(r.Context(), r.PathValue("order_id"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.DeliverOrderHandler(r.Context(), r.PathValue("order_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.ListInventoryHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.GetInventoryHandler(r.Context(), r.PathValue("product_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_qty", "qty must be an integer")
		return
	}
	resp, err := s.orders.Handler.CheckStockHandler(r.Context(), r.PathValue("product_id"), qty)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetReservedStock(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.SetReservedStockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.SetReservedStockHandler(r.Context(), r.PathValue("product_id"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStockOperation(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.StockOperationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.ApplyStockOperationHandler(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req orderhttp.BatchUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orders.Handler.BatchUpdateHandler(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFailedOutbox(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	resp, err := s.orders.Handler.ListFailedOutboxHandler(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOutboxBacklog(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.OutboxBacklogHandler(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequeueOutbox(w http.ResponseWriter, r *http.Request) {
	actorID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if actorID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	if err := s.orders.Handler.RequeueOutboxHandler(r.Context(), actorID, r.PathValue("message_id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStockTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	resp, err := s.orders.Handler.ListStockTransactionsHandler(r.Context(), query.Get("product_id"), query.Get("operation"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetStockTransaction(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orders.Handler.GetStockTransactionHandler(r.Context(), r.PathValue("transaction_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryLimit reads an optional integer limit; zero means the use case default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return 0, false
	}
	return limit, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrOutboxMessageNotFound):
		writeError(w, http.StatusNotFound, "outbox_message_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrStockTransactionNotFound):
		writeError(w, http.StatusNotFound, "stock_transaction_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidQueryLimit):
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidOrderRequest):
		writeError(w, http.StatusBadRequest, "invalid_order_request", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidStockOperation),
		errors.Is(err, domainerrors.ErrUnknownStockOperation):
		writeError(w, http.StatusBadRequest, "invalid_stock_operation", err.Error())
	case errors.Is(err, domainerrors.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, domainerrors.ErrReservationConflict),
		errors.Is(err, domainerrors.ErrReservationNotFound),
		errors.Is(err, domainerrors.ErrReleaseExceedsLock):
		writeError(w, http.StatusConflict, "stock_lock_conflict", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidOrderTransition):
		writeError(w, http.StatusConflict, "invalid_order_transition", err.Error())
	case errors.Is(err, domainerrors.ErrOutboxMessageNotFailed):
		writeError(w, http.StatusConflict, "outbox_message_not_failed", err.Error())
	default:
		s.logger.Error("request failed",
			"event", "http_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, orderhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
