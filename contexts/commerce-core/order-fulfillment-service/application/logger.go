package application

import (
	"log/slog"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const ModuleName = "commerce-core/order-fulfillment-service"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func ResolveNow(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}

func ResolveMetrics(metrics ports.Metrics) ports.Metrics {
	if metrics != nil {
		return metrics
	}
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) ObserveDispatch(entities.EventType, string, time.Duration) {}
func (nopMetrics) SetOutboxBacklog(entities.OutboxStatus, int)               {}
func (nopMetrics) AddRecovered(int)                                          {}
func (nopMetrics) AddPurged(int)                                             {}
func (nopMetrics) ObserveStockOperation(entities.StockOperationKind, string) {}
func (nopMetrics) ObserveExpiration(string, string)                          {}
