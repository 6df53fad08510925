package prometheusadapter

import (
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports worker and ledger outcomes.
type Metrics struct {
	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	OutboxBacklog      *prometheus.GaugeVec
	OutboxRecovered    prometheus.Counter
	OutboxPurged       prometheus.Counter
	StockOperations    *prometheus.CounterVec
	ExpirationOutcomes *prometheus.CounterVec
}

// NewMetrics registers the collectors on registerer; a nil registerer uses
// the default registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_outbox_dispatch_total",
				Help: "Outbox dispatch attempts by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ordercore_outbox_dispatch_duration_seconds",
				Help:    "Handler latency per outbox dispatch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		OutboxBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ordercore_outbox_messages",
				Help: "Outbox rows per status as of the last processor cycle",
			},
			[]string{"status"},
		),
		OutboxRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_outbox_recovered_total",
			Help: "Processing rows returned to Pending after exceeding the stuck threshold",
		}),
		OutboxPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordercore_outbox_purged_total",
			Help: "Completed rows removed by retention cleanup",
		}),
		StockOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_stock_operations_total",
				Help: "Ledger operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ExpirationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_order_expirations_total",
				Help: "Order expiration attempts by source and outcome",
			},
			[]string{"source", "outcome"},
		),
	}

	for _, collector := range []prometheus.Collector{
		metrics.DispatchTotal,
		metrics.DispatchDuration,
		metrics.OutboxBacklog,
		metrics.OutboxRecovered,
		metrics.OutboxPurged,
		metrics.StockOperations,
		metrics.ExpirationOutcomes,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) ObserveDispatch(eventType entities.EventType, outcome string, elapsed time.Duration) {
	m.DispatchTotal.WithLabelValues(string(eventType), outcome).Inc()
	m.DispatchDuration.WithLabelValues(string(eventType)).Observe(elapsed.Seconds())
}

func (m *Metrics) SetOutboxBacklog(status entities.OutboxStatus, count int) {
	m.OutboxBacklog.WithLabelValues(status.String()).Set(float64(count))
}

func (m *Metrics) AddRecovered(count int) {
	if count > 0 {
		m.OutboxRecovered.Add(float64(count))
	}
}

func (m *Metrics) AddPurged(count int) {
	if count > 0 {
		m.OutboxPurged.Add(float64(count))
	}
}

func (m *Metrics) ObserveStockOperation(kind entities.StockOperationKind, outcome string) {
	m.StockOperations.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) ObserveExpiration(source string, outcome string) {
	m.ExpirationOutcomes.WithLabelValues(source, outcome).Inc()
}
