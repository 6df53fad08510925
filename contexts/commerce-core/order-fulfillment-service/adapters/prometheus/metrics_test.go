package prometheusadapter

import (
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	metrics.ObserveDispatch(entities.EventTypeOrderCreated, "completed", 20*time.Millisecond)
	metrics.ObserveDispatch(entities.EventTypeOrderCreated, "retry", 5*time.Millisecond)
	metrics.ObserveDispatch(entities.EventTypeOrderCreated, "completed", time.Millisecond)
	metrics.SetOutboxBacklog(entities.OutboxStatusPending, 7)
	metrics.AddRecovered(2)
	metrics.AddRecovered(0)
	metrics.AddPurged(4)
	metrics.ObserveStockOperation(entities.StockOperationLock, "rejected")
	metrics.ObserveExpiration("sweep", "cancelled")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("order.created", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("order.created", "retry")))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.OutboxBacklog.WithLabelValues(entities.OutboxStatusPending.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OutboxRecovered))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.OutboxPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StockOperations.WithLabelValues("lock", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExpirationOutcomes.WithLabelValues("sweep", "cancelled")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.DispatchDuration))
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewMetrics(registry)
	require.NoError(t, err)
	_, err = NewMetrics(registry)
	assert.Error(t, err)
}
