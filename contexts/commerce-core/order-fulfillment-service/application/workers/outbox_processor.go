package workers

import (
	"context"
	"log/slog"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultPendingBatch    = 50
	defaultRetryBatch      = 20
	defaultConcurrency     = 4
	defaultStuckAfter      = 5 * time.Minute
	defaultRetention       = 7 * 24 * time.Hour
	defaultCleanupInterval = time.Hour
)

// CycleReport summarizes one processor tick.
type CycleReport struct {
	Recovered int
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	ClaimLost int
	Errors    int
}

// OutboxProcessor claims due messages and hands them to the publisher. Any
// number of processors may share one outbox table; the status claim keeps
// each message with a single owner.
type OutboxProcessor struct {
	Outbox          ports.OutboxStore
	Publisher       OutboxPublisher
	PollInterval    time.Duration
	PendingBatch    int
	RetryBatch      int
	Concurrency     int
	StuckAfter      time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	Clock           ports.Clock
	Metrics         ports.Metrics
	Logger          *slog.Logger
}

// Run ticks until ctx is done. Messages claimed before cancellation are
// finished so none is left in Processing.
func (p OutboxProcessor) Run(ctx context.Context) error {
	logger := application.ResolveLogger(p.Logger)
	poll := p.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	cleanupEvery := p.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = defaultCleanupInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	logger.Info("outbox processor started",
		"event", "order_fulfillment_outbox_processor_started",
		"module", application.ModuleName,
		"layer", "worker",
		"poll_interval", poll.String(),
		"cleanup_interval", cleanupEvery.String(),
	)

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("outbox processor cycle failed",
				"event", "order_fulfillment_outbox_cycle_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			logger.Info("outbox processor stopped",
				"event", "order_fulfillment_outbox_processor_stopped",
				"module", application.ModuleName,
				"layer", "worker",
			)
			return nil
		case <-cleanup.C:
			if _, err := p.Cleanup(ctx); err != nil && ctx.Err() == nil {
				logger.Error("outbox cleanup failed",
					"event", "order_fulfillment_outbox_cleanup_failed",
					"module", application.ModuleName,
					"layer", "worker",
					"error", err.Error(),
				)
			}
		case <-ticker.C:
		}
	}
}

// RunOnce recovers stuck claims, then claims pending and retry-due messages
// in separate batches and publishes them with bounded concurrency.
func (p OutboxProcessor) RunOnce(ctx context.Context) (CycleReport, error) {
	logger := application.ResolveLogger(p.Logger)
	metrics := application.ResolveMetrics(p.Metrics)
	report := CycleReport{}
	now := application.ResolveNow(p.Clock)

	stuckAfter := p.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	recovered, err := p.Outbox.RecoverStuck(ctx, now.Add(-stuckAfter))
	if err != nil {
		return report, err
	}
	report.Recovered = recovered
	if recovered > 0 {
		metrics.AddRecovered(recovered)
		logger.Warn("stuck outbox messages recovered",
			"event", "order_fulfillment_outbox_recovered",
			"module", application.ModuleName,
			"layer", "worker",
			"recovered_count", recovered,
		)
	}

	pending, err := p.Outbox.ClaimBatch(ctx, positiveOr(p.PendingBatch, defaultPendingBatch), now, ports.ClaimScopePending)
	if err != nil {
		return report, err
	}
	retryDue, err := p.Outbox.ClaimBatch(ctx, positiveOr(p.RetryBatch, defaultRetryBatch), now, ports.ClaimScopeRetryDue)
	claimed := append(pending, retryDue...)
	report.Claimed = len(claimed)
	if err != nil {
		// Already-claimed pending messages are still published below.
		logger.Error("outbox retry claim failed",
			"event", "order_fulfillment_outbox_retry_claim_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
	}

	outcomes := p.publishAll(ctx, claimed)
	for _, outcome := range outcomes {
		switch outcome {
		case DispatchCompleted:
			report.Completed++
		case DispatchRetry:
			report.Retried++
		case DispatchFailed:
			report.Failed++
		case DispatchClaimLost:
			report.ClaimLost++
		default:
			report.Errors++
		}
	}

	p.refreshBacklog(ctx)
	if report.Claimed > 0 || report.Recovered > 0 {
		logger.Info("outbox processor cycle completed",
			"event", "order_fulfillment_outbox_cycle_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"claimed_count", report.Claimed,
			"completed_count", report.Completed,
			"retry_count", report.Retried,
			"failed_count", report.Failed,
			"error_count", report.Errors,
		)
	}
	return report, err
}

func (p OutboxProcessor) publishAll(ctx context.Context, messages []entities.OutboxMessage) []string {
	outcomes := make([]string, len(messages))
	if len(messages) == 0 {
		return outcomes
	}
	// Claimed work is finished even if the caller is shutting down; the
	// handler timeout still bounds each message.
	workCtx := context.WithoutCancel(ctx)
	group := errgroup.Group{}
	group.SetLimit(positiveOr(p.Concurrency, defaultConcurrency))
	for i, message := range messages {
		group.Go(func() error {
			outcome, err := p.Publisher.Publish(workCtx, message)
			if err != nil {
				outcomes[i] = ""
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

func (p OutboxProcessor) refreshBacklog(ctx context.Context) {
	counts, err := p.Outbox.CountByStatus(ctx)
	if err != nil {
		return
	}
	metrics := application.ResolveMetrics(p.Metrics)
	for _, status := range entities.AllOutboxStatuses() {
		metrics.SetOutboxBacklog(status, counts[status])
	}
}

// Cleanup purges completed messages older than the retention window.
func (p OutboxProcessor) Cleanup(ctx context.Context) (int, error) {
	retention := p.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	cutoff := application.ResolveNow(p.Clock).Add(-retention)
	purged, err := p.Outbox.PurgeCompleted(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	application.ResolveMetrics(p.Metrics).AddPurged(purged)
	application.ResolveLogger(p.Logger).Info("outbox cleanup completed",
		"event", "order_fulfillment_outbox_cleanup_completed",
		"module", application.ModuleName,
		"layer", "worker",
		"purged_count", purged,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return purged, nil
}

func positiveOr(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
