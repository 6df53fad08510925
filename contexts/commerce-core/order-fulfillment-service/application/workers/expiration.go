package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/commands"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	SweepLockKey         = "ordercore:expiration-sweep"
	defaultSweepInterval = 5 * time.Minute
	defaultSweepBatch    = 100
	defaultSweepLockTTL  = 4 * time.Minute
)

// ExpirationConsumer applies delayed expiration signals as they arrive.
type ExpirationConsumer struct {
	Source ports.ExpirationSource
	Expire commands.ExpireOrderUseCase
	Logger *slog.Logger
}

// Run blocks until ctx is done or the source fails. A returned handler error
// asks the source to redeliver the signal.
func (c ExpirationConsumer) Run(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	logger.Info("expiration consumer started",
		"event", "order_fulfillment_expiration_consumer_started",
		"module", application.ModuleName,
		"layer", "worker",
	)
	err := c.Source.Consume(ctx, c.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c ExpirationConsumer) Handle(ctx context.Context, ticket entities.ExpirationTicket) error {
	_, err := c.Expire.Execute(ctx, commands.ExpireOrderCommand{
		OrderID: ticket.OrderID,
		Source:  commands.ExpirationSourceSignal,
	})
	return err
}

// ExpirationSweeper cancels due orders whose delayed signal was lost. Only
// the instance holding the sweep lock runs a pass.
type ExpirationSweeper struct {
	Orders    ports.OrderRepository
	Expire    commands.ExpireOrderUseCase
	Locker    ports.SweepLocker
	Clock     ports.Clock
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
	Logger    *slog.Logger
}

type SweepReport struct {
	Skipped   bool
	Due       int
	Cancelled int
	Failed    int
}

func (s ExpirationSweeper) Run(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// The first pass runs at once so orders that fell due while no worker
	// was up are not left waiting a full interval.
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("expiration sweep failed",
				"event", "order_fulfillment_expiration_sweep_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s ExpirationSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	logger := application.ResolveLogger(s.Logger)
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = defaultSweepLockTTL
		}
		unlock, acquired, err := s.Locker.TryLock(ctx, SweepLockKey, ttl)
		if err != nil {
			return SweepReport{}, err
		}
		if !acquired {
			logger.Debug("expiration sweep held elsewhere",
				"event", "order_fulfillment_expiration_sweep_skipped",
				"module", application.ModuleName,
				"layer", "worker",
			)
			return SweepReport{Skipped: true}, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("expiration sweep unlock failed",
					"event", "order_fulfillment_expiration_sweep_unlock_failed",
					"module", application.ModuleName,
					"layer", "worker",
					"error", err.Error(),
				)
			}
		}()
	}

	due, err := s.Orders.ListDueOrders(ctx, application.ResolveNow(s.Clock), positiveOr(s.BatchSize, defaultSweepBatch))
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{Due: len(due)}
	var errs []error
	for _, order := range due {
		result, err := s.Expire.Execute(ctx, commands.ExpireOrderCommand{
			OrderID: order.OrderID,
			Source:  commands.ExpirationSourceSweep,
		})
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			continue
		}
		if result.Outcome == commands.ExpirationCancelled {
			report.Cancelled++
		}
	}

	if report.Due > 0 {
		logger.Info("expiration sweep completed",
			"event", "order_fulfillment_expiration_sweep_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"due_count", report.Due,
			"cancelled_count", report.Cancelled,
			"failed_count", report.Failed,
		)
	}
	return report, errors.Join(errs...)
}
