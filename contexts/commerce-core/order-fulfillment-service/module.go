package orderfulfillmentservice

import (
	"log/slog"
	"time"

	httpadapter "ordercore/contexts/commerce-core/order-fulfillment-service/adapters/http"
	"ordercore/contexts/commerce-core/order-fulfillment-service/adapters/memory"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/commands"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/handlers"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/queries"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/workers"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

type Module struct {
	Handler   httpadapter.Handler
	Registry  *dispatch.Registry
	Processor workers.OutboxProcessor
	Consumer  workers.ExpirationConsumer
	Sweeper   workers.ExpirationSweeper

	// Set by NewInMemoryModule only.
	Store      *memory.Store
	Effects    *memory.Effects
	DelayQueue *memory.DelayQueue
}

type Dependencies struct {
	Ledger           ports.InventoryLedger
	Orders           ports.OrderRepository
	Outbox           ports.OutboxStore
	Transactions     ports.StockTransactionLog
	Dedup            ports.EventDedupStore
	Cache            ports.CacheInvalidator
	Notifier         ports.Notifier
	Statistics       ports.StatisticsRecorder
	Publisher        ports.EventPublisher
	Scheduler        ports.ExpirationScheduler
	ExpirationSource ports.ExpirationSource
	SweepLocker      ports.SweepLocker
	Clock            ports.Clock
	IDGenerator      ports.IDGenerator
	Metrics          ports.Metrics

	OrderExpiry       time.Duration
	EventsTopic       string
	SourceService     string
	LowStockThreshold int
	MarkerTTL         time.Duration

	Retry           services.RetryPolicy
	HandlerTimeout  time.Duration
	PollInterval    time.Duration
	PendingBatch    int
	RetryBatch      int
	Concurrency     int
	StuckAfter      time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration

	SweepInterval time.Duration
	SweepBatch    int

	Logger *slog.Logger
}

// NewModule wires use cases, the dispatch table and the background workers.
// It fails only when the handler table cannot be built.
func NewModule(deps Dependencies) (Module, error) {
	registry := dispatch.NewRegistry(deps.Logger)
	eventHandlers := handlers.EventHandlers{
		Cache:             deps.Cache,
		Notifier:          deps.Notifier,
		Statistics:        deps.Statistics,
		Publisher:         deps.Publisher,
		Dedup:             deps.Dedup,
		Clock:             deps.Clock,
		EventsTopic:       deps.EventsTopic,
		SourceService:     deps.SourceService,
		LowStockThreshold: deps.LowStockThreshold,
		MarkerLease:       deps.HandlerTimeout,
		MarkerTTL:         deps.MarkerTTL,
		Logger:            deps.Logger,
	}
	if err := eventHandlers.Register(registry); err != nil {
		return Module{}, err
	}

	orderExpiry := deps.OrderExpiry
	if orderExpiry <= 0 {
		orderExpiry = commands.DefaultOrderExpiry
	}

	placeOrder := commands.PlaceOrderUseCase{
		Orders:    deps.Orders,
		Scheduler: deps.Scheduler,
		IDGen:     deps.IDGenerator,
		Clock:     deps.Clock,
		Expiry:    orderExpiry,
		Logger:    deps.Logger,
	}
	changeStatus := commands.ChangeOrderStatusUseCase{
		Orders: deps.Orders,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	adjustInventory := commands.AdjustInventoryUseCase{
		Ledger:  deps.Ledger,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	}
	requeueOutbox := commands.RequeueOutboxUseCase{
		Outbox: deps.Outbox,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	expireOrder := commands.ExpireOrderUseCase{
		Orders:  deps.Orders,
		Clock:   deps.Clock,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	}

	publisher := workers.OutboxPublisher{
		Outbox:         deps.Outbox,
		Dispatcher:     registry,
		Retry:          deps.Retry,
		HandlerTimeout: deps.HandlerTimeout,
		Clock:          deps.Clock,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}

	return Module{
		Handler: httpadapter.Handler{
			PlaceOrder:        placeOrder,
			ChangeOrderStatus: changeStatus,
			AdjustInventory:   adjustInventory,
			RequeueOutbox:     requeueOutbox,
			GetOrder: queries.GetOrderUseCase{
				Orders: deps.Orders,
				Logger: deps.Logger,
			},
			CheckStock: queries.CheckStockUseCase{
				Ledger: deps.Ledger,
				Logger: deps.Logger,
			},
			GetInventory: queries.GetProductInventoryUseCase{
				Ledger: deps.Ledger,
				Logger: deps.Logger,
			},
			ListInventory: queries.ListInventoryUseCase{
				Ledger: deps.Ledger,
				Logger: deps.Logger,
			},
			ListFailedOutbox: queries.ListFailedOutboxUseCase{
				Outbox: deps.Outbox,
				Logger: deps.Logger,
			},
			OutboxBacklog: queries.OutboxBacklogUseCase{
				Outbox: deps.Outbox,
				Logger: deps.Logger,
			},
			ListStockTransactions: queries.ListStockTransactionsUseCase{
				Log:    deps.Transactions,
				Logger: deps.Logger,
			},
			GetStockTransaction: queries.GetStockTransactionUseCase{
				Log:    deps.Transactions,
				Logger: deps.Logger,
			},
			Logger: deps.Logger,
		},
		Registry: registry,
		Processor: workers.OutboxProcessor{
			Outbox:          deps.Outbox,
			Publisher:       publisher,
			PollInterval:    deps.PollInterval,
			PendingBatch:    deps.PendingBatch,
			RetryBatch:      deps.RetryBatch,
			Concurrency:     deps.Concurrency,
			StuckAfter:      deps.StuckAfter,
			Retention:       deps.Retention,
			CleanupInterval: deps.CleanupInterval,
			Clock:           deps.Clock,
			Metrics:         deps.Metrics,
			Logger:          deps.Logger,
		},
		Consumer: workers.ExpirationConsumer{
			Source: deps.ExpirationSource,
			Expire: expireOrder,
			Logger: deps.Logger,
		},
		Sweeper: workers.ExpirationSweeper{
			Orders:    deps.Orders,
			Expire:    expireOrder,
			Locker:    deps.SweepLocker,
			Clock:     deps.Clock,
			Interval:  deps.SweepInterval,
			BatchSize: deps.SweepBatch,
			Logger:    deps.Logger,
		},
	}, nil
}

// NewInMemoryModule runs every port on in-process adapters. Effects records
// what the handlers did and DelayQueue holds armed expiration tickets.
func NewInMemoryModule(seed []entities.StockLevel, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	effects := memory.NewEffects()
	queue := memory.NewDelayQueue(store.Now)
	module, err := NewModule(Dependencies{
		Ledger:           store,
		Orders:           store,
		Outbox:           store,
		Transactions:     store,
		Dedup:            store,
		Cache:            effects,
		Notifier:         effects,
		Statistics:       effects,
		Publisher:        effects,
		Scheduler:        queue,
		ExpirationSource: queue,
		SweepLocker:      effects,
		Clock:            store,
		IDGenerator:      store,
		Retry:            services.DefaultRetryPolicy(),
		MarkerTTL:        7 * 24 * time.Hour,
		Logger:           logger,
	})
	if err != nil {
		// Every collaborator is present, so the table always builds.
		panic(err)
	}
	module.Store = store
	module.Effects = effects
	module.DelayQueue = queue
	return module
}
