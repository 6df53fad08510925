package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	MetricsPort string
	LogLevel    string
	PostgresDSN string

	KafkaBrokers           []string
	KafkaEventsTopic       string
	KafkaNotificationTopic string

	RabbitMQURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OrderExpiry       time.Duration
	LowStockThreshold int

	OutboxPollInterval    time.Duration
	OutboxPendingBatch    int
	OutboxRetryBatch      int
	OutboxMaxRetries      int
	OutboxRetryBase       time.Duration
	OutboxRetryMax        time.Duration
	OutboxStuckAfter      time.Duration
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration
	OutboxHandlerTimeout  time.Duration
	OutboxConcurrency     int

	ExpirationSweepInterval time.Duration

	EnableOutboxProcessor    bool
	EnableExpirationConsumer bool
	EnableExpirationSweep    bool
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ServiceName: envString("SERVICE_NAME", "ordercore"),
		HTTPPort:    envString("HTTP_PORT", "8080"),
		MetricsPort: envString("METRICS_PORT", "9090"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		KafkaBrokers:           envList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaEventsTopic:       envString("KAFKA_EVENTS_TOPIC", "commerce.order-fulfillment.events"),
		KafkaNotificationTopic: envString("KAFKA_NOTIFICATION_TOPIC", "commerce.notifications"),

		RabbitMQURL: envString("RABBITMQ_URL", rabbitURLFromParts()),

		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		OrderExpiry:       envDuration("ORDER_EXPIRY", 30*time.Minute),
		LowStockThreshold: envInt("LOW_STOCK_THRESHOLD", 10),

		OutboxPollInterval:    envDuration("OUTBOX_POLL_INTERVAL", 30*time.Second),
		OutboxPendingBatch:    envInt("OUTBOX_PENDING_BATCH", 50),
		OutboxRetryBatch:      envInt("OUTBOX_RETRY_BATCH", 20),
		OutboxMaxRetries:      envInt("OUTBOX_MAX_RETRIES", 5),
		OutboxRetryBase:       envDuration("OUTBOX_RETRY_BASE", 30*time.Second),
		OutboxRetryMax:        envDuration("OUTBOX_RETRY_MAX", 30*time.Minute),
		OutboxStuckAfter:      envDuration("OUTBOX_STUCK_AFTER", 5*time.Minute),
		OutboxRetention:       envDuration("OUTBOX_RETENTION", 7*24*time.Hour),
		OutboxCleanupInterval: envDuration("OUTBOX_CLEANUP_INTERVAL", time.Hour),
		OutboxHandlerTimeout:  envDuration("OUTBOX_HANDLER_TIMEOUT", 30*time.Second),
		OutboxConcurrency:     envInt("OUTBOX_CONCURRENCY", 4),

		ExpirationSweepInterval: envDuration("EXPIRATION_SWEEP_INTERVAL", 5*time.Minute),

		EnableOutboxProcessor:    envBool("ENABLE_OUTBOX_PROCESSOR", true),
		EnableExpirationConsumer: envBool("ENABLE_EXPIRATION_CONSUMER", true),
		EnableExpirationSweep:    envBool("ENABLE_EXPIRATION_SWEEP", true),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the workers cannot run with. POSTGRES_DSN is
// checked by the process builders since cmd/migrate needs nothing else.
func (c Config) Validate() error {
	var problems []string
	positiveInts := map[string]int{
		"OUTBOX_PENDING_BATCH": c.OutboxPendingBatch,
		"OUTBOX_RETRY_BATCH":   c.OutboxRetryBatch,
		"OUTBOX_CONCURRENCY":   c.OutboxConcurrency,
		"LOW_STOCK_THRESHOLD":  c.LowStockThreshold,
	}
	for name, value := range positiveInts {
		if value <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	positiveDurations := map[string]time.Duration{
		"ORDER_EXPIRY":              c.OrderExpiry,
		"OUTBOX_POLL_INTERVAL":      c.OutboxPollInterval,
		"OUTBOX_RETRY_BASE":         c.OutboxRetryBase,
		"OUTBOX_RETRY_MAX":          c.OutboxRetryMax,
		"OUTBOX_STUCK_AFTER":        c.OutboxStuckAfter,
		"OUTBOX_RETENTION":          c.OutboxRetention,
		"OUTBOX_CLEANUP_INTERVAL":   c.OutboxCleanupInterval,
		"OUTBOX_HANDLER_TIMEOUT":    c.OutboxHandlerTimeout,
		"EXPIRATION_SWEEP_INTERVAL": c.ExpirationSweepInterval,
	}
	for name, value := range positiveDurations {
		if value <= 0 {
			problems = append(problems, name+" must be a positive duration")
		}
	}
	if c.OutboxMaxRetries < 0 {
		problems = append(problems, "OUTBOX_MAX_RETRIES must not be negative")
	}
	if c.OutboxRetryMax < c.OutboxRetryBase {
		problems = append(problems, "OUTBOX_RETRY_MAX must not be below OUTBOX_RETRY_BASE")
	}
	if c.OutboxStuckAfter > 0 && c.OutboxHandlerTimeout > 0 && c.OutboxStuckAfter <= c.OutboxHandlerTimeout {
		problems = append(problems, "OUTBOX_STUCK_AFTER must exceed OUTBOX_HANDLER_TIMEOUT")
	}
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

func rabbitURLFromParts() string {
	host := envString("RABBITMQ_HOST", "localhost")
	user := envString("RABBITMQ_USER", "guest")
	pass := envString("RABBITMQ_PASS", "guest")
	return fmt.Sprintf("amqp://%s:%s@%s:5672/", user, pass, host)
}

func envString(name string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envList(name string, fallback []string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
