package postgresadapter

import (
	"errors"
	"log/slog"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repository implements the ledger, order, outbox and dedup ports on one
// Postgres database so they can share a transaction.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// appendEvents writes Pending outbox rows inside the caller's transaction.
func appendEvents(tx *gorm.DB, events []entities.DomainEvent, now time.Time) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(events))
	for _, event := range events {
		message, err := entities.NewOutboxMessage(uuid.NewString(), event, now)
		if err != nil {
			return err
		}
		rows = append(rows, outboxModelFromEntity(message))
	}
	return tx.Create(&rows).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
