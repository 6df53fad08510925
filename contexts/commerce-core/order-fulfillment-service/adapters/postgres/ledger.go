package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetStock(ctx context.Context, productID string) (entities.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	var row stockLevelModel
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.StockLevel{ProductID: productID}, nil
		}
		return entities.StockLevel{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) ListStock(ctx context.Context) ([]entities.StockLevel, error) {
	var rows []stockLevelModel
	if err := r.db.WithContext(ctx).
		Order("product_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.StockLevel, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetReservation(ctx context.Context, productID string, orderID string) (entities.Reservation, bool, error) {
	reservation, err := loadReservation(r.db.WithContext(ctx), productID, orderID)
	if err != nil {
		return entities.Reservation{}, false, err
	}
	if reservation == nil {
		return entities.Reservation{}, false, nil
	}
	return *reservation, true, nil
}

func (r *Repository) ApplyStockOperation(ctx context.Context, op entities.StockOperation) (services.StockChange, error) {
	op.ProductID = strings.TrimSpace(op.ProductID)
	op.OrderID = strings.TrimSpace(op.OrderID)
	if err := services.ValidateStockOperation(op); err != nil {
		return services.StockChange{}, err
	}

	var change services.StockChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := applyStockOperation(tx, op, time.Now().UTC(), op.OrderID)
		if err != nil {
			return err
		}
		change = applied
		return nil
	})
	if err != nil {
		return services.StockChange{}, err
	}
	return change, nil
}

func (r *Repository) SetReservedStock(ctx context.Context, productID string, reserved int) (entities.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return entities.StockLevel{}, domainerrors.ErrInvalidStockOperation
	}

	var level entities.StockLevel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockStockLevel(tx, productID)
		if err != nil {
			return err
		}
		if err := services.ValidateReservedStock(current, reserved); err != nil {
			return err
		}
		now := time.Now().UTC()
		next := current
		next.ReservedStock = reserved
		next.UpdatedAt = now
		if err := saveStockLevel(tx, next); err != nil {
			return err
		}
		if err := appendEvents(tx, []entities.DomainEvent{services.ReservedStockEvent(current, next, now)}, now); err != nil {
			return err
		}
		level = next
		return nil
	})
	if err != nil {
		return entities.StockLevel{}, err
	}
	return level, nil
}

// applyStockOperation runs under the stock_levels row lock of op.ProductID;
// concurrent operations on the same product queue on that lock and see each
// other's committed result.
func applyStockOperation(tx *gorm.DB, op entities.StockOperation, now time.Time, correlationID string) (services.StockChange, error) {
	level, err := lockStockLevel(tx, op.ProductID)
	if err != nil {
		return services.StockChange{}, err
	}
	book := services.StockBook{Level: level}
	if op.OrderID != "" {
		book.Reservation, err = loadReservation(tx, op.ProductID, op.OrderID)
		if err != nil {
			return services.StockChange{}, err
		}
	}

	change, err := services.ApplyStockOperation(book, op, now)
	if err != nil {
		return services.StockChange{}, err
	}
	if change.Noop {
		return change, nil
	}

	if err := saveStockLevel(tx, change.After); err != nil {
		return services.StockChange{}, err
	}
	if change.Reservation != nil {
		row := reservationModelFromEntity(*change.Reservation)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "status", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return services.StockChange{}, err
		}
	}
	if err := appendEvents(tx, services.StockChangeEvents(change, correlationID), now); err != nil {
		return services.StockChange{}, err
	}
	if record, ok := services.StockChangeTransaction(uuid.NewString(), change, correlationID); ok {
		row := stockTransactionModelFromEntity(record)
		if err := tx.Create(&row).Error; err != nil {
			return services.StockChange{}, err
		}
	}
	return change, nil
}

func (r *Repository) ListStockTransactions(ctx context.Context, filter entities.StockTransactionFilter) ([]entities.StockTransaction, error) {
	query := r.db.WithContext(ctx).Model(&stockTransactionModel{})
	if filter.ProductID != "" {
		query = query.Where("product_id = ?", filter.ProductID)
	}
	if filter.Kind != "" {
		query = query.Where("operation_type = ?", string(filter.Kind))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []stockTransactionModel
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entities.StockTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (r *Repository) GetStockTransaction(ctx context.Context, transactionID string) (entities.StockTransaction, error) {
	var row stockTransactionModel
	err := r.db.WithContext(ctx).
		Where("id = ?", transactionID).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entities.StockTransaction{}, domainerrors.ErrStockTransactionNotFound
	}
	if err != nil {
		return entities.StockTransaction{}, err
	}
	return row.toEntity(), nil
}

// lockStockLevel creates the ledger row on first use and then takes its row
// lock for the rest of the transaction.
func lockStockLevel(tx *gorm.DB, productID string) (entities.StockLevel, error) {
	seed := stockLevelModel{ProductID: productID, UpdatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return entities.StockLevel{}, err
	}

	var row stockLevelModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		First(&row).
		Error; err != nil {
		return entities.StockLevel{}, err
	}
	return row.toEntity(), nil
}

func saveStockLevel(tx *gorm.DB, level entities.StockLevel) error {
	return tx.Model(&stockLevelModel{}).
		Where("product_id = ?", level.ProductID).
		Updates(map[string]any{
			"total_stock":    level.TotalStock,
			"locked_stock":   level.LockedStock,
			"reserved_stock": level.ReservedStock,
			"updated_at":     level.UpdatedAt.UTC(),
		}).Error
}

func loadReservation(tx *gorm.DB, productID string, orderID string) (*entities.Reservation, error) {
	var row reservationModel
	err := tx.Where("product_id = ? AND order_id = ?", productID, orderID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	reservation := row.toEntity()
	return &reservation, nil
}
