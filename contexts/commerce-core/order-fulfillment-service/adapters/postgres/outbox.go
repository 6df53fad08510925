package postgresadapter

import (
	"context"
	"errors"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var retryableStatuses = []int16{int16(entities.OutboxStatusFailed), int16(entities.OutboxStatusRetry)}

func (r *Repository) Append(ctx context.Context, messages ...entities.OutboxMessage) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]outboxModel, 0, len(messages))
	for _, message := range messages {
		rows = append(rows, outboxModelFromEntity(message))
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&rows).
		Error
}

// ClaimBatch flips rows to Processing inside one transaction. SKIP LOCKED
// lets concurrent processors claim disjoint batches instead of waiting.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, now time.Time, scope ports.ClaimScope) ([]entities.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	var claimed []entities.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		pending := int16(entities.OutboxStatusPending)
		switch scope {
		case ports.ClaimScopePending:
			query = query.Where("status = ?", pending)
		case ports.ClaimScopeRetryDue:
			query = query.Where("status IN ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", retryableStatuses, now)
		default:
			query = query.Where("status = ? OR (status IN ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)", pending, retryableStatuses, now)
		}

		var rows []outboxModel
		if err := query.
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).
			Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := tx.Model(&outboxModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     int16(entities.OutboxStatusProcessing),
				"claimed_at": now,
			}).Error; err != nil {
			return err
		}

		claimed = make([]entities.OutboxMessage, 0, len(rows))
		for _, row := range rows {
			message := row.toEntity()
			message.Status = entities.OutboxStatusProcessing
			claimedAt := now
			message.ClaimedAt = &claimedAt
			claimed = append(claimed, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete and Fail only move rows the caller still holds in Processing. A
// row recovered and handed to another worker reports ErrOutboxClaimLost.
func (r *Repository) Complete(ctx context.Context, messageID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("id = ? AND status = ?", messageID, int16(entities.OutboxStatusProcessing)).
		Updates(map[string]any{
			"status":        int16(entities.OutboxStatusCompleted),
			"processed_at":  at.UTC(),
			"claimed_at":    nil,
			"next_retry_at": nil,
			"error":         nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.claimMissing(ctx, messageID)
	}
	return nil
}

func (r *Repository) Fail(ctx context.Context, messageID string, reason string, nextRetryAt *time.Time, _ time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("id = ? AND status = ?", messageID, int16(entities.OutboxStatusProcessing)).
		Updates(map[string]any{
			"status":        int16(entities.OutboxStatusFailed),
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error":         reason,
			"next_retry_at": utcPtr(nextRetryAt),
			"claimed_at":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.claimMissing(ctx, messageID)
	}
	return nil
}

// claimMissing tells a vanished row apart from one that left Processing.
func (r *Repository) claimMissing(ctx context.Context, messageID string) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("id = ?", messageID).
		Count(&count).
		Error; err != nil {
		return err
	}
	if count == 0 {
		return domainerrors.ErrOutboxMessageNotFound
	}
	return domainerrors.ErrOutboxClaimLost
}

func (r *Repository) RecoverStuck(ctx context.Context, claimedBefore time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", int16(entities.OutboxStatusProcessing), claimedBefore.UTC()).
		Updates(map[string]any{
			"status":     int16(entities.OutboxStatusPending),
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) PurgeCompleted(ctx context.Context, processedBefore time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", int16(entities.OutboxStatusCompleted), processedBefore.UTC()).
		Delete(&outboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) ListFailed(ctx context.Context, limit int) ([]entities.OutboxMessage, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NULL", int16(entities.OutboxStatusFailed)).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []outboxModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]entities.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) Requeue(ctx context.Context, messageID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("id = ? AND status = ? AND next_retry_at IS NULL", messageID, int16(entities.OutboxStatusFailed)).
		Updates(map[string]any{
			"status":        int16(entities.OutboxStatusRetry),
			"retry_count":   0,
			"next_retry_at": at.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var row outboxModel
	err := r.db.WithContext(ctx).
		Select("id").
		Where("id = ?", messageID).
		First(&row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainerrors.ErrOutboxMessageNotFound
	}
	if err != nil {
		return err
	}
	return domainerrors.ErrOutboxMessageNotFailed
}

type statusCount struct {
	Status int16 `gorm:"column:status"`
	Count  int   `gorm:"column:count"`
}

func (r *Repository) CountByStatus(ctx context.Context) (map[entities.OutboxStatus]int, error) {
	var rows []statusCount
	if err := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).
		Error; err != nil {
		return nil, err
	}
	counts := make(map[entities.OutboxStatus]int, len(rows))
	for _, row := range rows {
		counts[entities.OutboxStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// ReserveEvent inserts a lease row. Rows whose lease or retention ran out
// are taken over and reset to a fresh lease.
func (r *Repository) ReserveEvent(ctx context.Context, eventID string, payloadHash string, leaseUntil time.Time) (bool, error) {
	now := time.Now().UTC()
	row := eventDedupModel{
		EventID:     eventID,
		PayloadHash: payloadHash,
		ExpiresAt:   leaseUntil.UTC(),
		ProcessedAt: now,
	}

	createResult := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if createResult.Error != nil {
		return false, createResult.Error
	}
	if createResult.RowsAffected > 0 {
		return false, nil
	}

	takeover := r.db.WithContext(ctx).
		Model(&eventDedupModel{}).
		Where("event_id = ? AND expires_at <= ?", eventID, now).
		Updates(map[string]any{
			"payload_hash": payloadHash,
			"expires_at":   leaseUntil.UTC(),
			"processed_at": now,
			"completed_at": nil,
		})
	if takeover.Error != nil {
		return false, takeover.Error
	}
	if takeover.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash", "completed_at").
		Where("event_id = ?", eventID).
		First(&existing).
		Error; err != nil {
		return false, err
	}
	if existing.PayloadHash != payloadHash {
		return false, domainerrors.ErrIdempotencyKeyConflict
	}
	if existing.CompletedAt == nil {
		return false, domainerrors.ErrEventInProgress
	}
	return true, nil
}

func (r *Repository) CompleteEvent(ctx context.Context, eventID string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&eventDedupModel{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"completed_at": time.Now().UTC(),
			"expires_at":   expiresAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEventMarkerNotFound
	}
	return nil
}

func (r *Repository) ReleaseEvent(ctx context.Context, eventID string) error {
	return r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Delete(&eventDedupModel{}).
		Error
}
