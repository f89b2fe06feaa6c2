package repository

import (
	"context"
	"time"

	"checkout-reconciler/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository interface {
	Enqueue(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
	// FetchDue returns pending messages whose next attempt is due, oldest first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, terminal bool) error
}

type outboxRepoImpl struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepoImpl{
		db: db,
	}
}

func (r *outboxRepoImpl) Enqueue(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	if msg.NextAttemptAt.IsZero() {
		msg.NextAttemptAt = time.Now()
	}
	return conn(r.db, tx).WithContext(ctx).Create(msg).Error
}

func (r *outboxRepoImpl) FetchDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboxMessage, error) {
	var msgs []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.OutboxStatusPending, now).
		Order("created_at").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

func (r *outboxRepoImpl) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.OutboxStatusDelivered,
			"delivered_at": at,
			"attempts":     gorm.Expr("attempts + ?", 1),
			"last_error":   "",
			"updated_at":   time.Now(),
		}).Error
}

func (r *outboxRepoImpl) MarkAttemptFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, terminal bool) error {
	status := model.OutboxStatusPending
	if terminal {
		status = model.OutboxStatusFailed
	}

	return r.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastErr,
			"updated_at":      time.Now(),
		}).Error
}
