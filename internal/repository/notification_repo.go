package repository

import (
	"context"

	"requesthub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationEventRepository is the append-only store of notification events
// consumed by the digest sender.
type NotificationEventRepository interface {
	Create(ctx context.Context, event *model.NotificationEvent) error
	FindUnprocessed(ctx context.Context) ([]model.NotificationEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationEvent, error)
}

type notificationEventRepository struct {
	db *gorm.DB
}

func NewNotificationEventRepository(db *gorm.DB) NotificationEventRepository {
	return &notificationEventRepository{db: db}
}

func (r *notificationEventRepository) Create(ctx context.Context, event *model.NotificationEvent) error {
	return GetDB(ctx, r.db).Create(event).Error
}

func (r *notificationEventRepository) FindUnprocessed(ctx context.Context) ([]model.NotificationEvent, error) {
	var events []model.NotificationEvent
	err := GetDB(ctx, r.db).
		Where("is_processed = ?", false).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *notificationEventRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).
		Model(&model.NotificationEvent{}).
		Where("id IN ?", ids).
		Update("is_processed", true).Error
}

func (r *notificationEventRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationEvent, error) {
	var events []model.NotificationEvent
	err := GetDB(ctx, r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
