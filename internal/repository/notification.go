package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type NotificationRepository interface {
	Create(ctx context.Context, params model.CreateNotificationParams) (*model.Notification, error)
	MarkDelivered(ctx context.Context, id string) error
	// MarkAbandonedBefore gives up on undelivered notifications created before cutoff.
	MarkAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) NotificationRepository
}

type notificationRepo struct {
	db database.DBTX
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) WithTx(tx *sqlx.Tx) NotificationRepository {
	return &notificationRepo{db: tx}
}

func (r *notificationRepo) Create(ctx context.Context, params model.CreateNotificationParams) (*model.Notification, error) {
	var n model.Notification
	err := r.db.GetContext(ctx, &n, `
		INSERT INTO notifications (recipient_id, type, payload)
		VALUES ($1, $2, $3::jsonb)
		RETURNING *
	`, params.RecipientID, params.Type, jsonArg(params.Payload))
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepo) MarkDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = NOW()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	return err
}

func (r *notificationRepo) MarkAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET abandoned_at = NOW()
		WHERE delivered_at IS NULL AND abandoned_at IS NULL AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
