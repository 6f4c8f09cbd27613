package model

import (
	"encoding/json"
	"time"
)

type Notification struct {
	ID          string          `db:"id" json:"id"`
	RecipientID string          `db:"recipient_id" json:"recipientId"`
	Type        string          `db:"type" json:"type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	DeliveredAt *time.Time      `db:"delivered_at" json:"deliveredAt,omitempty"`
	AbandonedAt *time.Time      `db:"abandoned_at" json:"abandonedAt,omitempty"`
}

type CreateNotificationParams struct {
	RecipientID string
	Type        string
	Payload     json.RawMessage
}
