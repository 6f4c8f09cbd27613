package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type EventRepository interface {
	Create(ctx context.Context, params model.CreateEventParams) (*model.TelemetryEvent, error)
}

type eventRepo struct {
	db database.DBTX
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) Create(ctx context.Context, params model.CreateEventParams) (*model.TelemetryEvent, error) {
	var event model.TelemetryEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO telemetry_events (participant_id, event_type, payload)
		VALUES ($1, $2, $3::jsonb)
		RETURNING *
	`, params.ParticipantID, params.EventType, jsonArg(params.Payload))
	if err != nil {
		return nil, err
	}
	return &event, nil
}
