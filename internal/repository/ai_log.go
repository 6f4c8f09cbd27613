package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type AILogRepository interface {
	Create(ctx context.Context, params model.CreateAILogParams) (*model.AIInteractionLog, error)
	ListRecent(ctx context.Context, limit int) ([]model.AIInteractionLog, error)
	// Spikes groups logs by (session, game) and keeps groups with strictly
	// more than threshold rows, highest count first.
	Spikes(ctx context.Context, threshold int) ([]model.TokenSpike, error)
	ListFlagged(ctx context.Context, limit, offset int) ([]model.AIInteractionLog, error)
	SetFlag(ctx context.Context, id string, flagged bool, reason *string) (*model.AIInteractionLog, error)
}

type aiLogRepo struct {
	db database.DBTX
}

func NewAILogRepository(db *sqlx.DB) AILogRepository {
	return &aiLogRepo{db: db}
}

func (r *aiLogRepo) Create(ctx context.Context, params model.CreateAILogParams) (*model.AIInteractionLog, error) {
	var entry model.AIInteractionLog
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO ai_interaction_logs (
			game_id, session_id, participant_id, event_type, model, provider, model_version,
			prompt_tokens, completion_tokens, latency_ms, flagged, flag_reason, payload, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb)
		RETURNING *
	`, params.GameID, params.SessionID, params.ParticipantID, params.EventType, params.Model,
		params.Provider, params.ModelVersion, params.PromptTokens, params.CompletionTokens,
		params.LatencyMs, params.Flagged, params.FlagReason, jsonArg(params.Payload), jsonArg(params.Metadata))
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *aiLogRepo) ListRecent(ctx context.Context, limit int) ([]model.AIInteractionLog, error) {
	logs := []model.AIInteractionLog{}
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM ai_interaction_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *aiLogRepo) Spikes(ctx context.Context, threshold int) ([]model.TokenSpike, error) {
	spikes := []model.TokenSpike{}
	err := r.db.SelectContext(ctx, &spikes, `
		SELECT
			session_id,
			game_id,
			COUNT(*) AS request_count,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			MIN(created_at) AS first_seen,
			MAX(created_at) AS last_seen
		FROM ai_interaction_logs
		GROUP BY session_id, game_id
		HAVING COUNT(*) > $1
		ORDER BY request_count DESC
	`, threshold)
	if err != nil {
		return nil, err
	}
	return spikes, nil
}

func (r *aiLogRepo) ListFlagged(ctx context.Context, limit, offset int) ([]model.AIInteractionLog, error) {
	logs := []model.AIInteractionLog{}
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM ai_interaction_logs
		WHERE flagged
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *aiLogRepo) SetFlag(ctx context.Context, id string, flagged bool, reason *string) (*model.AIInteractionLog, error) {
	if !flagged {
		reason = nil
	}
	var entry model.AIInteractionLog
	err := r.db.GetContext(ctx, &entry, `
		UPDATE ai_interaction_logs SET flagged = $2, flag_reason = $3
		WHERE id = $1
		RETURNING *
	`, id, flagged, reason)
	return HandleNotFound(&entry, err)
}
