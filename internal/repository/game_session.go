package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type GameSessionRepository interface {
	Create(ctx context.Context, gameID, participantID string) (*model.GameSession, error)
	// End closes an open session owned by gameID. It returns nil when no open
	// session matched.
	End(ctx context.Context, gameID, sessionID string, score *float64) (*model.GameSession, error)
	FindForGame(ctx context.Context, gameID, sessionID string) (*model.GameSession, error)
	WithTx(tx *sqlx.Tx) GameSessionRepository
}

type gameSessionRepo struct {
	db database.DBTX
}

func NewGameSessionRepository(db *sqlx.DB) GameSessionRepository {
	return &gameSessionRepo{db: db}
}

func (r *gameSessionRepo) WithTx(tx *sqlx.Tx) GameSessionRepository {
	return &gameSessionRepo{db: tx}
}

func (r *gameSessionRepo) Create(ctx context.Context, gameID, participantID string) (*model.GameSession, error) {
	var session model.GameSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO game_sessions (game_id, participant_id)
		VALUES ($1, $2)
		RETURNING *
	`, gameID, participantID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gameSessionRepo) End(ctx context.Context, gameID, sessionID string, score *float64) (*model.GameSession, error) {
	var session model.GameSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE game_sessions SET
			end_time = NOW(),
			score = COALESCE($3, score)
		WHERE id = $1 AND game_id = $2 AND end_time IS NULL
		RETURNING *
	`, sessionID, gameID, score)
	return HandleNotFound(&session, err)
}

func (r *gameSessionRepo) FindForGame(ctx context.Context, gameID, sessionID string) (*model.GameSession, error) {
	var session model.GameSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM game_sessions WHERE id = $1 AND game_id = $2
	`, sessionID, gameID)
	return HandleNotFound(&session, err)
}
