package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type GameRepository interface {
	FindByID(ctx context.Context, id string) (*model.Game, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	// Disable takes the same lock, so the two serialize.
	FindByIDForUpdate(ctx context.Context, id string) (*model.Game, error)
	// Disable marks the game disabled and returns the updated row, or nil if
	// the game does not exist.
	Disable(ctx context.Context, id string) (*model.Game, error)
	WithTx(tx *sqlx.Tx) GameRepository
}

type gameRepo struct {
	db database.DBTX
}

func NewGameRepository(db *sqlx.DB) GameRepository {
	return &gameRepo{db: db}
}

func (r *gameRepo) WithTx(tx *sqlx.Tx) GameRepository {
	return &gameRepo{db: tx}
}

func (r *gameRepo) FindByID(ctx context.Context, id string) (*model.Game, error) {
	var game model.Game
	err := r.db.GetContext(ctx, &game, `SELECT * FROM games WHERE id = $1`, id)
	return HandleNotFound(&game, err)
}

func (r *gameRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Game, error) {
	var game model.Game
	err := r.db.GetContext(ctx, &game, `SELECT * FROM games WHERE id = $1 FOR UPDATE`, id)
	return HandleNotFound(&game, err)
}

func (r *gameRepo) Disable(ctx context.Context, id string) (*model.Game, error) {
	var game model.Game
	err := r.db.GetContext(ctx, &game, `
		UPDATE games SET
			status = 'disabled',
			disabled_at = COALESCE(disabled_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id)
	return HandleNotFound(&game, err)
}
