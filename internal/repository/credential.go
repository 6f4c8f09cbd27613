package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type CredentialRepository interface {
	FindByID(ctx context.Context, id string) (*model.GameCredential, error)
	// FindActiveByPrefix returns every active credential sharing the prefix.
	// Prefixes are not unique, so callers must compare hashes.
	FindActiveByPrefix(ctx context.Context, prefix string) ([]model.GameCredential, error)
	ListByGame(ctx context.Context, gameID string) ([]model.GameCredential, error)
	Create(ctx context.Context, params model.CreateCredentialParams) (*model.GameCredential, error)
	Revoke(ctx context.Context, id string) (int64, error)
	RevokeByIDs(ctx context.Context, ids []string) (int64, error)
	RevokeActiveForGameEnv(ctx context.Context, gameID string, env model.Environment) (int64, error)
	RevokeAllForGame(ctx context.Context, gameID string) (int64, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CredentialRepository
}

type credentialRepo struct {
	db database.DBTX
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) WithTx(tx *sqlx.Tx) CredentialRepository {
	return &credentialRepo{db: tx}
}

func (r *credentialRepo) FindByID(ctx context.Context, id string) (*model.GameCredential, error) {
	var cred model.GameCredential
	err := r.db.GetContext(ctx, &cred, `SELECT * FROM game_credentials WHERE id = $1`, id)
	return HandleNotFound(&cred, err)
}

func (r *credentialRepo) FindActiveByPrefix(ctx context.Context, prefix string) ([]model.GameCredential, error) {
	var creds []model.GameCredential
	err := r.db.SelectContext(ctx, &creds, `
		SELECT * FROM game_credentials
		WHERE key_prefix = $1 AND is_active
		ORDER BY created_at DESC
	`, prefix)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *credentialRepo) ListByGame(ctx context.Context, gameID string) ([]model.GameCredential, error) {
	creds := []model.GameCredential{}
	err := r.db.SelectContext(ctx, &creds, `
		SELECT * FROM game_credentials
		WHERE game_id = $1
		ORDER BY created_at DESC
	`, gameID)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (r *credentialRepo) Create(ctx context.Context, params model.CreateCredentialParams) (*model.GameCredential, error) {
	var cred model.GameCredential
	err := r.db.GetContext(ctx, &cred, `
		INSERT INTO game_credentials (game_id, key_prefix, key_hash, environment)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.GameID, params.KeyPrefix, params.KeyHash, params.Environment)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepo) Revoke(ctx context.Context, id string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE game_credentials SET is_active = FALSE, revoked_at = NOW()
		WHERE id = $1 AND is_active
	`, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *credentialRepo) RevokeByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE game_credentials SET is_active = FALSE, revoked_at = NOW()
		WHERE id = ANY($1) AND is_active
	`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *credentialRepo) RevokeActiveForGameEnv(ctx context.Context, gameID string, env model.Environment) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE game_credentials SET is_active = FALSE, revoked_at = NOW()
		WHERE game_id = $1 AND environment = $2 AND is_active
	`, gameID, env)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *credentialRepo) RevokeAllForGame(ctx context.Context, gameID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE game_credentials SET is_active = FALSE, revoked_at = NOW()
		WHERE game_id = $1 AND is_active
	`, gameID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *credentialRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE game_credentials SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)
	`, id, at)
	return err
}
