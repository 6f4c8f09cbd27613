package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

type AdminSessionRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.AdminSession, error)
	Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type adminSessionRepo struct {
	db database.DBTX
}

func NewAdminSessionRepository(db *sqlx.DB) AdminSessionRepository {
	return &adminSessionRepo{db: db}
}

func (r *adminSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.AdminSession, error) {
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM admin_sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash)
	return HandleNotFound(&session, err)
}

func (r *adminSessionRepo) Create(ctx context.Context, params model.CreateAdminSessionParams) (*model.AdminSession, error) {
	role := params.Role
	if role == "" {
		role = model.AdminRoleAdmin
	}
	var session model.AdminSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO admin_sessions (token_hash, role, expires_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.TokenHash, role, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *adminSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token_hash = $1`, tokenHash)
	return err
}

func (r *adminSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
