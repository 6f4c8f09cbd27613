package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/model"
)

// PolicyRepository reads and writes the single security_policy row.
type PolicyRepository interface {
	Load(ctx context.Context) (*model.SecurityPolicyRow, error)
	Save(ctx context.Context, settings json.RawMessage) (*model.SecurityPolicyRow, error)
}

type policyRepo struct {
	db database.DBTX
}

func NewPolicyRepository(db *sqlx.DB) PolicyRepository {
	return &policyRepo{db: db}
}

func (r *policyRepo) Load(ctx context.Context) (*model.SecurityPolicyRow, error) {
	var row model.SecurityPolicyRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM security_policy WHERE id = 1`)
	return HandleNotFound(&row, err)
}

func (r *policyRepo) Save(ctx context.Context, settings json.RawMessage) (*model.SecurityPolicyRow, error) {
	var row model.SecurityPolicyRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO security_policy (id, settings, updated_at)
		VALUES (1, $1::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
		RETURNING *
	`, jsonArg(settings))
	if err != nil {
		return nil, err
	}
	return &row, nil
}
