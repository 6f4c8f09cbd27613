package model

import (
	"time"
)

type AdminSession struct {
	ID        string    `db:"id" json:"id"`
	TokenHash string    `db:"token_hash" json:"-"`
	Role      AdminRole `db:"role" json:"role"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func (s *AdminSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type CreateAdminSessionParams struct {
	TokenHash string
	Role      AdminRole
	ExpiresAt time.Time
}
