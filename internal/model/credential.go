package model

import "time"

type GameCredential struct {
	ID          string      `db:"id" json:"id"`
	GameID      string      `db:"game_id" json:"gameId"`
	KeyPrefix   string      `db:"key_prefix" json:"keyPrefix"`
	KeyHash     string      `db:"key_hash" json:"-"`
	Environment Environment `db:"environment" json:"environment"`
	IsActive    bool        `db:"is_active" json:"isActive"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	LastUsedAt  *time.Time  `db:"last_used_at" json:"lastUsedAt,omitempty"`
	RevokedAt   *time.Time  `db:"revoked_at" json:"revokedAt,omitempty"`
}

type CreateCredentialParams struct {
	GameID      string
	KeyPrefix   string
	KeyHash     string
	Environment Environment
}
