package model

import "time"

type Game struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	OwnerID    string     `db:"owner_id" json:"ownerId"`
	Status     GameStatus `db:"status" json:"status"`
	DisabledAt *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

func (g *Game) IsDisabled() bool {
	return g.Status == GameStatusDisabled
}
