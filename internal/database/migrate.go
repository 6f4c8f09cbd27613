package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Schema returns the embedded DDL.
func Schema() string {
	return schema
}

// Migrate applies the embedded schema. Every statement is idempotent, so it
// is safe to run on each deploy.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
