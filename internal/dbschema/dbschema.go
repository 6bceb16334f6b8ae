// Package dbschema owns the PostgreSQL DDL for the claude_context schema
// and applies it at process start. Every statement in schema.sql is
// create-if-not-exists or its equivalent, so Migrate is safe to call on
// every boot and from concurrent replicas without a migration lock.
package dbschema

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/observability"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the claude_context schema against pool. It is
// idempotent: running it twice leaves the database in the same state
// as running it once.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return observability.Transient(fmt.Errorf("dbschema: migrate: %w", err))
	}
	return nil
}

// SQL returns the embedded schema text, used by tooling that wants to
// print or inspect it without a live connection.
func SQL() string {
	return schemaSQL
}
