package db

import (
	"context"
	"fmt"
)

// schemaStatements create the tables used by this package. Every statement
// is idempotent so Migrate can run on each start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entitlements (
		nickname   TEXT        NOT NULL,
		service_id TEXT        NOT NULL,
		credits    INTEGER     NOT NULL DEFAULT 0 CHECK (credits >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (nickname, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS entitlement_grants (
		token      TEXT        PRIMARY KEY,
		nickname   TEXT        NOT NULL,
		service_id TEXT        NOT NULL,
		amount     INTEGER     NOT NULL CHECK (amount > 0),
		source     TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS entitlement_grants_nickname_idx ON entitlement_grants (nickname)`,
	`CREATE TABLE IF NOT EXISTS chat_history (
		id           BIGSERIAL   PRIMARY KEY,
		nickname     TEXT        NOT NULL,
		service_id   TEXT        NOT NULL,
		language     TEXT        NOT NULL,
		provider     TEXT        NOT NULL,
		user_message TEXT        NOT NULL,
		reply        TEXT        NOT NULL,
		failed       BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db DBTX) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: migrate statement %d: %w", i, err)
		}
	}
	return nil
}
