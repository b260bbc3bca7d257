package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerSchema is the minimal ledger-api schema. Statements are idempotent so
// it can bootstrap a fresh database for local runs and integration tests.
const LedgerSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         UUID PRIMARY KEY,
	number     VARCHAR(8) NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS movements (
	id              UUID PRIMARY KEY,
	account_id      UUID NOT NULL REFERENCES accounts (id),
	idempotency_key VARCHAR(120) NOT NULL,
	kind            CHAR(1) NOT NULL CHECK (kind IN ('C', 'D')),
	amount          NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_movements_account ON movements (account_id);

CREATE TABLE IF NOT EXISTS movement_idempotency (
	idempotency_key VARCHAR(120) PRIMARY KEY,
	request         JSONB NOT NULL,
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// TransferSchema is the minimal transfer-api schema.
const TransferSchema = `
CREATE TABLE IF NOT EXISTS transfers (
	id                     UUID PRIMARY KEY,
	idempotency_key        VARCHAR(120) NOT NULL UNIQUE,
	origin_account_id      UUID NOT NULL,
	destination_account_id UUID NOT NULL,
	amount                 NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transfer_idempotency (
	idempotency_key VARCHAR(120) PRIMARY KEY,
	request         JSONB NOT NULL,
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transfer_idempotency_pending
	ON transfer_idempotency (created_at) WHERE result IS NULL;

CREATE TABLE IF NOT EXISTS transfer_audit_log (
	id              BIGSERIAL PRIMARY KEY,
	idempotency_key VARCHAR(120) NOT NULL,
	prev_state      TEXT,
	next_state      TEXT NOT NULL,
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transfer_audit_key ON transfer_audit_log (idempotency_key, id);
`

// EnsureSchema applies ddl against pool.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, ddl string) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
