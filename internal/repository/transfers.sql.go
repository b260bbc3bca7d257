package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const reserveTransferKey = `
INSERT INTO transfer_idempotency (idempotency_key, request, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (idempotency_key) DO NOTHING
`

// ReserveTransferKey reports whether this call created the record.
func (q *Queries) ReserveTransferKey(ctx context.Context, key string, request []byte) (bool, error) {
	tag, err := q.db.Exec(ctx, reserveTransferKey, key, request)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const getTransferKey = `
SELECT idempotency_key, request, result, created_at
FROM transfer_idempotency WHERE idempotency_key = $1
`

func (q *Queries) GetTransferKey(ctx context.Context, key string) (models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := q.db.QueryRow(ctx, getTransferKey, key).Scan(&r.Key, &r.Request, &r.Result, &r.CreatedAt)
	return r, err
}

const finalizeTransferKey = `
UPDATE transfer_idempotency SET result = $2
WHERE idempotency_key = $1 AND result IS NULL
`

// FinalizeTransferKey sets the result once. It reports false when the record
// is missing or already finalized.
func (q *Queries) FinalizeTransferKey(ctx context.Context, key string, result []byte) (bool, error) {
	tag, err := q.db.Exec(ctx, finalizeTransferKey, key, result)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const releaseTransferKey = `
DELETE FROM transfer_idempotency
WHERE idempotency_key = $1 AND result IS NULL
`

// ReleaseTransferKey deletes a pending key. It reports false when the key is
// missing or already finalized.
func (q *Queries) ReleaseTransferKey(ctx context.Context, key string) (bool, error) {
	tag, err := q.db.Exec(ctx, releaseTransferKey, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const insertTransfer = `
INSERT INTO transfers (id, idempotency_key, origin_account_id, destination_account_id, amount, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, NOW())
RETURNING id, idempotency_key, origin_account_id, destination_account_id, amount::text, created_at
`

type InsertTransferParams struct {
	ID                   uuid.UUID
	IdempotencyKey       string
	OriginAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               decimal.Decimal
}

func (q *Queries) InsertTransfer(ctx context.Context, arg InsertTransferParams) (models.Transfer, error) {
	row := q.db.QueryRow(ctx, insertTransfer,
		arg.ID, arg.IdempotencyKey, arg.OriginAccountID, arg.DestinationAccountID, arg.Amount.String())
	return scanTransfer(row)
}

const getTransferByKey = `
SELECT id, idempotency_key, origin_account_id, destination_account_id, amount::text, created_at
FROM transfers WHERE idempotency_key = $1
`

func (q *Queries) GetTransferByKey(ctx context.Context, key string) (models.Transfer, error) {
	return scanTransfer(q.db.QueryRow(ctx, getTransferByKey, key))
}

func scanTransfer(row rowScanner) (models.Transfer, error) {
	var (
		t      models.Transfer
		amount string
	)
	if err := row.Scan(&t.ID, &t.IdempotencyKey, &t.OriginAccountID, &t.DestinationAccountID, &amount, &t.CreatedAt); err != nil {
		return t, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("parse transfer amount: %w", err)
	}
	t.Amount = d
	return t, nil
}

const listPendingTransferKeys = `
SELECT idempotency_key, request, result, created_at
FROM transfer_idempotency
WHERE result IS NULL AND created_at < $1
ORDER BY created_at
LIMIT $2
`

func (q *Queries) ListPendingTransferKeys(ctx context.Context, createdBefore time.Time, limit int32) ([]models.IdempotencyRecord, error) {
	rows, err := q.db.Query(ctx, listPendingTransferKeys, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.IdempotencyRecord
	for rows.Next() {
		var r models.IdempotencyRecord
		if err := rows.Scan(&r.Key, &r.Request, &r.Result, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const insertSagaAudit = `
INSERT INTO transfer_audit_log (idempotency_key, prev_state, next_state, metadata, created_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING id, idempotency_key, COALESCE(prev_state, ''), next_state, metadata, created_at
`

type InsertSagaAuditParams struct {
	IdempotencyKey string
	PrevState      *string
	NextState      string
	Metadata       []byte
}

func (q *Queries) InsertSagaAudit(ctx context.Context, arg InsertSagaAuditParams) (models.SagaAuditEntry, error) {
	var e models.SagaAuditEntry
	err := q.db.QueryRow(ctx, insertSagaAudit, arg.IdempotencyKey, arg.PrevState, arg.NextState, arg.Metadata).
		Scan(&e.ID, &e.IdempotencyKey, &e.PrevState, &e.NextState, &e.Metadata, &e.CreatedAt)
	return e, err
}

const getLatestSagaState = `
SELECT next_state FROM transfer_audit_log
WHERE idempotency_key = $1
ORDER BY id DESC
LIMIT 1
`

func (q *Queries) GetLatestSagaState(ctx context.Context, key string) (string, error) {
	var state string
	err := q.db.QueryRow(ctx, getLatestSagaState, key).Scan(&state)
	return state, err
}
