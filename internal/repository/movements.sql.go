package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const insertMovementKey = `
INSERT INTO movement_idempotency (idempotency_key, request, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (idempotency_key) DO NOTHING
`

// InsertMovementKey reports whether the key was newly inserted.
func (q *Queries) InsertMovementKey(ctx context.Context, key string, request []byte) (bool, error) {
	tag, err := q.db.Exec(ctx, insertMovementKey, key, request)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const setMovementKeyResult = `
UPDATE movement_idempotency SET result = $2 WHERE idempotency_key = $1
`

func (q *Queries) SetMovementKeyResult(ctx context.Context, key string, result []byte) (int64, error) {
	tag, err := q.db.Exec(ctx, setMovementKeyResult, key, result)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getMovementKey = `
SELECT idempotency_key, request, result, created_at
FROM movement_idempotency WHERE idempotency_key = $1
`

func (q *Queries) GetMovementKey(ctx context.Context, key string) (models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := q.db.QueryRow(ctx, getMovementKey, key).Scan(&r.Key, &r.Request, &r.Result, &r.CreatedAt)
	return r, err
}

const insertMovement = `
INSERT INTO movements (id, account_id, idempotency_key, kind, amount, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, NOW())
RETURNING id, account_id, idempotency_key, kind, amount::text, created_at
`

type InsertMovementParams struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	IdempotencyKey string
	Kind           string
	Amount         decimal.Decimal
}

func (q *Queries) InsertMovement(ctx context.Context, arg InsertMovementParams) (models.Movement, error) {
	row := q.db.QueryRow(ctx, insertMovement,
		arg.ID, arg.AccountID, arg.IdempotencyKey, arg.Kind, arg.Amount.String())
	return scanMovement(row)
}

const listMovementsByAccount = `
SELECT id, account_id, idempotency_key, kind, amount::text, created_at
FROM movements
WHERE account_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
  AND ($4::text = '' OR kind = $4)
ORDER BY created_at DESC, id DESC
`

// ListMovementsParams filters an account's movements. Since is inclusive and
// Before exclusive; nil bounds and an empty Kind are not applied.
type ListMovementsParams struct {
	AccountID uuid.UUID
	Since     *time.Time
	Before    *time.Time
	Kind      string
}

// ListMovementsByAccount returns movements newest first.
func (q *Queries) ListMovementsByAccount(ctx context.Context, arg ListMovementsParams) ([]models.Movement, error) {
	rows, err := q.db.Query(ctx, listMovementsByAccount, arg.AccountID, arg.Since, arg.Before, arg.Kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (models.Movement, error) {
	var (
		m      models.Movement
		amount string
	)
	if err := row.Scan(&m.ID, &m.AccountID, &m.IdempotencyKey, &m.Kind, &amount, &m.CreatedAt); err != nil {
		return m, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return m, fmt.Errorf("parse movement amount: %w", err)
	}
	m.Amount = d
	return m, nil
}
