package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const createAccount = `
INSERT INTO accounts (id, number, name, active, created_at)
VALUES ($1, $2, $3, TRUE, NOW())
RETURNING id, number, name, active, created_at
`

type CreateAccountParams struct {
	ID     uuid.UUID
	Number string
	Name   string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, createAccount, arg.ID, arg.Number, arg.Name).
		Scan(&a.ID, &a.Number, &a.Name, &a.Active, &a.CreatedAt)
	return a, err
}

const getAccount = `
SELECT id, number, name, active, created_at FROM accounts WHERE id = $1
`

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, getAccount, id).Scan(&a.ID, &a.Number, &a.Name, &a.Active, &a.CreatedAt)
	return a, err
}

const getAccountByNumber = `
SELECT id, number, name, active, created_at FROM accounts WHERE number = $1
`

func (q *Queries) GetAccountByNumber(ctx context.Context, number string) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, getAccountByNumber, number).Scan(&a.ID, &a.Number, &a.Name, &a.Active, &a.CreatedAt)
	return a, err
}

const lockAccount = `
SELECT id, number, name, active, created_at FROM accounts WHERE id = $1 FOR UPDATE
`

// LockAccount reads the account holding its row lock until the transaction
// ends. Writers that depend on the account's balance or state take it first.
func (q *Queries) LockAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	var a models.Account
	err := q.db.QueryRow(ctx, lockAccount, id).Scan(&a.ID, &a.Number, &a.Name, &a.Active, &a.CreatedAt)
	return a, err
}

const deactivateAccount = `
UPDATE accounts SET active = FALSE WHERE id = $1 AND active
`

func (q *Queries) DeactivateAccount(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deactivateAccount, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getAccountBalance = `
SELECT a.id, a.number, a.name, a.active, a.created_at,
       COALESCE(SUM(m.amount) FILTER (WHERE m.kind = 'C'), 0)::text AS credits,
       COALESCE(SUM(m.amount) FILTER (WHERE m.kind = 'D'), 0)::text AS debits
FROM accounts a
LEFT JOIN movements m ON m.account_id = a.id
WHERE a.id = $1
GROUP BY a.id
`

// AccountBalanceRow carries the account and its movement totals.
type AccountBalanceRow struct {
	Account models.Account
	Credits decimal.Decimal
	Debits  decimal.Decimal
}

// Balance is credits minus debits.
func (r AccountBalanceRow) Balance() decimal.Decimal {
	return r.Credits.Sub(r.Debits)
}

func (q *Queries) GetAccountBalance(ctx context.Context, id uuid.UUID) (AccountBalanceRow, error) {
	var (
		row             AccountBalanceRow
		credits, debits string
	)
	a := &row.Account
	if err := q.db.QueryRow(ctx, getAccountBalance, id).
		Scan(&a.ID, &a.Number, &a.Name, &a.Active, &a.CreatedAt, &credits, &debits); err != nil {
		return row, err
	}
	var err error
	if row.Credits, err = decimal.NewFromString(credits); err != nil {
		return row, fmt.Errorf("parse credits total: %w", err)
	}
	if row.Debits, err = decimal.NewFromString(debits); err != nil {
		return row, fmt.Errorf("parse debits total: %w", err)
	}
	return row, nil
}
