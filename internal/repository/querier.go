package repository

import (
	"context"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
)

// Querier is the full query surface of both service databases. Not-found
// lookups return pgx.ErrNoRows.
type Querier interface {
	// accounts
	CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (models.Account, error)
	LockAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	DeactivateAccount(ctx context.Context, id uuid.UUID) (int64, error)
	GetAccountBalance(ctx context.Context, id uuid.UUID) (AccountBalanceRow, error)

	// movements
	InsertMovementKey(ctx context.Context, key string, request []byte) (bool, error)
	SetMovementKeyResult(ctx context.Context, key string, result []byte) (int64, error)
	GetMovementKey(ctx context.Context, key string) (models.IdempotencyRecord, error)
	InsertMovement(ctx context.Context, arg InsertMovementParams) (models.Movement, error)
	ListMovementsByAccount(ctx context.Context, arg ListMovementsParams) ([]models.Movement, error)

	// transfers
	ReserveTransferKey(ctx context.Context, key string, request []byte) (bool, error)
	GetTransferKey(ctx context.Context, key string) (models.IdempotencyRecord, error)
	FinalizeTransferKey(ctx context.Context, key string, result []byte) (bool, error)
	ReleaseTransferKey(ctx context.Context, key string) (bool, error)
	InsertTransfer(ctx context.Context, arg InsertTransferParams) (models.Transfer, error)
	GetTransferByKey(ctx context.Context, key string) (models.Transfer, error)
	ListPendingTransferKeys(ctx context.Context, createdBefore time.Time, limit int32) ([]models.IdempotencyRecord, error)
	InsertSagaAudit(ctx context.Context, arg InsertSagaAuditParams) (models.SagaAuditEntry, error)
	GetLatestSagaState(ctx context.Context, key string) (string, error)
}

var _ Querier = (*Queries)(nil)
