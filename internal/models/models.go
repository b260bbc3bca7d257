package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"account_number"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Movement is one immutable credit or debit against an account.
type Movement struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IdempotencyRecord is a processed (or in-flight) request key. Result stays nil
// until the request reaches a terminal outcome.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Request   []byte    `json:"request,omitempty"`
	Result    []byte    `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r IdempotencyRecord) Pending() bool {
	return len(r.Result) == 0
}

type Transfer struct {
	ID                   uuid.UUID       `json:"id"`
	IdempotencyKey       string          `json:"idempotency_key"`
	OriginAccountID      uuid.UUID       `json:"origin_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Balance is always derived from movements at read time.
type Balance struct {
	AccountNumber string          `json:"account_number"`
	Name          string          `json:"name"`
	Active        bool            `json:"active"`
	AsOf          time.Time       `json:"as_of"`
	Balance       decimal.Decimal `json:"balance"`
}

// MovementList is an account statement, newest movement first.
type MovementList struct {
	AccountNumber string     `json:"account_number"`
	Movements     []Movement `json:"movements"`
}

type SagaAuditEntry struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	PrevState      string    `json:"prev_state"`
	NextState      string    `json:"next_state"`
	Metadata       []byte    `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferResult is what a completed, failed or rejected transfer stores under
// its idempotency key and what replays return.
type TransferResult struct {
	Status                   string          `json:"status"`
	IdempotencyKey           string          `json:"idempotency_key"`
	TransferID               *uuid.UUID      `json:"transfer_id,omitempty"`
	OriginAccountNumber      string          `json:"origin_account_number"`
	DestinationAccountNumber string          `json:"destination_account_number"`
	Amount                   decimal.Decimal `json:"amount"`
	ErrorCode                string          `json:"error_code,omitempty"`
	ErrorMessage             string          `json:"error_message,omitempty"`
	CompletedAt              time.Time       `json:"completed_at"`
}
