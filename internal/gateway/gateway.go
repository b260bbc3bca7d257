package gateway

import (
	"context"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/shopspring/decimal"
)

// Ledger is the transfer service's view of the account-ledger service. Every
// call acts as the account the bearer token belongs to.
//
// Errors are *domain.Error values: business and validation kinds carry the
// ledger's decision, KindUpstream means the outcome is unknown (network
// failure, timeout, 5xx or open circuit).
type Ledger interface {
	GetBalance(ctx context.Context, token string) (*models.Balance, error)
	RecordMovement(ctx context.Context, token string, req MovementRequest) error
	// RecordCompensation issues a reversing movement. It bypasses the circuit
	// breaker so compensation is always attempted.
	RecordCompensation(ctx context.Context, token string, req MovementRequest) error
	LookupAccount(ctx context.Context, token, number string) (*models.Account, error)
}

// MovementRequest is one leg of a transfer. AccountNumber is empty for the
// caller's own account.
type MovementRequest struct {
	IdempotencyKey string          `json:"-"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	AccountNumber  string          `json:"account_number,omitempty"`
}
