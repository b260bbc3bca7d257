package events

import "time"

// Event types
const (
	MovementRecorded    = "movement.recorded"
	TransferCompleted   = "transfer.completed"
	TransferCompensated = "transfer.compensated"
	TransferFatal       = "transfer.fatal"
)

// Stream names
const (
	LedgerMovementsStream = "ledger.movements"
	TransferEventsStream  = "transfer.events"
	TransferAlertsStream  = "transfer.alerts"
)

// Event is the envelope written to every stream entry.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type MovementRecordedEvent struct {
	MovementID     string `json:"movementId"`
	AccountID      string `json:"accountId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
}

type TransferCompletedEvent struct {
	TransferID               string `json:"transferId"`
	IdempotencyKey           string `json:"idempotencyKey"`
	OriginAccountNumber      string `json:"originAccountNumber"`
	DestinationAccountNumber string `json:"destinationAccountNumber"`
	Amount                   string `json:"amount"`
}

// TransferCompensatedEvent is emitted after a failed credit was reversed.
type TransferCompensatedEvent struct {
	IdempotencyKey           string `json:"idempotencyKey"`
	OriginAccountNumber      string `json:"originAccountNumber"`
	DestinationAccountNumber string `json:"destinationAccountNumber"`
	Amount                   string `json:"amount"`
	Reason                   string `json:"reason"`
}

// TransferFatalEvent signals funds debited from the origin that could be
// neither credited nor reversed. Operators must remediate by hand.
type TransferFatalEvent struct {
	IdempotencyKey           string `json:"idempotencyKey"`
	OriginAccountID          string `json:"originAccountId"`
	OriginAccountNumber      string `json:"originAccountNumber"`
	DestinationAccountNumber string `json:"destinationAccountNumber"`
	Amount                   string `json:"amount"`
	CreditError              string `json:"creditError"`
	ReversalError            string `json:"reversalError"`
}
