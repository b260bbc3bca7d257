package domain

// Movement kinds as stored in the ledger.
const (
	KindCredit = "C"
	KindDebit  = "D"
)

// Leg suffixes appended to a transfer's idempotency key to derive the key of
// each movement the saga issues.
const (
	LegDebitSuffix    = "-D"
	LegCreditSuffix   = "-C"
	LegReversalSuffix = "-R"
)

const (
	// MaxIdempotencyKeyLength bounds every stored idempotency key.
	MaxIdempotencyKeyLength = 120
	// MaxTransferKeyLength leaves room for a leg suffix.
	MaxTransferKeyLength = MaxIdempotencyKeyLength - len(LegDebitSuffix)

	// AccountNumberLength is the number of digits in a public account number.
	AccountNumberLength = 8

	// GeneratedKeyPrefix prefixes transfer keys minted when the client sends none.
	GeneratedKeyPrefix = "tx-"
)

// Transfer result statuses persisted in the transfer idempotency record.
const (
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
	TransferStatusRejected  = "REJECTED"
)

// MovementResultNoContent is the result body stored for an applied movement.
const MovementResultNoContent = "no-content"
