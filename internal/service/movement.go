package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/events"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MovementCommand asks the ledger to credit or debit an account. AccountID is
// the authenticated caller; TargetAccountNumber, when set, names the account
// actually moved.
type MovementCommand struct {
	AccountID           uuid.UUID
	Kind                string
	Amount              decimal.Decimal
	IdempotencyKey      string
	TargetAccountNumber string
}

// MovementResult reports whether the command changed the ledger. Applied is
// false when the idempotency key had already been processed.
type MovementResult struct {
	Applied    bool
	MovementID uuid.UUID
	AccountID  uuid.UUID
}

type movementRequest struct {
	AccountID           string `json:"account_id"`
	Kind                string `json:"kind"`
	Amount              string `json:"amount"`
	TargetAccountNumber string `json:"target_account_number,omitempty"`
}

type movementOutcome struct {
	Status     string `json:"status"`
	MovementID string `json:"movement_id"`
}

// MovementService is the only writer of movements.
type MovementService struct {
	store  QueryStore
	events EventPublisher
}

func NewMovementService(store QueryStore) *MovementService {
	return &MovementService{store: store}
}

// WithEvents enables movement.recorded events.
func (s *MovementService) WithEvents(pub EventPublisher) *MovementService {
	s.events = pub
	return s
}

// RecordMovement applies cmd exactly once per idempotency key. The key insert
// is the first statement of the transaction, so a duplicate returns before any
// account is read; any later failure rolls the key back with everything else.
func (s *MovementService) RecordMovement(ctx context.Context, cmd MovementCommand) (MovementResult, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" || len(key) > domain.MaxIdempotencyKeyLength {
		return MovementResult{}, domain.ErrInvalidRequest.WithMessage(
			"idempotency key must be 1 to %d characters", domain.MaxIdempotencyKeyLength)
	}
	kind := strings.ToUpper(strings.TrimSpace(cmd.Kind))
	if kind != domain.KindCredit && kind != domain.KindDebit {
		return MovementResult{}, domain.ErrInvalidKind
	}
	amount, err := domain.ValidateAmount(cmd.Amount)
	if err != nil {
		return MovementResult{}, err
	}
	target := strings.TrimSpace(cmd.TargetAccountNumber)

	request, err := json.Marshal(movementRequest{
		AccountID:           cmd.AccountID.String(),
		Kind:                kind,
		Amount:              domain.FormatAmount(amount),
		TargetAccountNumber: target,
	})
	if err != nil {
		return MovementResult{}, fmt.Errorf("encode movement request: %w", err)
	}

	var (
		result   MovementResult
		movement models.Movement
		previous models.IdempotencyRecord
	)
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		inserted, err := q.InsertMovementKey(ctx, key, request)
		if err != nil {
			return fmt.Errorf("insert movement key: %w", err)
		}
		if !inserted {
			previous, err = q.GetMovementKey(ctx, key)
			if err != nil {
				return fmt.Errorf("load movement key: %w", err)
			}
			return nil
		}

		account, err := resolveMovementAccount(ctx, q, cmd.AccountID, target, kind)
		if err != nil {
			return err
		}
		// Serializes movements on the account against each other and
		// against deactivation.
		account, err = q.LockAccount(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		if !account.Active {
			return domain.ErrInactiveAccount
		}

		if kind == domain.KindDebit {
			row, err := q.GetAccountBalance(ctx, account.ID)
			if err != nil {
				return fmt.Errorf("load balance: %w", err)
			}
			if row.Balance().LessThan(amount) {
				return domain.ErrInsufficientFunds
			}
		}

		movement, err = q.InsertMovement(ctx, repository.InsertMovementParams{
			ID:             uuid.New(),
			AccountID:      account.ID,
			IdempotencyKey: key,
			Kind:           kind,
			Amount:         amount,
		})
		if err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}

		outcome, err := json.Marshal(movementOutcome{
			Status:     domain.MovementResultNoContent,
			MovementID: movement.ID.String(),
		})
		if err != nil {
			return fmt.Errorf("encode movement result: %w", err)
		}
		rows, err := q.SetMovementKeyResult(ctx, key, outcome)
		if err != nil {
			return fmt.Errorf("set movement key result: %w", err)
		}
		if err := requireExactlyOne(rows, "set movement key result"); err != nil {
			return err
		}

		result = MovementResult{Applied: true, MovementID: movement.ID, AccountID: account.ID}
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}

	if !result.Applied {
		return replayMovement(key, request, previous), nil
	}

	observability.IncrementIdempotencyEvent("movement", "applied")
	observability.IncrementMovement(kind)
	publish(ctx, s.events, events.LedgerMovementsStream, events.MovementRecorded, events.MovementRecordedEvent{
		MovementID:     movement.ID.String(),
		AccountID:      movement.AccountID.String(),
		IdempotencyKey: key,
		Kind:           kind,
		Amount:         domain.FormatAmount(amount),
	})
	return result, nil
}

// replayMovement answers a processed key with the movement it produced. A
// replay carrying a different request is still a no-op, but is logged.
func replayMovement(key string, request []byte, previous models.IdempotencyRecord) MovementResult {
	observability.IncrementIdempotencyEvent("movement", "replayed")
	var sent, stored movementRequest
	if json.Unmarshal(request, &sent) == nil && json.Unmarshal(previous.Request, &stored) == nil && sent != stored {
		observability.IncrementIdempotencyEvent("movement", "mismatch")
		zap.L().Warn("movement key reused with a different request",
			zap.String("idempotency_key", key),
			zap.String("kind", sent.Kind),
			zap.String("amount", sent.Amount),
			zap.String("original_kind", stored.Kind),
			zap.String("original_amount", stored.Amount))
	}

	var result MovementResult
	var outcome movementOutcome
	if json.Unmarshal(previous.Result, &outcome) == nil {
		result.MovementID, _ = uuid.Parse(outcome.MovementID)
	}
	return result
}

// resolveMovementAccount runs the account checks in order: caller exists and is
// active, target exists and is active, no debit against someone else.
func resolveMovementAccount(ctx context.Context, q repository.Querier, callerID uuid.UUID, target, kind string) (models.Account, error) {
	caller, err := q.GetAccount(ctx, callerID)
	if err != nil {
		if isNoRows(err) {
			return models.Account{}, domain.ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("load caller account: %w", err)
	}
	if !caller.Active {
		return models.Account{}, domain.ErrInactiveAccount
	}
	if target == "" || target == caller.Number {
		return caller, nil
	}

	account, err := q.GetAccountByNumber(ctx, target)
	if err != nil {
		if isNoRows(err) {
			return models.Account{}, domain.ErrAccountNotFound.WithMessage("account %s not found", target)
		}
		return models.Account{}, fmt.Errorf("load target account: %w", err)
	}
	if !account.Active {
		return models.Account{}, domain.ErrInactiveAccount.WithMessage("account %s is inactive", target)
	}
	if kind == domain.KindDebit {
		return models.Account{}, domain.ErrThirdPartyDebitForbidden
	}
	return account, nil
}
