package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/events"
	"github.com/ayo6706/ledger-transfer/internal/gateway"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultResumeAfter = 30 * time.Second
	defaultWaitBudget  = 2 * time.Second
)

var errAlreadyFinalized = errors.New("transfer key already finalized")

// TransferCommand moves Amount from the caller's account to the destination.
// Token is forwarded to the ledger for the balance pre-check, and for every
// leg when no service token can be minted.
type TransferCommand struct {
	Token                    string
	OriginAccountID          uuid.UUID
	OriginAccountNumber      string
	DestinationAccountNumber string
	Amount                   decimal.Decimal
	IdempotencyKey           string
}

type transferRequest struct {
	OriginAccountID          string `json:"origin_account_id"`
	OriginAccountNumber      string `json:"origin_account_number"`
	DestinationAccountNumber string `json:"destination_account_number"`
	Amount                   string `json:"amount"`
}

// TokenIssuer mints a short-lived bearer token acting as the given account.
type TokenIssuer func(accountID uuid.UUID, accountNumber string) (string, error)

// TransferService orchestrates the debit, credit and compensation legs of a
// transfer against the ledger service.
type TransferService struct {
	store       QueryStore
	idem        *idempotency.Store
	ledger      gateway.Ledger
	audit       *AuditService
	events      EventPublisher
	issueToken  TokenIssuer
	resumeAfter time.Duration
	waitBudget  time.Duration
	now         func() time.Time
}

func NewTransferService(store QueryStore, idem *idempotency.Store, ledger gateway.Ledger) *TransferService {
	return &TransferService{
		store:       store,
		idem:        idem,
		ledger:      ledger,
		audit:       NewAuditService(store),
		resumeAfter: defaultResumeAfter,
		waitBudget:  defaultWaitBudget,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents enables transfer events and fatal alerts.
func (s *TransferService) WithEvents(pub EventPublisher) *TransferService {
	s.events = pub
	return s
}

// WithServiceTokens makes the saga legs authenticate with tokens minted for
// the origin account instead of the caller's. The ledger does not rate limit
// them, and a reversal gets a fresh one since the caller's may have expired by
// the time the credit leg fails.
func (s *TransferService) WithServiceTokens(issue TokenIssuer) *TransferService {
	s.issueToken = issue
	return s
}

// WithResumeAfter sets how old a pending key must be before a retry resumes
// it instead of reporting the transfer as in progress.
func (s *TransferService) WithResumeAfter(d time.Duration) *TransferService {
	if d > 0 {
		s.resumeAfter = d
	}
	return s
}

// WithWaitBudget sets how long a duplicate request waits for an in-flight
// transfer with the same key before giving up.
func (s *TransferService) WithWaitBudget(d time.Duration) *TransferService {
	if d >= 0 {
		s.waitBudget = d
	}
	return s
}

// NewTransferKey mints a key for clients that did not send one.
func NewTransferKey() string {
	return domain.GeneratedKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetTransfer returns the completed transfer recorded under key. Transfers
// made by other accounts are reported as not found.
func (s *TransferService) GetTransfer(ctx context.Context, callerID uuid.UUID, key string) (*models.Transfer, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > domain.MaxTransferKeyLength {
		return nil, domain.ErrInvalidRequest.WithMessage(
			"idempotency key must be 1 to %d characters", domain.MaxTransferKeyLength)
	}
	transfer, err := s.store.Queries().GetTransferByKey(ctx, key)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("load transfer: %w", err)
	}
	if transfer.OriginAccountID != callerID {
		return nil, domain.ErrTransferNotFound
	}
	return &transfer, nil
}

// transferAttempt is the per-call state shared by the saga steps. resumeFrom
// is the last recorded state of an earlier run of the same key.
type transferAttempt struct {
	cmd        TransferCommand
	key        string
	amount     decimal.Decimal
	dest       string
	request    []byte
	resumed    bool
	resumeFrom string
	saga       *sagaRun
	legToken   string
}

// untouched reports whether no earlier run of the key can have debited the
// origin. A run only debits after VALIDATED_ORIGIN is on record.
func (a *transferAttempt) untouched() bool {
	return !a.resumed || a.resumeFrom == SagaStart || a.resumeFrom == SagaRejected
}

func (a *transferAttempt) result(status string, at time.Time) models.TransferResult {
	return models.TransferResult{
		Status:                   status,
		IdempotencyKey:           a.key,
		OriginAccountNumber:      a.cmd.OriginAccountNumber,
		DestinationAccountNumber: a.dest,
		Amount:                   a.amount,
		CompletedAt:              at,
	}
}

func (a *transferAttempt) leg(suffix, kind, accountNumber string) gateway.MovementRequest {
	return gateway.MovementRequest{
		IdempotencyKey: a.key + suffix,
		Kind:           kind,
		Amount:         a.amount,
		AccountNumber:  accountNumber,
	}
}

// Transfer runs the saga once per idempotency key. A key with a stored result
// replays it; a key still pending is either awaited or, once older than the
// resume window, resumed from its last recorded saga state.
func (s *TransferService) Transfer(ctx context.Context, cmd TransferCommand) (*models.TransferResult, error) {
	amount, err := domain.ValidateAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}
	dest := strings.TrimSpace(cmd.DestinationAccountNumber)
	if !IsAccountNumber(dest) {
		return nil, domain.ErrInvalidRequest.WithMessage(
			"destination account number must be %d digits", domain.AccountNumberLength)
	}
	if dest == cmd.OriginAccountNumber {
		return nil, domain.ErrInvalidRequest.WithMessage("destination account must differ from origin account")
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = NewTransferKey()
	}
	if len(key) > domain.MaxTransferKeyLength {
		return nil, domain.ErrInvalidRequest.WithMessage(
			"idempotency key must be at most %d characters", domain.MaxTransferKeyLength)
	}

	request, err := json.Marshal(transferRequest{
		OriginAccountID:          cmd.OriginAccountID.String(),
		OriginAccountNumber:      cmd.OriginAccountNumber,
		DestinationAccountNumber: dest,
		Amount:                   domain.FormatAmount(amount),
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}

	resumed := false
	rec, err := s.idem.Lookup(ctx, key, request)
	switch {
	case err == nil:
		if !rec.Pending() {
			return s.replay(rec)
		}
		if s.now().Sub(rec.CreatedAt) < s.resumeAfter {
			return s.awaitInFlight(ctx, key)
		}
		resumed = true
	case errors.Is(err, idempotency.ErrNotFound):
		reserved, err := s.idem.Reserve(ctx, key, request)
		if err != nil {
			return nil, err
		}
		if !reserved {
			return s.awaitInFlight(ctx, key)
		}
	default:
		return nil, err
	}

	attempt := &transferAttempt{
		cmd:     cmd,
		key:     key,
		amount:  amount,
		dest:    dest,
		request: request,
		resumed: resumed,
	}
	if resumed {
		attempt.resumeFrom = s.lastState(ctx, key)
		observability.IncrementIdempotencyEvent("transfer", "resumed")
		zap.L().Warn("resuming pending transfer",
			zap.String("idempotency_key", key),
			zap.String("last_state", attempt.resumeFrom))
	} else {
		observability.IncrementIdempotencyEvent("transfer", "reserved")
	}

	switch attempt.resumeFrom {
	case SagaStart, SagaValidatedOrigin, SagaDebitedOrigin, SagaCompensationAttempted, SagaFailed, SagaFatal:
		attempt.saga = continueSagaRun(key, s.audit, attempt.resumeFrom)
	default:
		attempt.saga = newSagaRun(ctx, key, s.audit, resumed)
	}
	return s.run(ctx, attempt)
}

// lastState reads the saga state an earlier run left behind. An unreadable
// trail is treated as unknown.
func (s *TransferService) lastState(ctx context.Context, key string) string {
	state, err := s.audit.LatestState(ctx, key)
	if err != nil {
		zap.L().Warn("saga state unavailable for resumed transfer", zap.String("idempotency_key", key), zap.Error(err))
		return ""
	}
	return normalizeState(state)
}

func (s *TransferService) run(ctx context.Context, a *transferAttempt) (*models.TransferResult, error) {
	switch a.resumeFrom {
	case SagaFatal:
		zap.L().Error("resumed transfer needs manual remediation", zap.String("idempotency_key", a.key))
		return nil, domain.ErrFatalInconsistency
	case SagaFailed:
		// The reversal landed; only the stored result is missing.
		result := a.result(domain.TransferStatusFailed, s.now())
		result.ErrorCode = domain.ErrTransferFailed.Code
		result.ErrorMessage = domain.ErrTransferFailed.Message
		s.finalizeWithoutTransfer(ctx, a, result)
		return nil, domain.ErrTransferFailed
	case SagaCompensationAttempted:
		return s.compensate(ctx, a, domain.ErrTransferFailed.WithMessage("credit outcome of an earlier attempt is unknown"))
	}

	// An earlier run may already have its debit applied, which would fail the
	// balance pre-check. The engine enforces funds on the debit itself.
	precheck := a.untouched()
	if precheck {
		balance, err := s.ledger.GetBalance(ctx, a.cmd.Token)
		if err != nil {
			if errors.Is(err, domain.ErrInactiveAccount) {
				return s.reject(ctx, a, domain.ErrOriginInactive)
			}
			if isDecision(err) {
				return s.reject(ctx, a, err)
			}
			// Nothing has moved, so the key is handed back for a retry.
			s.release(ctx, a)
			return nil, upstreamError(err, "check origin balance")
		}
		if !balance.Active {
			return s.reject(ctx, a, domain.ErrOriginInactive)
		}
		if balance.Balance.LessThan(a.amount) {
			return s.reject(ctx, a, domain.ErrInsufficientFunds)
		}
	}
	if a.saga.state == SagaStart {
		var metadata map[string]any
		if !precheck {
			metadata = map[string]any{"precheck": "skipped"}
		}
		if err := a.saga.checkpoint(ctx, SagaValidatedOrigin, metadata); err != nil {
			zap.L().Warn("transfer stopped before debit: saga checkpoint not stored",
				zap.String("idempotency_key", a.key),
				zap.Error(err))
			if a.untouched() {
				s.release(ctx, a)
			}
			return nil, fmt.Errorf("record transfer checkpoint: %w", err)
		}
	}

	a.legToken = s.serviceToken(a)
	if err := s.ledger.RecordMovement(ctx, a.legToken, a.leg(domain.LegDebitSuffix, domain.KindDebit, "")); err != nil {
		if errors.Is(err, domain.ErrInactiveAccount) {
			return s.reject(ctx, a, domain.ErrOriginInactive)
		}
		if isDecision(err) {
			return s.reject(ctx, a, err)
		}
		zap.L().Warn("transfer debit outcome unknown, key left pending",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
		return nil, upstreamError(err, "debit origin")
	}
	a.saga.transition(ctx, SagaDebitedOrigin, nil)

	if err := s.ledger.RecordMovement(ctx, a.legToken, a.leg(domain.LegCreditSuffix, domain.KindCredit, a.dest)); err != nil {
		return s.compensate(ctx, a, err)
	}

	return s.complete(ctx, a)
}

// compensate credits the origin back once. The caller sees the credit failure
// if the reversal lands, and a generic internal error if it does not.
//
// The reversal is only sent once COMPENSATION_ATTEMPTED is on record. A
// resume that saw DEBITED_ORIGIN would retry the credit, which must never
// follow a reversal that already landed.
func (s *TransferService) compensate(ctx context.Context, a *transferAttempt, creditErr error) (*models.TransferResult, error) {
	ctx = context.WithoutCancel(ctx)
	if a.saga.state != SagaCompensationAttempted {
		if err := a.saga.checkpoint(ctx, SagaCompensationAttempted, map[string]any{"credit_error": creditErr.Error()}); err != nil {
			zap.L().Error("transfer debited but compensation not recorded, reversal deferred and key left pending",
				zap.String("idempotency_key", a.key),
				zap.String("amount", domain.FormatAmount(a.amount)),
				zap.String("origin_account_number", a.cmd.OriginAccountNumber),
				zap.NamedError("credit_error", creditErr),
				zap.Error(err))
			return nil, upstreamError(err, "record compensation")
		}
	}

	reversalErr := s.ledger.RecordCompensation(ctx, s.serviceToken(a), a.leg(domain.LegReversalSuffix, domain.KindCredit, ""))
	if reversalErr != nil {
		return s.fatal(ctx, a, creditErr, reversalErr)
	}

	failure := creditFailure(creditErr)
	a.saga.transition(ctx, SagaFailed, map[string]any{"code": failure.Code})

	result := a.result(domain.TransferStatusFailed, s.now())
	result.ErrorCode = failure.Code
	result.ErrorMessage = failure.Message
	s.finalizeWithoutTransfer(ctx, a, result)

	observability.IncrementSagaOutcome("compensated")
	zap.L().Info("transfer compensated",
		zap.String("idempotency_key", a.key),
		zap.String("code", failure.Code),
		zap.NamedError("credit_error", creditErr))
	publish(ctx, s.events, events.TransferEventsStream, events.TransferCompensated, events.TransferCompensatedEvent{
		IdempotencyKey:           a.key,
		OriginAccountNumber:      a.cmd.OriginAccountNumber,
		DestinationAccountNumber: a.dest,
		Amount:                   domain.FormatAmount(a.amount),
		Reason:                   failure.Code,
	})
	return nil, failure
}

// serviceToken prefers a freshly minted origin token and falls back to the
// caller's.
func (s *TransferService) serviceToken(a *transferAttempt) string {
	if s.issueToken == nil {
		return a.cmd.Token
	}
	token, err := s.issueToken(a.cmd.OriginAccountID, a.cmd.OriginAccountNumber)
	if err != nil {
		zap.L().Warn("service token not issued, using caller token",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
		return a.cmd.Token
	}
	return token
}

func (s *TransferService) fatal(ctx context.Context, a *transferAttempt, creditErr, reversalErr error) (*models.TransferResult, error) {
	a.saga.transition(ctx, SagaFatal, map[string]any{
		"credit_error":   creditErr.Error(),
		"reversal_error": reversalErr.Error(),
	})
	zap.L().Error("transfer inconsistent: origin debited but neither credited nor reversed",
		zap.String("idempotency_key", a.key),
		zap.String("amount", domain.FormatAmount(a.amount)),
		zap.String("origin_account_id", a.cmd.OriginAccountID.String()),
		zap.String("origin_account_number", a.cmd.OriginAccountNumber),
		zap.String("destination_account_number", a.dest),
		zap.NamedError("credit_error", creditErr),
		zap.NamedError("reversal_error", reversalErr))
	observability.IncrementFatalInconsistency()
	observability.IncrementSagaOutcome("fatal")
	publish(ctx, s.events, events.TransferAlertsStream, events.TransferFatal, events.TransferFatalEvent{
		IdempotencyKey:           a.key,
		OriginAccountID:          a.cmd.OriginAccountID.String(),
		OriginAccountNumber:      a.cmd.OriginAccountNumber,
		DestinationAccountNumber: a.dest,
		Amount:                   domain.FormatAmount(a.amount),
		CreditError:              creditErr.Error(),
		ReversalError:            reversalErr.Error(),
	})
	return nil, domain.ErrFatalInconsistency
}

// complete records the transfer and its result in one transaction. Both legs
// have landed at this point, so it runs detached from the caller's context.
func (s *TransferService) complete(ctx context.Context, a *transferAttempt) (*models.TransferResult, error) {
	ctx = context.WithoutCancel(ctx)

	token := a.legToken
	if token == "" {
		token = a.cmd.Token
	}
	destination, err := s.ledger.LookupAccount(ctx, token, a.dest)
	if err != nil {
		zap.L().Error("transfer credited but destination lookup failed, key left pending",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
		return nil, upstreamError(err, "resolve destination account")
	}

	transferID := uuid.New()
	result := a.result(domain.TransferStatusCompleted, s.now())
	result.TransferID = &transferID
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode transfer result: %w", err)
	}

	var stored []byte
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		ok, err := s.idem.Finalize(ctx, q, a.key, payload)
		if err != nil {
			return err
		}
		if !ok {
			rec, err := q.GetTransferKey(ctx, a.key)
			if err != nil {
				return fmt.Errorf("load finalized transfer key: %w", err)
			}
			stored = rec.Result
			return errAlreadyFinalized
		}
		if _, err := q.InsertTransfer(ctx, repository.InsertTransferParams{
			ID:                   transferID,
			IdempotencyKey:       a.key,
			OriginAccountID:      a.cmd.OriginAccountID,
			DestinationAccountID: destination.ID,
			Amount:               a.amount,
		}); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAlreadyFinalized) {
		return s.replay(&idempotency.Record{Key: a.key, Result: stored})
	}
	if err != nil {
		zap.L().Error("transfer credited but not recorded, key left pending",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
		return nil, err
	}

	a.saga.transition(ctx, SagaCompleted, map[string]any{"transfer_id": transferID.String()})
	s.idem.Cache(ctx, idempotency.Record{Key: a.key, Request: a.request, Result: payload, CreatedAt: result.CompletedAt})
	observability.IncrementSagaOutcome("completed")
	publish(ctx, s.events, events.TransferEventsStream, events.TransferCompleted, events.TransferCompletedEvent{
		TransferID:               transferID.String(),
		IdempotencyKey:           a.key,
		OriginAccountNumber:      a.cmd.OriginAccountNumber,
		DestinationAccountNumber: a.dest,
		Amount:                   domain.FormatAmount(a.amount),
	})
	return &result, nil
}

// reject stores a terminal failure for a transfer that moved no money.
func (s *TransferService) reject(ctx context.Context, a *transferAttempt, cause error) (*models.TransferResult, error) {
	var failure *domain.Error
	if !errors.As(cause, &failure) {
		failure = domain.ErrTransferFailed.Wrap(cause)
	}
	if errors.Is(failure, domain.ErrUnauthorized) {
		// Says nothing about earlier runs, so only a key that cannot have
		// moved money is handed back for a retry.
		if a.untouched() {
			a.saga.transition(ctx, SagaRejected, map[string]any{"code": failure.Code, "released": true})
			s.release(ctx, a)
		}
		return nil, failure
	}
	a.saga.transition(ctx, SagaRejected, map[string]any{"code": failure.Code})

	result := a.result(domain.TransferStatusRejected, s.now())
	result.ErrorCode = failure.Code
	result.ErrorMessage = failure.Message
	s.finalizeWithoutTransfer(ctx, a, result)

	observability.IncrementSagaOutcome("rejected")
	return nil, failure
}

// release deletes a pending key so the client can retry it.
func (s *TransferService) release(ctx context.Context, a *transferAttempt) {
	if err := s.idem.Release(context.WithoutCancel(ctx), a.key); err != nil {
		zap.L().Warn("transfer key not released, left pending",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
	}
}

func (s *TransferService) finalizeWithoutTransfer(ctx context.Context, a *transferAttempt, result models.TransferResult) {
	ctx = context.WithoutCancel(ctx)
	payload, err := json.Marshal(result)
	if err != nil {
		zap.L().Error("encode transfer result", zap.String("idempotency_key", a.key), zap.Error(err))
		return
	}
	finalized := false
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		finalized, err = s.idem.Finalize(ctx, q, a.key, payload)
		return err
	})
	if err != nil {
		zap.L().Warn("transfer result not stored, key left pending",
			zap.String("idempotency_key", a.key),
			zap.Error(err))
		return
	}
	if finalized {
		s.idem.Cache(ctx, idempotency.Record{Key: a.key, Request: a.request, Result: payload, CreatedAt: result.CompletedAt})
	}
}

func (s *TransferService) replay(rec *idempotency.Record) (*models.TransferResult, error) {
	var result models.TransferResult
	if err := json.Unmarshal(rec.Result, &result); err != nil {
		return nil, fmt.Errorf("decode stored transfer result: %w", err)
	}
	observability.IncrementIdempotencyEvent("transfer", "replayed")
	if result.Status == domain.TransferStatusCompleted {
		return &result, nil
	}
	return nil, domain.FromCode(result.ErrorCode, result.ErrorMessage)
}

func (s *TransferService) awaitInFlight(ctx context.Context, key string) (*models.TransferResult, error) {
	observability.IncrementIdempotencyEvent("transfer", "in_progress")
	if s.waitBudget <= 0 {
		return nil, domain.ErrTransferInProgress
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.waitBudget)
	defer cancel()

	rec, err := s.idem.WaitForCompletion(waitCtx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A released key means the other request gave up before moving money.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, idempotency.ErrNotFound) {
			return nil, domain.ErrTransferInProgress
		}
		return nil, err
	}
	return s.replay(rec)
}

// isDecision reports whether err is the ledger's answer rather than a failure
// to get one.
func isDecision(err error) bool {
	kind := domain.KindOf(err)
	return kind == domain.KindBusinessRule || kind == domain.KindValidation
}

func creditFailure(err error) *domain.Error {
	var de *domain.Error
	if isDecision(err) && errors.As(err, &de) {
		return de
	}
	return domain.ErrTransferFailed
}

func upstreamError(err error, step string) error {
	if domain.IsUpstream(err) {
		return err
	}
	return domain.ErrUpstreamUnavailable.WithMessage("%s failed", step).Wrap(err)
}
