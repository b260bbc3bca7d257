package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerHandler serves the account ledger: balances, movements and account
// lookups. Every route acts as the authenticated account.
type LedgerHandler struct {
	accounts  *service.AccountService
	movements *service.MovementService
}

func NewLedgerHandler(accounts *service.AccountService, movements *service.MovementService) *LedgerHandler {
	return &LedgerHandler{accounts: accounts, movements: movements}
}

type movementRequest struct {
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"account_number" validate:"omitempty,len=8,numeric"`
}

type lookupResponse struct {
	ID            uuid.UUID `json:"id"`
	AccountNumber string    `json:"account_number"`
	Name          string    `json:"name"`
	Active        bool      `json:"active"`
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		RespondError(w, r, domain.ErrUnauthorized)
		return
	}

	balance, err := h.accounts.GetBalance(r.Context(), accountID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

// RecordMovement answers 204 both when the movement is applied and when the
// idempotency key had already been processed.
func (h *LedgerHandler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		RespondError(w, r, domain.ErrUnauthorized)
		return
	}

	var req movementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, err)
		return
	}

	res, err := h.movements.RecordMovement(r.Context(), service.MovementCommand{
		AccountID:           accountID,
		Kind:                req.Kind,
		Amount:              req.Amount,
		IdempotencyKey:      middleware.IdempotencyKeyFromContext(r.Context()),
		TargetAccountNumber: req.AccountNumber,
	})
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if !res.Applied {
		w.Header().Set("X-Idempotent-Replay", "true")
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMovements serves the caller's statement. since and until take a date
// (2006-01-02) or an RFC 3339 timestamp; kind takes C or D.
func (h *LedgerHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		RespondError(w, r, domain.ErrUnauthorized)
		return
	}

	query := r.URL.Query()
	since, _, err := parseQueryTime(query.Get("since"), "since")
	if err != nil {
		RespondError(w, r, err)
		return
	}
	until, untilExact, err := parseQueryTime(query.Get("until"), "until")
	if err != nil {
		RespondError(w, r, err)
		return
	}

	list, err := h.accounts.ListMovements(r.Context(), accountID, service.MovementFilter{
		Since:      since,
		Until:      until,
		UntilExact: untilExact,
		Kind:       query.Get("kind"),
	})
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, list)
}

// parseQueryTime accepts a date or an RFC 3339 timestamp and reports which
// one it got.
func parseQueryTime(raw, name string) (t time.Time, exact bool, err error) {
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, false, nil
	}
	t, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, domain.ErrInvalidRequest.WithMessage("%s must be a date (YYYY-MM-DD) or an RFC 3339 timestamp", name)
	}
	return t, true, nil
}

func (h *LedgerHandler) LookupAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.LookupAccount(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondError(w, r, err, http.StatusNotFound)
			return
		}
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, lookupResponse{
		ID:            account.ID,
		AccountNumber: account.Number,
		Name:          account.Name,
		Active:        account.Active,
	})
}
