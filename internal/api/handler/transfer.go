package handler

import (
	"net/http"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

type transferRequest struct {
	DestinationAccountNumber string          `json:"destination_account_number" validate:"required,len=8,numeric"`
	Amount                   decimal.Decimal `json:"amount"`
}

func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := middleware.AccountIDFromContext(ctx)
	if !ok {
		RespondError(w, r, domain.ErrUnauthorized)
		return
	}

	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, err)
		return
	}

	result, err := h.svc.Transfer(ctx, service.TransferCommand{
		Token:                    middleware.BearerTokenFromContext(ctx),
		OriginAccountID:          accountID,
		OriginAccountNumber:      middleware.AccountNumberFromContext(ctx),
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   req.Amount,
		IdempotencyKey:           middleware.IdempotencyKeyFromContext(ctx),
	})
	if err != nil {
		RespondError(w, r, err)
		return
	}
	w.Header().Set(middleware.IdempotencyKeyHeader, result.IdempotencyKey)
	RespondJSON(w, http.StatusCreated, result)
}

func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		RespondError(w, r, domain.ErrUnauthorized)
		return
	}

	transfer, err := h.svc.GetTransfer(r.Context(), accountID, chi.URLParam(r, "key"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, transfer)
}
