package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes err as a problem document. Errors that are not
// *domain.Error, and fatal ones, become a generic INTERNAL_ERROR.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, StatusFor(err))
}

func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindFatal {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err))
		problem.WriteCode(w, r, http.StatusInternalServerError, domain.CodeInternal, "internal error")
		return
	}
	if de.Kind == domain.KindUpstream {
		zap.L().Warn("upstream failure",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err))
	}
	problem.WriteCode(w, r, status, de.Code, de.Message)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUpstream:
		return http.StatusBadGateway
	case domain.KindFatal:
		return http.StatusInternalServerError
	}
	switch de.Code {
	case domain.CodeInvalidAccount:
		return http.StatusBadRequest
	case domain.CodeTransferInProgress:
		return http.StatusConflict
	case domain.CodeTransferNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusUnprocessableEntity
	}
}

// decodeJSON reads a JSON body into dst and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrInvalidRequest.WithMessage("request body is required")
		}
		return domain.ErrInvalidRequest.WithMessage("malformed request body").Wrap(err)
	}
	return validateStruct(dst)
}
