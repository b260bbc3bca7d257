package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/observability"
)

const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyKeyContextKey contextKey = "idempotency_key"

// IdempotencyKey checks the Idempotency-Key header on mutating requests and
// stores the trimmed value in the context. When required is false a missing
// header passes through and the handler decides what to do.
func IdempotencyKey(maxLen int, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" && required {
				observability.IncrementIdempotencyEvent("http", "missing_key")
				problem.WriteCode(w, r, http.StatusBadRequest, domain.CodeInvalidValue,
					"Idempotency-Key header is required")
				return
			}
			if len(key) > maxLen {
				observability.IncrementIdempotencyEvent("http", "key_too_long")
				problem.WriteCode(w, r, http.StatusBadRequest, domain.CodeInvalidValue,
					fmt.Sprintf("Idempotency-Key must be at most %d characters", maxLen))
				return
			}
			if key != "" {
				r = r.WithContext(context.WithValue(r.Context(), idempotencyKeyContextKey, key))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyKeyFromContext returns the validated key, or "" when none was sent.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(idempotencyKeyContextKey).(string); ok {
		return v
	}
	return ""
}
