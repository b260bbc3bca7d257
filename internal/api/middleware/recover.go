package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"go.uber.org/zap"
)

// RecoverMiddleware converts panics into a generic INTERNAL_ERROR problem and
// logs the stack.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.String("trace_id", TraceIDFromContext(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					problem.WriteCode(w, r, http.StatusInternalServerError, domain.CodeInternal, "unexpected server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
