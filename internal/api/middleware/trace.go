package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	traceHeader                   = "X-Trace-ID"
	maxTraceIDLength              = 128
	identityContextKey contextKey = "request_identity"
)

// TraceMiddleware ensures each request has a trace identifier propagated via
// context and headers. Incoming ids are reused so a transfer and the ledger
// calls it makes share one id.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" || len(traceID) > maxTraceIDLength {
			traceID = uuid.NewString()
			r.Header.Set(traceHeader, traceID)
		}
		ctx := contextWithTraceID(r.Context(), traceID)
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}

// requestIdentity is filled in by AuthMiddleware so outer middleware can log
// who made the request.
type requestIdentity struct {
	accountNumber string
}

func withRequestIdentity(ctx context.Context, id *requestIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func recordIdentity(ctx context.Context, accountNumber string) {
	if id, ok := ctx.Value(identityContextKey).(*requestIdentity); ok {
		id.accountNumber = accountNumber
	}
}
