package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/go-chi/httprate"
)

const codeRateLimited = "RATE_LIMITED"

// PublicRateLimiter limits requests per IP. A non-positive rps disables it.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return passthrough
	}
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.WriteCode(w, r, http.StatusTooManyRequests, codeRateLimited,
				fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))
		}),
	)
}

// AuthRateLimiter limits authenticated callers by account id. Service tokens
// are not limited: the issuing service already admitted the account's request
// and a rejected saga leg could strand a debit. It must run after
// AuthMiddleware.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return passthrough
	}
	limiter := httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id, ok := AccountIDFromContext(r.Context()); ok {
				return id.String(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.WriteCode(w, r, http.StatusTooManyRequests, codeRateLimited,
				fmt.Sprintf("Rate limit of %d req/s exceeded for this account", rps))
		}),
	)
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ServiceFromContext(r.Context()) != "" {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }
