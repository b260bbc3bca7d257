package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	accountContextKey       contextKey = "account_id"
	accountNumberContextKey contextKey = "account_number"
	tokenContextKey         contextKey = "bearer_token"
	serviceContextKey       contextKey = "service"
	traceContextKey         contextKey = "trace_id"
)

var jwtSecret []byte
var jwtIssuer string
var jwtAudience string

// AccountClaims identifies the account a token acts for. Subject carries the
// account id. Service is set on tokens a service mints to act for an account.
type AccountClaims struct {
	AccountNumber string `json:"acc_number"`
	Name          string `json:"name,omitempty"`
	Service       string `json:"svc,omitempty"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// IssueToken signs an HS256 token for the account with the configured secret,
// issuer and audience.
func IssueToken(accountID uuid.UUID, accountNumber, name string, ttl time.Duration) (string, error) {
	return issue(accountID, accountNumber, name, "", ttl)
}

// IssueServiceToken signs a token that lets the named service act for the
// account. Requests carrying it are exempt from the per-account rate limit.
func IssueServiceToken(service string, accountID uuid.UUID, accountNumber string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(service) == "" {
		return "", fmt.Errorf("service name required")
	}
	return issue(accountID, accountNumber, "", service, ttl)
}

func issue(accountID uuid.UUID, accountNumber, name, service string, ttl time.Duration) (string, error) {
	if len(jwtSecret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}
	now := time.Now()
	claims := AccountClaims{
		AccountNumber: accountNumber,
		Name:          name,
		Service:       service,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if jwtAudience != "" {
		claims.Audience = jwt.ClaimStrings{jwtAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// AuthMiddleware validates the bearer token and injects the account identity
// and the raw token into the context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			problem.WriteCode(w, r, http.StatusUnauthorized, domain.CodeUnauthorized, "Authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			problem.WriteCode(w, r, http.StatusUnauthorized, domain.CodeUnauthorized, "Invalid token format")
			return
		}
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims := &AccountClaims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if jwtIssuer != "" {
			opts = append(opts, jwt.WithIssuer(jwtIssuer))
		}
		if jwtAudience != "" {
			opts = append(opts, jwt.WithAudience(jwtAudience))
		}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return jwtSecret, nil
		}, opts...)
		if err != nil || !token.Valid {
			problem.WriteCode(w, r, http.StatusUnauthorized, domain.CodeUnauthorized, "Invalid token")
			return
		}
		accountID, err := uuid.Parse(claims.Subject)
		if err != nil || claims.AccountNumber == "" {
			problem.WriteCode(w, r, http.StatusUnauthorized, domain.CodeUnauthorized, "Invalid token claims")
			return
		}

		recordIdentity(r.Context(), claims.AccountNumber)
		ctx := context.WithValue(r.Context(), accountContextKey, accountID)
		ctx = context.WithValue(ctx, accountNumberContextKey, claims.AccountNumber)
		ctx = context.WithValue(ctx, tokenContextKey, tokenString)
		if claims.Service != "" {
			ctx = context.WithValue(ctx, serviceContextKey, claims.Service)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountIDFromContext returns the authenticated account id.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(accountContextKey).(uuid.UUID)
	return v, ok
}

// AccountNumberFromContext returns the authenticated account's public number.
func AccountNumberFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(accountNumberContextKey).(string); ok {
		return v
	}
	return ""
}

// ServiceFromContext returns the service acting for the account, if any.
func ServiceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(serviceContextKey).(string); ok {
		return v
	}
	return ""
}

// BearerTokenFromContext returns the raw token so it can be forwarded.
func BearerTokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(tokenContextKey).(string); ok {
		return v
	}
	return ""
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
