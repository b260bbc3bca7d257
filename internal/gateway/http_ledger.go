package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// BreakerSettings configures the circuit breaker guarding forward calls.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// HTTPLedger calls the ledger service's REST API.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPLedger builds a client whose forward calls share one breaker. Only
// upstream failures count against the breaker; business rejections are
// successful round trips.
func NewHTTPLedger(baseURL string, client *http.Client, bs BreakerSettings) *HTTPLedger {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	threshold := max(bs.ConsecutiveFailures, 1)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsUpstream(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			observability.SetBreakerState(name, breakerStateValue(to))
		},
	})
	observability.SetBreakerState("ledger", breakerStateValue(gobreaker.StateClosed))
	return &HTTPLedger{baseURL: baseURL, client: client, breaker: breaker}
}

func (l *HTTPLedger) GetBalance(ctx context.Context, token string) (*models.Balance, error) {
	var out models.Balance
	err := l.guarded("get_balance", func() error {
		return l.do(ctx, http.MethodGet, "/v1/accounts/balance", token, "", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *HTTPLedger) RecordMovement(ctx context.Context, token string, req MovementRequest) error {
	return l.guarded("record_movement", func() error {
		return l.do(ctx, http.MethodPost, "/v1/accounts/movements", token, req.IdempotencyKey, req, nil)
	})
}

func (l *HTTPLedger) RecordCompensation(ctx context.Context, token string, req MovementRequest) error {
	start := time.Now()
	err := l.do(ctx, http.MethodPost, "/v1/accounts/movements", token, req.IdempotencyKey, req, nil)
	observability.ObserveLedgerCall("record_compensation", resultLabel(err), time.Since(start))
	return err
}

func (l *HTTPLedger) LookupAccount(ctx context.Context, token, number string) (*models.Account, error) {
	var out models.Account
	err := l.guarded("lookup_account", func() error {
		return l.do(ctx, http.MethodGet, "/v1/accounts/lookup/"+url.PathEscape(number), token, "", nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// State exposes the breaker state for readiness reporting.
func (l *HTTPLedger) State() gobreaker.State {
	return l.breaker.State()
}

func (l *HTTPLedger) guarded(op string, fn func() error) error {
	start := time.Now()
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = domain.ErrUpstreamUnavailable.WithMessage("ledger circuit breaker rejected the call").Wrap(err)
	}
	observability.ObserveLedgerCall(op, resultLabel(err), time.Since(start))
	return err
}

func (l *HTTPLedger) do(ctx context.Context, method, path, token, idemKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode ledger request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	if traceID := middleware.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.ErrUpstreamUnavailable.WithMessage("%s %s failed", method, path).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.ErrUpstreamUnavailable.WithMessage("decode %s %s response", method, path).Wrap(err)
		}
		return nil
	}
	return decodeLedgerError(resp)
}

type ledgerProblem struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// decodeLedgerError turns a non-2xx response into a typed error. 5xx and 429
// mean the ledger did not decide; 4xx carry its decision.
func decodeLedgerError(resp *http.Response) error {
	var p ledgerProblem
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&p)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrUpstreamUnavailable.WithMessage("ledger returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized.WithMessage("ledger rejected credentials")
	case p.Code != "":
		return domain.FromCode(p.Code, p.Detail)
	default:
		return domain.ErrInvalidRequest.WithMessage("ledger returned %d", resp.StatusCode)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsUpstream(err):
		return "upstream_error"
	default:
		return "rejected"
	}
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
