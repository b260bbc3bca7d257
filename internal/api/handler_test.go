package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/ledger-transfer/internal/api"
	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/config"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/gateway"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/ayo6706/ledger-transfer/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "ledger-transfer-test"
	testJWTAudience = "ledger-transfer-api-test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	observability.Init()
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
}

type testEnv struct {
	ledgerDB   *memstore.Store
	transferDB *memstore.Store
	movements  *service.MovementService
	ledger     http.Handler
	ledgerSrv  *httptest.Server
	transfer   http.Handler
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()
	return setupAPIWith(t, testConfig())
}

func setupAPIWith(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	ledgerDB := memstore.New()
	accounts := service.NewAccountService(ledgerDB)
	movements := service.NewMovementService(ledgerDB)
	ledger := api.NewLedgerRouter(cfg, zap.NewNop(), ledgerDB, nil, accounts, movements).Routes()
	ledgerSrv := httptest.NewServer(ledger)
	t.Cleanup(ledgerSrv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	transferDB := memstore.New()
	client := gateway.NewHTTPLedger(ledgerSrv.URL, &http.Client{Timeout: 2 * time.Second}, gateway.BreakerSettings{
		MaxRequests:         1,
		Timeout:             time.Minute,
		ConsecutiveFailures: 5,
	})
	transfers := service.NewTransferService(transferDB, idempotency.NewStore(rdb, transferDB.Queries(), cfg.IdempotencyTTL), client).
		WithWaitBudget(0).
		WithServiceTokens(func(id uuid.UUID, number string) (string, error) {
			return middleware.IssueServiceToken(string(config.ServiceTransfer), id, number, time.Minute)
		})
	transfer := api.NewTransferRouter(cfg, zap.NewNop(), transferDB, rdb, transfers).Routes()

	return &testEnv{
		ledgerDB:   ledgerDB,
		transferDB: transferDB,
		movements:  movements,
		ledger:     ledger,
		ledgerSrv:  ledgerSrv,
		transfer:   transfer,
	}
}

// account seeds an active account with an opening balance and returns it
// with a bearer token.
func (e *testEnv) account(t *testing.T, number, opening string) (models.Account, string) {
	t.Helper()
	acct := e.ledgerDB.SeedAccount(number, "Holder "+number, true)
	if opening != "" {
		_, err := e.movements.RecordMovement(context.Background(), service.MovementCommand{
			AccountID: acct.ID, Kind: "C", Amount: decimal.RequireFromString(opening), IdempotencyKey: "seed-" + number,
		})
		require.NoError(t, err)
	}
	token, err := middleware.IssueToken(acct.ID, acct.Number, acct.Name, time.Hour)
	require.NoError(t, err)
	return acct, token
}

func do(t *testing.T, h http.Handler, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) problem.Details {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p problem.Details
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func balanceOf(t *testing.T, e *testEnv, token string) string {
	t.Helper()
	w := do(t, e.ledger, http.MethodGet, "/v1/accounts/balance", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var b models.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b.Balance.StringFixed(2)
}

func TestHealthAndMetrics(t *testing.T) {
	e := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, router := range []struct {
		name string
		h    http.Handler
	}{{"ledger", e.ledger}, {"transfer", e.transfer}} {
		for _, tc := range cases {
			t.Run(router.name+"/"+tc.name, func(t *testing.T) {
				w := do(t, router.h, http.MethodGet, tc.path, "", nil, nil)
				assert.Equal(t, http.StatusOK, w.Code)
			})
		}
	}

	w := do(t, e.transfer, http.MethodGet, "/openapi.yaml", "", nil, nil)
	assert.Contains(t, w.Body.String(), "/v1/transfers")
}

func TestRFC7807ProblemDetails(t *testing.T) {
	e := setupAPI(t)

	w := do(t, e.ledger, http.MethodGet, "/v1/accounts/balance", "", nil, map[string]string{"X-Trace-ID": "trace-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	p := decodeProblem(t, w)
	assert.Equal(t, domain.CodeUnauthorized, p.Code)
	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Equal(t, "/v1/accounts/balance", p.Instance)
	assert.Equal(t, "trace-1", p.RequestID)
	assert.Equal(t, problem.TypeForCode(domain.CodeUnauthorized), p.Type)
}

func TestGetBalance(t *testing.T) {
	e := setupAPI(t)
	_, token := e.account(t, "10000001", "100.50")

	assert.Equal(t, "100.50", balanceOf(t, e, token))

	closed := e.ledgerDB.SeedAccount("10000009", "Closed", false)
	closedToken, err := middleware.IssueToken(closed.ID, closed.Number, closed.Name, time.Hour)
	require.NoError(t, err)
	w := do(t, e.ledger, http.MethodGet, "/v1/accounts/balance", closedToken, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.CodeInactiveAccount, decodeProblem(t, w).Code)
}

func TestRecordMovementEndpoint(t *testing.T) {
	e := setupAPI(t)
	_, token := e.account(t, "10000001", "50")
	other, _ := e.account(t, "10000002", "")
	key := func(k string) map[string]string { return map[string]string{"Idempotency-Key": k} }

	w := do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token,
		map[string]any{"kind": "C", "amount": "10"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.CodeInvalidValue, decodeProblem(t, w).Code)

	w = do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token,
		map[string]any{"kind": "C", "amount": "10"}, key(strings.Repeat("k", 121)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token,
		map[string]any{"kind": "C", "amount": "10.00"}, key("mv-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))

	w = do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token,
		map[string]any{"kind": "C", "amount": "10.00"}, key("mv-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, "60.00", balanceOf(t, e, token))

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"bad kind", map[string]any{"kind": "X", "amount": 1}, http.StatusBadRequest, domain.CodeInvalidType},
		{"zero amount", map[string]any{"kind": "C", "amount": 0}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"amount too large", map[string]any{"kind": "C", "amount": "1e16"}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"huge exponent", map[string]any{"kind": "C", "amount": "1e10000000"}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"malformed target", map[string]any{"kind": "C", "amount": 1, "account_number": "12"}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"unknown target", map[string]any{"kind": "C", "amount": 1, "account_number": "99999999"}, http.StatusBadRequest, domain.CodeInvalidAccount},
		{"third party debit", map[string]any{"kind": "D", "amount": 1, "account_number": other.Number}, http.StatusUnprocessableEntity, domain.CodeThirdPartyDebitForbidden},
		{"overdraft", map[string]any{"kind": "D", "amount": "60.01"}, http.StatusUnprocessableEntity, domain.CodeInsufficientFunds},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token, tt.body, key("bad-"+string(rune('a'+i))))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeProblem(t, w).Code)
		})
	}
	assert.Equal(t, "60.00", balanceOf(t, e, token))
}

func TestListMovementsEndpoint(t *testing.T) {
	e := setupAPI(t)
	_, token := e.account(t, "10000001", "50")
	w := do(t, e.ledger, http.MethodPost, "/v1/accounts/movements", token,
		map[string]any{"kind": "D", "amount": "12.5"}, map[string]string{"Idempotency-Key": "list-1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/movements", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list models.MovementList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "10000001", list.AccountNumber)
	require.Len(t, list.Movements, 2)

	today := time.Now().UTC().Format(time.DateOnly)
	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/movements?kind=D&since="+today+"&until="+today, token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list = models.MovementList{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Movements, 1)
	assert.Equal(t, "list-1", list.Movements[0].IdempotencyKey)
	assert.Equal(t, "12.50", list.Movements[0].Amount.StringFixed(2))

	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/movements?since=2000-01-01&until=2000-01-31", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"account_number":"10000001","movements":[]}`, w.Body.String())

	// A timestamp bound is not stretched to the end of its day.
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/movements?until="+url.QueryEscape(past), token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"account_number":"10000001","movements":[]}`, w.Body.String())

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"bad since", "?since=yesterday", domain.CodeInvalidValue},
		{"bad until", "?until=2024-13-01", domain.CodeInvalidValue},
		{"since after until", "?since=2024-02-01&until=2024-01-01", domain.CodeInvalidValue},
		{"bad kind", "?kind=X", domain.CodeInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, e.ledger, http.MethodGet, "/v1/accounts/movements"+tt.query, token, nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeProblem(t, w).Code)
		})
	}

	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/movements", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLookupAccountEndpoint(t *testing.T) {
	e := setupAPI(t)
	acct, token := e.account(t, "10000001", "")

	w := do(t, e.ledger, http.MethodGet, "/v1/accounts/lookup/10000001", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, acct.ID.String(), got["id"])
	assert.Equal(t, "10000001", got["account_number"])
	assert.Equal(t, true, got["active"])

	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/lookup/99999999", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeInvalidAccount, decodeProblem(t, w).Code)

	w = do(t, e.ledger, http.MethodGet, "/v1/accounts/lookup/abc", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferEndToEnd(t *testing.T) {
	e := setupAPI(t)
	_, tokenA := e.account(t, "10000001", "100")
	_, tokenB := e.account(t, "10000002", "10")
	body := map[string]any{"destination_account_number": "10000002", "amount": "40.00"}
	headers := map[string]string{"Idempotency-Key": "e2e-1"}

	w := do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA, body, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first models.TransferResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, domain.TransferStatusCompleted, first.Status)
	assert.Equal(t, "10000001", first.OriginAccountNumber)
	require.NotNil(t, first.TransferID)

	assert.Equal(t, "60.00", balanceOf(t, e, tokenA))
	assert.Equal(t, "50.00", balanceOf(t, e, tokenB))

	w = do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA, body, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	var replay models.TransferResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
	assert.Equal(t, *first.TransferID, *replay.TransferID)
	assert.Equal(t, "60.00", balanceOf(t, e, tokenA))
	assert.Len(t, e.transferDB.Transfers(), 1)

	var keys []string
	for _, m := range e.ledgerDB.Movements() {
		keys = append(keys, m.IdempotencyKey)
	}
	assert.Subset(t, keys, []string{"e2e-1-D", "e2e-1-C"})

	w = do(t, e.transfer, http.MethodGet, "/v1/transfers/e2e-1", tokenA, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stored models.Transfer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, *first.TransferID, stored.ID)
	assert.Equal(t, "40.00", stored.Amount.StringFixed(2))

	w = do(t, e.transfer, http.MethodGet, "/v1/transfers/e2e-1", tokenB, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeTransferNotFound, decodeProblem(t, w).Code)
}

func TestTransferCompensatedOverHTTP(t *testing.T) {
	e := setupAPI(t)
	_, tokenA := e.account(t, "10000001", "100")
	e.ledgerDB.SeedAccount("10000002", "Closed", false)

	w := do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA,
		map[string]any{"destination_account_number": "10000002", "amount": 40}, map[string]string{"Idempotency-Key": "comp-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.CodeInactiveAccount, decodeProblem(t, w).Code)
	assert.Equal(t, "100.00", balanceOf(t, e, tokenA))
	assert.Empty(t, e.transferDB.Transfers())
}

func TestTransferRejections(t *testing.T) {
	e := setupAPI(t)
	_, tokenA := e.account(t, "10000001", "100")
	e.account(t, "10000002", "")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"insufficient funds", map[string]any{"destination_account_number": "10000002", "amount": 150}, http.StatusUnprocessableEntity, domain.CodeInsufficientFunds},
		{"same account", map[string]any{"destination_account_number": "10000001", "amount": 1}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"missing destination", map[string]any{"amount": 1}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"bad amount", map[string]any{"destination_account_number": "10000002", "amount": -1}, http.StatusBadRequest, domain.CodeInvalidValue},
		{"amount too large", map[string]any{"destination_account_number": "10000002", "amount": "99999999999999999"}, http.StatusBadRequest, domain.CodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA, tt.body, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeProblem(t, w).Code)
		})
	}
	assert.Equal(t, "100.00", balanceOf(t, e, tokenA))
}

func TestTransferGeneratesIdempotencyKey(t *testing.T) {
	e := setupAPI(t)
	_, tokenA := e.account(t, "10000001", "100")
	e.account(t, "10000002", "")

	w := do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA,
		map[string]any{"destination_account_number": "10000002", "amount": "5"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	key := w.Header().Get(middleware.IdempotencyKeyHeader)
	assert.True(t, strings.HasPrefix(key, domain.GeneratedKeyPrefix))
}

func TestTransferLedgerUnavailable(t *testing.T) {
	e := setupAPI(t)
	_, tokenA := e.account(t, "10000001", "100")
	e.ledgerSrv.Close()

	w := do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA,
		map[string]any{"destination_account_number": "10000002", "amount": "5"}, map[string]string{"Idempotency-Key": "down-1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.CodeUpstreamUnavailable, decodeProblem(t, w).Code)

	// The pre-check moved nothing, so the key is not held as in progress.
	w = do(t, e.transfer, http.MethodPost, "/v1/transfers", tokenA,
		map[string]any{"destination_account_number": "10000002", "amount": "5"}, map[string]string{"Idempotency-Key": "down-1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.CodeUpstreamUnavailable, decodeProblem(t, w).Code)
	assert.Empty(t, e.transferDB.Transfers())
}

func TestPublicRateLimitSparesAuthenticatedRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.PublicRateLimitRPS = 10
	cfg.AuthRateLimitRPS = 100
	e := setupAPIWith(t, cfg)
	e.account(t, "20000000", "")

	// Every ledger call the saga makes comes from the transfer service's
	// address, so a burst of transfers must not trip the per-IP limit.
	for i := 0; i < 6; i++ {
		number := fmt.Sprintf("1000000%d", i)
		_, token := e.account(t, number, "100")
		w := do(t, e.transfer, http.MethodPost, "/v1/transfers", token,
			map[string]any{"destination_account_number": "20000000", "amount": "10.00"},
			map[string]string{"Idempotency-Key": "burst-" + number})
		require.Equal(t, http.StatusCreated, w.Code, "transfer %d: %s", i, w.Body.String())
		assert.Equal(t, "90.00", balanceOf(t, e, token))
	}

	cfg.PublicRateLimitRPS = 2
	e = setupAPIWith(t, cfg)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, e.ledger, http.MethodGet, "/health/live", "", nil, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTransferBurstFromOneAccountUnderDefaultLimits(t *testing.T) {
	cfg := testConfig()
	cfg.PublicRateLimitRPS = 10
	cfg.AuthRateLimitRPS = 100
	e := setupAPIWith(t, cfg)
	_, token := e.account(t, "10000001", "10000")
	e.account(t, "10000002", "")

	const n = 60
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = do(t, e.transfer, http.MethodPost, "/v1/transfers", token,
				map[string]any{"destination_account_number": "10000002", "amount": "10.00"},
				map[string]string{"Idempotency-Key": fmt.Sprintf("burst-%d", i)}).Code
		}(i)
	}
	wg.Wait()

	// Saga legs carry service tokens, so only the balance pre-check counts
	// against the origin account's ledger limit.
	for i, status := range statuses {
		assert.Equal(t, http.StatusCreated, status, "transfer %d", i)
	}
	assert.Equal(t, "9400.00", balanceOf(t, e, token))
	assert.Len(t, e.transferDB.Transfers(), n)
}
