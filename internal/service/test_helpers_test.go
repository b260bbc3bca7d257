package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/gateway"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// inProcessLedger serves gateway.Ledger straight from the ledger services.
// The token is the caller's account id.
type inProcessLedger struct {
	accounts  *AccountService
	movements *MovementService

	mu    sync.Mutex
	calls []string
}

var _ gateway.Ledger = (*inProcessLedger)(nil)

func (l *inProcessLedger) track(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, op)
}

func (l *inProcessLedger) count(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (l *inProcessLedger) GetBalance(ctx context.Context, token string) (*models.Balance, error) {
	l.track(gateway.OpGetBalance)
	return l.accounts.GetBalance(ctx, uuid.MustParse(token))
}

func (l *inProcessLedger) RecordMovement(ctx context.Context, token string, req gateway.MovementRequest) error {
	l.track(gateway.OpRecordMovement)
	return l.record(ctx, token, req)
}

func (l *inProcessLedger) RecordCompensation(ctx context.Context, token string, req gateway.MovementRequest) error {
	l.track(gateway.OpRecordCompensation)
	return l.record(ctx, token, req)
}

func (l *inProcessLedger) record(ctx context.Context, token string, req gateway.MovementRequest) error {
	_, err := l.movements.RecordMovement(ctx, MovementCommand{
		AccountID:           uuid.MustParse(token),
		Kind:                req.Kind,
		Amount:              req.Amount,
		IdempotencyKey:      req.IdempotencyKey,
		TargetAccountNumber: req.AccountNumber,
	})
	return err
}

func (l *inProcessLedger) LookupAccount(ctx context.Context, token, number string) (*models.Account, error) {
	l.track(gateway.OpLookupAccount)
	return l.accounts.LookupAccount(ctx, number)
}

type ledgerFixture struct {
	db        *memstore.Store
	accounts  *AccountService
	movements *MovementService
	ledger    *inProcessLedger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := memstore.New()
	accounts := NewAccountService(db)
	movements := NewMovementService(db)
	return &ledgerFixture{
		db:        db,
		accounts:  accounts,
		movements: movements,
		ledger:    &inProcessLedger{accounts: accounts, movements: movements},
	}
}

// openAccount seeds an active account and credits its opening balance.
func (f *ledgerFixture) openAccount(t *testing.T, number, name, opening string) models.Account {
	t.Helper()
	account := f.db.SeedAccount(number, name, true)
	if opening != "" && opening != "0" {
		_, err := f.movements.RecordMovement(context.Background(), MovementCommand{
			AccountID:      account.ID,
			Kind:           domain.KindCredit,
			Amount:         decimal.RequireFromString(opening),
			IdempotencyKey: "seed-" + number,
		})
		require.NoError(t, err)
	}
	return account
}

func (f *ledgerFixture) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	row, err := f.db.Queries().GetAccountBalance(context.Background(), id)
	require.NoError(t, err)
	return domain.FormatAmount(row.Balance())
}

func (f *ledgerFixture) movementKeys(accountID uuid.UUID) []string {
	var keys []string
	for _, m := range f.db.Movements() {
		if m.AccountID == accountID {
			keys = append(keys, m.IdempotencyKey)
		}
	}
	return keys
}

type transferFixture struct {
	*ledgerFixture
	transferDB *memstore.Store
	redis      *miniredis.Miniredis
	idem       *idempotency.Store
	faulty     *gateway.FaultyLedger
	svc        *TransferService
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	lf := newLedgerFixture(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	transferDB := memstore.New()
	idem := idempotency.NewStore(client, transferDB.Queries(), time.Hour)
	faulty := gateway.NewFaultyLedger(lf.ledger)
	svc := NewTransferService(transferDB, idem, faulty).WithWaitBudget(0)

	return &transferFixture{
		ledgerFixture: lf,
		transferDB:    transferDB,
		redis:         mr,
		idem:          idem,
		faulty:        faulty,
		svc:           svc,
	}
}

func transferCmd(origin models.Account, dest, amount, key string) TransferCommand {
	return TransferCommand{
		Token:                    origin.ID.String(),
		OriginAccountID:          origin.ID,
		OriginAccountNumber:      origin.Number,
		DestinationAccountNumber: dest,
		Amount:                   decimal.RequireFromString(amount),
		IdempotencyKey:           key,
	}
}
