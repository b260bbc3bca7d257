package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalanceSumsMovements(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "100")

	for key, cmd := range map[string]struct {
		kind   string
		amount string
	}{
		"b-1": {"C", "50.25"},
		"b-2": {"D", "30.10"},
	} {
		_, err := f.movements.RecordMovement(ctx, MovementCommand{
			AccountID: acct.ID, Kind: cmd.kind, Amount: decimal.RequireFromString(cmd.amount), IdempotencyKey: key,
		})
		require.NoError(t, err)
	}

	bal, err := f.accounts.GetBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "10000001", bal.AccountNumber)
	assert.Equal(t, "Ana", bal.Name)
	assert.True(t, bal.Active)
	assert.False(t, bal.AsOf.IsZero())
	assert.Equal(t, "120.15", bal.Balance.StringFixed(2))
}

func TestGetBalanceWithoutMovementsIsZero(t *testing.T) {
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "")

	bal, err := f.accounts.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
}

func TestGetBalanceRejectsUnknownAndInactive(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	closed := f.db.SeedAccount("10000009", "Cy", false)

	_, err := f.accounts.GetBalance(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = f.accounts.GetBalance(ctx, closed.ID)
	assert.ErrorIs(t, err, domain.ErrInactiveAccount)
}

func TestLookupAccount(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "")
	closed := f.db.SeedAccount("10000002", "Cy", false)

	got, err := f.accounts.LookupAccount(ctx, " 10000001 ")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	got, err = f.accounts.LookupAccount(ctx, closed.Number)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = f.accounts.LookupAccount(ctx, "1234")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.accounts.LookupAccount(ctx, "99999999")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)

	acct, err := f.accounts.OpenAccount(ctx, "  Dee ")
	require.NoError(t, err)
	assert.Equal(t, "Dee", acct.Name)
	assert.True(t, acct.Active)
	assert.True(t, IsAccountNumber(acct.Number))

	got, err := f.accounts.LookupAccount(ctx, acct.Number)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = f.accounts.OpenAccount(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestOpenAccountRetriesNumberCollision(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.FailNext("CreateAccount", &pgconn.PgError{Code: "23505", ConstraintName: "accounts_number_key"})

	acct, err := f.accounts.OpenAccount(context.Background(), "Eve")
	require.NoError(t, err)
	assert.True(t, IsAccountNumber(acct.Number))
}

func TestDeactivateAccountIsOneWay(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "10")

	require.NoError(t, f.accounts.DeactivateAccount(ctx, acct.ID))
	require.NoError(t, f.accounts.DeactivateAccount(ctx, acct.ID))

	_, err := f.accounts.GetBalance(ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrInactiveAccount)

	_, err = f.movements.RecordMovement(ctx, MovementCommand{
		AccountID: acct.ID, Kind: "C", Amount: decimal.NewFromInt(1), IdempotencyKey: "after-close",
	})
	assert.ErrorIs(t, err, domain.ErrInactiveAccount)

	assert.ErrorIs(t, f.accounts.DeactivateAccount(ctx, uuid.New()), domain.ErrAccountNotFound)
}

func TestIsAccountNumber(t *testing.T) {
	assert.True(t, IsAccountNumber("12345678"))
	assert.False(t, IsAccountNumber("1234567"))
	assert.False(t, IsAccountNumber("123456789"))
	assert.False(t, IsAccountNumber("1234567a"))
	assert.False(t, IsAccountNumber(""))
}

func TestListMovementsFiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f.db.SetClock(func() time.Time { return at })
	acct := f.openAccount(t, "10000001", "Ana", "100")

	record := func(key, kind, amount string, when time.Time) {
		at = when
		_, err := f.movements.RecordMovement(ctx, MovementCommand{
			AccountID: acct.ID, Kind: kind, Amount: decimal.RequireFromString(amount), IdempotencyKey: key,
		})
		require.NoError(t, err)
	}
	record("m-2", "D", "20", time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC))
	record("m-3", "C", "5", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	keys := func(list *models.MovementList) []string {
		out := []string{}
		for _, m := range list.Movements {
			out = append(out, m.IdempotencyKey)
		}
		return out
	}

	tests := []struct {
		name   string
		filter MovementFilter
		want   []string
	}{
		{"no filter", MovementFilter{}, []string{"m-3", "m-2", "seed-10000001"}},
		{"since is inclusive", MovementFilter{Since: day(2)}, []string{"m-3", "m-2"}},
		{"until covers the whole day", MovementFilter{Until: day(2)}, []string{"m-2", "seed-10000001"}},
		{"single day", MovementFilter{Since: day(3), Until: day(3)}, []string{"m-3"}},
		{"exact until is inclusive", MovementFilter{Until: time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC), UntilExact: true},
			[]string{"m-2", "seed-10000001"}},
		{"exact until is not widened", MovementFilter{Until: time.Date(2024, 3, 2, 23, 58, 0, 0, time.UTC), UntilExact: true},
			[]string{"seed-10000001"}},
		{"kind is case-insensitive", MovementFilter{Kind: "d"}, []string{"m-2"}},
		{"nothing matches", MovementFilter{Since: day(10)}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := f.accounts.ListMovements(ctx, acct.ID, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, "10000001", list.AccountNumber)
			assert.Equal(t, tt.want, keys(list))
		})
	}
}

func TestListMovementsRejectsBadFilters(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "10")
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

	_, err := f.accounts.ListMovements(ctx, acct.ID, MovementFilter{Kind: "X"})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = f.accounts.ListMovements(ctx, acct.ID, MovementFilter{Since: day(5), Until: day(4)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.accounts.ListMovements(ctx, uuid.New(), MovementFilter{})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestListMovementsOnInactiveAccount(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	acct := f.openAccount(t, "10000001", "Ana", "10")
	require.NoError(t, f.accounts.DeactivateAccount(ctx, acct.ID))

	list, err := f.accounts.ListMovements(ctx, acct.ID, MovementFilter{})
	require.NoError(t, err)
	require.Len(t, list.Movements, 1)
	assert.Equal(t, "10.00", list.Movements[0].Amount.StringFixed(2))
}
