package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const accountNumberAttempts = 10

var (
	accountNumberMin   = big.NewInt(10_000_000)
	accountNumberRange = big.NewInt(90_000_000)
)

type AccountService struct {
	store QueryStore
	now   func() time.Time
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetBalance derives the balance from the account's movements at read time.
func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Balance, error) {
	row, err := s.store.Queries().GetAccountBalance(ctx, accountID)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if !row.Account.Active {
		return nil, domain.ErrInactiveAccount
	}
	return &models.Balance{
		AccountNumber: row.Account.Number,
		Name:          row.Account.Name,
		Active:        row.Account.Active,
		AsOf:          s.now(),
		Balance:       domain.RoundAmount(row.Balance()),
	}, nil
}

// MovementFilter narrows ListMovements. Zero times and an empty kind are not
// applied. Until is a date and covers that whole day unless UntilExact is set,
// in which case it is an inclusive instant.
type MovementFilter struct {
	Since      time.Time
	Until      time.Time
	UntilExact bool
	Kind       string
}

// ListMovements returns the account's movements newest first. Inactive
// accounts can still read their history.
func (s *AccountService) ListMovements(ctx context.Context, accountID uuid.UUID, filter MovementFilter) (*models.MovementList, error) {
	params := repository.ListMovementsParams{
		AccountID: accountID,
		Kind:      strings.ToUpper(strings.TrimSpace(filter.Kind)),
	}
	if params.Kind != "" && params.Kind != domain.KindCredit && params.Kind != domain.KindDebit {
		return nil, domain.ErrInvalidKind
	}
	if !filter.Since.IsZero() {
		since := filter.Since.UTC()
		params.Since = &since
	}
	if !filter.Until.IsZero() {
		before := filter.Until.UTC().Add(24 * time.Hour)
		if filter.UntilExact {
			before = filter.Until.UTC().Add(time.Nanosecond)
		}
		params.Before = &before
	}
	if params.Since != nil && params.Before != nil && !params.Since.Before(*params.Before) {
		return nil, domain.ErrInvalidRequest.WithMessage("since must not be after until")
	}

	q := s.store.Queries()
	account, err := q.GetAccount(ctx, accountID)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	movements, err := q.ListMovementsByAccount(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	if movements == nil {
		movements = []models.Movement{}
	}
	return &models.MovementList{AccountNumber: account.Number, Movements: movements}, nil
}

// LookupAccount resolves a public account number. Inactive accounts are
// returned as-is so callers can decide.
func (s *AccountService) LookupAccount(ctx context.Context, number string) (*models.Account, error) {
	number = strings.TrimSpace(number)
	if !IsAccountNumber(number) {
		return nil, domain.ErrInvalidRequest.WithMessage("account number must be %d digits", domain.AccountNumberLength)
	}
	account, err := s.store.Queries().GetAccountByNumber(ctx, number)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound.WithMessage("account %s not found", number)
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return &account, nil
}

// OpenAccount creates an active account with a random unused 8-digit number.
func (s *AccountService) OpenAccount(ctx context.Context, name string) (*models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("name is required")
	}

	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}
		account, err := s.store.Queries().CreateAccount(ctx, repository.CreateAccountParams{
			ID:     uuid.New(),
			Number: number,
			Name:   name,
		})
		if err == nil {
			return &account, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("create account: %w", err)
		}
		zap.L().Debug("account number collision", zap.String("number", number), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("create account: no free account number after %d attempts", accountNumberAttempts)
}

// DeactivateAccount is one-way and idempotent.
func (s *AccountService) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	return s.store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetAccount(ctx, accountID); err != nil {
			if isNoRows(err) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("load account: %w", err)
		}
		if _, err := q.DeactivateAccount(ctx, accountID); err != nil {
			return fmt.Errorf("deactivate account: %w", err)
		}
		return nil
	})
}

// IsAccountNumber reports whether s is exactly eight ASCII digits.
func IsAccountNumber(s string) bool {
	if len(s) != domain.AccountNumberLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberRange)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return strconv.FormatInt(n.Add(n, accountNumberMin).Int64(), 10), nil
}
