// Package memstore is an in-memory repository.Querier with real transaction
// semantics: a transaction works on a private copy that replaces the shared
// state only on commit, and transactions are serialized. It stands in for
// Postgres in unit tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type state struct {
	accounts     map[uuid.UUID]models.Account
	byNumber     map[string]uuid.UUID
	movements    []models.Movement
	movementKeys map[string]models.IdempotencyRecord
	transfers    []models.Transfer
	transferKeys map[string]models.IdempotencyRecord
	audit        []models.SagaAuditEntry
}

func newState() *state {
	return &state{
		accounts:     map[uuid.UUID]models.Account{},
		byNumber:     map[string]uuid.UUID{},
		movementKeys: map[string]models.IdempotencyRecord{},
		transferKeys: map[string]models.IdempotencyRecord{},
	}
}

func (s *state) clone() *state {
	cp := &state{
		accounts:     make(map[uuid.UUID]models.Account, len(s.accounts)),
		byNumber:     make(map[string]uuid.UUID, len(s.byNumber)),
		movements:    append([]models.Movement(nil), s.movements...),
		movementKeys: make(map[string]models.IdempotencyRecord, len(s.movementKeys)),
		transfers:    append([]models.Transfer(nil), s.transfers...),
		transferKeys: make(map[string]models.IdempotencyRecord, len(s.transferKeys)),
		audit:        append([]models.SagaAuditEntry(nil), s.audit...),
	}
	for k, v := range s.accounts {
		cp.accounts[k] = v
	}
	for k, v := range s.byNumber {
		cp.byNumber[k] = v
	}
	for k, v := range s.movementKeys {
		cp.movementKeys[k] = v
	}
	for k, v := range s.transferKeys {
		cp.transferKeys[k] = v
	}
	return cp
}

// Store mirrors repository.Store.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string]error
	now    func() time.Time
}

func New() *Store {
	return &Store{
		st:     newState(),
		faults: map[string]error{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Queries returns a querier that operates directly on committed state.
func (s *Store) Queries() repository.Querier {
	return &querier{s: s}
}

// RunInTx runs fn against a private copy of the state, committing it only
// when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&querier{s: s, tx: snapshot}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

// SetClock replaces the source of created_at timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// FailNext makes the next call to the named Querier method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// SeedAccount inserts an account directly, bypassing number generation.
func (s *Store) SeedAccount(number, name string, active bool) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.Account{ID: uuid.New(), Number: number, Name: name, Active: active, CreatedAt: s.now()}
	s.st.accounts[a.ID] = a
	s.st.byNumber[number] = a.ID
	return a
}

// Movements returns a copy of every committed movement.
func (s *Store) Movements() []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Movement(nil), s.st.movements...)
}

// Transfers returns a copy of every committed transfer.
func (s *Store) Transfers() []models.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transfer(nil), s.st.transfers...)
}

// AuditTrail returns the committed saga audit entries for key.
func (s *Store) AuditTrail(key string) []models.SagaAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SagaAuditEntry
	for _, e := range s.st.audit {
		if e.IdempotencyKey == key {
			out = append(out, e)
		}
	}
	return out
}

// AgeTransferKey moves a transfer key's creation time back by d.
func (s *Store) AgeTransferKey(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.st.transferKeys[key]; ok {
		r.CreatedAt = r.CreatedAt.Add(-d)
		s.st.transferKeys[key] = r
	}
}

type querier struct {
	s  *Store
	tx *state
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) acquire(method string) (*state, func(), error) {
	release := func() {}
	st := q.tx
	if st == nil {
		q.s.mu.Lock()
		st = q.s.st
		release = q.s.mu.Unlock
	}
	if err, ok := q.s.faults[method]; ok {
		delete(q.s.faults, method)
		release()
		return nil, nil, err
	}
	return st, release, nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func (q *querier) CreateAccount(_ context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	st, release, err := q.acquire("CreateAccount")
	if err != nil {
		return models.Account{}, err
	}
	defer release()
	if _, ok := st.byNumber[arg.Number]; ok {
		return models.Account{}, uniqueViolation("accounts_number_key")
	}
	if _, ok := st.accounts[arg.ID]; ok {
		return models.Account{}, uniqueViolation("accounts_pkey")
	}
	a := models.Account{ID: arg.ID, Number: arg.Number, Name: arg.Name, Active: true, CreatedAt: q.s.now()}
	st.accounts[a.ID] = a
	st.byNumber[a.Number] = a.ID
	return a, nil
}

func (q *querier) GetAccount(_ context.Context, id uuid.UUID) (models.Account, error) {
	st, release, err := q.acquire("GetAccount")
	if err != nil {
		return models.Account{}, err
	}
	defer release()
	a, ok := st.accounts[id]
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (q *querier) GetAccountByNumber(_ context.Context, number string) (models.Account, error) {
	st, release, err := q.acquire("GetAccountByNumber")
	if err != nil {
		return models.Account{}, err
	}
	defer release()
	id, ok := st.byNumber[number]
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return st.accounts[id], nil
}

// LockAccount only reads: transactions already run one at a time.
func (q *querier) LockAccount(_ context.Context, id uuid.UUID) (models.Account, error) {
	st, release, err := q.acquire("LockAccount")
	if err != nil {
		return models.Account{}, err
	}
	defer release()
	a, ok := st.accounts[id]
	if !ok {
		return models.Account{}, pgx.ErrNoRows
	}
	return a, nil
}

func (q *querier) DeactivateAccount(_ context.Context, id uuid.UUID) (int64, error) {
	st, release, err := q.acquire("DeactivateAccount")
	if err != nil {
		return 0, err
	}
	defer release()
	a, ok := st.accounts[id]
	if !ok || !a.Active {
		return 0, nil
	}
	a.Active = false
	st.accounts[id] = a
	return 1, nil
}

func (q *querier) GetAccountBalance(_ context.Context, id uuid.UUID) (repository.AccountBalanceRow, error) {
	st, release, err := q.acquire("GetAccountBalance")
	if err != nil {
		return repository.AccountBalanceRow{}, err
	}
	defer release()
	a, ok := st.accounts[id]
	if !ok {
		return repository.AccountBalanceRow{}, pgx.ErrNoRows
	}
	row := repository.AccountBalanceRow{Account: a, Credits: decimal.Zero, Debits: decimal.Zero}
	for _, m := range st.movements {
		if m.AccountID != id {
			continue
		}
		if m.Kind == "C" {
			row.Credits = row.Credits.Add(m.Amount)
		} else {
			row.Debits = row.Debits.Add(m.Amount)
		}
	}
	return row, nil
}

func (q *querier) InsertMovementKey(_ context.Context, key string, request []byte) (bool, error) {
	st, release, err := q.acquire("InsertMovementKey")
	if err != nil {
		return false, err
	}
	defer release()
	if _, ok := st.movementKeys[key]; ok {
		return false, nil
	}
	st.movementKeys[key] = models.IdempotencyRecord{Key: key, Request: request, CreatedAt: q.s.now()}
	return true, nil
}

func (q *querier) SetMovementKeyResult(_ context.Context, key string, result []byte) (int64, error) {
	st, release, err := q.acquire("SetMovementKeyResult")
	if err != nil {
		return 0, err
	}
	defer release()
	r, ok := st.movementKeys[key]
	if !ok {
		return 0, nil
	}
	r.Result = result
	st.movementKeys[key] = r
	return 1, nil
}

func (q *querier) GetMovementKey(_ context.Context, key string) (models.IdempotencyRecord, error) {
	st, release, err := q.acquire("GetMovementKey")
	if err != nil {
		return models.IdempotencyRecord{}, err
	}
	defer release()
	r, ok := st.movementKeys[key]
	if !ok {
		return models.IdempotencyRecord{}, pgx.ErrNoRows
	}
	return r, nil
}

func (q *querier) InsertMovement(_ context.Context, arg repository.InsertMovementParams) (models.Movement, error) {
	st, release, err := q.acquire("InsertMovement")
	if err != nil {
		return models.Movement{}, err
	}
	defer release()
	if _, ok := st.accounts[arg.AccountID]; !ok {
		return models.Movement{}, &pgconn.PgError{Code: "23503", Message: "movements_account_id_fkey"}
	}
	m := models.Movement{
		ID:             arg.ID,
		AccountID:      arg.AccountID,
		IdempotencyKey: arg.IdempotencyKey,
		Kind:           arg.Kind,
		Amount:         arg.Amount,
		CreatedAt:      q.s.now(),
	}
	st.movements = append(st.movements, m)
	return m, nil
}

func (q *querier) ListMovementsByAccount(_ context.Context, arg repository.ListMovementsParams) ([]models.Movement, error) {
	st, release, err := q.acquire("ListMovementsByAccount")
	if err != nil {
		return nil, err
	}
	defer release()
	var out []models.Movement
	for i := len(st.movements) - 1; i >= 0; i-- {
		m := st.movements[i]
		switch {
		case m.AccountID != arg.AccountID:
		case arg.Since != nil && m.CreatedAt.Before(*arg.Since):
		case arg.Before != nil && !m.CreatedAt.Before(*arg.Before):
		case arg.Kind != "" && m.Kind != arg.Kind:
		default:
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *querier) ReserveTransferKey(_ context.Context, key string, request []byte) (bool, error) {
	st, release, err := q.acquire("ReserveTransferKey")
	if err != nil {
		return false, err
	}
	defer release()
	if _, ok := st.transferKeys[key]; ok {
		return false, nil
	}
	st.transferKeys[key] = models.IdempotencyRecord{Key: key, Request: request, CreatedAt: q.s.now()}
	return true, nil
}

func (q *querier) GetTransferKey(_ context.Context, key string) (models.IdempotencyRecord, error) {
	st, release, err := q.acquire("GetTransferKey")
	if err != nil {
		return models.IdempotencyRecord{}, err
	}
	defer release()
	r, ok := st.transferKeys[key]
	if !ok {
		return models.IdempotencyRecord{}, pgx.ErrNoRows
	}
	return r, nil
}

func (q *querier) FinalizeTransferKey(_ context.Context, key string, result []byte) (bool, error) {
	st, release, err := q.acquire("FinalizeTransferKey")
	if err != nil {
		return false, err
	}
	defer release()
	r, ok := st.transferKeys[key]
	if !ok || !r.Pending() {
		return false, nil
	}
	r.Result = result
	st.transferKeys[key] = r
	return true, nil
}

func (q *querier) ReleaseTransferKey(_ context.Context, key string) (bool, error) {
	st, release, err := q.acquire("ReleaseTransferKey")
	if err != nil {
		return false, err
	}
	defer release()
	r, ok := st.transferKeys[key]
	if !ok || !r.Pending() {
		return false, nil
	}
	delete(st.transferKeys, key)
	return true, nil
}

func (q *querier) InsertTransfer(_ context.Context, arg repository.InsertTransferParams) (models.Transfer, error) {
	st, release, err := q.acquire("InsertTransfer")
	if err != nil {
		return models.Transfer{}, err
	}
	defer release()
	for _, t := range st.transfers {
		if t.IdempotencyKey == arg.IdempotencyKey {
			return models.Transfer{}, uniqueViolation("transfers_idempotency_key_key")
		}
	}
	t := models.Transfer{
		ID:                   arg.ID,
		IdempotencyKey:       arg.IdempotencyKey,
		OriginAccountID:      arg.OriginAccountID,
		DestinationAccountID: arg.DestinationAccountID,
		Amount:               arg.Amount,
		CreatedAt:            q.s.now(),
	}
	st.transfers = append(st.transfers, t)
	return t, nil
}

func (q *querier) GetTransferByKey(_ context.Context, key string) (models.Transfer, error) {
	st, release, err := q.acquire("GetTransferByKey")
	if err != nil {
		return models.Transfer{}, err
	}
	defer release()
	for _, t := range st.transfers {
		if t.IdempotencyKey == key {
			return t, nil
		}
	}
	return models.Transfer{}, pgx.ErrNoRows
}

func (q *querier) ListPendingTransferKeys(_ context.Context, createdBefore time.Time, limit int32) ([]models.IdempotencyRecord, error) {
	st, release, err := q.acquire("ListPendingTransferKeys")
	if err != nil {
		return nil, err
	}
	defer release()
	var out []models.IdempotencyRecord
	for _, r := range st.transferKeys {
		if r.Pending() && r.CreatedAt.Before(createdBefore) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (q *querier) InsertSagaAudit(_ context.Context, arg repository.InsertSagaAuditParams) (models.SagaAuditEntry, error) {
	st, release, err := q.acquire("InsertSagaAudit")
	if err != nil {
		return models.SagaAuditEntry{}, err
	}
	defer release()
	e := models.SagaAuditEntry{
		ID:             int64(len(st.audit) + 1),
		IdempotencyKey: arg.IdempotencyKey,
		NextState:      arg.NextState,
		Metadata:       arg.Metadata,
		CreatedAt:      q.s.now(),
	}
	if arg.PrevState != nil {
		e.PrevState = *arg.PrevState
	}
	st.audit = append(st.audit, e)
	return e, nil
}

func (q *querier) GetLatestSagaState(_ context.Context, key string) (string, error) {
	st, release, err := q.acquire("GetLatestSagaState")
	if err != nil {
		return "", err
	}
	defer release()
	for i := len(st.audit) - 1; i >= 0; i-- {
		if st.audit[i].IdempotencyKey == key {
			return st.audit[i].NextState, nil
		}
	}
	return "", pgx.ErrNoRows
}
