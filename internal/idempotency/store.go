package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("idempotency key not found")

const redisKeyPrefix = "idempotency:transfer"

// Record is a transfer idempotency key. Result is nil while the transfer has
// not reached a terminal outcome.
type Record struct {
	Key       string
	Request   []byte
	Result    []byte
	CreatedAt time.Time
	ServedBy  string
}

func (r *Record) Pending() bool {
	return len(r.Result) == 0
}

// Store keeps transfer keys in Postgres, which is authoritative, with a Redis
// read-through cache of terminal results. Cache failures are logged and
// otherwise ignored.
type Store struct {
	redis   redis.Cmdable
	queries repository.Querier
	ttl     time.Duration
}

func NewStore(redis redis.Cmdable, queries repository.Querier, ttl time.Duration) *Store {
	return &Store{redis: redis, queries: queries, ttl: ttl}
}

type cacheEnvelope struct {
	Key       string          `json:"key"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// Lookup returns the record for key or ErrNotFound. When request is non-nil
// and differs from the stored payload the reuse is logged; it is not refused.
func (s *Store) Lookup(ctx context.Context, key string, request []byte) (*Record, error) {
	if rec := s.fromCache(ctx, key); rec != nil {
		s.checkPayload(rec, request)
		return rec, nil
	}

	row, err := s.queries.GetTransferKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	rec := &Record{
		Key:       row.Key,
		Request:   row.Request,
		Result:    row.Result,
		CreatedAt: row.CreatedAt,
		ServedBy:  "postgres",
	}
	s.checkPayload(rec, request)
	if !rec.Pending() {
		s.Cache(ctx, *rec)
	}
	return rec, nil
}

// Reserve inserts key with a null result. It reports false when the key
// already existed.
func (s *Store) Reserve(ctx context.Context, key string, request []byte) (bool, error) {
	inserted, err := s.queries.ReserveTransferKey(ctx, key, request)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return inserted, nil
}

// Release deletes key while it is still pending, so a request that moved no
// money can be retried under the same key. Finalized keys are kept.
func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.queries.ReleaseTransferKey(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Finalize stores the terminal result through q, which should be the
// transaction that also writes the transfer. It reports false when another
// request finalized the key first. The caller caches after commit.
func (s *Store) Finalize(ctx context.Context, q repository.Querier, key string, result []byte) (bool, error) {
	ok, err := q.FinalizeTransferKey(ctx, key, result)
	if err != nil {
		return false, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return ok, nil
}

// WaitForCompletion polls until key has a result or ctx is done.
func (s *Store) WaitForCompletion(ctx context.Context, key string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, nil)
		if err != nil {
			return nil, err
		}
		if !rec.Pending() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cache writes a terminal record to Redis.
func (s *Store) Cache(ctx context.Context, rec Record) {
	if s.redis == nil || rec.Pending() {
		return
	}
	env := cacheEnvelope{
		Key:       rec.Key,
		Request:   rec.Request,
		Result:    rec.Result,
		CreatedAt: rec.CreatedAt,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func (s *Store) fromCache(ctx context.Context, key string) *Record {
	if s.redis == nil {
		return nil
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil || len(env.Result) == 0 {
		return nil
	}
	return &Record{
		Key:       env.Key,
		Request:   env.Request,
		Result:    env.Result,
		CreatedAt: env.CreatedAt,
		ServedBy:  "redis",
	}
}

func (s *Store) checkPayload(rec *Record, request []byte) {
	if request == nil || samePayload(rec.Request, request) {
		return
	}
	observability.IncrementIdempotencyEvent("transfer", "payload_mismatch")
	zap.L().Warn("idempotency key reused with a different payload",
		zap.String("idempotency_key", rec.Key),
		zap.ByteString("stored_request", rec.Request),
		zap.ByteString("request", request))
}

// samePayload compares two JSON documents ignoring key order and whitespace,
// since Postgres normalizes jsonb.
func samePayload(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
