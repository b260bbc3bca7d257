package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/testutil/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *memstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := memstore.New()
	return NewStore(client, db.Queries(), time.Hour), db, mr
}

func TestReserveIsInsertOnce(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	ok, err := store.Reserve(ctx, "tx-1", []byte(`{"amount":"10.00"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "tx-1", []byte(`{"amount":"10.00"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Lookup(ctx, "tx-1", nil)
	require.NoError(t, err)
	assert.True(t, rec.Pending())
	assert.Equal(t, "postgres", rec.ServedBy)
}

func TestReleaseOnlyDropsPendingKeys(t *testing.T) {
	ctx := context.Background()
	store, db, _ := newTestStore(t)

	_, err := store.Reserve(ctx, "tx-rel", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "tx-rel"))
	_, err = store.Lookup(ctx, "tx-rel", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Reserve(ctx, "tx-rel", []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)

	err = db.RunInTx(ctx, func(q repository.Querier) error {
		_, err := store.Finalize(ctx, q, "tx-rel", []byte(`{"status":"COMPLETED"}`))
		return err
	})
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "tx-rel"))
	rec, err := store.Lookup(ctx, "tx-rel", nil)
	require.NoError(t, err)
	assert.False(t, rec.Pending())

	db.FailNext("ReleaseTransferKey", errors.New("db down"))
	assert.Error(t, store.Release(ctx, "tx-rel"))
}

func TestLookupMissingKey(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Lookup(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeOnceThenServeFromRedis(t *testing.T) {
	ctx := context.Background()
	store, db, mr := newTestStore(t)

	_, err := store.Reserve(ctx, "tx-2", []byte(`{"amount":"10.00"}`))
	require.NoError(t, err)

	var first bool
	err = db.RunInTx(ctx, func(q repository.Querier) error {
		first, err = store.Finalize(ctx, q, "tx-2", []byte(`{"status":"COMPLETED"}`))
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)

	var second bool
	err = db.RunInTx(ctx, func(q repository.Querier) error {
		second, err = store.Finalize(ctx, q, "tx-2", []byte(`{"status":"FAILED"}`))
		return err
	})
	require.NoError(t, err)
	assert.False(t, second)

	rec, err := store.Lookup(ctx, "tx-2", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(rec.Result))
	assert.True(t, mr.Exists(redisKey("tx-2")))

	rec, err = store.Lookup(ctx, "tx-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", rec.ServedBy)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, string(rec.Result))
}

func TestPendingRecordsAreNotCached(t *testing.T) {
	ctx := context.Background()
	store, _, mr := newTestStore(t)

	_, err := store.Reserve(ctx, "tx-3", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.Lookup(ctx, "tx-3", nil)
	require.NoError(t, err)

	assert.False(t, mr.Exists(redisKey("tx-3")))
}

func TestLookupFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	store, db, mr := newTestStore(t)

	_, err := store.Reserve(ctx, "tx-4", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, db.RunInTx(ctx, func(q repository.Querier) error {
		_, err := store.Finalize(ctx, q, "tx-4", []byte(`{"status":"COMPLETED"}`))
		return err
	}))
	mr.Close()

	rec, err := store.Lookup(ctx, "tx-4", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", rec.ServedBy)
}

func TestWaitForCompletion(t *testing.T) {
	ctx := context.Background()
	store, db, _ := newTestStore(t)

	_, err := store.Reserve(ctx, "tx-5", []byte(`{}`))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = db.RunInTx(ctx, func(q repository.Querier) error {
			_, err := store.Finalize(ctx, q, "tx-5", []byte(`{"status":"COMPLETED"}`))
			return err
		})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rec, err := store.WaitForCompletion(waitCtx, "tx-5")
	require.NoError(t, err)
	assert.False(t, rec.Pending())

	_, err = store.Reserve(ctx, "tx-6", []byte(`{}`))
	require.NoError(t, err)
	shortCtx, cancelShort := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancelShort()
	_, err = store.WaitForCompletion(shortCtx, "tx-6")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSamePayloadIgnoresKeyOrder(t *testing.T) {
	assert.True(t, samePayload([]byte(`{"a":1,"b":"x"}`), []byte(`{"b": "x", "a": 1}`)))
	assert.False(t, samePayload([]byte(`{"a":1}`), []byte(`{"a":2}`)))
	assert.False(t, samePayload([]byte(`not json`), []byte(`{}`)))
}
