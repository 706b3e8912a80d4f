package badgerstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook.app/internal/docstore"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return at }))

	require.NoError(t, store.Create(ctx, "users", "u1", map[string]any{
		"roles":     []string{"client"},
		"createdAt": docstore.ServerTimestamp,
	}))
	require.ErrorIs(t, store.Create(ctx, "users", "u1", map[string]any{}), docstore.ErrAlreadyExists)

	require.NoError(t, store.Update(ctx, "users", "u1", map[string]any{"roles": docstore.ArrayUnion("owner")}))
	require.ErrorIs(t, store.Update(ctx, "users", "nobody", map[string]any{"x": 1}), docstore.ErrNotFound)

	doc, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, []any{"client", "owner"}, doc.Data["roles"])
	assert.Equal(t, "2026-05-04T10:00:00Z", doc.Data["createdAt"])

	_, err = store.Get(ctx, "users", "nobody")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestQueryStaysInsideCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, "businesses", "b1", map[string]any{"linkCode": "ABC", "status": "active"}))
	require.NoError(t, store.Set(ctx, "businesses", "b2", map[string]any{"linkCode": "ABC", "status": "inactive"}))
	require.NoError(t, store.Set(ctx, "businesses_archive", "b9", map[string]any{"linkCode": "ABC", "status": "active"}))

	docs, err := store.Query(ctx, "businesses", []docstore.Filter{
		docstore.Where("linkCode", "ABC"),
		docstore.Where("status", "active"),
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b1", docs[0].ID)
}

func TestTransactionDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	boom := errors.New("boom")

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_ = tx.Set("c", "d", map[string]any{"v": 1})
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, "c", "d")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestConcurrentTransactionsRetryOnConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithTransactionAttempts(200))
	require.NoError(t, store.Set(ctx, "counters", "c", map[string]any{"n": 0}))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
				doc, err := tx.Get(ctx, "counters", "c")
				if err != nil {
					return err
				}
				return tx.Update("counters", "c", map[string]any{"n": doc.Data["n"].(float64) + 1})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := store.Get(ctx, "counters", "c")
	require.NoError(t, err)
	assert.Equal(t, float64(workers), doc.Data["n"])
}

func TestPingAfterClose(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
	require.ErrorIs(t, store.Ping(context.Background()), docstore.ErrClosed)
}
