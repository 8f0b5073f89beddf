package checkpoint

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/pkg/storage"
)

func rows(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{"date":"2024-01-15","amount":10}`)
	}
	return out
}

func newFileStore(t *testing.T) *StorageStore {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewStorageStore(local)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "import_state_transaction", Key(schema.EntityTransaction))
	assert.Equal(t, "import_state_property", Key(schema.EntityProperty))
}

func TestCheckpoint_IsStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh := New(schema.EntityTenant, rows(1), 0, now.Add(-23*time.Hour))
	stale := New(schema.EntityTenant, rows(1), 0, now.Add(-25*time.Hour))

	assert.False(t, fresh.IsStale(now, DefaultTTL))
	assert.True(t, stale.IsStale(now, DefaultTTL))
	assert.Equal(t, now.Add(-23*time.Hour).UnixMilli(), fresh.SavedAt().UnixMilli())
}

func TestCheckpoint_JSONShape(t *testing.T) {
	cp := New(schema.EntityTransaction, rows(2), 33.3, time.UnixMilli(1700000000000))

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "transaction", decoded["entityType"])
	assert.Equal(t, 33.3, decoded["progress"])
	assert.Equal(t, float64(1700000000000), decoded["timestamp"])
	assert.Len(t, decoded["data"], 2)
}

func TestStorageStore(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)

	_, err := store.Load(ctx, schema.EntityTransaction)
	assert.ErrorIs(t, err, ErrNotFound)

	cp := New(schema.EntityTransaction, rows(137), 42.5, time.Now())
	require.NoError(t, store.Save(ctx, cp))
	require.NoError(t, store.Save(ctx, New(schema.EntityContract, rows(3), 0, time.Now())))

	loaded, err := store.Load(ctx, schema.EntityTransaction)
	require.NoError(t, err)
	assert.Equal(t, schema.EntityTransaction, loaded.EntityType)
	assert.Equal(t, 137, loaded.Remaining())
	assert.Equal(t, 42.5, loaded.Progress)
	assert.Equal(t, cp.Timestamp, loaded.Timestamp)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, schema.EntityContract, all[0].EntityType)

	require.NoError(t, store.Delete(ctx, schema.EntityTransaction))
	require.NoError(t, store.Delete(ctx, schema.EntityTransaction))
	_, err = store.Load(ctx, schema.EntityTransaction)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("pending returns a fresh checkpoint", func(t *testing.T) {
		store := newFileStore(t)
		require.NoError(t, store.Save(ctx, New(schema.EntityTransaction, rows(5), 20, now.Add(-time.Hour))))

		m := NewManager(store, 0, logger).WithClock(func() time.Time { return now })
		cp, err := m.Pending(ctx, schema.EntityTransaction)

		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, 5, cp.Remaining())
		assert.Equal(t, DefaultTTL, m.TTL())
	})

	t.Run("stale checkpoint is deleted and ignored", func(t *testing.T) {
		store := newFileStore(t)
		require.NoError(t, store.Save(ctx, New(schema.EntityTransaction, rows(5), 20, now.Add(-25*time.Hour))))

		m := NewManager(store, DefaultTTL, logger).WithClock(func() time.Time { return now })
		cp, err := m.Pending(ctx, schema.EntityTransaction)

		require.NoError(t, err)
		assert.Nil(t, cp)
		_, err = store.Load(ctx, schema.EntityTransaction)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no checkpoint", func(t *testing.T) {
		m := NewManager(newFileStore(t), DefaultTTL, logger)
		cp, err := m.Pending(ctx, schema.EntityTenant)

		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("prune and pending all", func(t *testing.T) {
		store := newFileStore(t)
		require.NoError(t, store.Save(ctx, New(schema.EntityTransaction, rows(1), 0, now.Add(-48*time.Hour))))
		require.NoError(t, store.Save(ctx, New(schema.EntityTenant, rows(1), 0, now.Add(-30*time.Hour))))
		require.NoError(t, store.Save(ctx, New(schema.EntityProperty, rows(1), 0, now.Add(-time.Minute))))

		m := NewManager(store, DefaultTTL, logger).WithClock(func() time.Time { return now })
		pruned, err := m.PruneStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, pruned)

		pending, err := m.PendingAll(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, schema.EntityProperty, pending[0].EntityType)
	})

	t.Run("discard", func(t *testing.T) {
		store := newFileStore(t)
		require.NoError(t, store.Save(ctx, New(schema.EntityContract, rows(2), 0, now)))

		m := NewManager(store, DefaultTTL, logger)
		require.NoError(t, m.Discard(ctx, schema.EntityContract))

		_, err := store.Load(ctx, schema.EntityContract)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
