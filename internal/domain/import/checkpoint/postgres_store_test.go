package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

func TestPostgresStore_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	savedAt := time.UnixMilli(1700000000000)
	cp := New(schema.EntityTransaction, rows(2), 50, savedAt)

	mock.ExpectExec("INSERT INTO import_checkpoints").
		WithArgs("workspace-1", "transaction", pgxmock.AnyArg(), 50.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock, "workspace-1")
	require.NoError(t, store.Save(context.Background(), cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		savedAt := time.UnixMilli(1700000000000)
		mock.ExpectQuery("SELECT data, progress, saved_at").
			WithArgs("default", "tenant").
			WillReturnRows(pgxmock.NewRows([]string{"data", "progress", "saved_at"}).
				AddRow([]byte(`[{"last_name":"Rossi"},{"last_name":"Bianchi"}]`), 25.0, savedAt))

		store := NewPostgresStore(mock, "")
		cp, err := store.Load(context.Background(), schema.EntityTenant)

		require.NoError(t, err)
		assert.Equal(t, schema.EntityTenant, cp.EntityType)
		assert.Equal(t, 2, cp.Remaining())
		assert.Equal(t, 25.0, cp.Progress)
		assert.Equal(t, savedAt.UnixMilli(), cp.Timestamp)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT data, progress, saved_at").
			WithArgs("default", "contract").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPostgresStore(mock, "").Load(context.Background(), schema.EntityContract)

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT data, progress, saved_at").
			WithArgs("default", "contract").
			WillReturnError(errors.New("connection reset"))

		_, err = NewPostgresStore(mock, "").Load(context.Background(), schema.EntityContract)

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestPostgresStore_DeleteAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	savedAt := time.UnixMilli(1700000000000)
	mock.ExpectExec("DELETE FROM import_checkpoints").
		WithArgs("default", "property").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("SELECT entity_type, data, progress, saved_at").
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"entity_type", "data", "progress", "saved_at"}).
			AddRow("tenant", []byte(`[{}]`), 0.0, savedAt).
			AddRow("transaction", []byte(`[{},{},{}]`), 60.0, savedAt))

	store := NewPostgresStore(mock, "")
	require.NoError(t, store.Delete(context.Background(), schema.EntityProperty))

	all, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, schema.EntityTransaction, all[1].EntityType)
	assert.Equal(t, 3, all[1].Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}
