package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// DBTX is the subset of pgxpool.Pool used by PostgresStore
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps checkpoints in the import_checkpoints table. The
// namespace separates workspaces sharing one database.
type PostgresStore struct {
	db        DBTX
	namespace string
}

// NewPostgresStore creates a store scoped to namespace
func NewPostgresStore(db DBTX, namespace string) *PostgresStore {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresStore{db: db, namespace: namespace}
}

func (s *PostgresStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp.Data)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint rows: %w", err)
	}

	query := `
		INSERT INTO import_checkpoints (namespace, entity_type, data, progress, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, entity_type) DO UPDATE SET
			data = EXCLUDED.data,
			progress = EXCLUDED.progress,
			saved_at = EXCLUDED.saved_at
	`
	if _, err := s.db.Exec(ctx, query, s.namespace, string(cp.EntityType), data, cp.Progress, cp.SavedAt()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, entity schema.EntityType) (*Checkpoint, error) {
	query := `
		SELECT data, progress, saved_at
		FROM import_checkpoints
		WHERE namespace = $1 AND entity_type = $2
	`

	var (
		data     []byte
		progress float64
		savedAt  time.Time
	)
	err := s.db.QueryRow(ctx, query, s.namespace, string(entity)).Scan(&data, &progress, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return decodeRow(entity, data, progress, savedAt)
}

func (s *PostgresStore) Delete(ctx context.Context, entity schema.EntityType) error {
	query := `DELETE FROM import_checkpoints WHERE namespace = $1 AND entity_type = $2`
	if _, err := s.db.Exec(ctx, query, s.namespace, string(entity)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Checkpoint, error) {
	query := `
		SELECT entity_type, data, progress, saved_at
		FROM import_checkpoints
		WHERE namespace = $1
		ORDER BY entity_type
	`

	rows, err := s.db.Query(ctx, query, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		var (
			entity   string
			data     []byte
			progress float64
			savedAt  time.Time
		)
		if err := rows.Scan(&entity, &data, &progress, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp, err := decodeRow(schema.EntityType(entity), data, progress, savedAt)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return checkpoints, nil
}

func decodeRow(entity schema.EntityType, data []byte, progress float64, savedAt time.Time) (*Checkpoint, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint rows for %s: %w", entity, err)
	}
	return &Checkpoint{
		EntityType: entity,
		Data:       rows,
		Progress:   progress,
		Timestamp:  savedAt.UnixMilli(),
	}, nil
}
