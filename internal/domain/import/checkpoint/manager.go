package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// Manager applies the staleness rule on top of a Store: checkpoints older
// than the TTL are deleted when they are found.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a manager; a non-positive ttl means DefaultTTL
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Store returns the underlying store
func (m *Manager) Store() Store {
	return m.store
}

// TTL returns the staleness threshold
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Pending returns the resumable checkpoint of entity, or nil when there is
// none. A stale checkpoint is deleted and reported as absent.
func (m *Manager) Pending(ctx context.Context, entity schema.EntityType) (*Checkpoint, error) {
	cp, err := m.store.Load(ctx, entity)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if cp.IsStale(m.now(), m.ttl) {
		m.logger.Info("discarding stale import checkpoint",
			slog.String("entity", string(entity)),
			slog.Time("saved_at", cp.SavedAt()),
			slog.Int("rows", cp.Remaining()))
		if err := m.store.Delete(ctx, entity); err != nil {
			return nil, fmt.Errorf("failed to delete stale checkpoint: %w", err)
		}
		return nil, nil
	}
	return cp, nil
}

// PendingAll returns every resumable checkpoint, deleting stale ones
func (m *Manager) PendingAll(ctx context.Context) ([]*Checkpoint, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*Checkpoint, 0, len(all))
	for _, cp := range all {
		if cp.IsStale(m.now(), m.ttl) {
			if err := m.store.Delete(ctx, cp.EntityType); err != nil {
				return nil, fmt.Errorf("failed to delete stale checkpoint: %w", err)
			}
			continue
		}
		pending = append(pending, cp)
	}
	return pending, nil
}

// Discard deletes the checkpoint of entity
func (m *Manager) Discard(ctx context.Context, entity schema.EntityType) error {
	if err := m.store.Delete(ctx, entity); err != nil {
		return err
	}
	m.logger.Info("import checkpoint discarded", slog.String("entity", string(entity)))
	return nil
}

// PruneStale deletes every stale checkpoint and returns how many were removed
func (m *Manager) PruneStale(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, cp := range all {
		if !cp.IsStale(m.now(), m.ttl) {
			continue
		}
		if err := m.store.Delete(ctx, cp.EntityType); err != nil {
			return pruned, fmt.Errorf("failed to prune checkpoint %s: %w", cp.EntityType, err)
		}
		pruned++
	}
	if pruned > 0 {
		m.logger.Info("pruned stale import checkpoints", slog.Int("count", pruned))
	}
	return pruned, nil
}
