// Package checkpoint persists the rows of an import that have not yet been
// accepted by the backend, so an interrupted import can be resumed or discarded.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// KeyPrefix prefixes the storage key of every checkpoint
const KeyPrefix = "import_state_"

// DefaultTTL is the age after which a checkpoint is stale
const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted state of an unfinished import
type Checkpoint struct {
	EntityType schema.EntityType `json:"entityType"`
	Data       []json.RawMessage `json:"data"`      // remaining rows, already encoded
	Progress   float64           `json:"progress"`  // 0-100
	Timestamp  int64             `json:"timestamp"` // Unix milliseconds
}

// Store persists checkpoints, one per entity type
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	// Load returns ErrNotFound when entity has no checkpoint
	Load(ctx context.Context, entity schema.EntityType) (*Checkpoint, error)
	// Delete succeeds when there is nothing to delete
	Delete(ctx context.Context, entity schema.EntityType) error
	List(ctx context.Context) ([]*Checkpoint, error)
}

// Key returns the storage key of the checkpoint of entity
func Key(entity schema.EntityType) string {
	return KeyPrefix + string(entity)
}

// New builds a checkpoint stamped with now
func New(entity schema.EntityType, data []json.RawMessage, progress float64, now time.Time) *Checkpoint {
	return &Checkpoint{
		EntityType: entity,
		Data:       data,
		Progress:   progress,
		Timestamp:  now.UnixMilli(),
	}
}

// SavedAt returns the checkpoint timestamp as a time
func (c *Checkpoint) SavedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// IsStale reports whether the checkpoint is older than ttl at now
func (c *Checkpoint) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.SavedAt()) > ttl
}

// Remaining returns the number of rows still to import
func (c *Checkpoint) Remaining() int {
	return len(c.Data)
}
