package mapping

import (
	"sync"
	"time"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// Saved is a mapping remembered for one entity type
type Saved struct {
	Mapping     ColumnMapping
	Options     Options
	Fingerprint string
	SavedAt     time.Time
}

// SessionStore remembers the last mapping used per entity type for the
// lifetime of the process. Nothing is persisted.
type SessionStore struct {
	mu    sync.RWMutex
	saved map[schema.EntityType]Saved
	now   func() time.Time
}

// NewSessionStore creates an empty store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		saved: make(map[schema.EntityType]Saved),
		now:   time.Now,
	}
}

// Save remembers m and opts for entity, replacing any earlier mapping
func (s *SessionStore) Save(entity schema.EntityType, m ColumnMapping, opts Options, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved[entity] = Saved{
		Mapping:     m.Clone(),
		Options:     opts,
		Fingerprint: fingerprint,
		SavedAt:     s.now(),
	}
}

// Load returns the mapping remembered for entity
func (s *SessionStore) Load(entity schema.EntityType) (Saved, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved, ok := s.saved[entity]
	if !ok {
		return Saved{}, false
	}
	saved.Mapping = saved.Mapping.Clone()
	return saved, true
}

// Reapply returns the remembered mapping for entity adapted to headers, with
// the remembered options. A mapping saved for the same headers comes back unchanged.
func (s *SessionStore) Reapply(entity schema.EntityType, headers []string) (ColumnMapping, Options, bool) {
	saved, ok := s.Load(entity)
	if !ok {
		return nil, Options{}, false
	}
	return Reapply(saved.Mapping, entity, headers), saved.Options, true
}

// Forget drops the remembered mapping for entity
func (s *SessionStore) Forget(entity schema.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, entity)
}
