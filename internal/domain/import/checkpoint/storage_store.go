package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/pkg/storage"
)

// StorageStore keeps checkpoints as JSON documents in a key/value storage
type StorageStore struct {
	storage storage.Storage
}

// NewStorageStore creates a store over s
func NewStorageStore(s storage.Storage) *StorageStore {
	return &StorageStore{storage: s}
}

func (s *StorageStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := s.storage.SetItem(ctx, Key(cp.EntityType), data); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *StorageStore) Load(ctx context.Context, entity schema.EntityType) (*Checkpoint, error) {
	data, err := s.storage.GetItem(ctx, Key(entity))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", Key(entity), err)
	}
	if cp.EntityType == "" {
		cp.EntityType = entity
	}
	return &cp, nil
}

func (s *StorageStore) Delete(ctx context.Context, entity schema.EntityType) error {
	if err := s.storage.RemoveItem(ctx, Key(entity)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *StorageStore) List(ctx context.Context) ([]*Checkpoint, error) {
	keys, err := s.storage.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	checkpoints := make([]*Checkpoint, 0, len(keys))
	for _, key := range keys {
		cp, err := s.Load(ctx, schema.EntityType(strings.TrimPrefix(key, KeyPrefix)))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].EntityType < checkpoints[j].EntityType })
	return checkpoints, nil
}
