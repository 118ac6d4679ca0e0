package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// memoryStore implements Store with in-memory storage. It backs engine
// tests and dry-run mode, where snapshots must not touch disk.
type memoryStore struct {
	mu    sync.RWMutex
	items map[string]*Checkpoint
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{items: make(map[string]*Checkpoint)}
}

func (m *memoryStore) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	if cp == nil {
		return "", errors.New("nil checkpoint")
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.Version == "" {
		cp.Version = SchemaVersion
	}
	if cp.ID == "" {
		cp.ID = NewID(DefaultPrefix, cp.PipelineID, cp.Timestamp)
	}
	if err := cp.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid checkpoint")
	}
	clone, err := cloneCheckpoint(cp)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.items[cp.ID] = clone
	m.mu.Unlock()
	return cp.ID, nil
}

func (m *memoryStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, cp := range m.items {
		if key == id || containsID(key, id) {
			return cloneCheckpoint(cp)
		}
	}
	return nil, ErrNotFound
}

func (m *memoryStore) List(ctx context.Context, pipelineID string) ([]Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := make([]Metadata, 0, len(m.items))
	for _, cp := range m.items {
		if pipelineID != "" && cp.PipelineID != pipelineID {
			continue
		}
		metas = append(metas, Metadata{
			ID:         cp.ID,
			PipelineID: cp.PipelineID,
			Timestamp:  cp.Timestamp,
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Timestamp.After(metas[j].Timestamp)
	})
	return metas, nil
}

func (m *memoryStore) GetLatest(ctx context.Context, pipelineID string) (*Checkpoint, error) {
	metas, err := m.List(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrNotFound
	}
	return m.Load(ctx, metas[0].ID)
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.items {
		if key == id || containsID(key, id) {
			delete(m.items, key)
		}
	}
	return nil
}

func (m *memoryStore) Rotate(ctx context.Context) error {
	return nil
}

func (m *memoryStore) Validate(ctx context.Context, id string) bool {
	cp, err := m.Load(ctx, id)
	if err != nil {
		return false
	}
	return cp.Validate() == nil
}

func cloneCheckpoint(cp *Checkpoint) (*Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, errors.Wrap(err, "clone checkpoint")
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "clone checkpoint")
	}
	return &out, nil
}

func containsID(key, id string) bool {
	return id != "" && strings.Contains(key, id)
}
