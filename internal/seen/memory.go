package seen

import (
	"context"
	"sync"
)

// MemoryStore is an in-process seen store.
type MemoryStore struct {
	ids sync.Map
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// InsertIfAbsent implements crawler.SeenStore.
func (m *MemoryStore) InsertIfAbsent(_ context.Context, id string) (bool, error) {
	_, loaded := m.ids.LoadOrStore(id, struct{}{})
	return !loaded, nil
}

// Contains implements crawler.SeenStore.
func (m *MemoryStore) Contains(_ context.Context, id string) (bool, error) {
	_, ok := m.ids.Load(id)
	return ok, nil
}
