package metastore

import (
	"context"
	"slices"
	"sync"

	"github.com/moyoez/eventmedia/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]types.MediaObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]types.MediaObject)}
}

func (m *MemoryStore) Get(ctx context.Context, fileName string) (*types.MediaObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[fileName]
	if !ok {
		return nil, types.NotFoundError("media %s not found", fileName)
	}
	return &obj, nil
}

func (m *MemoryStore) Put(ctx context.Context, obj *types.MediaObject) error {
	if err := obj.Validate(); err != nil {
		return types.ValidationError("%v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.FileName] = *obj
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, fileName)
	return nil
}

func (m *MemoryStore) ListByContext(ctx context.Context, contextKey string) ([]types.MediaObject, error) {
	m.mu.RLock()
	out := make([]types.MediaObject, 0)
	for _, obj := range m.objects {
		if obj.ContextKey == contextKey {
			out = append(out, obj)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b types.MediaObject) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.FileName < b.FileName {
			return -1
		}
		if a.FileName > b.FileName {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
