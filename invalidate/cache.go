// Package invalidate keeps every cache layer consistent with media mutations.
package invalidate

import (
	"context"
	"path"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
)

const listKeyPrefix = "media:list:"

// ListKey is the response cache key of a context's descriptor listing.
func ListKey(contextKey string) string {
	return listKeyPrefix + contextKey
}

// ListPattern matches every derived listing of a context (pages, filters).
func ListPattern(contextKey string) string {
	return listKeyPrefix + contextKey + ":*"
}

// ResponseCache stores rendered API responses by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes keys matching a glob and reports how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// MemoryResponseCache is a process-local ResponseCache with per-entry expiry.
type MemoryResponseCache struct {
	entries *ttlworker.Cache[string, []byte]

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryResponseCache(ttl time.Duration) *MemoryResponseCache {
	return &MemoryResponseCache{
		entries: ttlworker.NewCache[string, []byte](ttl),
		keys:    make(map[string]struct{}),
	}
}

func (m *MemoryResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v := m.entries.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (m *MemoryResponseCache) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	m.entries.Set(key, value)
	return nil
}

func (m *MemoryResponseCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
		m.entries.Delete(k)
	}
	return nil
}

func (m *MemoryResponseCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.keys {
		if ok, _ := path.Match(pattern, k); !ok {
			continue
		}
		delete(m.keys, k)
		// the index may still name an expired entry
		if m.entries.Get(k) != nil {
			removed++
		}
		m.entries.Delete(k)
	}
	return removed, nil
}
