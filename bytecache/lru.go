// Package bytecache holds decoded media bytes in memory under a fixed byte budget.
package bytecache

import (
	"container/list"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/moyoez/eventmedia/types"
)

// ErrEntryTooLarge is returned when a single entry exceeds the whole budget.
var ErrEntryTooLarge = errors.New("entry larger than cache budget")

// Entry is a cached media payload. Data must be treated as read-only.
type Entry struct {
	Data     []byte
	MimeType string
}

type item struct {
	name       string
	entry      Entry
	hits       uint64
	lastAccess time.Time
}

// Cache is an LRU keyed by file name, bounded by total payload bytes rather than entry count.
type Cache struct {
	mu     sync.Mutex
	budget int64
	total  int64
	ll     *list.List // front = most recently accessed
	items  map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
	rejected  uint64

	now func() time.Time
}

func New(budgetBytes int64) *Cache {
	return &Cache{
		budget: budgetBytes,
		ll:     list.New(),
		items:  make(map[string]*list.Element),
		now:    time.Now,
	}
}

func (c *Cache) Get(name string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[name]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	it := el.Value.(*item)
	it.hits++
	it.lastAccess = c.now()
	c.ll.MoveToFront(el)
	c.hits++
	return it.entry, true
}

// Set stores data under name, evicting least recently accessed entries until it fits.
// The slice is retained, callers must not modify it afterwards.
func (c *Cache) Set(name string, data []byte, mimeType string) error {
	size := int64(len(data))
	c.mu.Lock()
	defer c.mu.Unlock()
	if size > c.budget {
		c.rejected++
		return ErrEntryTooLarge
	}
	if el, ok := c.items[name]; ok {
		c.removeElement(el)
	}
	for c.total+size > c.budget {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
	it := &item{
		name:       name,
		entry:      Entry{Data: data, MimeType: mimeType},
		lastAccess: c.now(),
	}
	c.items[name] = c.ll.PushFront(it)
	c.total += size
	return nil
}

// Delete drops name and reports whether it was resident.
func (c *Cache) Delete(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[name]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CacheStats{
		EntryCount:  c.ll.Len(),
		TotalBytes:  c.total,
		BudgetBytes: c.budget,
		HitCount:    c.hits,
		MissCount:   c.misses,
		Evictions:   c.evictions,
		Rejected:    c.rejected,
	}
}

// TopEntries returns up to n entries ordered by hit count, larger entries first on ties.
func (c *Cache) TopEntries(n int) []types.CacheEntryInfo {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	infos := make([]types.CacheEntryInfo, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		it := el.Value.(*item)
		infos = append(infos, types.CacheEntryInfo{
			FileName:   it.name,
			MimeType:   it.entry.MimeType,
			Size:       int64(len(it.entry.Data)),
			Hits:       it.hits,
			LastAccess: it.lastAccess,
		})
	}
	c.mu.Unlock()

	slices.SortStableFunc(infos, func(a, b types.CacheEntryInfo) int {
		if a.Hits != b.Hits {
			if a.Hits > b.Hits {
				return -1
			}
			return 1
		}
		switch {
		case a.Size > b.Size:
			return -1
		case a.Size < b.Size:
			return 1
		}
		return 0
	})
	if len(infos) > n {
		infos = infos[:n]
	}
	return infos
}

func (c *Cache) removeElement(el *list.Element) {
	it := c.ll.Remove(el).(*item)
	delete(c.items, it.name)
	c.total -= int64(len(it.entry.Data))
}
