package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/moyoez/eventmedia/types"
)

type memObject struct {
	data []byte
	meta Metadata
}

// MemoryStore keeps blobs in process memory. Used by tests and the memory backend mode.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	down    atomic.Bool
	// FailAfter makes sinks fail once that many bytes were written, 0 disables.
	FailAfter int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

// SetAvailable toggles the simulated backend outage.
func (m *MemoryStore) SetAvailable(ok bool) {
	m.down.Store(!ok)
}

func (m *MemoryStore) IsAvailable(ctx context.Context) bool {
	return !m.down.Load()
}

func (m *MemoryStore) unavailable() error {
	return types.StorageUnavailableError("memory blob store is down", nil)
}

func (m *MemoryStore) OpenUploadSink(ctx context.Context, name string, meta Metadata) (Sink, error) {
	if m.down.Load() {
		return nil, m.unavailable()
	}
	return &memSink{store: m, name: name, meta: meta, failAfter: m.FailAfter}, nil
}

func (m *MemoryStore) get(name string) (memObject, error) {
	if m.down.Load() {
		return memObject{}, m.unavailable()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[name]
	if !ok {
		return memObject{}, types.NotFoundError("blob %s not found", name)
	}
	return obj, nil
}

func (m *MemoryStore) OpenDownloadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) OpenRangeStream(ctx context.Context, name string, start, end int64) (io.ReadCloser, error) {
	obj, err := m.get(name)
	if err != nil {
		return nil, err
	}
	start, end, err = clampRange(start, end, int64(len(obj.data)))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (m *MemoryStore) Stat(ctx context.Context, name string) (Stat, error) {
	obj, err := m.get(name)
	if err != nil {
		if types.IsKind(err, types.KindNotFound) {
			return Stat{}, nil
		}
		return Stat{}, err
	}
	return Stat{Exists: true, Size: int64(len(obj.data)), ContentType: obj.meta.ContentType}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	if m.down.Load() {
		return m.unavailable()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

// Names lists stored object names, for assertions in tests.
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	return names
}

var errSinkClosed = errors.New("sink already closed")

type memSink struct {
	store     *MemoryStore
	name      string
	meta      Metadata
	buf       bytes.Buffer
	failAfter int64
	closed    bool
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errSinkClosed
	}
	if s.store.down.Load() {
		return 0, s.store.unavailable()
	}
	if s.failAfter > 0 && int64(s.buf.Len()+len(p)) > s.failAfter {
		return 0, types.StorageUnavailableError("simulated write failure", nil)
	}
	return s.buf.Write(p)
}

func (s *memSink) Commit() (Ref, error) {
	if s.closed {
		return "", errSinkClosed
	}
	s.closed = true
	if s.store.down.Load() {
		return "", s.store.unavailable()
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.objects[s.name] = memObject{data: s.buf.Bytes(), meta: s.meta}
	return Ref("mem:" + s.name), nil
}

func (s *memSink) Abort() error {
	s.closed = true
	s.buf.Reset()
	return nil
}
