package session

import (
	"context"
	"sync"

	"github.com/moyoez/eventmedia/types"
)

// Store is the session registry. Implementations must make Update atomic per
// session and must hand out copies, never their internal records.
type Store interface {
	Create(ctx context.Context, s *types.UploadSession) error
	Get(ctx context.Context, id string) (*types.UploadSession, error)
	// Update runs fn on a copy of the session and keeps the copy only if fn returns nil.
	Update(ctx context.Context, id string, fn func(s *types.UploadSession) error) (*types.UploadSession, error)
	Delete(ctx context.Context, id string) error
	// List returns a snapshot of all sessions.
	List(ctx context.Context) ([]*types.UploadSession, error)
}

type record struct {
	mu      sync.Mutex
	s       *types.UploadSession
	deleted bool
}

// MemoryStore keeps sessions in process memory; they do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

func (m *MemoryStore) Create(ctx context.Context, s *types.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; ok {
		return types.ConflictError("session %s already exists", s.ID)
	}
	m.records[s.ID] = &record{s: s.Clone()}
	return nil
}

func (m *MemoryStore) lookup(id string) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id]
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	r := m.lookup(id)
	if r == nil {
		return nil, notFound(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, notFound(id)
	}
	return r.s.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(s *types.UploadSession) error) (*types.UploadSession, error) {
	r := m.lookup(id)
	if r == nil {
		return nil, notFound(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, notFound(id)
	}
	working := r.s.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.s = working
	return working.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	r := m.records[id]
	delete(m.records, id)
	m.mu.Unlock()
	if r != nil {
		r.mu.Lock()
		r.deleted = true
		r.mu.Unlock()
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*types.UploadSession, error) {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	out := make([]*types.UploadSession, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		if !r.deleted {
			out = append(out, r.s.Clone())
		}
		r.mu.Unlock()
	}
	return out, nil
}

func notFound(id string) error {
	return types.NotFoundError("upload session %s not found", id)
}

func assemblingConflict(id string) error {
	return types.ConflictError("upload %s is already being assembled", id)
}
