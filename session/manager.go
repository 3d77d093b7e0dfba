// Package session runs resumable chunked uploads: chunks are staged on local
// disk in any order, then streamed in index order into the blob store.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

// Notifier is told about every committed media object before Complete returns.
type Notifier interface {
	OnMediaMutated(ctx context.Context, fileName, contextKey string) error
}

// Deps wires a Manager.
type Deps struct {
	Store       Store
	Blobs       blobstore.Store
	Meta        metastore.Store
	Notifier    Notifier // optional
	StagingRoot string
	Config      types.SessionConfig
	Logger      *log.Logger // optional
}

type Manager struct {
	store       Store
	blobs       blobstore.Store
	meta        metastore.Store
	notifier    Notifier
	stagingRoot string
	cfg         types.SessionConfig
	logger      *log.Logger

	// upload id -> cancel func of a running assembly
	assembling sync.Map

	now func() time.Time
}

func NewManager(d Deps) (*Manager, error) {
	if d.Store == nil || d.Blobs == nil || d.Meta == nil {
		return nil, errors.New("session manager needs a session store, blob store and metadata store")
	}
	if d.StagingRoot == "" {
		return nil, errors.New("session manager needs a staging root")
	}
	if err := os.MkdirAll(d.StagingRoot, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging root %s: %w", d.StagingRoot, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = tool.DefaultLogger
	}
	return &Manager{
		store:       d.Store,
		blobs:       d.Blobs,
		meta:        d.Meta,
		notifier:    d.Notifier,
		stagingRoot: d.StagingRoot,
		cfg:         d.Config,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (m *Manager) validate(req types.InitRequest) error {
	switch {
	case req.FileName == "":
		return types.ValidationError("fileName is required")
	case req.MimeType == "":
		return types.ValidationError("mimeType is required")
	case req.FileSize <= 0:
		return types.ValidationError("fileSize must be > 0")
	case req.TotalChunks <= 0:
		return types.ValidationError("totalChunks must be > 0")
	case m.cfg.MaxChunks > 0 && req.TotalChunks > m.cfg.MaxChunks:
		return types.ValidationError("totalChunks must be <= %d", m.cfg.MaxChunks)
	case m.cfg.MaxFileBytes > 0 && req.FileSize > m.cfg.MaxFileBytes:
		return types.ValidationError("fileSize must be <= %d", m.cfg.MaxFileBytes)
	case int64(req.TotalChunks) > req.FileSize:
		return types.ValidationError("totalChunks %d exceeds fileSize %d", req.TotalChunks, req.FileSize)
	case m.cfg.MaxChunkBytes > 0 && int64(req.TotalChunks)*m.cfg.MaxChunkBytes < req.FileSize:
		return types.ValidationError("%d chunks of at most %d bytes cannot hold %d bytes", req.TotalChunks, m.cfg.MaxChunkBytes, req.FileSize)
	}
	return nil
}

// Init validates the declared upload and allocates its staging directory.
func (m *Manager) Init(ctx context.Context, req types.InitRequest) (*types.UploadSession, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}
	if !m.blobs.IsAvailable(ctx) {
		return nil, types.StorageUnavailableError("blob store is unavailable, retry later", nil)
	}

	id := tool.GenerateSessionID()
	dir := m.stagingDir(id)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, types.DiskError("failed to create staging directory", err)
	}

	now := m.now()
	s := &types.UploadSession{
		ID:             id,
		ContextKey:     types.ContextKeyFor(req.EventID, req.GalleryID),
		FileName:       tool.GenerateStorageName(req.FileName, req.MimeType),
		OriginalName:   filepath.Base(req.FileName),
		MimeType:       req.MimeType,
		DeclaredSize:   req.FileSize,
		DeclaredChunks: req.TotalChunks,
		Received:       make(map[int]struct{}, req.TotalChunks),
		StagingDir:     dir,
		Status:         types.SessionInitialized,
		CreatedAt:      now,
		LastActivity:   now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		m.purge(id)
		return nil, err
	}
	m.logger.Infof("[Session] init %s: %s (%d bytes, %d chunks, %s)", id, s.OriginalName, s.DeclaredSize, s.DeclaredChunks, s.MimeType)
	return s.Clone(), nil
}

// PutChunk stores one chunk. Re-sending an index overwrites the earlier bytes.
func (m *Manager) PutChunk(ctx context.Context, id string, index int, body io.Reader) (types.ChunkReceipt, error) {
	if !validID(id) {
		return types.ChunkReceipt{}, notFound(id)
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return types.ChunkReceipt{}, err
	}
	if s.Status.IsTerminal() {
		return types.ChunkReceipt{}, notFound(id)
	}
	if s.Status == types.SessionCompleting {
		return types.ChunkReceipt{}, assemblingConflict(id)
	}
	if index < 0 || index >= s.DeclaredChunks {
		return types.ChunkReceipt{}, types.ValidationError("chunk index %d out of range [0, %d)", index, s.DeclaredChunks)
	}

	_, err = tool.WriteFileAtomic(ctx, s.StagingDir, chunkFileName(index), &sourceReader{r: body}, m.cfg.MaxChunkBytes)
	if err != nil {
		return types.ChunkReceipt{}, m.chunkWriteFailed(ctx, id, index, err)
	}

	now := m.now()
	updated, err := m.store.Update(ctx, id, func(cur *types.UploadSession) error {
		if cur.Status.IsTerminal() {
			return notFound(id)
		}
		if cur.Status == types.SessionCompleting {
			return assemblingConflict(id)
		}
		cur.Received[index] = struct{}{}
		cur.LastActivity = now
		if cur.Status == types.SessionInitialized {
			cur.Status = types.SessionReceiving
		}
		return nil
	})
	if err != nil {
		if types.IsKind(err, types.KindNotFound) {
			// cancelled or expired while the chunk was being written
			m.purge(id)
		}
		return types.ChunkReceipt{}, err
	}
	m.logger.Debugf("[Session] %s chunk %d stored (%d/%d)", id, index, updated.ReceivedCount(), updated.DeclaredChunks)
	return types.ChunkReceipt{
		Index:          index,
		ReceivedChunks: updated.ReceivedCount(),
		TotalChunks:    updated.DeclaredChunks,
	}, nil
}

// chunkWriteFailed classifies a failed chunk write. Only a disk side failure tears the session down.
func (m *Manager) chunkWriteFailed(ctx context.Context, id string, index int, err error) error {
	var src *sourceError
	switch {
	case errors.Is(err, tool.ErrTooLarge):
		return types.ValidationError("chunk %d exceeds %d bytes", index, m.cfg.MaxChunkBytes)
	case errors.As(err, &src), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &types.MediaError{
			Kind:      types.KindValidation,
			Message:   fmt.Sprintf("chunk %d body was not received completely", index),
			Retryable: true,
			Err:       err,
		}
	}
	if _, gerr := m.store.Get(ctx, id); gerr != nil {
		// the staging dir went away with the session
		return notFound(id)
	}
	m.logger.Errorf("[Session] %s chunk %d write failed, dropping upload: %v", id, index, err)
	m.teardown(ctx, id, types.SessionFailed)
	return types.DiskError(fmt.Sprintf("failed to persist chunk %d, restart the upload", index), err)
}

// Complete assembles the staged chunks into one blob and records its descriptor.
func (m *Manager) Complete(ctx context.Context, id string) (*types.MediaObject, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	s, err := m.store.Update(ctx, id, func(cur *types.UploadSession) error {
		switch {
		case cur.Status.IsTerminal():
			return notFound(id)
		case cur.Status == types.SessionCompleting:
			return assemblingConflict(id)
		case cur.ReceivedCount() != cur.DeclaredChunks:
			return types.IncompleteUploadError(cur.ReceivedCount(), cur.DeclaredChunks)
		}
		cur.Status = types.SessionCompleting
		cur.LastActivity = m.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// the assembly outlives the request, only Cancel stops it
	asmCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.assembling.Store(id, cancel)
	defer func() {
		m.assembling.Delete(id)
		cancel()
	}()

	started := m.now()
	obj, err := m.assemble(asmCtx, s)
	bg := context.WithoutCancel(ctx)
	if err != nil {
		m.teardown(bg, id, types.SessionFailed)
		if asmCtx.Err() != nil {
			m.logger.Warnf("[Assemble] %s cancelled during assembly", id)
			return nil, types.NotFoundError("upload session %s was cancelled", id)
		}
		m.logger.Errorf("[Assemble] %s failed: %v", id, err)
		if types.IsKind(err, types.KindDisk) {
			return nil, err
		}
		return nil, types.AssemblyError("assembly failed, restart the upload", err)
	}

	m.teardown(bg, id, types.SessionCompleted)
	m.logger.Infof("[Assemble] %s -> %s (%d bytes) in %s", id, obj.FileName, obj.ByteSize, m.now().Sub(started).Round(time.Millisecond))
	return obj, nil
}

// assemble streams chunks 0..n-1 through a single sink. Failure paths clean up
// the partial blob before returning.
func (m *Manager) assemble(ctx context.Context, s *types.UploadSession) (*types.MediaObject, error) {
	sink, err := m.blobs.OpenUploadSink(ctx, s.FileName, blobstore.Metadata{
		ContentType:  s.MimeType,
		OriginalName: s.OriginalName,
		ContextKey:   s.ContextKey,
		DeclaredSize: s.DeclaredSize,
	})
	if err != nil {
		return nil, err
	}

	var written int64
	for i := 0; i < s.DeclaredChunks; i++ {
		n, err := m.copyChunk(ctx, sink, s.StagingDir, i)
		written += n
		if err != nil {
			if abortErr := sink.Abort(); abortErr != nil {
				m.logger.Warnf("[Assemble] %s abort of partial blob %s failed: %v", s.ID, s.FileName, abortErr)
			}
			return nil, err
		}
	}

	ref, err := sink.Commit()
	if err != nil {
		m.deleteBlob(s.FileName)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		m.deleteBlob(s.FileName)
		return nil, err
	}
	if written != s.DeclaredSize {
		m.logger.Warnf("[Assemble] %s declared %d bytes but received %d", s.ID, s.DeclaredSize, written)
	}

	obj := &types.MediaObject{
		FileName:     s.FileName,
		StorageKind:  types.StorageBlob,
		BlobRef:      string(ref),
		ByteSize:     written,
		MimeType:     s.MimeType,
		ContextKey:   s.ContextKey,
		OriginalName: s.OriginalName,
		CreatedAt:    m.now(),
	}
	if err := m.meta.Put(ctx, obj); err != nil {
		m.deleteBlob(s.FileName)
		return nil, err
	}
	if m.notifier != nil {
		if err := m.notifier.OnMediaMutated(ctx, obj.FileName, obj.ContextKey); err != nil {
			m.logger.Warnf("[Assemble] %s invalidation failed: %v", s.ID, err)
		}
	}
	return obj, nil
}

func (m *Manager) copyChunk(ctx context.Context, sink blobstore.Sink, dir string, index int) (int64, error) {
	f, err := os.Open(filepath.Join(dir, chunkFileName(index)))
	if err != nil {
		return 0, types.DiskError(fmt.Sprintf("staged chunk %d is unreadable", index), err)
	}
	defer f.Close()
	n, err := tool.CopyWithContext(ctx, sink, &sourceReader{r: f})
	if err != nil {
		var src *sourceError
		if errors.As(err, &src) {
			return n, types.DiskError(fmt.Sprintf("failed to read staged chunk %d", index), err)
		}
		return n, err
	}
	return n, nil
}

func (m *Manager) deleteBlob(name string) {
	if err := m.blobs.Delete(context.Background(), name); err != nil {
		m.logger.Warnf("[Assemble] cleanup of blob %s failed: %v", name, err)
	}
}

// teardown moves a session into a terminal state and releases everything it owns.
// Losing a race against another terminal transition is a no-op.
func (m *Manager) teardown(ctx context.Context, id string, status types.SessionStatus) {
	_, _ = m.store.Update(ctx, id, func(cur *types.UploadSession) error {
		cur.Status = status
		return nil
	})
	_ = m.store.Delete(ctx, id)
	m.purge(id)
}

// Cancel drops the session and its staged chunks. Unknown ids are not an error.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if cancel, ok := m.assembling.Load(id); ok {
		cancel.(context.CancelFunc)()
	}
	_, err := m.store.Update(ctx, id, func(cur *types.UploadSession) error {
		if cur.Status.IsTerminal() {
			return notFound(id)
		}
		cur.Status = types.SessionCancelled
		return nil
	})
	if err != nil && !types.IsKind(err, types.KindNotFound) {
		return err
	}
	_ = m.store.Delete(ctx, id)
	m.purge(id)
	if err == nil {
		m.logger.Infof("[Session] %s cancelled", id)
	}
	return nil
}

// Progress reports received and missing chunks so a client can resume.
func (m *Manager) Progress(ctx context.Context, id string) (types.SessionProgress, error) {
	if !validID(id) {
		return types.SessionProgress{}, notFound(id)
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return types.SessionProgress{}, err
	}
	return types.SessionProgress{
		UploadID:       s.ID,
		Status:         s.Status,
		ReceivedChunks: s.ReceivedCount(),
		TotalChunks:    s.DeclaredChunks,
		Missing:        s.MissingIndexes(),
		LastActivity:   s.LastActivity,
	}, nil
}

// SweepOrphans removes staging directories no live session owns, left behind
// by a previous process.
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.stagingRoot)
	if err != nil {
		return 0, err
	}
	live, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	owned := make(map[string]struct{}, len(live))
	for _, s := range live {
		owned[s.ID] = struct{}{}
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !validID(e.Name()) {
			continue
		}
		if _, ok := owned[e.Name()]; ok {
			continue
		}
		m.purge(e.Name())
		removed++
	}
	if removed > 0 {
		m.logger.Infof("[Staging] removed %d orphaned staging directories", removed)
	}
	return removed, nil
}
