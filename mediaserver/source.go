package mediaserver

import (
	"bytes"
	"context"
	"io"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
)

// source is one way of reading a media object's bytes. Which one serves a
// request follows the descriptor's storage kind.
type source interface {
	Size() int64
	// Open reads the inclusive window [start, end].
	Open(ctx context.Context, start, end int64) (io.ReadCloser, error)
	Kind() string
}

// memorySource serves a payload already resident in memory: decoded inline
// media or a blob held by the byte cache.
type memorySource struct {
	data []byte
	kind string
}

func (m *memorySource) Size() int64 { return int64(len(m.data)) }
func (m *memorySource) Kind() string { return m.kind }

func (m *memorySource) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if len(m.data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(m.data[start : end+1])), nil
}

// blobSource streams from the blob store and falls back to a cached copy when the store fails.
type blobSource struct {
	store blobstore.Store
	cache *bytecache.Cache
	name  string
	size  int64
}

func (b *blobSource) Size() int64 { return b.size }
func (b *blobSource) Kind() string { return "blob" }

func (b *blobSource) Open(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if b.size == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	rc, err := b.store.OpenRangeStream(ctx, b.name, start, end)
	if err == nil {
		return rc, nil
	}
	if b.cache != nil {
		if e, ok := b.cache.Get(b.name); ok && int64(len(e.Data)) == b.size {
			return io.NopCloser(bytes.NewReader(e.Data[start : end+1])), nil
		}
	}
	return nil, err
}
