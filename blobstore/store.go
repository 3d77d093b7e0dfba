// Package blobstore streams media bytes into and out of a binary object store.
package blobstore

import (
	"context"
	"io"

	"github.com/moyoez/eventmedia/types"
)

// Ref is the opaque handle a backend returns once an upload is committed.
type Ref string

// Metadata travels with an uploaded object.
type Metadata struct {
	ContentType  string
	OriginalName string
	ContextKey   string
	DeclaredSize int64
}

// Stat describes a stored object.
type Stat struct {
	Exists      bool
	Size        int64
	ContentType string
}

// Sink accepts sequential writes for one object. Write blocks while the backend
// is behind, so a slow store slows the producer instead of growing a buffer.
// Exactly one of Commit or Abort must be called.
type Sink interface {
	io.Writer
	Commit() (Ref, error)
	Abort() error
}

// Store is the blob backend used by the upload assembler and the media server.
type Store interface {
	OpenUploadSink(ctx context.Context, name string, meta Metadata) (Sink, error)
	OpenDownloadStream(ctx context.Context, name string) (io.ReadCloser, error)
	// OpenRangeStream reads the inclusive byte window [start, end], clamped to the object.
	OpenRangeStream(ctx context.Context, name string, start, end int64) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (Stat, error)
	Delete(ctx context.Context, name string) error
	IsAvailable(ctx context.Context) bool
}

// clampRange bounds [start, end] to an object of the given size.
func clampRange(start, end, size int64) (int64, int64, error) {
	if start < 0 {
		start = 0
	}
	if end < 0 || end > size-1 {
		end = size - 1
	}
	if size == 0 || start > end {
		return 0, 0, types.InvalidRangeError("")
	}
	return start, end, nil
}

// limitedReadCloser reads at most n bytes and closes the underlying stream.
type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error {
	return l.closer.Close()
}

func newLimitedReadCloser(rc io.ReadCloser, n int64) io.ReadCloser {
	return &limitedReadCloser{Reader: io.LimitReader(rc, n), closer: rc}
}
