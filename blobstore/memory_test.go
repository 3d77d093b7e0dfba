package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/eventmedia/types"
)

func put(t *testing.T, s Store, name string, data []byte) Ref {
	t.Helper()
	sink, err := s.OpenUploadSink(context.Background(), name, Metadata{ContentType: "video/mp4"})
	require.NoError(t, err)
	_, err = sink.Write(data)
	require.NoError(t, err)
	ref, err := sink.Commit()
	require.NoError(t, err)
	return ref
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref := put(t, s, "clip.mp4", []byte("0123456789"))
	assert.NotEmpty(t, ref)

	st, err := s.Stat(ctx, "clip.mp4")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, int64(10), st.Size)
	assert.Equal(t, "video/mp4", st.ContentType)

	rc, err := s.OpenDownloadStream(ctx, "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(readAll(t, rc)))
}

func TestMemoryStoreRangeClamped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	put(t, s, "clip.mp4", []byte("0123456789"))

	rc, err := s.OpenRangeStream(ctx, "clip.mp4", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(readAll(t, rc)))

	rc, err = s.OpenRangeStream(ctx, "clip.mp4", 7, 100)
	require.NoError(t, err)
	assert.Equal(t, "789", string(readAll(t, rc)))

	_, err = s.OpenRangeStream(ctx, "clip.mp4", 10, 12)
	assert.True(t, types.IsKind(err, types.KindInvalidRange))
}

func TestMemoryStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	st, err := s.Stat(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	_, err = s.OpenDownloadStream(ctx, "nope")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	put(t, s, "a.jpg", []byte("x"))
	require.NoError(t, s.Delete(ctx, "a.jpg"))
	st, err = s.Stat(ctx, "a.jpg")
	require.NoError(t, err)
	assert.False(t, st.Exists)
}

func TestMemoryStoreAbortLeavesNothing(t *testing.T) {
	s := NewMemoryStore()
	sink, err := s.OpenUploadSink(context.Background(), "a.jpg", Metadata{})
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, sink.Abort())
	assert.Empty(t, s.Names())
}

func TestMemoryStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetAvailable(false)
	assert.False(t, s.IsAvailable(ctx))
	_, err := s.OpenUploadSink(ctx, "a.jpg", Metadata{})
	assert.True(t, types.IsRetryable(err))
	s.SetAvailable(true)
	assert.True(t, s.IsAvailable(ctx))
}

func TestClampRange(t *testing.T) {
	start, end, err := clampRange(-5, 1<<40, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(99), end)

	_, _, err = clampRange(0, 0, 0)
	assert.Error(t, err)
}
