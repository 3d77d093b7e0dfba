package mediaserver

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/types"
)

type serverFixture struct {
	srv   *Server
	blobs *blobstore.MemoryStore
	meta  *metastore.MemoryStore
	cache *bytecache.Cache
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		blobs: blobstore.NewMemoryStore(),
		meta:  metastore.NewMemoryStore(),
		cache: bytecache.New(8 << 20),
	}
	f.srv = New(f.meta, f.blobs, f.cache, types.ServingConfig{}, 1<<20)
	return f
}

func (f *serverFixture) putBlob(t *testing.T, name, mime string, data []byte) {
	t.Helper()
	ctx := context.Background()
	sink, err := f.blobs.OpenUploadSink(ctx, name, blobstore.Metadata{ContentType: mime})
	require.NoError(t, err)
	_, err = sink.Write(data)
	require.NoError(t, err)
	ref, err := sink.Commit()
	require.NoError(t, err)
	require.NoError(t, f.meta.Put(ctx, &types.MediaObject{
		FileName:    name,
		StorageKind: types.StorageBlob,
		BlobRef:     string(ref),
		ByteSize:    int64(len(data)),
		MimeType:    mime,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
}

func (f *serverFixture) putInline(t *testing.T, name, mime string, data []byte) {
	t.Helper()
	require.NoError(t, f.meta.Put(context.Background(), &types.MediaObject{
		FileName:    name,
		StorageKind: types.StorageInline,
		InlineData:  base64.StdEncoding.EncodeToString(data),
		ByteSize:    int64(len(data)),
		MimeType:    mime,
	}))
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func readBody(t *testing.T, resp *Response) []byte {
	t.Helper()
	require.NotNil(t, resp.Body)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func TestServeVideoOpenRangeIsCapped(t *testing.T) {
	f := newServerFixture(t)
	data := payload(5_000_000)
	f.putBlob(t, "clip.mp4", "video/mp4", data)

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "clip.mp4", Method: http.MethodGet, Range: "bytes=0-"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 0-2097151/5000000", resp.Header.Get("Content-Range"))
	assert.Equal(t, "2097152", resp.Header.Get("Content-Length"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")
	assert.Equal(t, data[:2097152], readBody(t, resp))

	// ranges never pull videos into the byte cache
	assert.Equal(t, 0, f.cache.Len())
}

func TestServeVideoWithoutRangeStartsPartial(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "clip.mp4", "video/mp4", payload(3_000_000))

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "clip.mp4", Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 0-2097151/3000000", resp.Header.Get("Content-Range"))
	assert.Len(t, readBody(t, resp), 2097152)
}

func TestServeClosedAndSuffixRanges(t *testing.T) {
	f := newServerFixture(t)
	data := payload(10_000)
	f.putBlob(t, "photo.jpg", "image/jpeg", data)
	ctx := context.Background()

	resp, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, Range: "bytes=100-199"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "bytes 100-199/10000", resp.Header.Get("Content-Range"))
	assert.Equal(t, data[100:200], readBody(t, resp))

	resp, err = f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, Range: "bytes=-500"})
	require.NoError(t, err)
	assert.Equal(t, "bytes 9500-9999/10000", resp.Header.Get("Content-Range"))
	assert.Equal(t, data[9500:], readBody(t, resp))
}

func TestServeInvalidRangeFallsBackToFull(t *testing.T) {
	f := newServerFixture(t)
	data := payload(1000)
	f.putBlob(t, "photo.jpg", "image/jpeg", data)

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "photo.jpg", Method: http.MethodGet, Range: "bytes=5000-"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.Header.Get("Content-Range"))
	assert.Equal(t, "1000", resp.Header.Get("Content-Length"))
	assert.Equal(t, data, readBody(t, resp))
}

func TestServeConditional(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "photo.jpg", "image/jpeg", payload(1000))
	ctx := context.Background()

	first, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet})
	require.NoError(t, err)
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)
	readBody(t, first)

	resp, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, IfNoneMatch: etag})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Equal(t, etag, resp.Header.Get("ETag"))

	// the whole-object tag also satisfies ranged revalidation
	resp, err = f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, Range: "bytes=0-9", IfNoneMatch: etag})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.Status)

	resp, err = f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, IfNoneMatch: `"stale"`})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	readBody(t, resp)
}

func TestServeETagStableAcrossPaths(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "photo.jpg", "image/jpeg", payload(1000))
	ctx := context.Background()

	cold, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet})
	require.NoError(t, err)
	readBody(t, cold)
	require.Equal(t, 1, f.cache.Len())

	warm, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet})
	require.NoError(t, err)
	readBody(t, warm)
	assert.Equal(t, cold.Header.Get("ETag"), warm.Header.Get("ETag"))
	assert.Equal(t, uint64(1), f.cache.Stats().HitCount)
}

func TestServeFromCacheWhenStoreDown(t *testing.T) {
	f := newServerFixture(t)
	data := payload(2000)
	f.putBlob(t, "photo.jpg", "image/jpeg", data)
	ctx := context.Background()

	resp, err := f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet})
	require.NoError(t, err)
	readBody(t, resp)

	f.blobs.SetAvailable(false)
	resp, err = f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet, Range: "bytes=10-19"})
	require.NoError(t, err)
	assert.Equal(t, data[10:20], readBody(t, resp))

	f.cache.Delete("photo.jpg")
	_, err = f.srv.Serve(ctx, Request{FileName: "photo.jpg", Method: http.MethodGet})
	assert.True(t, types.IsKind(err, types.KindStorageUnavailable))
}

func TestServeLargeImageNotCached(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "big.png", "image/png", payload(2<<20))

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "big.png", Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Len(t, readBody(t, resp), 2<<20)
	assert.Equal(t, 0, f.cache.Len())
}

func TestServeInline(t *testing.T) {
	f := newServerFixture(t)
	data := []byte("legacy inline image bytes")
	f.putInline(t, "old.gif", "image/gif", data)
	ctx := context.Background()

	resp, err := f.srv.Serve(ctx, Request{FileName: "old.gif", Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, data, readBody(t, resp))

	resp, err = f.srv.Serve(ctx, Request{FileName: "old.gif", Method: http.MethodGet, Range: "bytes=7-12"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, data[7:13], readBody(t, resp))
}

func TestServeHead(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "photo.jpg", "image/jpeg", payload(1234))

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "photo.jpg", Method: http.MethodHead})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Equal(t, "1234", resp.Header.Get("Content-Length"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
}

func TestServeMissing(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, err := f.srv.Serve(ctx, Request{FileName: "nope.jpg", Method: http.MethodGet})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	// descriptor without a blob behind it
	require.NoError(t, f.meta.Put(ctx, &types.MediaObject{
		FileName: "ghost.jpg", StorageKind: types.StorageBlob, BlobRef: "mem:ghost.jpg", MimeType: "image/jpeg",
	}))
	_, err = f.srv.Serve(ctx, Request{FileName: "ghost.jpg", Method: http.MethodGet})
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestServeEmptyObject(t *testing.T) {
	f := newServerFixture(t)
	f.putBlob(t, "empty.txt", "text/plain", nil)

	resp, err := f.srv.Serve(context.Background(), Request{FileName: "empty.txt", Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))
	assert.Empty(t, readBody(t, resp))
}
