package controllers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/eventmedia/api/middlewares"
	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/mediaserver"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/session"
	"github.com/moyoez/eventmedia/types"
)

type testEnv struct {
	router *gin.Engine
	blobs  *blobstore.MemoryStore
	meta   *metastore.MemoryStore
	cache  *bytecache.Cache
}

// setupRouter wires every controller against in-memory backends
func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		blobs: blobstore.NewMemoryStore(),
		meta:  metastore.NewMemoryStore(),
		cache: bytecache.New(4 << 20),
	}
	responses := invalidate.NewMemoryResponseCache(time.Minute)
	coordinator := invalidate.New(invalidate.Deps{
		Cache: env.cache, Responses: responses, Blobs: env.blobs, Meta: env.meta,
	})
	manager, err := session.NewManager(session.Deps{
		Store:       session.NewMemoryStore(),
		Blobs:       env.blobs,
		Meta:        env.meta,
		Notifier:    coordinator,
		StagingRoot: t.TempDir(),
		Config:      types.SessionConfig{MaxChunks: 100, MaxChunkBytes: 1 << 20, MaxFileBytes: 64 << 20},
	})
	require.NoError(t, err)
	media := mediaserver.New(env.meta, env.blobs, env.cache, types.ServingConfig{}, 1<<20)

	sessionCtrl := NewSessionController(manager)
	mediaCtrl := NewMediaController(media, env.meta, coordinator, responses, 64)
	invalidateCtrl := NewInvalidateController(coordinator)
	statusCtrl := NewStatusController(env.cache, env.blobs, env.meta)

	router := gin.New()
	router.GET("/readyz", statusCtrl.HandleReadyz)
	m := router.Group("/media")
	{
		m.POST("/sessions", sessionCtrl.HandleInit)
		m.GET("/sessions/:uploadId", sessionCtrl.HandleProgress)
		m.PUT("/sessions/:uploadId/chunks/:index", sessionCtrl.HandlePutChunk)
		m.POST("/sessions/:uploadId/complete", sessionCtrl.HandleComplete)
		m.DELETE("/sessions/:uploadId", sessionCtrl.HandleCancel)
		m.GET("/files/:fileName", mediaCtrl.HandleServe)
		m.HEAD("/files/:fileName", mediaCtrl.HandleServe)
		m.DELETE("/files/:fileName", mediaCtrl.HandleDelete)
		m.POST("/inline", mediaCtrl.HandleInlineUpload)
		m.GET("/contexts/:contextKey", mediaCtrl.HandleListContext)
		m.POST("/invalidate", invalidateCtrl.HandleInvalidate)
		m.GET("/cache/stats", middlewares.OnlyAllowLocal, statusCtrl.HandleCacheStats)
	}
	env.router = router
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (env *testEnv) initUpload(t *testing.T, name, mime string, size, chunks int) types.InitResponse {
	t.Helper()
	body, _ := json.Marshal(types.InitRequest{
		FileName: name, FileSize: int64(size), MimeType: mime, TotalChunks: chunks, EventID: "e1",
	})
	w := env.do(t, http.MethodPost, "/media/sessions", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp types.InitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadAndServeFlow(t *testing.T) {
	env := setupRouter(t)
	up := env.initUpload(t, "holiday.mp4", "video/mp4", 10, 2)
	assert.Equal(t, 2, up.TotalChunks)
	assert.True(t, strings.HasSuffix(up.FileName, ".mp4"))

	base := "/media/sessions/" + up.UploadID
	w := env.do(t, http.MethodPut, base+"/chunks/1", []byte("fghij"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["receivedChunks"])

	w = env.do(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{float64(0)}, decode(t, w)["missingChunks"])

	w = env.do(t, http.MethodPut, base+"/chunks/0", []byte("abcde"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, base+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	obj := decode(t, w)
	assert.Equal(t, up.FileName, obj["fileName"])
	assert.Equal(t, "event:e1", obj["contextKey"])

	w = env.do(t, http.MethodGet, "/media/files/"+up.FileName, nil, map[string]string{"Range": "bytes=2-5"})
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "cdef", w.Body.String())
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))

	// video without Range starts at the first window
	w = env.do(t, http.MethodGet, "/media/files/"+up.FileName, nil, nil)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "abcdefghij", w.Body.String())
	etag := w.Header().Get("ETag")

	w = env.do(t, http.MethodGet, "/media/files/"+up.FileName, nil, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	w = env.do(t, http.MethodHead, "/media/files/"+up.FileName, nil, nil)
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "10", w.Header().Get("Content-Length"))

	// session is gone once completed
	w = env.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteIncomplete(t *testing.T) {
	env := setupRouter(t)
	up := env.initUpload(t, "a.jpg", "image/jpeg", 6, 2)
	base := "/media/sessions/" + up.UploadID

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, base+"/chunks/0", []byte("abc"), nil).Code)
	w := env.do(t, http.MethodPost, base+"/complete", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "incomplete_upload", body["code"])
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, float64(1), body["receivedChunks"])
	assert.Equal(t, float64(2), body["totalChunks"])

	// the client resumes with the missing chunk
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, base+"/chunks/1", []byte("def"), nil).Code)
	w = env.do(t, http.MethodPost, base+"/complete", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCompleteBlobFailure(t *testing.T) {
	env := setupRouter(t)
	env.blobs.FailAfter = 2
	up := env.initUpload(t, "b.jpg", "image/jpeg", 4, 2)
	base := "/media/sessions/" + up.UploadID

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, base+"/chunks/0", []byte("ab"), nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, base+"/chunks/1", []byte("cd"), nil).Code)

	w := env.do(t, http.MethodPost, base+"/complete", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "assembly_failed", body["code"])
	assert.Equal(t, true, body["retryable"])

	w = env.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionErrors(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/media/sessions", []byte(`{"fileName":"x.jpg"`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["code"])

	w = env.do(t, http.MethodPost, "/media/sessions", []byte(`{"fileName":"x.jpg","mimeType":"image/jpeg","fileSize":10,"totalChunks":0}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/media/sessions/0123456789abcdef0123456789abcdef/chunks/0", []byte("x"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["retryable"])

	up := env.initUpload(t, "a.jpg", "image/jpeg", 6, 2)
	w = env.do(t, http.MethodPut, "/media/sessions/"+up.UploadID+"/chunks/two", []byte("x"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPut, "/media/sessions/"+up.UploadID+"/chunks/5", []byte("x"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.blobs.SetAvailable(false)
	body, _ := json.Marshal(types.InitRequest{FileName: "b.jpg", FileSize: 4, MimeType: "image/jpeg", TotalChunks: 1})
	w = env.do(t, http.MethodPost, "/media/sessions", body, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, decode(t, w)["retryable"])
}

func TestCancelIsIdempotent(t *testing.T) {
	env := setupRouter(t)
	up := env.initUpload(t, "a.jpg", "image/jpeg", 6, 2)
	path := "/media/sessions/" + up.UploadID

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, path, nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, path, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, path+"/chunks/0", []byte("abc"), nil).Code)
}

func TestInlineUploadAndCachedListing(t *testing.T) {
	env := setupRouter(t)
	list := "/media/contexts/event:e1"

	w := env.do(t, http.MethodGet, list, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Empty(t, decode(t, w)["data"])

	w = env.do(t, http.MethodGet, list, nil, nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	payload := []byte("tiny gif")
	body, _ := json.Marshal(types.InlineUploadRequest{
		FileName: "logo.gif", MimeType: "image/gif", EventID: "e1",
		Data: base64.StdEncoding.EncodeToString(payload),
	})
	w = env.do(t, http.MethodPost, "/media/inline", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	obj := decode(t, w)
	assert.Equal(t, "inline", obj["storageKind"])
	assert.NotContains(t, obj, "inlineData")
	name := obj["fileName"].(string)

	// the upload invalidated the listing
	w = env.do(t, http.MethodGet, list, nil, nil)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Len(t, decode(t, w)["data"], 1)

	w = env.do(t, http.MethodGet, "/media/files/"+name, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
}

func TestInlineUploadRejected(t *testing.T) {
	env := setupRouter(t)

	big, _ := json.Marshal(types.InlineUploadRequest{
		FileName: "big.png", MimeType: "image/png", EventID: "e1",
		Data: base64.StdEncoding.EncodeToString(make([]byte, 65)),
	})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/media/inline", big, nil).Code)

	bad, _ := json.Marshal(types.InlineUploadRequest{FileName: "x.png", MimeType: "image/png", EventID: "e1", Data: "***"})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/media/inline", bad, nil).Code)

	missing, _ := json.Marshal(types.InlineUploadRequest{FileName: "x.png", Data: "AAAA"})
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/media/inline", missing, nil).Code)
}

func TestDeleteMedia(t *testing.T) {
	env := setupRouter(t)
	up := env.initUpload(t, "a.jpg", "image/jpeg", 3, 1)
	base := "/media/sessions/" + up.UploadID
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, base+"/chunks/0", []byte("abc"), nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/complete", nil, nil).Code)

	// warm the byte cache
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/media/files/"+up.FileName, nil, nil).Code)
	require.Equal(t, 1, env.cache.Len())

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/media/files/"+up.FileName, nil, nil).Code)
	assert.Equal(t, 0, env.cache.Len())
	assert.Empty(t, env.blobs.Names())
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/media/files/"+up.FileName, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/media/files/"+up.FileName, nil, nil).Code)
}

func TestInvalidateEndpoint(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/media/invalidate", []byte(`{"kind":"rename","contextKey":"event:e1"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/media/invalidate", []byte(`{"kind":"reorder","contextKey":"event:e1"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestCacheStatsLocalOnly(t *testing.T) {
	env := setupRouter(t)
	require.NoError(t, env.cache.Set("a.jpg", []byte("abc"), "image/jpeg"))

	req := httptest.NewRequest(http.MethodGet, "/media/cache/stats?top=5", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/media/cache/stats?top=5", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	stats := body["stats"].(map[string]any)
	assert.Len(t, body["top"], 1)
	assert.NotEmpty(t, stats)
}

func TestReadyz(t *testing.T) {
	env := setupRouter(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", nil, nil).Code)

	env.blobs.SetAvailable(false)
	w := env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, false, decode(t, w)["blobStore"])
}
