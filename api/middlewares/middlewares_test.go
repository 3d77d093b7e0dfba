package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/moyoez/eventmedia/types"
)

func setupRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	router.Any("/x", handlers...)
	return router
}

func request(router *gin.Engine, method, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/x", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChunkRateLimitPerClient(t *testing.T) {
	router := setupRouter(ChunkRateLimit(types.RateLimitConfig{ChunksPerSecond: 0.001, Burst: 2}))

	assert.Equal(t, http.StatusOK, request(router, http.MethodPut, "10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, request(router, http.MethodPut, "10.0.0.1:1001").Code)
	w := request(router, http.MethodPut, "10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"retryable":true`)

	// another client has its own budget
	assert.Equal(t, http.StatusOK, request(router, http.MethodPut, "10.0.0.2:1000").Code)
}

func TestChunkRateLimitDisabled(t *testing.T) {
	router := setupRouter(ChunkRateLimit(types.RateLimitConfig{}))
	for range 50 {
		assert.Equal(t, http.StatusOK, request(router, http.MethodPut, "10.0.0.1:1000").Code)
	}
}

func TestOnlyAllowLocal(t *testing.T) {
	router := setupRouter(OnlyAllowLocal)
	assert.Equal(t, http.StatusOK, request(router, http.MethodGet, "127.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, request(router, http.MethodGet, "[::1]:5000").Code)
	assert.Equal(t, http.StatusForbidden, request(router, http.MethodGet, "192.168.1.20:5000").Code)
}

func TestAllowAllCORS(t *testing.T) {
	router := setupRouter(AllowAllCORS())
	w := request(router, http.MethodOptions, "192.168.1.20:5000")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = request(router, http.MethodGet, "192.168.1.20:5000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Range")
}
