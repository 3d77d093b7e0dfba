package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/eventmedia/blobstore"
	"github.com/moyoez/eventmedia/bytecache"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
)

const (
	defaultTopEntries = 10
	readyTimeout      = 2 * time.Second
)

type StatusController struct {
	cache *bytecache.Cache
	blobs blobstore.Store
	meta  metastore.Store
}

func NewStatusController(cache *bytecache.Cache, blobs blobstore.Store, meta metastore.Store) *StatusController {
	return &StatusController{
		cache: cache,
		blobs: blobs,
		meta:  meta,
	}
}

func (ctrl *StatusController) HandleCacheStats(c *gin.Context) {
	top := defaultTopEntries
	if v := c.Query("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, tool.FastReturnError("top must be a non-negative number"))
			return
		}
		top = n
	}
	c.JSON(http.StatusOK, gin.H{
		"stats": ctrl.cache.Stats(),
		"top":   ctrl.cache.TopEntries(top),
	})
}

func (ctrl *StatusController) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}

// HandleReadyz reports whether both backing stores answer.
func (ctrl *StatusController) HandleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	blobsOK := ctrl.blobs.IsAvailable(ctx)
	metaOK := ctrl.meta.Ping(ctx) == nil
	body := gin.H{"blobStore": blobsOK, "metaStore": metaOK}
	if !blobsOK || !metaOK {
		tool.DefaultLogger.Warnf("[Ready] not ready: blobStore=%t metaStore=%t", blobsOK, metaOK)
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
