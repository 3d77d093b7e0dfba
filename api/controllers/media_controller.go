package controllers

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/mediaserver"
	"github.com/moyoez/eventmedia/metastore"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

type MediaController struct {
	media       *mediaserver.Server
	meta        metastore.Store
	coordinator *invalidate.Coordinator
	responses   invalidate.ResponseCache
	inlineMax   int64
}

func NewMediaController(media *mediaserver.Server, meta metastore.Store, coordinator *invalidate.Coordinator, responses invalidate.ResponseCache, inlineMax int64) *MediaController {
	return &MediaController{
		media:       media,
		meta:        meta,
		coordinator: coordinator,
		responses:   responses,
		inlineMax:   inlineMax,
	}
}

// HandleServe answers GET and HEAD for a stored file.
func (ctrl *MediaController) HandleServe(c *gin.Context) {
	resp, err := ctrl.media.Serve(c.Request.Context(), mediaserver.Request{
		FileName:    c.Param("fileName"),
		Method:      c.Request.Method,
		Range:       c.GetHeader("Range"),
		IfNoneMatch: c.GetHeader("If-None-Match"),
	})
	if err != nil {
		abortWithMediaError(c, "Serve", err)
		return
	}

	h := c.Writer.Header()
	for k, vs := range resp.Header {
		h[k] = vs
	}
	c.Status(resp.Status)
	if resp.Body == nil {
		c.Writer.WriteHeaderNow()
		return
	}
	defer resp.Body.Close()
	if _, err := tool.CopyWithContext(c.Request.Context(), c.Writer, resp.Body); err != nil {
		// headers are already out, the client sees a short body
		tool.DefaultLogger.Debugf("[Serve] %s aborted: %v", c.Param("fileName"), err)
	}
}

func (ctrl *MediaController) HandleDelete(c *gin.Context) {
	fileName := c.Param("fileName")
	if err := ctrl.coordinator.DeleteMedia(c.Request.Context(), fileName); err != nil {
		abortWithMediaError(c, "DeleteMedia", err)
		return
	}
	tool.DefaultLogger.Infof("[DeleteMedia] Deleted %s", fileName)
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}

// HandleInlineUpload stores a small payload directly in its descriptor.
func (ctrl *MediaController) HandleInlineUpload(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		tool.DefaultLogger.Errorf("[InlineUpload] Failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var request types.InlineUploadRequest
	if err := sonic.Unmarshal(body, &request); err != nil {
		abortWithMediaError(c, "InlineUpload", types.ValidationError("invalid request body: %v", err))
		return
	}
	if request.EventID == "" || strings.TrimSpace(request.MimeType) == "" || request.Data == "" {
		abortWithMediaError(c, "InlineUpload", types.ValidationError("eventId, mimeType and data are required"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(request.Data)
	if err != nil {
		abortWithMediaError(c, "InlineUpload", types.ValidationError("data is not valid base64"))
		return
	}
	if ctrl.inlineMax > 0 && int64(len(data)) > ctrl.inlineMax {
		abortWithMediaError(c, "InlineUpload", types.ValidationError("inline payload of %d bytes exceeds %d, use an upload session", len(data), ctrl.inlineMax))
		return
	}

	obj := &types.MediaObject{
		FileName:     tool.GenerateStorageName(request.FileName, request.MimeType),
		StorageKind:  types.StorageInline,
		InlineData:   request.Data,
		ByteSize:     int64(len(data)),
		MimeType:     request.MimeType,
		ContextKey:   types.ContextKeyFor(request.EventID, request.GalleryID),
		OriginalName: request.FileName,
		CreatedAt:    time.Now().UTC(),
	}
	ctx := c.Request.Context()
	if err := ctrl.meta.Put(ctx, obj); err != nil {
		abortWithMediaError(c, "InlineUpload", err)
		return
	}
	if err := ctrl.coordinator.OnMediaMutated(ctx, obj.FileName, obj.ContextKey); err != nil {
		tool.DefaultLogger.Errorf("[InlineUpload] invalidation after %s: %v", obj.FileName, err)
	}
	tool.DefaultLogger.Infof("[InlineUpload] Stored %s inline (%d bytes) for %s", obj.FileName, obj.ByteSize, obj.ContextKey)
	c.JSON(http.StatusCreated, obj)
}

// HandleListContext lists a context's media, served from the response cache when warm.
func (ctrl *MediaController) HandleListContext(c *gin.Context) {
	contextKey := c.Param("contextKey")
	key := invalidate.ListKey(contextKey)
	ctx := c.Request.Context()

	if ctrl.responses != nil {
		cached, ok, err := ctrl.responses.Get(ctx, key)
		if err != nil {
			tool.DefaultLogger.Warnf("[ListMedia] response cache read for %s failed: %v", key, err)
		} else if ok {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			return
		}
	}

	items, err := ctrl.meta.ListByContext(ctx, contextKey)
	if err != nil {
		abortWithMediaError(c, "ListMedia", err)
		return
	}
	if items == nil {
		items = []types.MediaObject{}
	}
	payload, err := sonic.Marshal(tool.FastReturnSuccessWithData(items))
	if err != nil {
		abortWithMediaError(c, "ListMedia", err)
		return
	}
	if ctrl.responses != nil {
		if err := ctrl.responses.Set(ctx, key, payload); err != nil {
			tool.DefaultLogger.Warnf("[ListMedia] response cache write for %s failed: %v", key, err)
		}
	}
	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}
