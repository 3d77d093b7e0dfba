package controllers

import (
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/eventmedia/session"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

type SessionController struct {
	manager *session.Manager
}

func NewSessionController(manager *session.Manager) *SessionController {
	return &SessionController{
		manager: manager,
	}
}

func abortWithMediaError(c *gin.Context, tag string, err error) {
	status, body := tool.FastReturnMediaError(err)
	if status >= http.StatusInternalServerError {
		tool.DefaultLogger.Errorf("[%s] %v", tag, err)
	} else {
		tool.DefaultLogger.Warnf("[%s] %v", tag, err)
	}
	c.AbortWithStatusJSON(status, body)
}

func (ctrl *SessionController) HandleInit(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		tool.DefaultLogger.Errorf("[InitUpload] Failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var request types.InitRequest
	if err := sonic.Unmarshal(body, &request); err != nil {
		abortWithMediaError(c, "InitUpload", types.ValidationError("invalid request body: %v", err))
		return
	}

	s, err := ctrl.manager.Init(c.Request.Context(), request)
	if err != nil {
		abortWithMediaError(c, "InitUpload", err)
		return
	}
	tool.DefaultLogger.Infof("[InitUpload] %s: %d chunks, %d bytes for %s", s.ID, s.DeclaredChunks, s.DeclaredSize, s.ContextKey)
	c.JSON(http.StatusCreated, types.InitResponse{
		UploadID:    s.ID,
		FileName:    s.FileName,
		TotalChunks: s.DeclaredChunks,
	})
}

func (ctrl *SessionController) HandleProgress(c *gin.Context) {
	progress, err := ctrl.manager.Progress(c.Request.Context(), c.Param("uploadId"))
	if err != nil {
		abortWithMediaError(c, "Progress", err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (ctrl *SessionController) HandlePutChunk(c *gin.Context) {
	id := c.Param("uploadId")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithMediaError(c, "PutChunk", types.ValidationError("chunk index %q is not a number", c.Param("index")))
		return
	}

	receipt, err := ctrl.manager.PutChunk(c.Request.Context(), id, index, c.Request.Body)
	if err != nil {
		abortWithMediaError(c, "PutChunk", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (ctrl *SessionController) HandleComplete(c *gin.Context) {
	id := c.Param("uploadId")
	obj, err := ctrl.manager.Complete(c.Request.Context(), id)
	if err != nil {
		abortWithMediaError(c, "Complete", err)
		return
	}
	tool.DefaultLogger.Infof("[Complete] %s stored as %s (%d bytes)", id, obj.FileName, obj.ByteSize)
	c.JSON(http.StatusOK, obj)
}

func (ctrl *SessionController) HandleCancel(c *gin.Context) {
	id := c.Param("uploadId")
	if err := ctrl.manager.Cancel(c.Request.Context(), id); err != nil {
		abortWithMediaError(c, "Cancel", err)
		return
	}
	tool.DefaultLogger.Infof("[Cancel] Cancelled upload session: %s", id)
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
