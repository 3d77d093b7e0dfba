package controllers

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/eventmedia/invalidate"
	"github.com/moyoez/eventmedia/tool"
	"github.com/moyoez/eventmedia/types"
)

type InvalidateController struct {
	coordinator *invalidate.Coordinator
}

func NewInvalidateController(coordinator *invalidate.Coordinator) *InvalidateController {
	return &InvalidateController{
		coordinator: coordinator,
	}
}

// HandleInvalidate receives mutation notices from the services that own
// ordering and publishing.
func (ctrl *InvalidateController) HandleInvalidate(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		tool.DefaultLogger.Errorf("[Invalidate] Failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var ev types.InvalidationEvent
	if err := sonic.Unmarshal(body, &ev); err != nil {
		abortWithMediaError(c, "Invalidate", types.ValidationError("invalid request body: %v", err))
		return
	}
	if err := ctrl.coordinator.Invalidate(c.Request.Context(), ev); err != nil {
		if _, ok := types.AsMediaError(err); !ok {
			err = types.StorageUnavailableError("invalidation incomplete", err)
		}
		abortWithMediaError(c, "Invalidate", err)
		return
	}
	tool.DefaultLogger.Infof("[Invalidate] %s for %s applied", ev.Kind, ev.ContextKey)
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
