package tool

import (
	"maps"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moyoez/eventmedia/types"
)

func FastReturnError(msg string) gin.H {
	return gin.H{
		"error": msg,
	}
}

func FastReturnSuccess() gin.H {
	return gin.H{
		"status": "ok",
	}
}

func FastReturnSuccessWithData(data any) gin.H {
	return gin.H{
		"data": data,
	}
}

func FastReturnErrorWithData(msg string, data map[string]any) gin.H {
	resp := gin.H{
		"error": msg,
	}
	maps.Copy(resp, data)
	return resp
}

// FastReturnMediaError maps err to a status and the structured error body
// ({error, code, retryable} plus chunk counts for incomplete uploads).
func FastReturnMediaError(err error) (int, gin.H) {
	me, ok := types.AsMediaError(err)
	if !ok {
		return http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"code":      "internal",
			"retryable": false,
		}
	}
	data := map[string]any{
		"code":      string(me.Kind),
		"retryable": me.Retryable,
	}
	if me.Kind == types.KindIncompleteUpload {
		data["receivedChunks"] = me.Received
		data["totalChunks"] = me.Total
	}
	return me.HTTPStatus(), FastReturnErrorWithData(me.Message, data)
}
