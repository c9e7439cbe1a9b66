package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orcherrors "github.com/kandev/agent-orchestrator/internal/orchestrator/errors"
)

// httpStatus maps an orchestrator error Kind to its HTTP status, per
// spec.md §7's propagation policy: NotFound->404, InvalidArgument->400,
// everything else->500.
func httpStatus(kind orcherrors.Kind) int {
	switch kind {
	case orcherrors.KindNotFound:
		return http.StatusNotFound
	case orcherrors.KindInvalidArg:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body with the status its Kind maps
// to; err need not be an *orcherrors.Error, in which case it is Internal.
func writeError(c *gin.Context, err error) {
	kind := orcherrors.KindOf(err)
	c.JSON(httpStatus(kind), gin.H{
		"error": gin.H{
			"code":    string(kind),
			"message": err.Error(),
		},
	})
}
