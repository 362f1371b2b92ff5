package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/api/middleware"
	"github.com/timmy/restock/internal/service"
)

// RefreshHandler exposes the refresh worker as an HTTP trigger, for cron
// schedulers that invoke workers over HTTP.
type RefreshHandler struct {
	worker *service.RefreshWorker
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(worker *service.RefreshWorker) *RefreshHandler {
	return &RefreshHandler{worker: worker}
}

// Run handles POST /refresh-worker. One call runs one bounded batch; the
// response carries the per-outcome counts. Entry-level failures are already
// folded into those counts, so only a selection failure yields a 500.
func (h *RefreshHandler) Run(c *gin.Context) {
	result, err := h.worker.Run(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Refresh run failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "refresh run failed",
			},
			"correlation_id": middleware.RequestID(c),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"metrics":        result,
		"message":        "refresh run completed",
		"correlation_id": middleware.RequestID(c),
	})
}
