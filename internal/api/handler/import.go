package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/api/middleware"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/service"
	"github.com/timmy/restock/internal/upstream"
)

// ImportHandler handles on-demand item imports.
type ImportHandler struct {
	importer *service.ImportService
}

// NewImportHandler creates a new import handler.
func NewImportHandler(importer *service.ImportService) *ImportHandler {
	return &ImportHandler{importer: importer}
}

type importRequest struct {
	ItemID      string `json:"itemId" binding:"required"`
	Marketplace string `json:"marketplace" binding:"required"`
}

// Import handles POST /import-product. Created entries answer 201, refreshed
// existing ones 200. Throttling and an open circuit map to 429 and 503, both
// with a Retry-After header so callers can back off without guessing.
func (h *ImportHandler) Import(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "itemId and marketplace are required", nil)
		return
	}

	entry, created, err := h.importer.Import(c.Request.Context(), req.ItemID, req.Marketplace)
	if err != nil {
		h.writeImportError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"entryId":        entry.ID,
		"itemId":         entry.ItemID,
		"title":          entry.Title,
		"status":         entry.Status,
		"importedAt":     entry.LastRefreshAt,
		"correlation_id": middleware.RequestID(c),
	})
}

func (h *ImportHandler) writeImportError(c *gin.Context, err error) {
	var openErr *breaker.OpenError
	if errors.As(err, &openErr) {
		retryAfter := retryAfterSeconds(openErr.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		writeError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"upstream item service is temporarily unavailable", gin.H{
				"circuitBreakerOpen": true,
				"retryAfterSeconds":  retryAfter,
			})
		return
	}

	if errors.Is(err, service.ErrValidation) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if errors.Is(err, service.ErrItemNotFound) {
		writeError(c, http.StatusBadRequest, "ITEM_NOT_FOUND", err.Error(), nil)
		return
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		switch upErr.Kind {
		case upstream.KindThrottled:
			c.Header("Retry-After", "1")
			writeError(c, http.StatusTooManyRequests, "THROTTLED",
				"upstream rate limit exceeded, retry later", nil)
		case upstream.KindInvalidParameter:
			writeError(c, http.StatusBadRequest, "INVALID_PARAMETER", upErr.Message, nil)
		case upstream.KindItemNotAccessible:
			writeError(c, http.StatusBadRequest, "ITEM_NOT_FOUND", upErr.Message, nil)
		default:
			middleware.GetLogger(c).WithError(err).Error("Import failed")
			writeError(c, http.StatusBadGateway, "UPSTREAM_ERROR",
				"upstream item service request failed", nil)
		}
		return
	}

	middleware.GetLogger(c).WithError(err).Error("Import failed")
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "import failed", nil)
}

func writeError(c *gin.Context, status int, code, message string, details gin.H) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{
		"error":          body,
		"correlation_id": middleware.RequestID(c),
	})
}

// retryAfterSeconds rounds a cooldown up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
