package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/repository"
)

// StatusHandler reports operational state: the circuit breaker snapshot and
// catalog counts per lifecycle status.
type StatusHandler struct {
	breaker *breaker.CircuitBreaker
	catalog *repository.CatalogRepository
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(cb *breaker.CircuitBreaker, catalog *repository.CatalogRepository) *StatusHandler {
	return &StatusHandler{breaker: cb, catalog: catalog}
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(c *gin.Context) {
	counts := gin.H{}
	for _, status := range []domain.EntryStatus{
		domain.EntryStatusDraft,
		domain.EntryStatusActive,
		domain.EntryStatusUnavailable,
	} {
		count, err := h.catalog.CountByStatus(c.Request.Context(), status)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count catalog entries", nil)
			return
		}
		counts[string(status)] = count
	}

	c.JSON(http.StatusOK, gin.H{
		"circuit_breaker": h.breaker.State(),
		"catalog":         counts,
	})
}
