package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/repository"
	"gorm.io/gorm"
)

// CatalogHandler handles catalog read endpoints.
type CatalogHandler struct {
	catalog *repository.CatalogRepository
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog *repository.CatalogRepository) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListProducts handles GET /api/v1/products.
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	status := domain.EntryStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.catalog.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list products", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": entries,
		"count":    len(entries),
		"limit":    limit,
		"offset":   offset,
	})
}

// GetProduct handles GET /api/v1/products/:id.
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.catalog.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load product", nil)
		return
	}

	c.JSON(http.StatusOK, entry)
}
