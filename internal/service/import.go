package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/logger"
	"gorm.io/gorm"
)

// ErrValidation marks malformed import input, rejected before any upstream call.
var ErrValidation = errors.New("validation failed")

// ErrItemNotFound means the upstream answered but does not know the item.
var ErrItemNotFound = errors.New("item not found upstream")

// ImportStore is the catalog persistence surface the import path needs.
type ImportStore interface {
	GetByItemID(ctx context.Context, itemID, marketplace string) (*domain.CatalogEntry, error)
	Upsert(ctx context.Context, entry *domain.CatalogEntry) error
}

// ImportService performs on-demand single-item ingestion. It shares the
// upstream client (and therefore the circuit breaker) with the refresh
// worker, but does not retry: a circuit-open rejection or transient failure
// is surfaced directly to the caller.
type ImportService struct {
	catalog ImportStore
	fetcher ItemFetcher
	logger  *logger.Logger
}

// NewImportService creates an import service.
func NewImportService(catalog ImportStore, fetcher ItemFetcher, log *logger.Logger) *ImportService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ImportService{catalog: catalog, fetcher: fetcher, logger: log}
}

// Import fetches one item and upserts it into the catalog. The boolean
// reports whether a new entry was created (as opposed to updating an
// existing one). Errors pass through classified: breaker.OpenError,
// upstream.Error, ErrValidation, or ErrItemNotFound.
func (s *ImportService) Import(ctx context.Context, itemID, marketplace string) (*domain.CatalogEntry, bool, error) {
	itemID = strings.TrimSpace(itemID)
	marketplace = strings.TrimSpace(marketplace)
	if itemID == "" {
		return nil, false, fmt.Errorf("%w: itemId is required", ErrValidation)
	}
	if marketplace == "" {
		return nil, false, fmt.Errorf("%w: marketplace is required", ErrValidation)
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldItemID:      itemID,
		logger.FieldMarketplace: marketplace,
	})

	batch, err := s.fetcher.FetchItems(ctx, []string{itemID}, marketplace, nil)
	if err != nil {
		return nil, false, err
	}

	item := batch.Find(itemID)
	if item == nil {
		if batchErr := batch.ErrorFor(); batchErr != nil {
			return nil, false, fmt.Errorf("%w: %s", ErrItemNotFound, batchErr.Message)
		}
		return nil, false, ErrItemNotFound
	}

	now := time.Now()
	existing, err := s.catalog.GetByItemID(ctx, itemID, marketplace)
	switch {
	case err == nil:
		applyItem(existing, item, now)
		if err := s.catalog.Upsert(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to update catalog entry: %w", err)
		}
		logger.CtxInfo(ctx, "Imported item into existing entry %s", existing.ID)
		return existing, false, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		entry := &domain.CatalogEntry{
			ID:          uuid.New().String(),
			ItemID:      itemID,
			Marketplace: marketplace,
			Status:      domain.EntryStatusActive,
		}
		applyItem(entry, item, now)
		if err := s.catalog.Upsert(ctx, entry); err != nil {
			return nil, false, fmt.Errorf("failed to create catalog entry: %w", err)
		}
		logger.CtxInfo(ctx, "Imported item as new entry %s", entry.ID)
		return entry, true, nil

	default:
		return nil, false, fmt.Errorf("failed to look up catalog entry: %w", err)
	}
}
