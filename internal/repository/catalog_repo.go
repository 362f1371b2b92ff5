package repository

import (
	"context"
	"time"

	"github.com/timmy/restock/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository handles catalog entry data operations.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new CatalogRepository bound to db.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Upsert creates or updates a catalog entry keyed by (item_id, marketplace).
func (r *CatalogRepository) Upsert(ctx context.Context, entry *domain.CatalogEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "marketplace"}},
		UpdateAll: true,
	}).Create(entry).Error
}

// Update saves an existing catalog entry.
func (r *CatalogRepository) Update(ctx context.Context, entry *domain.CatalogEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

// GetByID retrieves a catalog entry by its ID.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*domain.CatalogEntry, error) {
	var entry domain.CatalogEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByItemID retrieves a catalog entry by item ID and marketplace.
func (r *CatalogRepository) GetByItemID(ctx context.Context, itemID, marketplace string) (*domain.CatalogEntry, error) {
	var entry domain.CatalogEntry
	if err := r.db.WithContext(ctx).First(&entry, "item_id = ? AND marketplace = ?", itemID, marketplace).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// SelectStale returns up to limit entries due for a refresh: status active or
// draft and last_refresh_at either never set or older than the stale window.
// Never-refreshed entries sort first, then oldest first, so a fixed batch size
// sweeps the whole catalog over repeated invocations.
func (r *CatalogRepository) SelectStale(ctx context.Context, window time.Duration, limit int) ([]domain.CatalogEntry, error) {
	cutoff := time.Now().Add(-window)
	var entries []domain.CatalogEntry
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.EntryStatus{domain.EntryStatusActive, domain.EntryStatusDraft}).
		Where("last_refresh_at IS NULL OR last_refresh_at < ?", cutoff).
		// portable nulls-first ordering (SQLite and PostgreSQL disagree on the default)
		Order("CASE WHEN last_refresh_at IS NULL THEN 0 ELSE 1 END, last_refresh_at ASC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByStatus retrieves catalog entries by status with pagination.
// An empty status returns entries of any status.
func (r *CatalogRepository) ListByStatus(ctx context.Context, status domain.EntryStatus, limit, offset int) ([]domain.CatalogEntry, error) {
	var entries []domain.CatalogEntry
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.
		Limit(limit).
		Offset(offset).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByStatus counts catalog entries by status.
func (r *CatalogRepository) CountByStatus(ctx context.Context, status domain.EntryStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CatalogEntry{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
