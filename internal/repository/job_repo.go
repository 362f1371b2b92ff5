package repository

import (
	"context"

	"github.com/timmy/restock/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles refresh job ledger operations. The ledger is
// append-only history: jobs are created and updated within one worker
// execution and never touched again.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.RefreshJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Update applies the given field changes to a job record.
func (r *JobRepository) Update(ctx context.Context, jobID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&domain.RefreshJob{}).Where("id = ?", jobID).Updates(fields).Error
}

// GetByID retrieves a job record by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.RefreshJob, error) {
	var job domain.RefreshJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves recent job records, newest first, optionally filtered by status.
func (r *JobRepository) List(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.RefreshJob, error) {
	var jobs []domain.RefreshJob
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.
		Limit(limit).
		Offset(offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByEntry retrieves the job history for one catalog entry, newest first.
func (r *JobRepository) ListByEntry(ctx context.Context, entryID string, limit int) ([]domain.RefreshJob, error) {
	var jobs []domain.RefreshJob
	if err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Limit(limit).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
