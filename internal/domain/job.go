package domain

import "time"

// JobStatus represents the status of one refresh attempt for one entry.
// A job moves pending -> running -> exactly one of success, failed, or skipped.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// RefreshJob is an append-only audit row for one refresh attempt.
// Rows are created and finalized within a single worker execution and
// never mutated afterward.
type RefreshJob struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	EntryID      string     `gorm:"type:text;not null;index" json:"entry_id"`
	ItemID       string     `gorm:"type:text;not null" json:"item_id"`
	Marketplace  string     `gorm:"type:text;not null" json:"marketplace"`
	Status       JobStatus  `gorm:"type:text;index;default:pending" json:"status"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorCode    string     `gorm:"type:text" json:"error_code,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	BreakerState string     `gorm:"type:text" json:"breaker_state,omitempty"` // set on skipped jobs
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for RefreshJob.
func (RefreshJob) TableName() string {
	return "refresh_jobs"
}
