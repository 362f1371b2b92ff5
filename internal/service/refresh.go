package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/logger"
	"github.com/timmy/restock/internal/upstream"
)

// CatalogStore is the catalog persistence surface the worker needs.
type CatalogStore interface {
	SelectStale(ctx context.Context, window time.Duration, limit int) ([]domain.CatalogEntry, error)
	Update(ctx context.Context, entry *domain.CatalogEntry) error
}

// JobLedger is the append-only job history surface the worker needs.
type JobLedger interface {
	Create(ctx context.Context, job *domain.RefreshJob) error
	Update(ctx context.Context, jobID string, fields map[string]interface{}) error
}

// ItemFetcher performs upstream lookups through the shared circuit breaker.
type ItemFetcher interface {
	FetchItems(ctx context.Context, ids []string, marketplace string, resources []upstream.Resource) (*upstream.ItemBatch, error)
	Breaker() *breaker.CircuitBreaker
}

// RefreshConfig holds configuration for the refresh worker.
type RefreshConfig struct {
	BatchSize   int
	MaxRetries  int
	BackoffBase time.Duration
	StaleWindow time.Duration
}

// RunResult is the aggregate outcome of one worker execution.
type RunResult struct {
	Processed  int   `json:"processed"`
	Success    int   `json:"success"`
	Failure    int   `json:"failure"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"duration_ms"`
}

// RefreshWorker drives one bounded unit of catalog freshening per Run call:
// select a batch of stale entries, refresh each through a retry loop, and
// record every outcome in the job ledger. Safe to run repeatedly; re-running
// only produces more job records.
type RefreshWorker struct {
	catalog CatalogStore
	jobs    JobLedger
	fetcher ItemFetcher
	logger  *logger.Logger

	batchSize   int
	maxRetries  int
	backoffBase time.Duration
	staleWindow time.Duration
}

// NewRefreshWorker creates a refresh worker.
func NewRefreshWorker(catalog CatalogStore, jobs JobLedger, fetcher ItemFetcher, log *logger.Logger, cfg *RefreshConfig) *RefreshWorker {
	if log == nil {
		log = logger.GetDefault()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	staleWindow := cfg.StaleWindow
	if staleWindow <= 0 {
		staleWindow = 24 * time.Hour
	}
	return &RefreshWorker{
		catalog:     catalog,
		jobs:        jobs,
		fetcher:     fetcher,
		logger:      log,
		batchSize:   batchSize,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		staleWindow: staleWindow,
	}
}

// Run executes one refresh pass. Per-entry failures are absorbed into job
// records; Run itself only fails when the selection query does.
func (w *RefreshWorker) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	entries, err := w.catalog.SelectStale(ctx, w.staleWindow, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale entries: %w", err)
	}

	result := &RunResult{Processed: len(entries)}
	for i := range entries {
		w.processEntry(ctx, &entries[i], result)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	snap := w.fetcher.Breaker().State()
	logger.With(logger.Fields{
		"processed": result.Processed,
		"success":   result.Success,
		"failure":   result.Failure,
		"skipped":   result.Skipped,
	}).WithDuration(result.DurationMs).
		WithField(logger.FieldBreakerState, snap.StateName).
		Info(ctx, "Refresh run completed")

	return result, nil
}

// processEntry runs the per-entry state machine:
// pending -> running -> success | failed | skipped.
func (w *RefreshWorker) processEntry(ctx context.Context, entry *domain.CatalogEntry, result *RunResult) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldItemID:      entry.ItemID,
		logger.FieldMarketplace: entry.Marketplace,
	})

	job := &domain.RefreshJob{
		ID:          uuid.New().String(),
		EntryID:     entry.ID,
		ItemID:      entry.ItemID,
		Marketplace: entry.Marketplace,
		Status:      domain.JobStatusPending,
	}
	if err := w.jobs.Create(ctx, job); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to create job record")
		result.Failure++
		return
	}
	ctx = logger.SetJobID(ctx, job.ID)

	startedAt := time.Now()
	if err := w.jobs.Update(ctx, job.ID, map[string]interface{}{
		"status":     domain.JobStatusRunning,
		"started_at": startedAt,
	}); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to mark job running")
		result.Failure++
		return
	}

	// Advisory fast path: the breaker itself stays authoritative and will
	// reject the call if this check races with a state change.
	if snap := w.fetcher.Breaker().State(); snap.State == breaker.StateOpen {
		w.finishSkipped(ctx, job.ID, snap, result)
		return
	}

	batch, attempts, lastErr := w.fetchWithRetry(ctx, entry)
	retryCount := attempts - 1
	if retryCount < 0 {
		retryCount = 0
	}

	if lastErr != nil {
		var openErr *breaker.OpenError
		if errors.As(lastErr, &openErr) {
			w.finishSkipped(ctx, job.ID, w.fetcher.Breaker().State(), result)
			return
		}
		var upErr *upstream.Error
		if errors.As(lastErr, &upErr) && upErr.Kind == upstream.KindItemNotAccessible {
			w.finishUnavailable(ctx, entry, job.ID, retryCount, result)
			return
		}
		w.finishFailed(ctx, job.ID, retryCount, lastErr, result)
		return
	}

	if item := batch.Find(entry.ItemID); item != nil {
		w.finishSuccess(ctx, entry, item, job.ID, retryCount, result)
		return
	}

	// Upstream answered but the item is gone: an expected domain outcome,
	// not a failure.
	if batchErr := batch.ErrorFor(); batchErr != nil {
		logger.FromContext(ctx).WithFields(logger.Fields{
			"upstream_code": batchErr.UpstreamCode,
		}).Info("Item not accessible upstream")
	}
	w.finishUnavailable(ctx, entry, job.ID, retryCount, result)
}

// fetchWithRetry drives the bounded retry loop: attempt 0 is immediate, each
// later attempt waits backoffBase*2^(n-1). Non-retryable classifications and
// circuit-open rejections end the loop early.
func (w *RefreshWorker) fetchWithRetry(ctx context.Context, entry *domain.CatalogEntry) (*upstream.ItemBatch, int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			delay := w.backoffBase * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if lastErr == nil {
					lastErr = ctx.Err()
				}
				return nil, attempts, lastErr
			}
		}

		attempts++
		batch, err := w.fetcher.FetchItems(ctx, []string{entry.ItemID}, entry.Marketplace, nil)
		if err == nil {
			return batch, attempts, nil
		}
		lastErr = err

		var openErr *breaker.OpenError
		if errors.As(err, &openErr) {
			return nil, attempts, err
		}
		var upErr *upstream.Error
		if !errors.As(err, &upErr) || !upErr.Retryable() {
			return nil, attempts, err
		}

		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldAttempt: attempt,
		}).WithError(err).Warn("Upstream call failed, will retry")
	}

	return nil, attempts, lastErr
}

func (w *RefreshWorker) finishSuccess(ctx context.Context, entry *domain.CatalogEntry, item *upstream.Item, jobID string, retryCount int, result *RunResult) {
	applyItem(entry, item, time.Now())
	if err := w.catalog.Update(ctx, entry); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to write refreshed entry")
		w.finalizeJob(ctx, jobID, map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"retry_count":   retryCount,
			"error_code":    "STORE_ERROR",
			"error_message": err.Error(),
		})
		result.Failure++
		return
	}
	w.finalizeJob(ctx, jobID, map[string]interface{}{
		"status":      domain.JobStatusSuccess,
		"retry_count": retryCount,
	})
	result.Success++
}

func (w *RefreshWorker) finishUnavailable(ctx context.Context, entry *domain.CatalogEntry, jobID string, retryCount int, result *RunResult) {
	markUnavailable(entry, time.Now())
	if err := w.catalog.Update(ctx, entry); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to mark entry unavailable")
		w.finalizeJob(ctx, jobID, map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"retry_count":   retryCount,
			"error_code":    "STORE_ERROR",
			"error_message": err.Error(),
		})
		result.Failure++
		return
	}
	w.finalizeJob(ctx, jobID, map[string]interface{}{
		"status":      domain.JobStatusSuccess,
		"retry_count": retryCount,
	})
	result.Success++
}

func (w *RefreshWorker) finishFailed(ctx context.Context, jobID string, retryCount int, lastErr error, result *RunResult) {
	errorCode := "UNKNOWN"
	var upErr *upstream.Error
	if errors.As(lastErr, &upErr) {
		errorCode = string(upErr.Kind)
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		"error_code":  errorCode,
		"retry_count": retryCount,
	}).WithError(lastErr).Error("Refresh failed for entry")
	w.finalizeJob(ctx, jobID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"retry_count":   retryCount,
		"error_code":    errorCode,
		"error_message": lastErr.Error(),
	})
	result.Failure++
}

func (w *RefreshWorker) finishSkipped(ctx context.Context, jobID string, snap breaker.Snapshot, result *RunResult) {
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldBreakerState: snap.StateName,
	}).Info("Skipping entry, circuit breaker open")
	w.finalizeJob(ctx, jobID, map[string]interface{}{
		"status":        domain.JobStatusSkipped,
		"breaker_state": snap.StateName,
	})
	result.Skipped++
}

// finalizeJob stamps completed_at along with the terminal fields. A ledger
// write failure is logged and swallowed: bookkeeping must never abort the batch.
func (w *RefreshWorker) finalizeJob(ctx context.Context, jobID string, fields map[string]interface{}) {
	fields["completed_at"] = time.Now()
	if err := w.jobs.Update(ctx, jobID, fields); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to finalize job record")
	}
}
