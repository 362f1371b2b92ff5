package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/upstream"
)

type fakeCatalog struct {
	mu        sync.Mutex
	stale     []domain.CatalogEntry
	selectErr error
	updateErr error
	updated   map[string]domain.CatalogEntry
}

func (f *fakeCatalog) SelectStale(ctx context.Context, window time.Duration, limit int) ([]domain.CatalogEntry, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	if limit > len(f.stale) {
		limit = len(f.stale)
	}
	out := make([]domain.CatalogEntry, limit)
	copy(out, f.stale[:limit])
	return out, nil
}

func (f *fakeCatalog) Update(ctx context.Context, entry *domain.CatalogEntry) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = make(map[string]domain.CatalogEntry)
	}
	f.updated[entry.ID] = *entry
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	createErr error
	jobs      map[string]map[string]interface{}
	order     []string
}

func (f *fakeLedger) Create(ctx context.Context, job *domain.RefreshJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = make(map[string]map[string]interface{})
	}
	f.jobs[job.ID] = map[string]interface{}{
		"status":  job.Status,
		"item_id": job.ItemID,
	}
	f.order = append(f.order, job.ID)
	return nil
}

func (f *fakeLedger) Update(ctx context.Context, jobID string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	for k, v := range fields {
		job[k] = v
	}
	return nil
}

// jobFor returns the merged job record for the given item id.
func (f *fakeLedger) jobFor(t *testing.T, itemID string) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if f.jobs[id]["item_id"] == itemID {
			return f.jobs[id]
		}
	}
	t.Fatalf("no job recorded for item %s", itemID)
	return nil
}

// fakeFetcher routes every call through a real breaker so state transitions
// behave exactly as in production.
type fakeFetcher struct {
	cb     *breaker.CircuitBreaker
	script func(itemID string, call int) (*upstream.ItemBatch, error)

	mu        sync.Mutex
	calls     map[string]int
	callTimes []time.Time
}

func newFakeFetcher(threshold int, script func(itemID string, call int) (*upstream.ItemBatch, error)) *fakeFetcher {
	return &fakeFetcher{
		cb: breaker.New(breaker.Config{
			Name:             "test-upstream",
			FailureThreshold: threshold,
			CooldownTimeout:  time.Minute,
		}, nil),
		script: script,
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) FetchItems(ctx context.Context, ids []string, marketplace string, resources []upstream.Resource) (*upstream.ItemBatch, error) {
	itemID := ids[0]
	f.mu.Lock()
	call := f.calls[itemID]
	f.calls[itemID]++
	f.callTimes = append(f.callTimes, time.Now())
	f.mu.Unlock()

	var batch *upstream.ItemBatch
	err := f.cb.Execute(ctx, func(ctx context.Context) error {
		b, err := f.script(itemID, call)
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (f *fakeFetcher) Breaker() *breaker.CircuitBreaker { return f.cb }

func (f *fakeFetcher) callCount(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[itemID]
}

func itemBatch(itemID string, price float64) *upstream.ItemBatch {
	return &upstream.ItemBatch{
		Items: []upstream.Item{{
			ItemID: itemID,
			Title:  strPtr("Item " + itemID),
			Price:  f64(price),
		}},
	}
}

func staleEntry(id, itemID string) domain.CatalogEntry {
	return domain.CatalogEntry{
		ID:          id,
		ItemID:      itemID,
		Marketplace: "www.example.com",
		Status:      domain.EntryStatusActive,
	}
}

func fastConfig() *RefreshConfig {
	return &RefreshConfig{
		BatchSize:   10,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		StaleWindow: 24 * time.Hour,
	}
}

func TestRunRefreshesStaleEntry(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(5, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return itemBatch(itemID, 19.99), nil
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Processed != 1 || result.Success != 1 || result.Failure != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 1 processed, 1 success", result)
	}

	updated, ok := catalog.updated["e1"]
	if !ok {
		t.Fatal("entry not written back")
	}
	if updated.Price == nil || *updated.Price != 19.99 {
		t.Errorf("price = %v, want 19.99", updated.Price)
	}
	if updated.LastRefreshAt == nil {
		t.Error("last_refresh_at not stamped")
	}
	if updated.Status != domain.EntryStatusActive {
		t.Errorf("status = %s, want active", updated.Status)
	}

	job := ledger.jobFor(t, "B001")
	if job["status"] != domain.JobStatusSuccess {
		t.Errorf("job status = %v, want success", job["status"])
	}
	if job["retry_count"] != 0 {
		t.Errorf("retry_count = %v, want 0", job["retry_count"])
	}
	if _, ok := job["completed_at"]; !ok {
		t.Error("completed_at not stamped")
	}
}

func TestRunMarksMissingItemUnavailable(t *testing.T) {
	prior := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entry := staleEntry("e1", "B001")
	entry.LastRefreshAt = &prior

	catalog := &fakeCatalog{stale: []domain.CatalogEntry{entry}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(5, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return &upstream.ItemBatch{
			Errors: []upstream.APIError{{Code: "ItemsNotFound", Message: "B001 is not accessible"}},
		}, nil
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// An unavailable item is an expected outcome, so the job succeeds.
	if result.Success != 1 || result.Failure != 0 {
		t.Fatalf("result = %+v, want 1 success", result)
	}

	updated := catalog.updated["e1"]
	if updated.Status != domain.EntryStatusUnavailable {
		t.Errorf("status = %s, want unavailable", updated.Status)
	}
	if updated.LastAvailableAt == nil || !updated.LastAvailableAt.Equal(prior) {
		t.Errorf("last_available_at = %v, want %v", updated.LastAvailableAt, prior)
	}
	if fetcher.callCount("B001") != 1 {
		t.Errorf("calls = %d, want 1 (no retries for a definitive answer)", fetcher.callCount("B001"))
	}
	if ledger.jobFor(t, "B001")["status"] != domain.JobStatusSuccess {
		t.Error("job should record success for the unavailable outcome")
	}
}

func TestRunExhaustsRetriesOnTransientFailure(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(10, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return nil, &upstream.Error{Kind: upstream.KindNetworkError, Message: "connection reset"}
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failure != 1 {
		t.Fatalf("result = %+v, want 1 failure", result)
	}
	if got := fetcher.callCount("B001"); got != 4 {
		t.Errorf("calls = %d, want 4 (1 initial + 3 retries)", got)
	}

	job := ledger.jobFor(t, "B001")
	if job["status"] != domain.JobStatusFailed {
		t.Errorf("job status = %v, want failed", job["status"])
	}
	if job["retry_count"] != 3 {
		t.Errorf("retry_count = %v, want 3", job["retry_count"])
	}
	if job["error_code"] != "NETWORK_ERROR" {
		t.Errorf("error_code = %v, want NETWORK_ERROR", job["error_code"])
	}
}

func TestRunStopsRetryingOnNonRetryableError(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(10, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return nil, &upstream.Error{Kind: upstream.KindInvalidParameter, Message: "bad resource"}
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failure != 1 {
		t.Fatalf("result = %+v, want 1 failure", result)
	}
	if got := fetcher.callCount("B001"); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if ledger.jobFor(t, "B001")["error_code"] != "INVALID_PARAMETER" {
		t.Errorf("error_code = %v, want INVALID_PARAMETER", ledger.jobFor(t, "B001")["error_code"])
	}
}

func TestRunSkipsRemainingEntriesOnceBreakerOpens(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{
		staleEntry("e1", "B001"),
		staleEntry("e2", "B002"),
		staleEntry("e3", "B003"),
	}}
	ledger := &fakeLedger{}
	// Threshold 4: the four attempts against B002 trip the breaker, so
	// B003 never reaches the upstream.
	fetcher := newFakeFetcher(4, func(itemID string, call int) (*upstream.ItemBatch, error) {
		if itemID == "B002" {
			return nil, &upstream.Error{Kind: upstream.KindTimeout, Message: "deadline exceeded"}
		}
		return itemBatch(itemID, 9.99), nil
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Processed != 3 || result.Success != 1 || result.Failure != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want {3,1,1,1}", result)
	}

	if got := fetcher.callCount("B003"); got != 0 {
		t.Errorf("B003 calls = %d, want 0", got)
	}
	if job := ledger.jobFor(t, "B002"); job["retry_count"] != 3 {
		t.Errorf("B002 retry_count = %v, want 3", job["retry_count"])
	}
	job := ledger.jobFor(t, "B003")
	if job["status"] != domain.JobStatusSkipped {
		t.Errorf("B003 job status = %v, want skipped", job["status"])
	}
	if job["breaker_state"] != "open" {
		t.Errorf("B003 breaker_state = %v, want open", job["breaker_state"])
	}

	snap := fetcher.Breaker().State()
	if snap.State != breaker.StateOpen {
		t.Errorf("breaker state = %s, want open", snap.StateName)
	}
	if snap.Metrics.TotalFailures != 4 {
		t.Errorf("total failures = %d, want 4", snap.Metrics.TotalFailures)
	}
}

func TestRunBackoffDelaysDoubles(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(10, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return nil, &upstream.Error{Kind: upstream.KindThrottled, Message: "slow down"}
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, &RefreshConfig{
		BatchSize:   1,
		MaxRetries:  3,
		BackoffBase: 20 * time.Millisecond,
		StaleWindow: time.Hour,
	})

	if _, err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	times := fetcher.callTimes
	if len(times) != 4 {
		t.Fatalf("attempts = %d, want 4", len(times))
	}
	wantGaps := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond}
	for i, want := range wantGaps {
		gap := times[i+1].Sub(times[i])
		if gap < want || gap > want+150*time.Millisecond {
			t.Errorf("gap %d = %s, want >= %s", i+1, gap, want)
		}
	}
}

func TestRunCancelledContextStopsBackoff(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{}
	fetcher := newFakeFetcher(10, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return nil, &upstream.Error{Kind: upstream.KindNetworkError, Message: "connection reset"}
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, &RefreshConfig{
		BatchSize:   1,
		MaxRetries:  3,
		BackoffBase: 10 * time.Second,
		StaleWindow: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if got := fetcher.callCount("B001"); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRunFailsWhenSelectionFails(t *testing.T) {
	catalog := &fakeCatalog{selectErr: errors.New("db down")}
	fetcher := newFakeFetcher(5, nil)
	worker := NewRefreshWorker(catalog, &fakeLedger{}, fetcher, nil, fastConfig())

	if _, err := worker.Run(context.Background()); err == nil {
		t.Fatal("expected error when stale selection fails")
	}
}

func TestRunAbsorbsLedgerCreateFailure(t *testing.T) {
	catalog := &fakeCatalog{stale: []domain.CatalogEntry{staleEntry("e1", "B001")}}
	ledger := &fakeLedger{createErr: errors.New("ledger down")}
	fetcher := newFakeFetcher(5, func(itemID string, call int) (*upstream.ItemBatch, error) {
		return itemBatch(itemID, 5.00), nil
	})
	worker := NewRefreshWorker(catalog, ledger, fetcher, nil, fastConfig())

	result, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failure != 1 {
		t.Errorf("result = %+v, want bookkeeping failure counted", result)
	}
}
