package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/timmy/restock/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.CatalogEntry{}, &domain.RefreshJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM refresh_jobs")
		db.Exec("DELETE FROM catalog_entries")
	})
	return db
}

func seedEntry(t *testing.T, repo *CatalogRepository, id, itemID string, status domain.EntryStatus, lastRefresh *time.Time) {
	t.Helper()
	err := repo.Upsert(context.Background(), &domain.CatalogEntry{
		ID:            id,
		ItemID:        itemID,
		Marketplace:   "www.example.com",
		Title:         "Item " + itemID,
		Status:        status,
		LastRefreshAt: lastRefresh,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func hoursAgo(h int) *time.Time {
	ts := time.Now().Add(-time.Duration(h) * time.Hour)
	return &ts
}

func TestSelectStaleOrdersNeverRefreshedFirst(t *testing.T) {
	repo := NewCatalogRepository(newTestDB(t))

	seedEntry(t, repo, "e-old", "B001", domain.EntryStatusActive, hoursAgo(72))
	seedEntry(t, repo, "e-older", "B002", domain.EntryStatusActive, hoursAgo(96))
	seedEntry(t, repo, "e-never", "B003", domain.EntryStatusDraft, nil)
	seedEntry(t, repo, "e-fresh", "B004", domain.EntryStatusActive, hoursAgo(1))

	entries, err := repo.SelectStale(context.Background(), 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("SelectStale: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (fresh entry excluded)", len(entries))
	}

	wantOrder := []string{"e-never", "e-older", "e-old"}
	for i, want := range wantOrder {
		if entries[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, entries[i].ID, want)
		}
	}
}

func TestSelectStaleRespectsLimitAndStatus(t *testing.T) {
	repo := NewCatalogRepository(newTestDB(t))

	for i := 0; i < 5; i++ {
		seedEntry(t, repo, fmt.Sprintf("e%d", i), fmt.Sprintf("B%03d", i), domain.EntryStatusActive, hoursAgo(48+i))
	}
	seedEntry(t, repo, "e-gone", "B900", domain.EntryStatusUnavailable, hoursAgo(200))

	entries, err := repo.SelectStale(context.Background(), 24*time.Hour, 3)
	if err != nil {
		t.Fatalf("SelectStale: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want limit of 3", len(entries))
	}
	for _, e := range entries {
		if e.Status == domain.EntryStatusUnavailable {
			t.Errorf("unavailable entry %s selected for refresh", e.ID)
		}
	}
	// Oldest of the active set comes back first.
	if entries[0].ID != "e4" {
		t.Errorf("first = %s, want e4", entries[0].ID)
	}
}

func TestUpsertKeyedByItemAndMarketplace(t *testing.T) {
	repo := NewCatalogRepository(newTestDB(t))
	ctx := context.Background()

	entry := &domain.CatalogEntry{
		ID:          "e1",
		ItemID:      "B001",
		Marketplace: "www.example.com",
		Title:       "First title",
		Status:      domain.EntryStatusActive,
	}
	if err := repo.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	again := &domain.CatalogEntry{
		ID:          "e1",
		ItemID:      "B001",
		Marketplace: "www.example.com",
		Title:       "Updated title",
		Status:      domain.EntryStatusActive,
	}
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := repo.GetByItemID(ctx, "B001", "www.example.com")
	if err != nil {
		t.Fatalf("GetByItemID: %v", err)
	}
	if got.Title != "Updated title" {
		t.Errorf("title = %q, want updated", got.Title)
	}

	var count int64
	repo.db.Model(&domain.CatalogEntry{}).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestGetByItemIDNotFound(t *testing.T) {
	repo := NewCatalogRepository(newTestDB(t))
	_, err := repo.GetByItemID(context.Background(), "B999", "www.example.com")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("err = %v, want gorm.ErrRecordNotFound", err)
	}
}

func TestJobUpdateAndHistory(t *testing.T) {
	db := newTestDB(t)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	job := &domain.RefreshJob{
		ID:          "j1",
		EntryID:     "e1",
		ItemID:      "B001",
		Marketplace: "www.example.com",
		Status:      domain.JobStatusPending,
	}
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	completed := time.Now()
	err := jobs.Update(ctx, "j1", map[string]interface{}{
		"status":       domain.JobStatusFailed,
		"retry_count":  3,
		"error_code":   "NETWORK_ERROR",
		"completed_at": completed,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := jobs.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.RetryCount != 3 || got.ErrorCode != "NETWORK_ERROR" {
		t.Errorf("job = %+v, want failed with 3 retries", got)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}

	history, err := jobs.ListByEntry(ctx, "e1", 10)
	if err != nil {
		t.Fatalf("ListByEntry: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}
