package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/service"
	"github.com/timmy/restock/internal/upstream"
	"gorm.io/gorm"
)

type memStore struct {
	entries map[string]*domain.CatalogEntry
}

func (s *memStore) GetByItemID(ctx context.Context, itemID, marketplace string) (*domain.CatalogEntry, error) {
	if e, ok := s.entries[itemID+"|"+marketplace]; ok {
		clone := *e
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memStore) Upsert(ctx context.Context, entry *domain.CatalogEntry) error {
	s.entries[entry.ItemID+"|"+entry.Marketplace] = entry
	return nil
}

type stubFetcher struct {
	cb  *breaker.CircuitBreaker
	err error
}

func (f *stubFetcher) FetchItems(ctx context.Context, ids []string, marketplace string, resources []upstream.Resource) (*upstream.ItemBatch, error) {
	var batch *upstream.ItemBatch
	execErr := f.cb.Execute(ctx, func(ctx context.Context) error {
		if f.err != nil {
			return f.err
		}
		title := "Item " + ids[0]
		batch = &upstream.ItemBatch{Items: []upstream.Item{{ItemID: ids[0], Title: &title}}}
		return nil
	})
	if execErr != nil {
		return nil, execErr
	}
	return batch, nil
}

func (f *stubFetcher) Breaker() *breaker.CircuitBreaker { return f.cb }

func newImportRouter(fetcher *stubFetcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := &memStore{entries: make(map[string]*domain.CatalogEntry)}
	importer := service.NewImportService(store, fetcher, nil)

	r := gin.New()
	r.POST("/import-product", NewImportHandler(importer).Import)
	return r
}

func postImport(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/import-product", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newStubFetcher(err error) *stubFetcher {
	return &stubFetcher{
		cb: breaker.New(breaker.Config{
			Name:             "test-upstream",
			FailureThreshold: 1,
			CooldownTimeout:  30 * time.Second,
		}, nil),
		err: err,
	}
}

func TestImportEndpointCreates(t *testing.T) {
	r := newImportRouter(newStubFetcher(nil))

	w := postImport(t, r, `{"itemId": "B001", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["itemId"] != "B001" {
		t.Errorf("itemId = %v, want B001", resp["itemId"])
	}
	if resp["entryId"] == "" || resp["entryId"] == nil {
		t.Error("entryId missing")
	}

	// Same item again refreshes in place.
	w = postImport(t, r, `{"itemId": "B001", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second import status = %d, want 200", w.Code)
	}
}

func TestImportEndpointValidatesBody(t *testing.T) {
	r := newImportRouter(newStubFetcher(nil))

	for _, body := range []string{`{}`, `{"itemId": "B001"}`, `not json`} {
		w := postImport(t, r, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestImportEndpointAnswers503WhenBreakerOpen(t *testing.T) {
	fetcher := newStubFetcher(&upstream.Error{Kind: upstream.KindNetworkError, Message: "connection reset"})
	r := newImportRouter(fetcher)

	// Trip the breaker (threshold 1).
	w := postImport(t, r, `{"itemId": "B001", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("first call status = %d, want 502", w.Code)
	}

	w = postImport(t, r, `{"itemId": "B001", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				CircuitBreakerOpen bool `json:"circuitBreakerOpen"`
				RetryAfterSeconds  int  `json:"retryAfterSeconds"`
			} `json:"details"`
		} `json:"error"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("error code = %s, want SERVICE_UNAVAILABLE", resp.Error.Code)
	}
	if !resp.Error.Details.CircuitBreakerOpen {
		t.Error("circuitBreakerOpen not set")
	}
	if resp.Error.Details.RetryAfterSeconds < 1 || resp.Error.Details.RetryAfterSeconds > 30 {
		t.Errorf("retryAfterSeconds = %d, want within cooldown", resp.Error.Details.RetryAfterSeconds)
	}
}

func TestImportEndpointAnswers400WhenItemNotAccessible(t *testing.T) {
	fetcher := newStubFetcher(&upstream.Error{Kind: upstream.KindItemNotAccessible, Message: "no such item"})
	fetcher.cb = breaker.New(breaker.Config{Name: "test-upstream", FailureThreshold: 100, CooldownTimeout: time.Minute}, nil)
	r := newImportRouter(fetcher)

	w := postImport(t, r, `{"itemId": "B404", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != "ITEM_NOT_FOUND" {
		t.Errorf("error code = %s, want ITEM_NOT_FOUND", resp.Error.Code)
	}
}

func TestImportEndpointAnswers429WhenThrottled(t *testing.T) {
	fetcher := newStubFetcher(&upstream.Error{Kind: upstream.KindThrottled, Message: "slow down"})
	fetcher.cb = breaker.New(breaker.Config{Name: "test-upstream", FailureThreshold: 100, CooldownTimeout: time.Minute}, nil)
	r := newImportRouter(fetcher)

	w := postImport(t, r, `{"itemId": "B001", "marketplace": "www.example.com"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}
