package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hup-social/connect/internal/history"
	"github.com/hup-social/connect/internal/models"
)

// memoryHistory is the in-process HistoryStore used by handler tests.
type memoryHistory struct {
	mu      sync.Mutex
	records map[string]models.SessionRecord
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{records: make(map[string]models.SessionRecord)}
}

func (h *memoryHistory) Started(_ context.Context, record models.SessionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[record.ID] = record
	return nil
}

func (h *memoryHistory) Ended(_ context.Context, id, reason string, messageCount int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.records[id]
	if !ok || record.EndedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	record.EndedAt = &now
	record.EndReason = reason
	if messageCount > record.MessageCount {
		record.MessageCount = messageCount
	}
	h.records[id] = record
	return nil
}

func (h *memoryHistory) Get(_ context.Context, id string) (*models.SessionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.records[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return &record, nil
}

func TestGetSession(t *testing.T) {
	api := testAPI()
	router := testRouter(api)
	token := mintToken(t, "alice")

	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	record := models.SessionRecord{
		ID:        "session-1",
		User1ID:   "alice",
		User2ID:   "bob",
		StartedAt: started,
	}
	if err := api.History.Started(context.Background(), record); err != nil {
		t.Fatalf("seeding record: %v", err)
	}
	if err := api.History.Ended(context.Background(), "session-1", "stop", 3); err != nil {
		t.Fatalf("ending record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	var got models.SessionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if got.User1ID != "alice" || got.User2ID != "bob" {
		t.Fatalf("participants %q/%q", got.User1ID, got.User2ID)
	}
	if got.EndReason != "stop" || got.MessageCount != 3 {
		t.Fatalf("end state %q/%d", got.EndReason, got.MessageCount)
	}
	if got.EndedAt == nil {
		t.Fatal("EndedAt not set")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	router := testRouter(testAPI())
	token := mintToken(t, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}
