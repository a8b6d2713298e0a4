package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/luthienresearch/luthien-proxy/internal/dispatcher"
	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/policy"
	"github.com/luthienresearch/luthien-proxy/internal/pubsub"
	"github.com/luthienresearch/luthien-proxy/internal/ratelimit"
	"github.com/luthienresearch/luthien-proxy/internal/storage"
	"github.com/luthienresearch/luthien-proxy/internal/taskqueue"
)

type fakeStore struct {
	ids []string
}

func (f *fakeStore) WriteDebugLog(ctx context.Context, label string, record map[string]any) error {
	return nil
}
func (f *fakeStore) HandleEvent(ctx context.Context, evt events.Event) error { return nil }
func (f *fakeStore) RecentCallIDs(ctx context.Context, limit int) ([]string, error) {
	if limit < len(f.ids) {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}
func (f *fakeStore) EventsForCall(ctx context.Context, callID string) ([]events.Event, error) {
	return []events.Event{{CallID: callID, Kind: events.KindRequestStarted}}, nil
}
func (f *fakeStore) ToolCallsForCall(ctx context.Context, callID string) ([]storage.ToolCallRecord, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
	store := &fakeStore{ids: []string{"call-2", "call-1"}}
	queues := taskqueue.NewRegistry(10, log, nil)
	builder := events.NewBuilder(events.NewChunkIndexStore())
	disp := dispatcher.New(policy.NoOp{}, queues, builder, store, log)
	streams := dispatcher.NewStreamDispatcher(disp)

	r := NewRouter(&Deps{
		Dispatcher:  disp,
		Streams:     streams,
		Store:       store,
		Publisher:   pubsub.New(nil, log),
		RateLimiter: ratelimit.New(100, 0),
		Log:         log,
	})
	return r, store
}

func TestHandleHook_PassesThroughWithNoPolicyHandler(t *testing.T) {
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]any{"call_id": "call-1", "foo": "bar"})
	req := httptest.NewRequest(http.MethodPost, "/api/hooks/moderation_hook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Fatalf("expected payload passed through unchanged, got %v", got)
	}
}

func TestHandleRecentCallIDs(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hooks/recent_call_ids?limit=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		CallIDs []string `json:"call_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.CallIDs) != 1 || got.CallIDs[0] != "call-2" {
		t.Fatalf("unexpected call ids: %v", got.CallIDs)
	}
}

func TestHandleConversationSnapshot_RequiresCallID(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hooks/conversation", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing call_id, got %d", w.Code)
	}
}
