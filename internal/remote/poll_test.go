package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// memWatermarks is an in-memory WatermarkStore
type memWatermarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{marks: make(map[string]time.Time)}
}

func (m *memWatermarks) GetWatermark(ctx context.Context, workspaceID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[workspaceID], nil
}

func (m *memWatermarks) SetWatermark(ctx context.Context, workspaceID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[workspaceID] = t
	return nil
}

func pollFixture(t *testing.T, apply ApplyFunc) (*Poller, *memWatermarks) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"serverTime": "2026-08-30T10:05:00Z",
			"records": [{"id":"c1","workspaceId":"ws1","kind":"card","version":2,"data":{}}]
		}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL,
		Token: func(ctx context.Context) (string, error) {
			return "tok-1", nil
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	marks := newMemWatermarks()
	p, err := NewPoller(c, marks, "ws1", apply, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewPoller() failed: %v", err)
	}
	return p, marks
}

// TestPollOnce_AdvancesWatermarkAfterApply tests the crash-safe ordering:
// the batch is fully processed before the watermark moves
func TestPollOnce_AdvancesWatermarkAfterApply(t *testing.T) {
	applied := 0
	p, marks := pollFixture(t, func(ctx context.Context, result *ChangesResult) error {
		applied += len(result.Records)
		return nil
	})

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d records, want 1", applied)
	}

	mark, _ := marks.GetWatermark(context.Background(), "ws1")
	want := time.Date(2026, 8, 30, 10, 5, 0, 0, time.UTC)
	if !mark.Equal(want) {
		t.Errorf("watermark = %v, want %v", mark, want)
	}
}

// TestPollOnce_FailedApplyKeepsWatermark tests that a failed batch is
// re-fetched on the next cycle instead of being skipped past
func TestPollOnce_FailedApplyKeepsWatermark(t *testing.T) {
	p, marks := pollFixture(t, func(ctx context.Context, result *ChangesResult) error {
		return errors.New("store unavailable")
	})

	if err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("PollOnce() should surface the apply failure")
	}

	mark, _ := marks.GetWatermark(context.Background(), "ws1")
	if !mark.IsZero() {
		t.Errorf("watermark = %v, want unmoved zero value", mark)
	}
}

// TestPollOnce_CancelledContextNeverApplies tests the workspace-switch
// guard: a response landing after cancellation is discarded
func TestPollOnce_CancelledContextNeverApplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p, marks := pollFixture(t, func(ctx context.Context, result *ChangesResult) error {
		t.Error("apply ran despite cancellation")
		return nil
	})

	cancel()
	if err := p.PollOnce(ctx); err == nil {
		t.Fatal("PollOnce() should fail on a cancelled context")
	}

	mark, _ := marks.GetWatermark(context.Background(), "ws1")
	if !mark.IsZero() {
		t.Errorf("watermark = %v, want unmoved zero value", mark)
	}
}
