package engine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/queue"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/session"
	"github.com/TheVisher/Pawkit-sub009/internal/store"
)

// acceptingServer acks every write with the next version
func acceptingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sync/write":
			var req remote.WriteRequest
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &req)

			resp := map[string]any{
				"record": map[string]any{
					"id":          req.EntityID,
					"workspaceId": req.WorkspaceID,
					"kind":        req.Kind,
					"version":     req.ExpectedVersion + 1,
					"deleted":     req.Operation == model.OpDelete,
					"data":        json.RawMessage(orEmpty(req.Payload)),
				},
			}
			_ = json.NewEncoder(w).Encode(resp)

		case "/api/auth/verify":
			w.Write([]byte(`{"userId":"user-1"}`))

		case "/api/sync/changes":
			w.Write([]byte(`{"serverTime":"2026-08-30T10:00:00Z","records":[]}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func orEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	srv := acceptingServer(t)
	quiet := log.New(io.Discard, "", 0)

	var gate *session.Gate
	client, err := remote.NewClient(remote.Config{
		BaseURL: srv.URL,
		Token: func(ctx context.Context) (string, error) {
			return gate.Token(ctx)
		},
		Logger: quiet,
	})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	gate, err = session.New(session.Config{
		Dir:      t.TempDir(),
		Verifier: client,
		Logger:   quiet,
	})
	if err != nil {
		t.Fatalf("session.New() failed: %v", err)
	}
	if err := gate.SignIn("user-1", "tok-1"); err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	qcfg := queue.DefaultConfig()
	qcfg.Logger = quiet
	q, err := queue.New(st, client, qcfg)
	if err != nil {
		t.Fatalf("queue.New() failed: %v", err)
	}

	ecfg := DefaultConfig()
	ecfg.Logger = quiet
	eng, err := New(st, q, client, gate, ecfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return eng, st
}

// TestCreate_LocalFirst tests that a create is visible locally before
// any network delivery
func TestCreate_LocalFirst(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	rec, err := eng.Create(ctx, model.KindCard, "ws1", json.RawMessage(`{"title":"a"}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if rec.Synced || !rec.LocalOnly || rec.Version != 0 {
		t.Errorf("fresh record = %+v, want unsynced local-only v0", rec)
	}

	got, err := eng.Get(ctx, model.KindCard, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("created record not visible before sync")
	}

	count, _ := st.CountQueue(ctx, model.StatusPending)
	if count != 1 {
		t.Errorf("queue has %d items, want the queued create", count)
	}

	// After one drain the server ack lands.
	if err := eng.queue.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	got, _ = eng.Get(ctx, model.KindCard, rec.ID)
	if !got.Synced || got.LocalOnly || got.Version != 1 {
		t.Errorf("acked record = %+v, want synced v1", got)
	}
}

// TestUpdate_CoalescesIntoQueue tests local patch application plus queue
// amendment
func TestUpdate_CoalescesIntoQueue(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	rec, err := eng.Create(ctx, model.KindCard, "ws1", json.RawMessage(`{"title":"a","url":"http://x"}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := eng.Update(ctx, model.KindCard, rec.ID, json.RawMessage(`{"title":"b"}`)); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := eng.Get(ctx, model.KindCard, rec.ID)
	var data map[string]string
	_ = json.Unmarshal(got.Data, &data)
	if data["title"] != "b" || data["url"] != "http://x" {
		t.Errorf("local data = %v, want patched title and preserved url", data)
	}

	count, _ := st.CountQueue(ctx, model.StatusPending)
	if count != 1 {
		t.Errorf("queue has %d items, want the coalesced create", count)
	}
}

// TestDelete_UnsyncedRecordVanishes tests the create+delete cancellation
func TestDelete_UnsyncedRecordVanishes(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	rec, err := eng.Create(ctx, model.KindCard, "ws1", json.RawMessage(`{"title":"a"}`))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := eng.Delete(ctx, model.KindCard, rec.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	got, _ := eng.Get(ctx, model.KindCard, rec.ID)
	if got != nil {
		t.Error("deleted record still visible")
	}
	count, _ := st.CountQueue(ctx, model.StatusPending)
	if count != 0 {
		t.Errorf("queue has %d items, want the pair cancelled", count)
	}
}

// TestApplyEvent_PendingEditWins tests that remote field values never
// overwrite an in-flight local edit
func TestApplyEvent_PendingEditWins(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	rec := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 3,
		Data: json.RawMessage(`{"title":"synced"}`), Synced: true,
	}
	if err := st.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}
	if _, err := eng.Update(ctx, model.KindCard, "c1", json.RawMessage(`{"title":"mine"}`)); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	theirs := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 8,
		Data: json.RawMessage(`{"title":"theirs"}`), Synced: true,
	}
	if err := eng.applyEvent(ctx, eventForRecord(theirs)); err != nil {
		t.Fatalf("applyEvent() failed: %v", err)
	}

	got, _ := st.GetRecord(ctx, model.KindCard, "c1")
	var data map[string]string
	_ = json.Unmarshal(got.Data, &data)
	if data["title"] != "mine" {
		t.Errorf("title = %q, want the local edit preserved", data["title"])
	}
	if got.Version != 8 {
		t.Errorf("Version = %d, want the fence advanced to 8", got.Version)
	}

	item, _ := st.GetQueueItem(ctx, model.KindCard, "c1")
	if item == nil || item.ExpectedVersion != 8 {
		t.Errorf("queued item = %+v, want its fence advanced to 8", item)
	}
}

// TestApplyEvent_Idempotent tests that re-applying the same event is a
// no-op
func TestApplyEvent_Idempotent(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	remoteRec := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 5,
		Data: json.RawMessage(`{"title":"x"}`), Synced: true,
	}
	ev := eventForRecord(remoteRec)

	for pass := 0; pass < 3; pass++ {
		if err := eng.applyEvent(ctx, ev); err != nil {
			t.Fatalf("applyEvent() pass %d failed: %v", pass, err)
		}
	}

	got, _ := st.GetRecord(ctx, model.KindCard, "c1")
	if got == nil || got.Version != 5 {
		t.Errorf("record = %+v, want v5 exactly once", got)
	}
}

// TestApplyChanges_SoftDeleteKeepsRow tests that a polled record with
// the deleted flag set is applied as a version-gated update: the row
// stays, marked deleted, and no tombstone is written
func TestApplyChanges_SoftDeleteKeepsRow(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	live := &model.Record{
		ID: "c3", WorkspaceID: "ws1", Kind: model.KindCard, Version: 5,
		Data: json.RawMessage(`{"title":"kept"}`), Synced: true,
	}
	if err := st.PutRecord(ctx, live); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}

	now := time.Now()
	batch := &remote.ChangesResult{Records: []*model.Record{{
		ID: "c3", WorkspaceID: "ws1", Kind: model.KindCard, Version: 6,
		Data: json.RawMessage(`{"title":"kept"}`), Deleted: true, DeletedAt: &now,
		Synced: true,
	}}}
	if err := eng.applyChanges(ctx, batch); err != nil {
		t.Fatalf("applyChanges() failed: %v", err)
	}

	got, err := st.GetRecord(ctx, model.KindCard, "c3")
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if got == nil {
		t.Fatal("soft delete destroyed the local row")
	}
	if !got.Deleted || got.Version != 6 {
		t.Errorf("record = deleted %v v%d, want deleted true v6", got.Deleted, got.Version)
	}
	if ts, _ := st.TombstoneVersion(ctx, model.KindCard, "c3"); ts != 0 {
		t.Errorf("soft delete wrote tombstone at v%d, want none", ts)
	}

	// A reordered stale update cannot undelete the record.
	stale := &model.Record{
		ID: "c3", WorkspaceID: "ws1", Kind: model.KindCard, Version: 5,
		Data: json.RawMessage(`{"title":"ghost"}`), Synced: true,
	}
	if err := eng.applyEvent(ctx, eventForRecord(stale)); err != nil {
		t.Fatalf("applyEvent(stale) failed: %v", err)
	}
	got, _ = st.GetRecord(ctx, model.KindCard, "c3")
	if got == nil || !got.Deleted || got.Version != 6 {
		t.Errorf("stale update altered soft-deleted record: %+v", got)
	}
}

// TestApplyEvent_NoResurrection tests that a stale update after a hard
// delete is dropped
func TestApplyEvent_NoResurrection(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	live := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 6,
		Data: json.RawMessage(`{"title":"x"}`), Synced: true,
	}
	if err := st.PutRecord(ctx, live); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}

	del := &model.Event{Type: model.EventDelete, Kind: model.KindCard, ID: "c1", Version: 6}
	if err := eng.applyEvent(ctx, del); err != nil {
		t.Fatalf("applyEvent(delete) failed: %v", err)
	}

	// A reordered update with an older version arrives afterwards.
	stale := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 4,
		Data: json.RawMessage(`{"title":"ghost"}`), Synced: true,
	}
	if err := eng.applyEvent(ctx, eventForRecord(stale)); err != nil {
		t.Fatalf("applyEvent(stale) failed: %v", err)
	}

	got, _ := st.GetRecord(ctx, model.KindCard, "c1")
	if got != nil {
		t.Error("hard-deleted record was resurrected by a stale update")
	}
}

// TestApplyEvent_DeferredDeleteReplaysAfterDrain tests the full defer
// cycle: delete behind a pending edit waits for the queue to settle
func TestApplyEvent_DeferredDeleteReplaysAfterDrain(t *testing.T) {
	eng, st := testEngine(t)
	ctx := context.Background()

	rec := &model.Record{
		ID: "c1", WorkspaceID: "ws1", Kind: model.KindCard, Version: 3,
		Data: json.RawMessage(`{"title":"synced"}`), Synced: true,
	}
	if err := st.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord() failed: %v", err)
	}
	if _, err := eng.Update(ctx, model.KindCard, "c1", json.RawMessage(`{"title":"mine"}`)); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	del := &model.Event{Type: model.EventDelete, Kind: model.KindCard, ID: "c1", Version: 5}
	if err := eng.applyEvent(ctx, del); err != nil {
		t.Fatalf("applyEvent(delete) failed: %v", err)
	}

	// Still present: the local edit is in flight.
	if got, _ := st.GetRecord(ctx, model.KindCard, "c1"); got == nil {
		t.Fatal("record deleted while a local edit was queued")
	}

	// Queue settles, deferred events replay.
	if err := eng.queue.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	eng.replayDeferred(ctx)

	if got, _ := st.GetRecord(ctx, model.KindCard, "c1"); got != nil {
		t.Error("deferred delete never applied after the queue settled")
	}
}

// TestStatus_Snapshot tests the status surface
func TestStatus_Snapshot(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	if _, err := eng.Create(ctx, model.KindCard, "ws1", json.RawMessage(`{"title":"a"}`)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	status, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if status.Pending != 1 {
		t.Errorf("Pending = %d, want 1", status.Pending)
	}
	if status.State != session.StateVerified {
		t.Errorf("State = %v, want verified", status.State)
	}
}
