package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

func record(version int64) *model.Record {
	return &model.Record{
		ID:          "c1",
		WorkspaceID: "ws1",
		Kind:        model.KindCard,
		Version:     version,
		Data:        json.RawMessage(`{"title":"remote"}`),
	}
}

func upsertEvent(typ model.EventType, version int64) *model.Event {
	rec := record(version)
	return &model.Event{Type: typ, Record: rec, Kind: rec.Kind, ID: rec.ID, Version: version}
}

func deleteEvent(version int64) *model.Event {
	return &model.Event{Type: model.EventDelete, Kind: model.KindCard, ID: "c1", Version: version}
}

// TestDecide_MaterializeUnknownRecord tests that events for records this
// device has never seen create them
func TestDecide_MaterializeUnknownRecord(t *testing.T) {
	d, err := Decide(Input{Event: upsertEvent(model.EventInsert, 1)})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionApply {
		t.Errorf("Action = %v, want apply", d.Action)
	}
}

// TestDecide_NewerVersionApplies tests whole-record replacement for a
// newer remote version
func TestDecide_NewerVersionApplies(t *testing.T) {
	d, err := Decide(Input{
		Event: upsertEvent(model.EventUpdate, 5),
		Local: record(3),
	})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionApply {
		t.Errorf("Action = %v, want apply", d.Action)
	}
}

// TestDecide_SoftDeleteIsOrdinaryUpdate tests that an update carrying a
// deleted record is version-gated like any other: the row is replaced
// with the deleted copy, never destroyed
func TestDecide_SoftDeleteIsOrdinaryUpdate(t *testing.T) {
	ev := upsertEvent(model.EventUpdate, 6)
	ev.Record.Deleted = true

	d, err := Decide(Input{Event: ev, Local: record(5)})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionApply {
		t.Errorf("Action = %v, want apply", d.Action)
	}

	// Behind a pending local edit only the fence advances, same as for a
	// live update.
	d, err = Decide(Input{Event: ev, Local: record(5), Pending: true})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionApplyVersion || d.Version != 6 {
		t.Errorf("Decision = %v v%d, want apply-version v6", d.Action, d.Version)
	}
}

// TestDecide_StaleAndDuplicateIgnored tests idempotence: replaying an
// already-applied or older event changes nothing
func TestDecide_StaleAndDuplicateIgnored(t *testing.T) {
	for _, version := range []int64{3, 2} {
		d, err := Decide(Input{
			Event: upsertEvent(model.EventUpdate, version),
			Local: record(3),
		})
		if err != nil {
			t.Fatalf("Decide() failed: %v", err)
		}
		if d.Action != ActionIgnore {
			t.Errorf("version %d: Action = %v, want ignore", version, d.Action)
		}
	}
}

// TestDecide_InsertEchoIgnored tests that an insert for a record we
// already hold is dropped
func TestDecide_InsertEchoIgnored(t *testing.T) {
	d, _ := Decide(Input{
		Event: upsertEvent(model.EventInsert, 1),
		Local: record(1),
	})
	if d.Action != ActionIgnore {
		t.Errorf("Action = %v, want ignore", d.Action)
	}
}

// TestDecide_PendingEditWins tests that a queued local edit is never
// overwritten by remote field values
func TestDecide_PendingEditWins(t *testing.T) {
	// Newer remote version: only the version counter advances, so the
	// queued delivery is fenced against the server's current version.
	d, err := Decide(Input{
		Event:   upsertEvent(model.EventUpdate, 8),
		Local:   record(3),
		Pending: true,
	})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionApplyVersion {
		t.Fatalf("Action = %v, want apply-version", d.Action)
	}
	if d.Version != 8 {
		t.Errorf("Version = %d, want 8", d.Version)
	}

	// Stale remote version: nothing at all happens.
	d, _ = Decide(Input{
		Event:   upsertEvent(model.EventUpdate, 2),
		Local:   record(3),
		Pending: true,
	})
	if d.Action != ActionIgnore {
		t.Errorf("Action = %v, want ignore for stale event", d.Action)
	}
}

// TestDecide_PendingWithoutLocal tests the interrupted-teardown case
func TestDecide_PendingWithoutLocal(t *testing.T) {
	d, _ := Decide(Input{
		Event:   upsertEvent(model.EventUpdate, 4),
		Pending: true,
	})
	if d.Action != ActionApply {
		t.Errorf("Action = %v, want apply", d.Action)
	}
}

// TestDecide_HardDelete tests tombstone fencing on hard deletes
func TestDecide_HardDelete(t *testing.T) {
	d, err := Decide(Input{
		Event: deleteEvent(6),
		Local: record(6),
	})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionHardDelete || d.Version != 6 {
		t.Errorf("got %v v%d, want hard-delete v6", d.Action, d.Version)
	}
}

// TestDecide_HardDeleteVersionFallback tests that key-only delete events
// fence with the local record's version
func TestDecide_HardDeleteVersionFallback(t *testing.T) {
	d, _ := Decide(Input{
		Event: deleteEvent(0),
		Local: record(5),
	})
	if d.Action != ActionHardDelete || d.Version != 5 {
		t.Errorf("got %v v%d, want hard-delete v5", d.Action, d.Version)
	}
}

// TestDecide_DeleteForAbsentRecordStillTombstones tests that a delete
// for a record we never held leaves a fence behind
func TestDecide_DeleteForAbsentRecordStillTombstones(t *testing.T) {
	d, _ := Decide(Input{Event: deleteEvent(3)})
	if d.Action != ActionHardDelete || d.Version != 3 {
		t.Errorf("got %v v%d, want hard-delete v3", d.Action, d.Version)
	}
}

// TestDecide_DeleteDeferredBehindPendingEdit tests that an in-flight
// local edit is never silently discarded by a remote delete
func TestDecide_DeleteDeferredBehindPendingEdit(t *testing.T) {
	d, _ := Decide(Input{
		Event:   deleteEvent(6),
		Local:   record(3),
		Pending: true,
	})
	if d.Action != ActionDefer {
		t.Errorf("Action = %v, want defer", d.Action)
	}
}

// TestDecide_NoResurrection tests that stale updates cannot bring back a
// hard-deleted record
func TestDecide_NoResurrection(t *testing.T) {
	d, err := Decide(Input{
		Event:            upsertEvent(model.EventUpdate, 4),
		TombstoneVersion: 6,
	})
	if err != nil {
		t.Fatalf("Decide() failed: %v", err)
	}
	if d.Action != ActionIgnore {
		t.Errorf("Action = %v, want ignore", d.Action)
	}

	// Equal version is the delete's own echo.
	d, _ = Decide(Input{
		Event:            upsertEvent(model.EventUpdate, 6),
		TombstoneVersion: 6,
	})
	if d.Action != ActionIgnore {
		t.Errorf("Action = %v, want ignore for the tombstone version itself", d.Action)
	}
}

// TestDecide_TombstoneClearedOnReusedID tests that a strictly newer
// version proves the server reused the id
func TestDecide_TombstoneClearedOnReusedID(t *testing.T) {
	d, _ := Decide(Input{
		Event:            upsertEvent(model.EventUpdate, 9),
		TombstoneVersion: 6,
	})
	if d.Action != ActionApply {
		t.Fatalf("Action = %v, want apply", d.Action)
	}
	if !d.ClearTombstone {
		t.Error("ClearTombstone should be set for a reused id")
	}
}

// TestDecide_MalformedInput tests rejection of events the decoder should
// never have let through
func TestDecide_MalformedInput(t *testing.T) {
	if _, err := Decide(Input{}); err == nil {
		t.Error("Decide() should reject a nil event")
	}
	if _, err := Decide(Input{Event: &model.Event{Type: "upsert"}}); err == nil {
		t.Error("Decide() should reject an unknown event type")
	}
	if _, err := Decide(Input{Event: &model.Event{Type: model.EventUpdate}}); err == nil {
		t.Error("Decide() should reject an update without a record")
	}
}
