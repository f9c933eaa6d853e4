// Package reconcile implements the conflict policy that merges one remote
// change event into local state.
//
// Overview
//
// The reconciler is a pure decision function. Given a remote event for an
// entity, the current local record (if any), whether a local mutation for
// that entity is still pending in the sync queue, and the entity's
// tombstone version (if it was ever hard-deleted), it decides what to do:
//
//	Remote Change Channel (push or poll)
//	          ↓ one Event
//	      reconcile.Decide          ← point-in-time Local Store + Queue state
//	          ↓ one Decision
//	      applied as a single atomic store write
//
// The policy is optimistic concurrency with version fencing, not CRDT
// merging. A pending local edit always wins over incoming remote field
// values until it round-trips through the server; only the version counter
// is taken from the remote event so the eventual push carries a correct
// fence instead of being spuriously rejected.
//
// Hard deletes write a versioned tombstone, and events at or below the
// tombstone version are ignored, so a stale update arriving after a delete
// can never resurrect the record.
package reconcile

import (
	"fmt"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// Action is what the caller should do with a remote event.
type Action int

const (
	// ActionIgnore drops the event: duplicate, stale, or already applied.
	ActionIgnore Action = iota
	// ActionApply replaces the local record with the event's record.
	ActionApply
	// ActionApplyVersion updates only the local record's version counter,
	// leaving locally edited fields untouched.
	ActionApplyVersion
	// ActionHardDelete removes the record and writes a tombstone.
	ActionHardDelete
	// ActionDefer leaves everything alone; the pending queue push will
	// surface the conflict itself.
	ActionDefer
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionApply:
		return "apply"
	case ActionApplyVersion:
		return "apply-version"
	case ActionHardDelete:
		return "hard-delete"
	case ActionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Input is the point-in-time state a decision is computed from.
type Input struct {
	// Event is the remote change under consideration.
	Event *model.Event

	// Local is the current local record for the event's entity, or nil.
	Local *model.Record

	// Pending reports whether a sync-queue item for this entity is still
	// awaiting delivery.
	Pending bool

	// TombstoneVersion is the version recorded when this entity was
	// hard-deleted, or 0 if it never was.
	TombstoneVersion int64
}

// Decision is the outcome of reconciling one event.
type Decision struct {
	Action Action

	// Version is the version to write for ActionApplyVersion and the
	// tombstone version for ActionHardDelete.
	Version int64

	// ClearTombstone is set when an event's version proves the server
	// reused a previously hard-deleted id; the caller removes the
	// tombstone before applying.
	ClearTombstone bool

	// Reason is a short explanation for logs.
	Reason string
}

// Decide computes the decision for one remote event. It never returns an
// error for policy reasons, only for malformed input; every well-formed
// event resolves to a decision.
func Decide(in Input) (Decision, error) {
	ev := in.Event
	if ev == nil {
		return Decision{}, fmt.Errorf("nil event")
	}
	if !ev.Type.Valid() {
		return Decision{}, fmt.Errorf("invalid event type %q", ev.Type)
	}

	if ev.Type == model.EventDelete {
		return decideDelete(in), nil
	}

	// Insert/update events must carry a record.
	if ev.Record == nil {
		return Decision{}, fmt.Errorf("%s event without record", ev.Type)
	}

	// No-resurrection: a tombstoned id ignores anything at or below the
	// tombstone version. A strictly newer version means the server reused
	// the id; the tombstone no longer describes reality.
	if in.TombstoneVersion > 0 {
		if ev.Record.Version <= in.TombstoneVersion {
			return Decision{Action: ActionIgnore, Reason: "tombstoned"}, nil
		}
		d := decideUpsert(in)
		d.ClearTombstone = true
		return d, nil
	}

	return decideUpsert(in), nil
}

func decideUpsert(in Input) Decision {
	ev := in.Event

	// A pending local edit takes precedence over remote field values
	// until it resolves, but the version fence must stay current so the
	// eventual push is fenced correctly instead of spuriously rejected.
	if in.Pending {
		if in.Local == nil {
			// The local record vanished while an item is still queued
			// (interrupted teardown). Materialize the server copy rather
			// than resurrect nothing.
			return Decision{Action: ActionApply, Reason: "pending without local record"}
		}
		if ev.Record.Version > in.Local.Version {
			return Decision{
				Action:  ActionApplyVersion,
				Version: ev.Record.Version,
				Reason:  "pending local edit wins, version advanced",
			}
		}
		return Decision{Action: ActionIgnore, Reason: "pending local edit wins, version stale"}
	}

	if in.Local == nil {
		return Decision{Action: ActionApply, Reason: "materialize"}
	}

	if ev.Type == model.EventInsert {
		// Already have it; duplicate delivery or our own echo.
		return Decision{Action: ActionIgnore, Reason: "insert for existing record"}
	}

	if ev.Record.Version > in.Local.Version {
		return Decision{Action: ActionApply, Reason: "newer version"}
	}
	return Decision{Action: ActionIgnore, Reason: "stale or duplicate version"}
}

func decideDelete(in Input) Decision {
	// Never delete under a pending local edit; the queue push will be
	// rejected with a version conflict and surface the situation to the
	// user instead of silently discarding their in-flight change.
	if in.Pending {
		return Decision{Action: ActionDefer, Reason: "pending local edit in flight"}
	}

	if in.Local == nil {
		// Nothing to remove, but still record the tombstone so a stale
		// update arriving later cannot materialize the deleted record.
		return Decision{
			Action:  ActionHardDelete,
			Version: in.Event.Version,
			Reason:  "delete for absent record",
		}
	}

	version := in.Event.Version
	if version == 0 {
		// Hard-delete events often carry only the primary key. Fall back
		// to the record's last known version as the tombstone fence.
		version = in.Local.Version
	}
	return Decision{Action: ActionHardDelete, Version: version, Reason: "hard delete"}
}
