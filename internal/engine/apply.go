package engine

import (
	"context"
	"fmt"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/reconcile"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
)

// applyChanges applies one poll batch. Any storage failure aborts the
// batch with an error so the poller does not advance the watermark; the
// whole batch is re-fetched and re-applied next cycle, which is safe
// because every decision is idempotent.
func (e *Engine) applyChanges(ctx context.Context, result *remote.ChangesResult) error {
	for _, rec := range result.Records {
		ev := eventForRecord(rec)
		if err := e.applyEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to apply change for %s/%s: %w", rec.Kind, rec.ID, err)
		}
	}
	return nil
}

// eventForRecord converts a polled record into the event form the
// reconciler consumes, so push and poll share one decision path. A
// record with the deleted flag set is still an ordinary version-gated
// update: the row is kept, marked deleted, and can be filtered or
// purged later. Only key-only delete frames destroy the row.
func eventForRecord(rec *model.Record) *model.Event {
	return &model.Event{
		Type:    model.EventUpdate,
		Record:  rec,
		Kind:    rec.Kind,
		ID:      rec.ID,
		Version: rec.Version,
	}
}

// applyEvent reconciles one remote event against point-in-time local
// state and executes the decision.
func (e *Engine) applyEvent(ctx context.Context, ev *model.Event) error {
	local, err := e.store.GetRecord(ctx, ev.Kind, ev.ID)
	if err != nil {
		return err
	}
	pending, err := e.queue.Pending(ctx, ev.Kind, ev.ID)
	if err != nil {
		return err
	}
	tombstone, err := e.store.TombstoneVersion(ctx, ev.Kind, ev.ID)
	if err != nil {
		return err
	}

	decision, err := reconcile.Decide(reconcile.Input{
		Event:            ev,
		Local:            local,
		Pending:          pending,
		TombstoneVersion: tombstone,
	})
	if err != nil {
		return err
	}

	switch decision.Action {
	case reconcile.ActionIgnore:
		return nil

	case reconcile.ActionApply:
		if decision.ClearTombstone {
			if err := e.store.ClearTombstone(ctx, ev.Kind, ev.ID); err != nil {
				return err
			}
		}
		return e.store.PutRecord(ctx, ev.Record)

	case reconcile.ActionApplyVersion:
		// Pending local edit wins on content. Only the version counter
		// advances, on the record and on the queued item's fence, so the
		// eventual delivery targets the version the server actually holds.
		if decision.ClearTombstone {
			if err := e.store.ClearTombstone(ctx, ev.Kind, ev.ID); err != nil {
				return err
			}
		}
		if err := e.store.SetRecordVersion(ctx, ev.Kind, ev.ID, decision.Version); err != nil {
			return err
		}
		return e.queue.Refence(ctx, ev.Kind, ev.ID, decision.Version)

	case reconcile.ActionHardDelete:
		return e.store.HardDeleteRecord(ctx, ev.Kind, ev.ID, decision.Version)

	case reconcile.ActionDefer:
		e.deferEvent(ev)
		return nil

	default:
		return fmt.Errorf("unknown reconcile action %v", decision.Action)
	}
}

// deferEvent parks a delete event that arrived while a local edit for
// the same entity was still queued. Once the queue settles the event is
// replayed; a newer event for the entity replaces an older parked one.
func (e *Engine) deferEvent(ev *model.Event) {
	e.deferredMu.Lock()
	defer e.deferredMu.Unlock()

	key := deferKey{ev.Kind, ev.ID}
	if prev, ok := e.deferred[key]; ok && prev.Version > ev.Version {
		return
	}
	e.deferred[key] = ev
}

// replayDeferred re-runs parked events after a drain. Events whose
// entity still has a queued item are parked again by the reconciler.
func (e *Engine) replayDeferred(ctx context.Context) {
	e.deferredMu.Lock()
	if len(e.deferred) == 0 {
		e.deferredMu.Unlock()
		return
	}
	events := make([]*model.Event, 0, len(e.deferred))
	for _, ev := range e.deferred {
		events = append(events, ev)
	}
	e.deferred = make(map[deferKey]*model.Event)
	e.deferredMu.Unlock()

	for _, ev := range events {
		if err := e.applyEvent(ctx, ev); err != nil {
			e.logger.Printf("Warning: failed to replay deferred event for %s/%s: %v", ev.Kind, ev.ID, err)
		}
	}
}

func (e *Engine) dropDeferred() {
	e.deferredMu.Lock()
	e.deferred = make(map[deferKey]*model.Event)
	e.deferredMu.Unlock()
}
