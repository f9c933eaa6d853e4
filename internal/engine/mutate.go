package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/queue"
)

// Local mutations follow local-first ordering: the store is updated
// first, the queue second, and the caller returns without touching the
// network. Delivery happens on the next drain.

// Create persists a new record locally and queues it for delivery.
func (e *Engine) Create(ctx context.Context, kind model.Kind, workspaceID string, data json.RawMessage) (*model.Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid kind %q", kind)
	}
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID cannot be empty")
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	rec := &model.Record{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		Kind:         kind,
		Version:      0,
		Data:         data,
		Synced:       false,
		LocalOnly:    true,
		LastModified: time.Now(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.PutRecord(ctx, rec); err != nil {
		return nil, err
	}

	_, err := e.queue.Enqueue(ctx, queue.Mutation{
		Kind:        kind,
		EntityID:    rec.ID,
		WorkspaceID: workspaceID,
		Operation:   model.OpCreate,
		Payload:     data,
	})
	if err != nil {
		return nil, err
	}
	e.Kick()
	return rec, nil
}

// Update applies a field patch to a record locally and queues it. The
// patch is coalesced into any still-pending item for the same record.
func (e *Engine) Update(ctx context.Context, kind model.Kind, id string, patch json.RawMessage) (*model.Record, error) {
	rec, err := e.store.GetRecord(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted || rec.LocalDeleted {
		return nil, fmt.Errorf("record %s/%s not found", kind, id)
	}

	merged, err := model.MergePatch(rec.Data, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch to %s/%s: %w", kind, id, err)
	}
	rec.Data = merged
	rec.Synced = false
	rec.LastModified = time.Now()
	if err := e.store.PutRecord(ctx, rec); err != nil {
		return nil, err
	}

	_, err = e.queue.Enqueue(ctx, queue.Mutation{
		Kind:            kind,
		EntityID:        id,
		WorkspaceID:     rec.WorkspaceID,
		Operation:       model.OpUpdate,
		Payload:         patch,
		ExpectedVersion: rec.Version,
	})
	if err != nil {
		return nil, err
	}
	e.Kick()
	return rec, nil
}

// Delete removes a record locally and queues the delete. A record that
// never reached the server is removed outright; the queued create and
// the delete cancel out.
func (e *Engine) Delete(ctx context.Context, kind model.Kind, id string) error {
	rec, err := e.store.GetRecord(ctx, kind, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Deleted || rec.LocalDeleted {
		return fmt.Errorf("record %s/%s not found", kind, id)
	}

	queued, err := e.queue.Enqueue(ctx, queue.Mutation{
		Kind:            kind,
		EntityID:        id,
		WorkspaceID:     rec.WorkspaceID,
		Operation:       model.OpDelete,
		ExpectedVersion: rec.Version,
	})
	if err != nil {
		return err
	}

	if !queued {
		// Local-only record: nothing to deliver, nothing to tombstone.
		return e.store.HardDeleteRecord(ctx, kind, id, 0)
	}

	rec.LocalDeleted = true
	rec.Synced = false
	rec.LastModified = time.Now()
	if err := e.store.PutRecord(ctx, rec); err != nil {
		return err
	}
	e.Kick()
	return nil
}

// Get returns one visible record, or nil when it does not exist or is
// deleted.
func (e *Engine) Get(ctx context.Context, kind model.Kind, id string) (*model.Record, error) {
	rec, err := e.store.GetRecord(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	visible := rec != nil && !rec.Deleted && !rec.LocalDeleted
	if err := e.store.BumpCacheStat(ctx, string(kind), visible); err != nil {
		e.logger.Printf("Warning: failed to record cache stat: %v", err)
	}
	if !visible {
		return nil, nil
	}
	return rec, nil
}

// List returns the visible records of one kind in a workspace.
func (e *Engine) List(ctx context.Context, workspaceID string, kind model.Kind) ([]*model.Record, error) {
	recs, err := e.store.ListWorkspace(ctx, workspaceID, kind)
	if err != nil {
		return nil, err
	}
	visible := recs[:0]
	for _, rec := range recs {
		if rec.Deleted || rec.LocalDeleted {
			continue
		}
		visible = append(visible, rec)
	}
	return visible, nil
}
