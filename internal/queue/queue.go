// Package queue turns local mutations into a reliable at-least-once
// delivery stream to the remote store.
//
// The queue is durable (backed by the store's sync_queue table) and holds
// at most one item per entity: a new edit to an entity with a pending item
// amends that item in place, which preserves per-entity program order and
// bounds queue growth to the number of dirty entities rather than the
// number of edits.
//
// Delivery semantics:
//
//   - transient failures (network, 5xx, timeout) retry with exponential
//     backoff up to a bounded attempt count, then land in the durable
//     failed set and wait for an explicit user retry
//   - version-conflict rejections are never retried with the same
//     payload; the item moves to the needs-attention set with the
//     server's record attached, for the user to reapply or discard
//   - auth failures stop the drain entirely so the session gate can
//     re-verify; queued mutations are kept
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
	"github.com/TheVisher/Pawkit-sub009/internal/remote"
	"github.com/TheVisher/Pawkit-sub009/internal/store"
)

// RemoteWriter delivers one mutation to the remote store.
type RemoteWriter interface {
	Write(ctx context.Context, req remote.WriteRequest) (*remote.WriteResult, error)
}

// Config holds queue tuning knobs.
type Config struct {
	// MaxAttempts bounds automatic retries before an item is parked in
	// the failed set. Default: 5.
	MaxAttempts int

	// BackoffMin is the first retry delay. Default: 1s.
	BackoffMin time.Duration

	// BackoffMax caps the retry delay. Default: 60s.
	BackoffMax time.Duration

	// Concurrency bounds how many different entities are in flight at
	// once during a drain. Per-entity there is never more than one
	// in-flight delivery. Default: 4.
	Concurrency int

	// Logger for queue activity. Default: stderr logger.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BackoffMin:  time.Second,
		BackoffMax:  60 * time.Second,
		Concurrency: 4,
		Logger:      log.New(os.Stderr, "[queue] ", log.LstdFlags),
	}
}

// Conflict is one entity in the needs-attention set.
type Conflict struct {
	Item *model.QueueItem

	// Server is the server's record at rejection time, when the server
	// sent one. It is stored with the queue item, so it survives process
	// restarts and is visible to the CLI resolving the conflict.
	Server *model.Record
}

// Queue manages pending local mutations for one store instance.
type Queue struct {
	store  *store.Store
	writer RemoteWriter
	config Config
	logger *log.Logger

	// mu serializes enqueue/ack bookkeeping so an amendment arriving
	// while its entity is in flight is never lost.
	mu sync.Mutex
}

// New creates a queue over the given store and remote writer.
func New(st *store.Store, writer RemoteWriter, config Config) (*Queue, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}
	if config.BackoffMin == 0 {
		config.BackoffMin = time.Second
	}
	if config.BackoffMax == 0 {
		config.BackoffMax = 60 * time.Second
	}
	if config.Concurrency == 0 {
		config.Concurrency = 4
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:  st,
		writer: writer,
		config: config,
		logger: config.Logger,
	}, nil
}

// Mutation is one local edit to enqueue.
type Mutation struct {
	Kind        model.Kind
	EntityID    string
	WorkspaceID string
	Operation   model.Operation
	Payload     json.RawMessage

	// ExpectedVersion is the record's version at edit time. Ignored when
	// amending: the fence of the original enqueue (or the latest server
	// ack) stays authoritative.
	ExpectedVersion int64
}

// Enqueue records a local mutation for delivery, coalescing it into an
// existing item for the same entity when one is pending.
//
// Coalescing rules preserve per-entity program order:
//
//	create + update → create with the merged payload
//	create + delete → the entity never reached the server; both cancel
//	update + update → update with the merged payload
//	update + delete → delete
//
// Enqueue reports whether an item remains queued afterwards (false only
// for the create+delete cancellation).
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (bool, error) {
	if !m.Operation.Valid() {
		return false, fmt.Errorf("invalid operation %q", m.Operation)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.store.GetQueueItem(ctx, m.Kind, m.EntityID)
	if err != nil {
		return false, err
	}

	if existing == nil {
		item := &model.QueueItem{
			Kind:            m.Kind,
			EntityID:        m.EntityID,
			Operation:       m.Operation,
			Payload:         m.Payload,
			ExpectedVersion: m.ExpectedVersion,
			EnqueuedAt:      time.Now(),
			Status:          model.StatusPending,
		}
		if err := q.store.PutQueueItem(ctx, item); err != nil {
			return false, err
		}
		return true, nil
	}

	// Amend in place. The original EnqueuedAt is kept so drain order
	// still reflects first-dirty order.
	if existing.Operation == model.OpCreate && m.Operation == model.OpDelete {
		if err := q.store.DeleteQueueItem(ctx, m.Kind, m.EntityID); err != nil {
			return false, err
		}
		return false, nil
	}

	switch m.Operation {
	case model.OpDelete:
		existing.Operation = model.OpDelete
		existing.Payload = nil
	default:
		merged, err := model.MergePatch(existing.Payload, m.Payload)
		if err != nil {
			return false, fmt.Errorf("failed to coalesce payload for %s/%s: %w", m.Kind, m.EntityID, err)
		}
		existing.Payload = merged
		// create absorbs updates and stays a create.
	}

	// A fresh user edit re-arms an exhausted item; conflicts stay parked
	// until the user resolves them explicitly.
	if existing.Status == model.StatusFailed {
		existing.Status = model.StatusPending
		existing.Attempts = 0
		existing.NextRetryAt = time.Time{}
		existing.LastError = ""
	}

	if err := q.store.PutQueueItem(ctx, existing); err != nil {
		return false, err
	}
	return true, nil
}

// Pending reports whether the entity currently has an undelivered item in
// any state (pending, failed, or conflict). The reconciler treats all of
// them as "local edit in flight".
func (q *Queue) Pending(ctx context.Context, kind model.Kind, id string) (bool, error) {
	item, err := q.store.GetQueueItem(ctx, kind, id)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// Drain attempts delivery of every due pending item. Different entities
// are delivered concurrently; each entity has exactly one in-flight
// delivery because the queue holds one item per entity.
//
// Drain returns ErrUnauthorized as soon as any delivery is rejected for
// auth, leaving remaining items queued. Other per-item failures are
// handled per item and do not fail the drain.
func (q *Queue) Drain(ctx context.Context) error {
	items, err := q.store.ListQueue(ctx, model.StatusPending)
	if err != nil {
		return err
	}

	now := time.Now()
	var due []*model.QueueItem
	for _, item := range items {
		if item.NextRetryAt.IsZero() || !item.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.config.Concurrency)
	for _, item := range due {
		g.Go(func() error {
			return q.deliver(gctx, item)
		})
	}
	return g.Wait()
}

// deliver pushes one item and applies the outcome.
func (q *Queue) deliver(ctx context.Context, item *model.QueueItem) error {
	rec, err := q.store.GetRecord(ctx, item.Kind, item.EntityID)
	if err != nil {
		return nil // storage failure for one entity never fails the drain
	}
	workspaceID := ""
	if rec != nil {
		workspaceID = rec.WorkspaceID
	}

	result, err := q.writer.Write(ctx, remote.WriteRequest{
		Kind:            item.Kind,
		EntityID:        item.EntityID,
		WorkspaceID:     workspaceID,
		Operation:       item.Operation,
		Payload:         item.Payload,
		ExpectedVersion: item.ExpectedVersion,
	})

	switch {
	case err == nil:
		return q.ack(ctx, item, result)

	case errors.Is(err, remote.ErrUnauthorized):
		return remote.ErrUnauthorized

	case isConflict(err):
		var ce *remote.ConflictError
		errors.As(err, &ce)
		q.markConflict(ctx, item, ce)
		return nil

	case remote.IsTransient(err):
		q.markTransientFailure(ctx, item, err)
		return nil

	default:
		// Unexpected rejection (4xx other than auth/conflict). Treated
		// like exhausted retries: park it for the user.
		q.logger.Printf("Permanent rejection for %s/%s: %v", item.Kind, item.EntityID, err)
		q.park(ctx, item, model.StatusFailed, err)
		return nil
	}
}

// ack applies a successful delivery: the record takes the server-assigned
// version, and the item is removed unless it was amended while in flight.
func (q *Queue) ack(ctx context.Context, delivered *model.QueueItem, result *remote.WriteResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	newVersion := int64(0)
	if result != nil && result.Record != nil {
		newVersion = result.Record.Version
	}

	// Update the record's bookkeeping from the server's response.
	rec, err := q.store.GetRecord(ctx, delivered.Kind, delivered.EntityID)
	if err != nil {
		return nil
	}
	if rec != nil {
		rec.Version = newVersion
		rec.Synced = true
		rec.LocalOnly = false
		if delivered.Operation == model.OpDelete {
			rec.Deleted = true
			rec.LocalDeleted = false
			if rec.DeletedAt == nil {
				now := time.Now()
				rec.DeletedAt = &now
			}
		}
		if err := q.store.PutRecord(ctx, rec); err != nil {
			q.logger.Printf("Warning: failed to apply ack for %s/%s: %v", delivered.Kind, delivered.EntityID, err)
			return nil
		}
	}

	// If the user amended the entity while this delivery was in flight,
	// the stored item now differs from what was delivered: keep it, but
	// re-fence it against the version we just received, and downgrade a
	// delivered create to an update (the entity exists remotely now).
	current, err := q.store.GetQueueItem(ctx, delivered.Kind, delivered.EntityID)
	if err != nil || current == nil {
		return nil
	}
	if string(current.Payload) == string(delivered.Payload) && current.Operation == delivered.Operation {
		if err := q.store.DeleteQueueItem(ctx, delivered.Kind, delivered.EntityID); err != nil {
			q.logger.Printf("Warning: failed to remove acked item %s/%s: %v", delivered.Kind, delivered.EntityID, err)
		}
		return nil
	}

	current.ExpectedVersion = newVersion
	if current.Operation == model.OpCreate {
		current.Operation = model.OpUpdate
	}
	if err := q.store.PutQueueItem(ctx, current); err != nil {
		q.logger.Printf("Warning: failed to re-fence amended item %s/%s: %v", delivered.Kind, delivered.EntityID, err)
	}
	return nil
}

func (q *Queue) markTransientFailure(ctx context.Context, item *model.QueueItem, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.GetQueueItem(ctx, item.Kind, item.EntityID)
	if err != nil || current == nil {
		return
	}

	current.Attempts++
	current.LastError = cause.Error()
	if current.Attempts >= q.config.MaxAttempts {
		current.Status = model.StatusFailed
		current.NextRetryAt = time.Time{}
		q.logger.Printf("Entity %s/%s failed permanently after %d attempts: %v",
			item.Kind, item.EntityID, current.Attempts, cause)
	} else {
		current.NextRetryAt = time.Now().Add(backoff(q.config.BackoffMin, q.config.BackoffMax, current.Attempts))
	}
	if err := q.store.PutQueueItem(ctx, current); err != nil {
		q.logger.Printf("Warning: failed to record attempt for %s/%s: %v", item.Kind, item.EntityID, err)
	}
}

func (q *Queue) markConflict(ctx context.Context, item *model.QueueItem, ce *remote.ConflictError) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.GetQueueItem(ctx, item.Kind, item.EntityID)
	if err != nil || current == nil {
		return
	}
	current.Status = model.StatusConflict
	current.NextRetryAt = time.Time{}
	if ce != nil {
		current.LastError = ce.Error()
		if ce.Server != nil {
			encoded, err := json.Marshal(ce.Server)
			if err != nil {
				q.logger.Printf("Warning: failed to encode server record for %s/%s: %v", item.Kind, item.EntityID, err)
			} else {
				current.ServerRecord = encoded
			}
		}
	}
	if err := q.store.PutQueueItem(ctx, current); err != nil {
		q.logger.Printf("Warning: failed to park conflicted item %s/%s: %v", item.Kind, item.EntityID, err)
		return
	}
	q.logger.Printf("Version conflict for %s/%s: needs attention", item.Kind, item.EntityID)
}

func (q *Queue) park(ctx context.Context, item *model.QueueItem, status model.QueueStatus, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.GetQueueItem(ctx, item.Kind, item.EntityID)
	if err != nil || current == nil {
		return
	}
	current.Status = status
	current.NextRetryAt = time.Time{}
	if cause != nil {
		current.LastError = cause.Error()
	}
	if err := q.store.PutQueueItem(ctx, current); err != nil {
		q.logger.Printf("Warning: failed to park item %s/%s: %v", item.Kind, item.EntityID, err)
	}
}

// Failed returns the durable failed set.
func (q *Queue) Failed(ctx context.Context) ([]*model.QueueItem, error) {
	return q.store.ListQueue(ctx, model.StatusFailed)
}

// Conflicts returns the needs-attention set, with the server's record
// attached where the rejection carried one.
func (q *Queue) Conflicts(ctx context.Context) ([]*Conflict, error) {
	items, err := q.store.ListQueue(ctx, model.StatusConflict)
	if err != nil {
		return nil, err
	}

	var result []*Conflict
	for _, item := range items {
		c := &Conflict{Item: item}
		if len(item.ServerRecord) > 0 {
			var rec model.Record
			if err := json.Unmarshal(item.ServerRecord, &rec); err != nil {
				q.logger.Printf("Warning: unreadable server record for %s/%s: %v", item.Kind, item.EntityID, err)
			} else {
				rec.Synced = true
				c.Server = &rec
			}
		}
		result = append(result, c)
	}
	return result, nil
}

// Retry re-queues a failed or conflicted item for delivery, re-fenced
// against the given version (normally the server's current version, so a
// conflicted payload becomes a deliberate overwrite).
func (q *Queue) Retry(ctx context.Context, kind model.Kind, id string, expectedVersion int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetQueueItem(ctx, kind, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("no queued item for %s/%s", kind, id)
	}
	item.Status = model.StatusPending
	item.Attempts = 0
	item.NextRetryAt = time.Time{}
	item.LastError = ""
	item.ServerRecord = nil
	if expectedVersion > 0 {
		item.ExpectedVersion = expectedVersion
	}
	return q.store.PutQueueItem(ctx, item)
}

// Refence advances the version fence of the entity's queued item. The
// engine calls this when a newer server version arrives while the local
// edit still wins on content: the payload is unchanged but the delivery
// must be fenced against the version the server actually holds.
func (q *Queue) Refence(ctx context.Context, kind model.Kind, id string, version int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetQueueItem(ctx, kind, id)
	if err != nil || item == nil {
		return err
	}
	if version <= item.ExpectedVersion {
		return nil
	}
	item.ExpectedVersion = version
	if item.Operation == model.OpCreate {
		// The entity exists on the server after all.
		item.Operation = model.OpUpdate
	}
	return q.store.PutQueueItem(ctx, item)
}

// Discard drops a failed or conflicted item without delivering it. The
// caller is responsible for re-applying the server's record to the local
// store when discarding a conflict.
func (q *Queue) Discard(ctx context.Context, kind model.Kind, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.DeleteQueueItem(ctx, kind, id)
}

// PendingCount returns the number of items awaiting delivery.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.store.CountQueue(ctx, model.StatusPending)
}

func isConflict(err error) bool {
	var ce *remote.ConflictError
	return errors.As(err, &ce)
}

// backoff returns the delay before the given (1-based) attempt's retry,
// doubling from min up to max.
func backoff(min, max time.Duration, attempt int) time.Duration {
	d := min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
