// Package model provides the data structures shared by the sync engine:
// entity records, queue items, and remote change events.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the entity kind a record belongs to.
//
// The sync engine treats the domain fields of every kind as opaque JSON;
// the kind only matters for addressing (a card and a collection may share
// an id without colliding) and for the trust-boundary decoder, which
// rejects kinds it does not know.
type Kind string

const (
	// KindCard is a bookmark or note card.
	KindCard Kind = "card"
	// KindCollection is a named grouping of cards.
	KindCollection Kind = "collection"
	// KindEvent is a calendar event.
	KindEvent Kind = "event"
)

// KnownKinds lists every entity kind the engine synchronizes.
var KnownKinds = []Kind{KindCard, KindCollection, KindEvent}

// Valid reports whether k is a kind the engine knows about.
func (k Kind) Valid() bool {
	switch k {
	case KindCard, KindCollection, KindEvent:
		return true
	}
	return false
}

// Record is one synchronized entity as held in the local store.
//
// Version is assigned by the remote store and only ever increases; it is
// never incremented locally. A freshly created record carries Version 0 and
// LocalOnly true until the first server acknowledgment.
//
// Data holds the domain fields (title, url, tags, content, start/end times)
// verbatim. The engine moves it around but never interprets it.
type Record struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Kind        Kind   `json:"kind"`
	Version     int64  `json:"version"`

	Data json.RawMessage `json:"data,omitempty"`

	// Deleted marks a soft delete. A soft delete is an ordinary
	// version-bumping update and is reversible; only a hard delete
	// removes the row.
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	// Local bookkeeping. Never sent to the server.
	Synced       bool      `json:"-"`
	LocalOnly    bool      `json:"-"`
	LocalDeleted bool      `json:"-"`
	LastModified time.Time `json:"-"`
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.WorkspaceID == "" {
		return fmt.Errorf("workspaceId is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", r.Kind)
	}
	if r.Version < 0 {
		return fmt.Errorf("version must not be negative (got %d)", r.Version)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Data != nil {
		cp.Data = make(json.RawMessage, len(r.Data))
		copy(cp.Data, r.Data)
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// Operation is the kind of local mutation a queue item delivers.
type Operation string

const (
	// OpCreate creates a record that does not exist on the server yet.
	OpCreate Operation = "create"
	// OpUpdate replaces the domain fields of an existing record.
	OpUpdate Operation = "update"
	// OpDelete soft-deletes a record on the server.
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueItem is one pending local mutation awaiting delivery.
//
// There is at most one queue item per (kind, id) at any time: a new edit to
// an entity with a pending item amends that item instead of appending a
// second one, which preserves per-entity program order and bounds queue
// growth to the number of dirty entities.
type QueueItem struct {
	Kind      Kind
	EntityID  string
	Operation Operation

	// Payload is the full domain-field patch to deliver. Amending merges
	// the new patch over this one field by field.
	Payload json.RawMessage

	// ExpectedVersion fences the write: the server rejects the mutation
	// if its current version differs, which means another device wrote
	// in between and blind delivery would clobber that write.
	ExpectedVersion int64

	Attempts    int
	EnqueuedAt  time.Time
	NextRetryAt time.Time
	LastError   string
	Status      QueueStatus

	// ServerRecord is the server's record, JSON-encoded, attached when a
	// delivery was rejected with a version conflict. It is durable so a
	// later process can re-fence a retry or adopt the server copy on
	// discard.
	ServerRecord json.RawMessage
}

// QueueStatus is the delivery state of a queue item.
type QueueStatus string

const (
	// StatusPending items are eligible for the next drain.
	StatusPending QueueStatus = "pending"
	// StatusFailed items exhausted their retry budget and wait for an
	// explicit user retry.
	StatusFailed QueueStatus = "failed"
	// StatusConflict items were rejected with a version conflict and
	// need user attention; they are never retried automatically.
	StatusConflict QueueStatus = "conflict"
)

// MergePatch merges patch b over patch a, field by field at the top level.
// Fields present in b win; fields only in a survive. Either side may be nil.
func MergePatch(a, b json.RawMessage) (json.RawMessage, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}
	var base, over map[string]json.RawMessage
	if err := json.Unmarshal(a, &base); err != nil {
		return nil, fmt.Errorf("failed to parse base patch: %w", err)
	}
	if err := json.Unmarshal(b, &over); err != nil {
		return nil, fmt.Errorf("failed to parse amending patch: %w", err)
	}
	for k, v := range over {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged patch: %w", err)
	}
	return merged, nil
}
