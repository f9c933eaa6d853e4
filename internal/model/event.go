package model

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a remote change event.
type EventType string

const (
	// EventInsert announces a record created on the remote store.
	EventInsert EventType = "insert"
	// EventUpdate announces new field values for an existing record.
	// Soft deletes arrive as updates with Deleted set.
	EventUpdate EventType = "update"
	// EventDelete announces a hard delete: the row is gone from the
	// remote store. Delete events typically carry only the primary key.
	EventDelete EventType = "delete"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Event is one remote change delivered by either transport.
//
// Both the push subscription and the poller produce Events; the reconciler
// never learns which transport an event came from, so transport choice can
// never change conflict semantics.
type Event struct {
	Type EventType

	// Record is the full server record for inserts and updates.
	// Nil for hard deletes.
	Record *Record

	// Kind and ID address the entity. For inserts and updates they
	// mirror Record; for hard deletes they are all the server sends.
	Kind Kind
	ID   string

	// Version is the server version attached to the event, when the
	// server sends one. Hard-delete events may carry 0 (unknown).
	Version int64
}

// wireEvent is the JSON frame shape used on the wire by both the push
// subscription and (reconstructed) by the poller.
type wireEvent struct {
	Type    string          `json:"type"`
	Record  json.RawMessage `json:"record,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	ID      string          `json:"id,omitempty"`
	Version int64           `json:"version,omitempty"`
}

// wireRecord is the server payload shape for one record. Decoding through
// an explicit struct (rather than spreading whatever arrives) is the trust
// boundary: unknown kinds and malformed envelopes are rejected here instead
// of leaking into the store.
type wireRecord struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	Kind        string          `json:"kind"`
	Version     int64           `json:"version"`
	Deleted     bool            `json:"deleted"`
	DeletedAt   *string         `json:"deletedAt,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses one wire frame into an Event.
//
// It returns an error for unknown event types, unknown entity kinds, and
// frames missing their addressing fields. Hard-delete frames are exempt
// from the workspace requirement: the server sends only the primary key
// for those, so the record envelope rules cannot apply.
func DecodeEvent(frame []byte) (*Event, error) {
	var we wireEvent
	if err := json.Unmarshal(frame, &we); err != nil {
		return nil, fmt.Errorf("failed to parse change frame: %w", err)
	}

	typ := EventType(we.Type)
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown event type %q", we.Type)
	}

	if typ == EventDelete {
		if we.ID == "" {
			return nil, fmt.Errorf("delete event missing id")
		}
		kind := Kind(we.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("delete event has unknown kind %q", we.Kind)
		}
		return &Event{Type: EventDelete, Kind: kind, ID: we.ID, Version: we.Version}, nil
	}

	if len(we.Record) == 0 {
		return nil, fmt.Errorf("%s event missing record", typ)
	}
	rec, err := DecodeRecord(we.Record)
	if err != nil {
		return nil, fmt.Errorf("%s event has invalid record: %w", typ, err)
	}
	return &Event{
		Type:    typ,
		Record:  rec,
		Kind:    rec.Kind,
		ID:      rec.ID,
		Version: rec.Version,
	}, nil
}

// DecodeRecord maps a server record payload into an internal Record.
// Remote records are authoritative copies, so Synced is set.
func DecodeRecord(payload []byte) (*Record, error) {
	var wr wireRecord
	if err := json.Unmarshal(payload, &wr); err != nil {
		return nil, fmt.Errorf("failed to parse record payload: %w", err)
	}

	rec := &Record{
		ID:          wr.ID,
		WorkspaceID: wr.WorkspaceID,
		Kind:        Kind(wr.Kind),
		Version:     wr.Version,
		Deleted:     wr.Deleted,
		Data:        wr.Data,
		Synced:      true,
	}
	if wr.DeletedAt != nil {
		t, err := parseServerTime(*wr.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid deletedAt: %w", err)
		}
		rec.DeletedAt = &t
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
