package model

import (
	"encoding/json"
	"testing"
)

// TestKind_Valid tests kind validation
func TestKind_Valid(t *testing.T) {
	valid := []Kind{KindCard, KindCollection, KindEvent}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("Kind %q should be valid", k)
		}
	}

	invalid := []Kind{"", "note", "CARD", "cards"}
	for _, k := range invalid {
		if k.Valid() {
			t.Errorf("Kind %q should be invalid", k)
		}
	}
}

// TestRecord_Validate tests record validation
func TestRecord_Validate(t *testing.T) {
	rec := &Record{
		ID:          "r1",
		WorkspaceID: "ws1",
		Kind:        KindCard,
		Data:        json.RawMessage(`{"title":"hello"}`),
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate() failed on valid record: %v", err)
	}

	missing := &Record{Kind: KindCard}
	if err := missing.Validate(); err == nil {
		t.Error("Validate() should fail without an id")
	}

	badKind := &Record{ID: "r1", WorkspaceID: "ws1", Kind: "note"}
	if err := badKind.Validate(); err == nil {
		t.Error("Validate() should fail on unknown kind")
	}
}

// TestRecord_Clone tests that clones are independent
func TestRecord_Clone(t *testing.T) {
	rec := &Record{
		ID:          "r1",
		WorkspaceID: "ws1",
		Kind:        KindCard,
		Version:     3,
		Data:        json.RawMessage(`{"title":"a"}`),
	}
	clone := rec.Clone()

	clone.Data[2] = 'X'
	if string(rec.Data) == string(clone.Data) {
		t.Error("Clone() shares the data buffer with the original")
	}
	if clone.Version != 3 || clone.ID != "r1" {
		t.Errorf("Clone() lost fields: %+v", clone)
	}
}

// TestMergePatch_Basic tests field-level patch merging
func TestMergePatch_Basic(t *testing.T) {
	a := json.RawMessage(`{"title":"old","url":"http://x"}`)
	b := json.RawMessage(`{"title":"new","pinned":true}`)

	merged, err := MergePatch(a, b)
	if err != nil {
		t.Fatalf("MergePatch() failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("merged payload is not valid JSON: %v", err)
	}
	if got["title"] != "new" {
		t.Errorf("title = %v, want new", got["title"])
	}
	if got["url"] != "http://x" {
		t.Errorf("url = %v, want untouched field preserved", got["url"])
	}
	if got["pinned"] != true {
		t.Errorf("pinned = %v, want true", got["pinned"])
	}
}

// TestMergePatch_Empty tests merging with empty sides
func TestMergePatch_Empty(t *testing.T) {
	b := json.RawMessage(`{"title":"x"}`)

	merged, err := MergePatch(nil, b)
	if err != nil {
		t.Fatalf("MergePatch(nil, b) failed: %v", err)
	}
	if string(merged) != string(b) {
		t.Errorf("MergePatch(nil, b) = %s, want %s", merged, b)
	}

	merged, err = MergePatch(b, nil)
	if err != nil {
		t.Fatalf("MergePatch(b, nil) failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("merged payload is not valid JSON: %v", err)
	}
	if got["title"] != "x" {
		t.Errorf("title = %v, want x", got["title"])
	}
}

// TestOperation_Valid tests operation validation
func TestOperation_Valid(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		if !op.Valid() {
			t.Errorf("Operation %q should be valid", op)
		}
	}
	if Operation("upsert").Valid() {
		t.Error("Operation upsert should be invalid")
	}
}
