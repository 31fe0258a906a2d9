package client

import (
	"testing"

	"collab-sync/pkg/ot"
)

func entry(text string) Entry {
	return Entry{Ops: []ot.Operation{ot.Insert(0, text)}, Inverse: []ot.Operation{ot.Delete(0, len(text))}}
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory(0)
	if h.CanUndo() || h.CanRedo() {
		t.Fatal("new history should be empty")
	}

	h.Record(entry("a"))
	h.Record(entry("b"))

	e, ok := h.Undo()
	if !ok || e.Ops[0].Text != "b" {
		t.Fatalf("undo = %+v, %v", e, ok)
	}
	if !h.CanRedo() {
		t.Fatal("undo should enable redo")
	}
	e, ok = h.Redo()
	if !ok || e.Ops[0].Text != "b" {
		t.Fatalf("redo = %+v, %v", e, ok)
	}

	h.Undo()
	h.Record(entry("c"))
	if h.CanRedo() {
		t.Fatal("a new change must clear redo")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	h := NewHistory(3)
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		h.Record(entry(s))
	}

	var got []string
	for {
		e, ok := h.Undo()
		if !ok {
			break
		}
		got = append(got, e.Ops[0].Text)
	}
	if len(got) != 3 || got[0] != "5" || got[2] != "3" {
		t.Fatalf("undone %v, want [5 4 3]", got)
	}
	if _, ok := h.Undo(); ok {
		t.Fatal("undo past the limit should fail")
	}
}
