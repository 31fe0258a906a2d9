package client

import "collab-sync/pkg/ot"

const DefaultHistoryLimit = 100

// Entry is one undoable change: the operations that made it and the
// operations that revert it.
type Entry struct {
	Ops     []ot.Operation
	Inverse []ot.Operation
}

// History holds bounded undo and redo stacks. When a stack is full the
// oldest entry is dropped.
type History struct {
	undo  []Entry
	redo  []Entry
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record pushes a fresh local change and clears the redo stack.
func (h *History) Record(e Entry) {
	h.undo = push(h.undo, e, h.limit)
	h.redo = h.redo[:0]
}

// Undo pops the most recent change and moves it to the redo stack. The
// caller applies its Inverse.
func (h *History) Undo() (Entry, bool) {
	var e Entry
	var ok bool
	h.undo, e, ok = pop(h.undo)
	if ok {
		h.redo = push(h.redo, e, h.limit)
	}
	return e, ok
}

// Redo pops the most recently undone change and moves it back to the undo
// stack. The caller applies its Ops.
func (h *History) Redo() (Entry, bool) {
	var e Entry
	var ok bool
	h.redo, e, ok = pop(h.redo)
	if ok {
		h.undo = push(h.undo, e, h.limit)
	}
	return e, ok
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

func (h *History) Clear() {
	h.undo = h.undo[:0]
	h.redo = h.redo[:0]
}

func push(stack []Entry, e Entry, limit int) []Entry {
	if len(stack) >= limit {
		copy(stack, stack[len(stack)-limit+1:])
		stack = stack[:limit-1]
	}
	return append(stack, e)
}

func pop(stack []Entry) ([]Entry, Entry, bool) {
	if len(stack) == 0 {
		return stack, Entry{}, false
	}
	e := stack[len(stack)-1]
	return stack[:len(stack)-1], e, true
}
