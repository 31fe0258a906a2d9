// Package ot implements the text operations exchanged between editors and the
// pairwise transform that lets concurrent operations converge.
//
// Indexes and lengths count UTF-16 code units, the unit browsers use for
// string offsets, so positions computed by a web editor can be applied here
// without translation.
package ot

import (
	"fmt"
	"unicode/utf16"
)

// OpType tags an Operation as an insert or a delete.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// Operation is a primitive edit. Inserts carry Text, deletes carry Length.
type Operation struct {
	Type   OpType `json:"type"`
	Index  int    `json:"index"`
	Text   string `json:"text,omitempty"`
	Length int    `json:"length,omitempty"`
}

// Insert returns an insert of text at index.
func Insert(index int, text string) Operation {
	return Operation{Type: OpInsert, Index: index, Text: text}
}

// Delete returns a delete of length code units starting at index.
func Delete(index, length int) Operation {
	return Operation{Type: OpDelete, Index: index, Length: length}
}

// IsInsert reports whether op is an insert.
func (op Operation) IsInsert() bool { return op.Type == OpInsert }

// IsDelete reports whether op is a delete.
func (op Operation) IsDelete() bool { return op.Type == OpDelete }

// Span is the number of code units the operation adds or removes.
func (op Operation) Span() int {
	if op.IsInsert() {
		return Length(op.Text)
	}
	if op.Length < 0 {
		return 0
	}
	return op.Length
}

func (op Operation) String() string {
	if op.IsInsert() {
		return fmt.Sprintf("insert(%d,%q)", op.Index, op.Text)
	}
	return fmt.Sprintf("delete(%d,%d)", op.Index, op.Length)
}

// Validate rejects operations of unknown type. Positions and lengths are not
// checked: Apply clamps them, so out of range values are never an error.
func Validate(ops []Operation) error {
	for i, op := range ops {
		switch op.Type {
		case OpInsert, OpDelete:
		default:
			return fmt.Errorf("operation %d: unknown type %q", i, op.Type)
		}
	}
	return nil
}

// Length returns the length of s in UTF-16 code units.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func encode(s string) []uint16 { return utf16.Encode([]rune(s)) }

func decode(u []uint16) string { return string(utf16.Decode(u)) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Apply applies op to text. Out of range positions are clamped, never rejected.
func Apply(text string, op Operation) string {
	units := encode(text)
	start := clamp(op.Index, 0, len(units))

	if op.IsInsert() {
		if op.Text == "" {
			return text
		}
		out := make([]uint16, 0, len(units)+Length(op.Text))
		out = append(out, units[:start]...)
		out = append(out, encode(op.Text)...)
		out = append(out, units[start:]...)
		return decode(out)
	}

	end := clamp(start+op.Span(), start, len(units))
	if end == start {
		return text
	}
	out := make([]uint16, 0, len(units)-(end-start))
	out = append(out, units[:start]...)
	out = append(out, units[end:]...)
	return decode(out)
}

// ApplyAll applies ops to text in list order.
func ApplyAll(text string, ops []Operation) string {
	for _, op := range ops {
		text = Apply(text, op)
	}
	return text
}

// Effective resolves op against text: the clamped position and the exact text
// it inserts or removes. The pair is enough to replay or invert the operation.
func Effective(text string, op Operation) (position int, payload string) {
	units := encode(text)
	start := clamp(op.Index, 0, len(units))
	if op.IsInsert() {
		return start, op.Text
	}
	end := clamp(start+op.Span(), start, len(units))
	return start, decode(units[start:end])
}
