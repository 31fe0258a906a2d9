package ot

// Edit is a forward change and the operations that undo it.
type Edit struct {
	Ops     []Operation
	Inverse []Operation
}

// Empty reports whether the edit changes nothing.
func (e Edit) Empty() bool { return len(e.Ops) == 0 }

// Diff turns prev into next as a single replaced middle span: the longest
// common prefix and suffix are kept, the rest becomes a delete followed by an
// insert. Keystroke-sized edits come out minimal; large rewrites do not, which
// is fine for an editor that diffs on every change.
func Diff(prev, next string) Edit {
	if prev == next {
		return Edit{}
	}
	a, b := encode(prev), encode(next)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	if prefix > 0 && isHighSurrogate(a[prefix-1]) {
		prefix--
	}

	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	if suffix > 0 && isLowSurrogate(a[len(a)-suffix]) {
		suffix--
	}

	removed := decode(a[prefix : len(a)-suffix])
	added := decode(b[prefix : len(b)-suffix])

	var e Edit
	if removed != "" {
		e.Ops = append(e.Ops, Delete(prefix, len(a)-suffix-prefix))
	}
	if added != "" {
		e.Ops = append(e.Ops, Insert(prefix, added))
		e.Inverse = append(e.Inverse, Delete(prefix, len(b)-suffix-prefix))
	}
	if removed != "" {
		e.Inverse = append(e.Inverse, Insert(prefix, removed))
	}
	return e
}

func isHighSurrogate(u uint16) bool { return u >= 0xd800 && u < 0xdc00 }

func isLowSurrogate(u uint16) bool { return u >= 0xdc00 && u < 0xe000 }
