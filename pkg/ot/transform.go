package ot

// TieBreak orders the originators of two concurrent operations. A is the
// originator of the first argument to Transform, B of the second. When two
// inserts land on the same index the originator that sorts first goes first;
// empty or equal identifiers favour the first argument.
type TieBreak struct {
	A string
	B string
}

func (t TieBreak) aFirst() bool {
	if t.A == "" || t.B == "" {
		return true
	}
	return t.A <= t.B
}

func (t TieBreak) swap() TieBreak { return TieBreak{A: t.B, B: t.A} }

// Transform takes two operations generated against the same text and returns
// aPrime (a rebased onto b) and bPrime (b rebased onto a), such that
//
//	ApplyAll(text, []Operation{a, bPrime}) == ApplyAll(text, []Operation{b, aPrime})
//
// Transform is total: degenerate and overlapping ranges produce zero-length
// operations, never errors. Negative indexes are treated as 0, as Apply does.
func Transform(a, b Operation, tie TieBreak) (aPrime, bPrime Operation) {
	a.Index, b.Index = max(a.Index, 0), max(b.Index, 0)
	switch {
	case a.IsInsert() && b.IsInsert():
		return transformInserts(a, b, tie)
	case a.IsInsert():
		return transformInsertDelete(a, b)
	case b.IsInsert():
		bPrime, aPrime = Transform(b, a, tie.swap())
		return aPrime, bPrime
	default:
		return transformDeletes(a, b)
	}
}

func transformInserts(a, b Operation, tie TieBreak) (Operation, Operation) {
	if a.Index < b.Index || (a.Index == b.Index && tie.aFirst()) {
		b.Index += a.Span()
		return a, b
	}
	a.Index += b.Span()
	return a, b
}

// An insert strictly inside a concurrently deleted range is absorbed: it
// collapses to the delete's start with no text and the delete grows to cover
// what the insert added on the other side.
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	start := del.Index
	end := start + del.Span()
	n := ins.Span()

	switch {
	case ins.Index <= start:
		del.Index += n
	case ins.Index >= end:
		ins.Index -= del.Span()
	default:
		ins.Index = start
		ins.Text = ""
		del.Length = del.Span() + n
	}
	return ins, del
}

func transformDeletes(a, b Operation) (Operation, Operation) {
	aLen, bLen := a.Span(), b.Span()
	aStart, aEnd := a.Index, a.Index+aLen
	bStart, bEnd := b.Index, b.Index+bLen

	if aEnd <= bStart {
		b.Index -= aLen
		return a, b
	}
	if bEnd <= aStart {
		a.Index -= bLen
		return a, b
	}

	overlap := min(aEnd, bEnd) - max(aStart, bStart)
	start := min(aStart, bStart)
	a.Index, a.Length = start, aLen-overlap
	b.Index, b.Length = start, bLen-overlap
	return a, b
}

// TransformAll rebases two concurrent operation sequences onto each other.
// as and bs must both apply to the same text; the results satisfy
//
//	ApplyAll(ApplyAll(text, as), bsPrime) == ApplyAll(ApplyAll(text, bs), asPrime)
func TransformAll(as, bs []Operation, tie TieBreak) (asPrime, bsPrime []Operation) {
	asPrime = append([]Operation(nil), as...)
	bsPrime = append([]Operation(nil), bs...)
	for i := range asPrime {
		for j := range bsPrime {
			asPrime[i], bsPrime[j] = Transform(asPrime[i], bsPrime[j], tie)
		}
	}
	return asPrime, bsPrime
}
