package ot

// Transform takes two operations generated concurrently against the same
// state and returns (a', b') where a' is a rewritten to apply after b and b'
// is b rewritten to apply after a. Applying b then a' yields the same content
// as applying a then b'.
//
// Rules:
//   - insert/insert: the insert ordered first by (AuthorID, ID) stays left
//     when both target the same position.
//   - insert/delete: offsets shift by the other's span. An insert strictly
//     inside the deleted range is clamped to the deletion start and absorbed:
//     it becomes an empty insert and the delete widens to cover it.
//   - delete/delete: each side only deletes what the other has not already
//     removed; a fully covered delete becomes a zero-length no-op.
//   - retain, format and attribute never shift offsets and are returned
//     unchanged, as is anything transformed against them.
func Transform(a, b Operation) (Operation, Operation) {
	return include(a, b), include(b, a)
}

// include rewrites op so it applies after other.
func include(op, other Operation) Operation {
	switch op.Type {
	case OpInsert:
		switch other.Type {
		case OpInsert:
			return insertAfterInsert(op, other)
		case OpDelete:
			return insertAfterDelete(op, other)
		case OpRetain, OpFormat, OpAttribute:
			return op.Clone()
		}
	case OpDelete:
		switch other.Type {
		case OpInsert:
			return deleteAfterInsert(op, other)
		case OpDelete:
			return deleteAfterDelete(op, other)
		case OpRetain, OpFormat, OpAttribute:
			return op.Clone()
		}
	case OpRetain, OpFormat, OpAttribute:
		switch other.Type {
		case OpInsert, OpDelete, OpRetain, OpFormat, OpAttribute:
			return op.Clone()
		}
	}
	// Unreachable for operations that pass Validate.
	return op.Clone()
}

func insertAfterInsert(op, other Operation) Operation {
	next := op.Clone()
	if other.Position < op.Position || (other.Position == op.Position && precedes(other, op)) {
		next.Position += other.Span()
	}
	return next
}

func insertAfterDelete(op, other Operation) Operation {
	next := op.Clone()
	switch {
	case op.Position <= other.Position:
	case op.Position >= other.End():
		next.Position -= other.Length
	default:
		next.Position = other.Position
		next.Content = ""
	}
	return next
}

func deleteAfterInsert(op, other Operation) Operation {
	next := op.Clone()
	switch {
	case other.Position <= op.Position:
		next.Position += other.Span()
	case other.Position >= op.End():
	default:
		next.Length += other.Span()
	}
	return next
}

func deleteAfterDelete(op, other Operation) Operation {
	next := op.Clone()
	left := minInt(op.End(), other.Position) - op.Position
	if left < 0 {
		left = 0
	}
	right := op.End() - maxInt(op.Position, other.End())
	if right < 0 {
		right = 0
	}
	switch {
	case op.Position <= other.Position:
	case op.Position >= other.End():
		next.Position -= other.Length
	default:
		next.Position = other.Position
	}
	next.Length = left + right
	return next
}

// TransformSequence transforms two operation lists generated against the
// same state. a' applies after all of b, b' applies after all of a.
func TransformSequence(a, b []Operation) ([]Operation, []Operation) {
	left := make([]Operation, len(a))
	for i := range a {
		left[i] = a[i].Clone()
	}
	right := make([]Operation, len(b))
	for i := range b {
		right[i] = b[i].Clone()
	}
	for i := range left {
		for j := range right {
			left[i], right[j] = Transform(left[i], right[j])
		}
	}
	return left, right
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
