// Package ot holds the edit model shared by live collaboration and offline
// merges: operations, vector clocks and the pairwise transform matrix.
package ot

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

type OpType string

const (
	OpInsert    OpType = "insert"
	OpDelete    OpType = "delete"
	OpRetain    OpType = "retain"
	OpFormat    OpType = "format"
	OpAttribute OpType = "attribute"
)

// OpTypes lists every operation type in a fixed order.
var OpTypes = []OpType{OpInsert, OpDelete, OpRetain, OpFormat, OpAttribute}

func (t OpType) Valid() bool {
	switch t {
	case OpInsert, OpDelete, OpRetain, OpFormat, OpAttribute:
		return true
	default:
		return false
	}
}

// ShiftsText reports whether operations of this type change text offsets.
func (t OpType) ShiftsText() bool {
	return t == OpInsert || t == OpDelete
}

// Operation is a single edit. Position and Length count runes. Values are
// never mutated after creation; transforms return new values.
type Operation struct {
	ID          string         `json:"id"`
	Type        OpType         `json:"type"`
	DocumentID  string         `json:"documentId"`
	AuthorID    string         `json:"authorId"`
	Position    int            `json:"position"`
	Length      int            `json:"length,omitempty"`
	Content     string         `json:"content,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	VectorClock VectorClock    `json:"vectorClock"`
	Timestamp   time.Time      `json:"timestamp"`
}

var (
	errMissingID       = errors.New("operation id is required")
	errMissingAuthor   = errors.New("operation author is required")
	errMissingDocument = errors.New("operation document is required")
)

// Validate checks structural validity. Transform accepts any operation that
// passes Validate.
func (o Operation) Validate() error {
	if o.ID == "" {
		return errMissingID
	}
	if o.AuthorID == "" {
		return errMissingAuthor
	}
	if o.DocumentID == "" {
		return errMissingDocument
	}
	if !o.Type.Valid() {
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
	if o.Position < 0 {
		return fmt.Errorf("negative position %d", o.Position)
	}
	if o.Length < 0 {
		return fmt.Errorf("negative length %d", o.Length)
	}
	switch o.Type {
	case OpInsert:
		if o.Content == "" {
			return errors.New("insert requires content")
		}
	case OpDelete:
		if o.Length == 0 {
			return errors.New("delete requires a positive length")
		}
	case OpFormat, OpAttribute:
		if len(o.Attributes) == 0 {
			return fmt.Errorf("%s requires attributes", o.Type)
		}
	}
	return nil
}

// Span is the number of runes the operation covers: the inserted text for
// inserts, Length for everything else.
func (o Operation) Span() int {
	if o.Type == OpInsert {
		return utf8.RuneCountInString(o.Content)
	}
	return o.Length
}

// End is Position + Span.
func (o Operation) End() int {
	return o.Position + o.Span()
}

// IsNoop reports whether applying the operation cannot change content.
func (o Operation) IsNoop() bool {
	switch o.Type {
	case OpInsert:
		return o.Content == ""
	case OpDelete:
		return o.Length == 0
	default:
		return true
	}
}

// Clone returns a deep copy.
func (o Operation) Clone() Operation {
	next := o
	if o.VectorClock != nil {
		next.VectorClock = o.VectorClock.Clone()
	}
	if o.Attributes != nil {
		next.Attributes = make(map[string]any, len(o.Attributes))
		for k, v := range o.Attributes {
			next.Attributes[k] = v
		}
	}
	return next
}

// precedes is the strict total order used to break ties between concurrent
// inserts at the same position: lower (AuthorID, ID) goes first.
func precedes(a, b Operation) bool {
	if a.AuthorID != b.AuthorID {
		return a.AuthorID < b.AuthorID
	}
	return a.ID < b.ID
}
