package ot

import (
	"fmt"
	"strings"
)

// Apply splices op into content. Retain, format and attribute carry no text
// change in this model, so they are accepted even when a concurrent delete
// has shortened the text under them.
func Apply(content string, op Operation) (string, error) {
	switch op.Type {
	case OpInsert:
		if op.Content == "" {
			return content, nil
		}
		runes := []rune(content)
		if op.Position > len(runes) {
			return "", fmt.Errorf("insert at %d out of range (length %d)", op.Position, len(runes))
		}
		var b strings.Builder
		b.Grow(len(content) + len(op.Content))
		b.WriteString(string(runes[:op.Position]))
		b.WriteString(op.Content)
		b.WriteString(string(runes[op.Position:]))
		return b.String(), nil
	case OpDelete:
		if op.Length == 0 {
			return content, nil
		}
		runes := []rune(content)
		end := op.Position + op.Length
		if end > len(runes) {
			return "", fmt.Errorf("delete [%d,%d) out of range (length %d)", op.Position, end, len(runes))
		}
		return string(runes[:op.Position]) + string(runes[end:]), nil
	case OpRetain, OpFormat, OpAttribute:
		return content, nil
	default:
		return "", fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// ApplyAll applies ops in order.
func ApplyAll(content string, ops []Operation) (string, error) {
	var err error
	for _, op := range ops {
		content, err = Apply(content, op)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}
