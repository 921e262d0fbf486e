package util

import "github.com/google/uuid"

// NewID returns a random identifier, optionally namespaced by prefix.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
