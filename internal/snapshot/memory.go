package snapshot

import (
	"context"
	"sync"
	"time"

	"chronicle/collab/internal/collab"
)

// MemoryStore keeps encoded snapshots in process. Used when no object store
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, documentID, branchID string, state collab.DocumentState) error {
	payload, err := encode(documentID, branchID, state, time.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ObjectKey(documentID, branchID)] = payload
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, documentID, branchID string) (collab.DocumentState, bool, error) {
	s.mu.RLock()
	payload, ok := s.objects[ObjectKey(documentID, branchID)]
	s.mu.RUnlock()
	if !ok {
		return collab.DocumentState{}, false, nil
	}
	state, err := decode(payload)
	if err != nil {
		return collab.DocumentState{}, false, err
	}
	return state, true, nil
}
