// Package snapshot archives live collaboration state between sessions.
package snapshot

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"chronicle/collab/internal/collab"
)

const formatVersion = 1

type envelope struct {
	Format     int                  `json:"format"`
	DocumentID string               `json:"documentId"`
	BranchID   string               `json:"branchId"`
	ArchivedAt time.Time            `json:"archivedAt"`
	State      collab.DocumentState `json:"state"`
}

// ObjectKey is where a document branch's snapshot lives.
func ObjectKey(documentID, branchID string) string {
	return path.Join("snapshots", documentID, branchID+".json")
}

func encode(documentID, branchID string, state collab.DocumentState, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(envelope{
		Format:     formatVersion,
		DocumentID: documentID,
		BranchID:   branchID,
		ArchivedAt: now.UTC(),
		State:      state,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return payload, nil
}

func decode(payload []byte) (collab.DocumentState, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return collab.DocumentState{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if env.Format != formatVersion {
		return collab.DocumentState{}, fmt.Errorf("unsupported snapshot format %d", env.Format)
	}
	return env.State, nil
}
