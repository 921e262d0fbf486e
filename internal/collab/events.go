package collab

import (
	"context"
	"time"

	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/store"
)

type EventType string

const (
	EventOperationApplied EventType = "operation.applied"
	EventSessionJoined    EventType = "session.joined"
	EventSessionLeft      EventType = "session.left"
	// EventSessionResync tells every member to drop local state and rejoin.
	EventSessionResync EventType = "session.resync"
)

type Event struct {
	Type       EventType        `json:"type"`
	DocumentID string           `json:"documentId"`
	BranchID   string           `json:"branchId"`
	SessionID  string           `json:"sessionId,omitempty"`
	UserID     string           `json:"userId,omitempty"`
	Operation  *ot.Operation    `json:"operation,omitempty"`
	NewState   *DocumentState   `json:"newState,omitempty"`
	Conflicts  []store.Conflict `json:"conflicts,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Publisher delivers events to every member of a document. Delivery is
// best effort; errors are logged by the caller and never fail an edit.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SnapshotStore archives live state when a context is torn down.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, documentID, branchID string, state DocumentState) error
	// LoadSnapshot reports false when nothing was archived.
	LoadSnapshot(ctx context.Context, documentID, branchID string) (DocumentState, bool, error)
}

// Store is the slice of the persistence port live collaboration needs.
type Store interface {
	// SaveOperation persists op and the conflicts it raised atomically.
	SaveOperation(ctx context.Context, op ot.Operation, conflicts ...store.Conflict) error
	LoadBranch(ctx context.Context, branchID string) (store.Branch, error)
	LoadBranchByName(ctx context.Context, documentID, name string) (store.Branch, error)
	LoadLatestVersion(ctx context.Context, branchID string) (store.Version, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopSnapshots struct{}

func (nopSnapshots) SaveSnapshot(context.Context, string, string, DocumentState) error { return nil }

func (nopSnapshots) LoadSnapshot(context.Context, string, string) (DocumentState, bool, error) {
	return DocumentState{}, false, nil
}
