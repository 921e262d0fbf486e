package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/collab/internal/collab"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/rbac"
	"chronicle/collab/internal/store"
)

// stalledPublisher blocks every send until released.
type stalledPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	events  []collab.EventType
	closed  bool
}

func (p *stalledPublisher) Publish(ctx context.Context, event collab.Event) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.Type)
	return nil
}

func (p *stalledPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestDispatcherKeepsSlowBackendOffTheEditPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateBranch(ctx,
		store.Branch{ID: "b-main", DocumentID: "doc-1", Name: store.MainBranch, Status: store.BranchActive},
		store.Version{ID: "v-1", DocumentID: "doc-1", VersionNumber: 1, Content: "Hello"},
	))

	backend := &stalledPublisher{release: make(chan struct{})}
	opts := testDispatcherOptions()
	opts.SendTimeout = time.Minute
	d := NewDispatcher("redis", backend, opts, logging.Discard())

	cfg := collab.DefaultManagerConfig()
	cfg.LockTimeout = 200 * time.Millisecond
	manager := collab.NewManager(st, cfg, collab.WithPublisher(d), collab.WithLogger(logging.Discard()))

	joined, err := manager.Join(ctx, collab.JoinInput{DocumentID: "doc-1", UserID: "A", Role: rbac.RoleEditor})
	require.NoError(t, err)

	start := time.Now()
	_, err = manager.ApplyOperation(ctx, joined.Session.ID, ot.Operation{ID: "op-1", Type: ot.OpInsert, Position: 5, Content: "!", VectorClock: ot.VectorClock{"A": 1}})
	require.NoError(t, err)
	applied, err := manager.ApplyOperation(ctx, joined.Session.ID, ot.Operation{ID: "op-2", Type: ot.OpInsert, Position: 6, Content: "?", VectorClock: ot.VectorClock{"A": 2}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), cfg.LockTimeout)
	assert.Equal(t, "Hello!?", applied.State.Content)

	close(backend.release)
	require.NoError(t, d.Close())
	assert.Equal(t, []collab.EventType{collab.EventSessionJoined, collab.EventOperationApplied, collab.EventOperationApplied}, backend.events)
	assert.True(t, backend.closed)
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	backend := &stalledPublisher{release: make(chan struct{})}
	close(backend.release)
	d := NewDispatcher("redis", backend, testDispatcherOptions(), logging.Discard())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Publish(context.Background(), collab.Event{DocumentID: "doc-1"}), ErrDispatcherClosed)
}
