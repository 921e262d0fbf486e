// Package collab runs live editing: one TransformContext per actively edited
// document branch, serialized by a per-document lock.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/rbac"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

type Session struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	BranchID   string    `json:"branchId"`
	UserID     string    `json:"userId"`
	Role       rbac.Role `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
}

type JoinInput struct {
	DocumentID string
	BranchName string
	UserID     string
	Role       rbac.Role
}

type JoinResult struct {
	Session Session       `json:"session"`
	State   DocumentState `json:"state"`
}

type AppliedOperation struct {
	Operation ot.Operation     `json:"operation"`
	State     DocumentState    `json:"state"`
	Conflicts []store.Conflict `json:"conflicts"`
	Duplicate bool             `json:"duplicate"`
}

type ManagerConfig struct {
	LockTimeout time.Duration
	Context     ContextConfig
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{LockTimeout: 5 * time.Second, Context: DefaultContextConfig()}
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

func WithSnapshots(s SnapshotStore) Option {
	return func(m *Manager) {
		if s != nil {
			m.snapshots = s
		}
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(m *Manager) {
		if a != nil {
			m.authorizer = a
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type docKey struct {
	documentID string
	branchID   string
}

// liveDocument is guarded by lock, a one-slot semaphore so waiters can
// give up after LockTimeout. closed is set once the context is torn down;
// holders of a stale pointer must look the document up again.
type liveDocument struct {
	key      docKey
	lock     chan struct{}
	tc       *TransformContext
	sessions map[string]struct{}
	closed   bool
}

type Manager struct {
	store      Store
	publisher  Publisher
	snapshots  SnapshotStore
	authorizer Authorizer
	logger     *slog.Logger
	cfg        ManagerConfig
	now        func() time.Time

	mu       sync.Mutex
	docs     map[docKey]*liveDocument
	sessions map[string]Session
}

func NewManager(st Store, cfg ManagerConfig, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		publisher:  nopPublisher{},
		snapshots:  nopSnapshots{},
		authorizer: RoleAuthorizer{},
		logger:     slog.Default(),
		cfg:        cfg,
		now:        time.Now,
		docs:       make(map[docKey]*liveDocument),
		sessions:   make(map[string]Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join registers a session. The first session on a document branch creates
// its TransformContext from the archived snapshot when that snapshot is
// based on the current head, otherwise from the head version.
func (m *Manager) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	if in.DocumentID == "" || in.UserID == "" {
		return JoinResult{}, domainerr.InvalidInput.Withf("documentId and userId are required")
	}
	name := in.BranchName
	if name == "" {
		name = store.MainBranch
	}
	branch, err := m.store.LoadBranchByName(ctx, in.DocumentID, name)
	if errors.Is(err, store.ErrNotFound) {
		return JoinResult{}, domainerr.BranchNotFound.Withf("branch %q not found", name)
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("load branch: %w", err)
	}
	if branch.Status == store.BranchAbandoned {
		return JoinResult{}, domainerr.BranchAbandoned
	}

	key := docKey{documentID: in.DocumentID, branchID: branch.ID}
	doc, err := m.acquireLive(ctx, key)
	if err != nil {
		return JoinResult{}, err
	}
	defer m.release(doc)

	if doc.tc == nil {
		state, err := m.initialState(ctx, branch)
		if err != nil {
			m.dropIfEmpty(doc)
			return JoinResult{}, err
		}
		doc.tc = NewTransformContext(in.DocumentID, branch.ID, state, m.cfg.Context)
		doc.tc.SetLogger(m.logger)
	}

	session := Session{
		ID:         util.NewID("sess"),
		DocumentID: in.DocumentID,
		BranchID:   branch.ID,
		UserID:     in.UserID,
		Role:       in.Role,
		JoinedAt:   m.now().UTC(),
	}
	doc.sessions[session.ID] = struct{}{}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	state := doc.tc.State()
	m.publish(ctx, Event{
		Type:       EventSessionJoined,
		DocumentID: session.DocumentID,
		BranchID:   session.BranchID,
		SessionID:  session.ID,
		UserID:     session.UserID,
	})
	m.logger.Info("session joined", "document_id", session.DocumentID, "branch_id", session.BranchID, "session_id", session.ID, "user_id", session.UserID)
	return JoinResult{Session: session, State: state}, nil
}

// Leave removes a session. The last leave archives the live state and
// destroys the context.
func (m *Manager) Leave(ctx context.Context, sessionID string) error {
	session, doc, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := m.lock(ctx, doc); err != nil {
		return err
	}
	defer m.release(doc)
	if doc.closed {
		return domainerr.SessionNotFound
	}

	delete(doc.sessions, sessionID)
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.publish(ctx, Event{
		Type:       EventSessionLeft,
		DocumentID: session.DocumentID,
		BranchID:   session.BranchID,
		SessionID:  session.ID,
		UserID:     session.UserID,
	})
	if len(doc.sessions) == 0 {
		m.archive(ctx, doc)
		m.teardown(doc)
		m.logger.Info("transform context destroyed", "document_id", session.DocumentID, "branch_id", session.BranchID)
	}
	return nil
}

// ApplyOperation transforms op against concurrent pending operations,
// persists it and applies it to the live state, in that order.
func (m *Manager) ApplyOperation(ctx context.Context, sessionID string, op ot.Operation) (AppliedOperation, error) {
	session, doc, err := m.lookup(sessionID)
	if err != nil {
		return AppliedOperation{}, err
	}
	if err := m.authorizer.AuthorizeEdit(ctx, session); err != nil {
		if errors.Is(err, domainerr.PermissionDenied) {
			return AppliedOperation{}, err
		}
		return AppliedOperation{}, domainerr.PermissionDenied.Wrap(err)
	}
	if op.DocumentID == "" {
		op.DocumentID = session.DocumentID
	}
	if op.AuthorID == "" {
		op.AuthorID = session.UserID
	}
	if op.AuthorID != session.UserID {
		return AppliedOperation{}, domainerr.InvalidOperation.Withf("operation author %q does not match session user", op.AuthorID)
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = m.now().UTC()
	}

	if err := m.lock(ctx, doc); err != nil {
		return AppliedOperation{}, err
	}
	defer m.release(doc)
	if doc.closed {
		return AppliedOperation{}, domainerr.SessionNotFound
	}

	prepared, err := doc.tc.Prepare(op)
	if errors.Is(err, domainerr.TransformDivergence) {
		m.diverged(ctx, doc, op, err)
		return AppliedOperation{}, err
	}
	if err != nil {
		return AppliedOperation{}, err
	}
	if prepared.Duplicate {
		return AppliedOperation{Operation: op, State: prepared.State, Duplicate: true}, nil
	}

	if err := m.store.SaveOperation(ctx, prepared.Transformed, prepared.Conflicts...); err != nil {
		return AppliedOperation{}, fmt.Errorf("save operation: %w", err)
	}
	doc.tc.Commit(prepared)

	transformed := prepared.Transformed
	state := prepared.State
	m.publish(ctx, Event{
		Type:       EventOperationApplied,
		DocumentID: session.DocumentID,
		BranchID:   session.BranchID,
		SessionID:  session.ID,
		UserID:     session.UserID,
		Operation:  &transformed,
		NewState:   &state,
		Conflicts:  prepared.Conflicts,
	})
	if len(prepared.Conflicts) > 0 {
		m.logger.Info("operation collided", "document_id", session.DocumentID, "operation_id", op.ID, "conflicts", len(prepared.Conflicts))
	}
	return AppliedOperation{Operation: transformed, State: state, Conflicts: prepared.Conflicts}, nil
}

// Acknowledge marks pending operations as delivered to the session's client.
func (m *Manager) Acknowledge(ctx context.Context, sessionID string, operationIDs []string) (int, error) {
	_, doc, err := m.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	if err := m.lock(ctx, doc); err != nil {
		return 0, err
	}
	defer m.release(doc)
	if doc.closed {
		return 0, domainerr.SessionNotFound
	}
	return doc.tc.Acknowledge(operationIDs), nil
}

// Snapshot returns a read-consistent copy of the live state of a session's
// document branch.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (DocumentState, error) {
	_, doc, err := m.lookup(sessionID)
	if err != nil {
		return DocumentState{}, err
	}
	if err := m.lock(ctx, doc); err != nil {
		return DocumentState{}, err
	}
	defer m.release(doc)
	if doc.closed {
		return DocumentState{}, domainerr.SessionNotFound
	}
	return doc.tc.State(), nil
}

func (m *Manager) Session(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	return session, ok
}

// ActiveDocuments reports how many document branches have a live context.
func (m *Manager) ActiveDocuments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Close archives every live context. Used on shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	docs := make([]*liveDocument, 0, len(m.docs))
	for _, doc := range m.docs {
		docs = append(docs, doc)
	}
	m.mu.Unlock()

	for _, doc := range docs {
		if err := m.lock(ctx, doc); err != nil {
			m.logger.Warn("skip archive on close", "document_id", doc.key.documentID, "error", err)
			continue
		}
		if !doc.closed {
			m.archive(ctx, doc)
			m.teardown(doc)
		}
		m.release(doc)
	}
}

func (m *Manager) initialState(ctx context.Context, branch store.Branch) (DocumentState, error) {
	head, err := m.store.LoadLatestVersion(ctx, branch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return DocumentState{}, domainerr.VersionNotFound.Withf("branch %q has no head version", branch.Name)
	}
	if err != nil {
		return DocumentState{}, fmt.Errorf("load head version: %w", err)
	}
	snapshot, ok, err := m.snapshots.LoadSnapshot(ctx, branch.DocumentID, branch.ID)
	if err != nil {
		m.logger.Warn("load snapshot failed", "document_id", branch.DocumentID, "branch_id", branch.ID, "error", err)
	}
	if err == nil && ok && snapshot.BaseVersionID == head.ID && snapshot.Checksum == util.Checksum(snapshot.Content) {
		return snapshot, nil
	}
	return NewDocumentState(head.Content, head.ID), nil
}

func (m *Manager) lookup(sessionID string) (Session, *liveDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, nil, domainerr.SessionNotFound
	}
	doc, ok := m.docs[docKey{documentID: session.DocumentID, branchID: session.BranchID}]
	if !ok {
		return Session{}, nil, domainerr.SessionNotFound
	}
	return session, doc, nil
}

// acquireLive returns the locked live document for key, creating it when
// absent and retrying when it was torn down while we waited.
func (m *Manager) acquireLive(ctx context.Context, key docKey) (*liveDocument, error) {
	for {
		m.mu.Lock()
		doc, ok := m.docs[key]
		if !ok {
			doc = &liveDocument{
				key:      key,
				lock:     make(chan struct{}, 1),
				sessions: make(map[string]struct{}),
			}
			m.docs[key] = doc
		}
		m.mu.Unlock()

		if err := m.lock(ctx, doc); err != nil {
			return nil, err
		}
		if !doc.closed {
			return doc, nil
		}
		m.release(doc)
	}
}

func (m *Manager) lock(ctx context.Context, doc *liveDocument) error {
	timer := time.NewTimer(m.cfg.LockTimeout)
	defer timer.Stop()
	select {
	case doc.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return domainerr.Busy.Withf("timed out after %s waiting for document %s", m.cfg.LockTimeout, doc.key.documentID)
	case <-ctx.Done():
		return domainerr.Busy.Wrap(ctx.Err())
	}
}

func (m *Manager) release(doc *liveDocument) {
	<-doc.lock
}

// dropIfEmpty removes a document entry whose context never initialized.
// Caller holds doc.lock.
func (m *Manager) dropIfEmpty(doc *liveDocument) {
	if doc.tc == nil && len(doc.sessions) == 0 {
		m.teardown(doc)
	}
}

// teardown detaches doc and all of its sessions. Caller holds doc.lock.
func (m *Manager) teardown(doc *liveDocument) {
	doc.closed = true
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[doc.key] == doc {
		delete(m.docs, doc.key)
	}
	for id := range doc.sessions {
		delete(m.sessions, id)
	}
	doc.sessions = map[string]struct{}{}
}

func (m *Manager) archive(ctx context.Context, doc *liveDocument) {
	if doc.tc == nil {
		return
	}
	if err := m.snapshots.SaveSnapshot(ctx, doc.key.documentID, doc.key.branchID, doc.tc.State()); err != nil {
		m.logger.Warn("archive snapshot failed", "document_id", doc.key.documentID, "branch_id", doc.key.branchID, "error", err)
	}
}

// diverged handles a TransformDivergence: the full context is logged, the
// state archived, members told to resync and the context destroyed.
// Caller holds doc.lock.
func (m *Manager) diverged(ctx context.Context, doc *liveDocument, op ot.Operation, cause error) {
	m.logger.Error("transform divergence",
		"document_id", doc.key.documentID,
		"branch_id", doc.key.branchID,
		"operation", op,
		"context", doc.tc.Dump(),
		"error", cause,
	)
	m.archive(ctx, doc)
	m.publish(ctx, Event{
		Type:       EventSessionResync,
		DocumentID: doc.key.documentID,
		BranchID:   doc.key.branchID,
	})
	m.teardown(doc)
}

func (m *Manager) publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now().UTC()
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("publish event failed", "type", event.Type, "document_id", event.DocumentID, "error", err)
	}
}
