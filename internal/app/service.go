// Package app exposes the collaboration core to callers: a facade that
// checks the caller's role before delegating, and the JSON HTTP surface.
package app

import (
	"context"
	"log/slog"
	"strings"

	"chronicle/collab/internal/collab"
	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/gitrepo"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/merge"
	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/rbac"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/versioning"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string    `json:"userId"`
	Role   rbac.Role `json:"role"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// CommitLog reads the git mirror of a branch.
type CommitLog interface {
	History(documentID, branchName string, limit int) ([]gitrepo.CommitInfo, error)
}

// EventFeed replays recently broadcast events of a document.
type EventFeed interface {
	Recent(ctx context.Context, documentID string, limit int64) ([]collab.Event, error)
}

// Deps wires the services. Checks, Commits, Events and Logger are optional.
type Deps struct {
	Sessions *collab.Manager
	Versions *versioning.Service
	Merges   *merge.Engine
	Checks   map[string]Pinger
	Commits  CommitLog
	Events   EventFeed
	Logger   *slog.Logger
}

type Service struct {
	sessions *collab.Manager
	versions *versioning.Service
	merges   *merge.Engine
	checks   map[string]Pinger
	commits  CommitLog
	events   EventFeed
	logger   *slog.Logger
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		sessions: deps.Sessions,
		versions: deps.Versions,
		merges:   deps.Merges,
		checks:   deps.Checks,
		commits:  deps.Commits,
		events:   deps.Events,
		logger:   logger.With("component", "app"),
	}
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) require(actor Actor, action rbac.Action) error {
	if strings.TrimSpace(actor.UserID) == "" || !rbac.Can(actor.Role, action) {
		return domainerr.PermissionDenied.With(map[string]any{"action": action})
	}
	return nil
}

// Health pings every configured dependency and reports each result.
func (s *Service) Health(ctx context.Context) (bool, map[string]string) {
	healthy := true
	checks := make(map[string]string, len(s.checks))
	for name, pinger := range s.checks {
		if err := pinger.Ping(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	return healthy, checks
}

func (s *Service) InitDocument(ctx context.Context, actor Actor, documentID, content string) (store.Branch, store.Version, error) {
	if err := s.require(actor, rbac.ActionEdit); err != nil {
		return store.Branch{}, store.Version{}, err
	}
	return s.versions.InitDocument(ctx, versioning.InitDocumentInput{DocumentID: documentID, Content: content, CreatedBy: actor.UserID})
}

// Live sessions.

func (s *Service) JoinSession(ctx context.Context, actor Actor, documentID, branchName string) (collab.JoinResult, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return collab.JoinResult{}, err
	}
	return s.sessions.Join(ctx, collab.JoinInput{
		DocumentID: documentID,
		BranchName: branchName,
		UserID:     actor.UserID,
		Role:       actor.Role,
	})
}

// ownSession rejects callers acting on another user's session.
func (s *Service) ownSession(actor Actor, sessionID string) error {
	session, ok := s.sessions.Session(sessionID)
	if !ok {
		return domainerr.SessionNotFound
	}
	if session.UserID != actor.UserID {
		return domainerr.PermissionDenied.Withf("session belongs to another user")
	}
	return nil
}

func (s *Service) LeaveSession(ctx context.Context, actor Actor, sessionID string) error {
	if err := s.ownSession(actor, sessionID); err != nil {
		return err
	}
	return s.sessions.Leave(ctx, sessionID)
}

func (s *Service) ApplyOperation(ctx context.Context, actor Actor, sessionID string, op ot.Operation) (collab.AppliedOperation, error) {
	if err := s.ownSession(actor, sessionID); err != nil {
		return collab.AppliedOperation{}, err
	}
	return s.sessions.ApplyOperation(ctx, sessionID, op)
}

func (s *Service) Acknowledge(ctx context.Context, actor Actor, sessionID string, operationIDs []string) (int, error) {
	if err := s.ownSession(actor, sessionID); err != nil {
		return 0, err
	}
	return s.sessions.Acknowledge(ctx, sessionID, operationIDs)
}

func (s *Service) SessionState(ctx context.Context, actor Actor, sessionID string) (collab.DocumentState, error) {
	if err := s.ownSession(actor, sessionID); err != nil {
		return collab.DocumentState{}, err
	}
	return s.sessions.Snapshot(ctx, sessionID)
}

func (s *Service) RecentEvents(ctx context.Context, actor Actor, documentID string, limit int64) ([]collab.Event, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []collab.Event{}, nil
	}
	return s.events.Recent(ctx, documentID, limit)
}

// Branches and versions.

func (s *Service) ListBranches(ctx context.Context, actor Actor, documentID string) ([]store.Branch, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.versions.ListBranches(ctx, documentID)
}

func (s *Service) CreateBranch(ctx context.Context, actor Actor, input versioning.CreateBranchInput) (store.Branch, error) {
	if err := s.require(actor, rbac.ActionBranch); err != nil {
		return store.Branch{}, err
	}
	input.CreatedBy = actor.UserID
	return s.versions.CreateBranch(ctx, input)
}

func (s *Service) DeleteBranch(ctx context.Context, actor Actor, branchID string, force bool) (store.Branch, error) {
	action := rbac.ActionBranch
	if force {
		action = rbac.ActionAdmin
	}
	if err := s.require(actor, action); err != nil {
		return store.Branch{}, err
	}
	return s.versions.DeleteBranch(ctx, versioning.DeleteBranchInput{BranchID: branchID, Force: force})
}

func (s *Service) VersionHistory(ctx context.Context, actor Actor, branchID string, limit int) ([]store.Version, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.versions.GetVersionHistory(ctx, branchID, limit)
}

func (s *Service) CreateVersion(ctx context.Context, actor Actor, input versioning.CreateVersionInput) (store.Version, error) {
	if err := s.require(actor, rbac.ActionEdit); err != nil {
		return store.Version{}, err
	}
	input.CreatedBy = actor.UserID
	return s.versions.CreateVersion(ctx, input)
}

// BranchCommits lists the git mirror history of a branch. It is empty when
// no mirror is configured.
func (s *Service) BranchCommits(ctx context.Context, actor Actor, branchID string, limit int) ([]gitrepo.CommitInfo, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return nil, err
	}
	branch, err := s.versions.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if s.commits == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	return s.commits.History(branch.DocumentID, branch.Name, limit)
}

func (s *Service) SearchVersions(ctx context.Context, actor Actor, documentID, text string, limit int) (search.Response, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	return s.versions.SearchVersions(ctx, documentID, text, limit), nil
}

// Merges.

func (s *Service) DetectConflicts(ctx context.Context, actor Actor, sourceBranchID, targetBranchID string) ([]store.Conflict, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.merges.DetectConflicts(ctx, sourceBranchID, targetBranchID)
}

func (s *Service) CreateMergeRequest(ctx context.Context, actor Actor, input merge.CreateMergeRequestInput) (store.MergeRequest, []store.Conflict, error) {
	if err := s.require(actor, rbac.ActionBranch); err != nil {
		return store.MergeRequest{}, nil, err
	}
	input.CreatedBy = actor.UserID
	return s.merges.CreateMergeRequest(ctx, input)
}

func (s *Service) GetMergeRequest(ctx context.Context, actor Actor, id string) (store.MergeRequest, []store.Conflict, error) {
	if err := s.require(actor, rbac.ActionRead); err != nil {
		return store.MergeRequest{}, nil, err
	}
	request, err := s.merges.GetMergeRequest(ctx, id)
	if err != nil {
		return store.MergeRequest{}, nil, err
	}
	conflicts, err := s.merges.ListConflicts(ctx, id)
	if err != nil {
		return store.MergeRequest{}, nil, err
	}
	return request, conflicts, nil
}

func (s *Service) ApproveMergeRequest(ctx context.Context, actor Actor, id string) (store.MergeRequest, error) {
	if err := s.require(actor, rbac.ActionApprove); err != nil {
		return store.MergeRequest{}, err
	}
	return s.merges.ApproveMergeRequest(ctx, id, actor.UserID)
}

func (s *Service) CloseMergeRequest(ctx context.Context, actor Actor, id string) (store.MergeRequest, error) {
	if err := s.require(actor, rbac.ActionBranch); err != nil {
		return store.MergeRequest{}, err
	}
	return s.merges.CloseMergeRequest(ctx, id)
}

func (s *Service) MergeMergeRequest(ctx context.Context, actor Actor, id string, strategy merge.Strategy) (merge.MergeResult, error) {
	if err := s.require(actor, rbac.ActionMerge); err != nil {
		return merge.MergeResult{}, err
	}
	return s.merges.MergeMergeRequest(ctx, merge.MergeInput{MergeRequestID: id, Strategy: strategy, MergedBy: actor.UserID})
}

func (s *Service) ResolveConflict(ctx context.Context, actor Actor, input merge.ResolveInput) (store.Conflict, error) {
	if err := s.require(actor, rbac.ActionResolve); err != nil {
		return store.Conflict{}, err
	}
	input.ResolvedBy = actor.UserID
	return s.merges.ResolveConflict(ctx, input)
}

func (s *Service) SuggestResolution(ctx context.Context, actor Actor, conflictID string) (string, error) {
	if err := s.require(actor, rbac.ActionResolve); err != nil {
		return "", err
	}
	return s.merges.SuggestResolution(ctx, conflictID)
}
