// Package versioning owns the branch and version graph of a document.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/gitrepo"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

const maxCommitAttempts = 3

// Store is the persistence port the graph needs.
type Store interface {
	CreateBranch(ctx context.Context, branch store.Branch, initial store.Version) error
	LoadBranch(ctx context.Context, branchID string) (store.Branch, error)
	LoadBranchByName(ctx context.Context, documentID, name string) (store.Branch, error)
	ListBranches(ctx context.Context, documentID string) ([]store.Branch, error)
	UpdateBranchStatus(ctx context.Context, branchID string, status store.BranchStatus) error
	LoadVersion(ctx context.Context, versionID string) (store.Version, error)
	LoadLatestVersion(ctx context.Context, branchID string) (store.Version, error)
	ListVersions(ctx context.Context, branchID string, limit int) ([]store.Version, error)
	CommitVersion(ctx context.Context, version store.Version) error
	ListMergeRequests(ctx context.Context, branchID string, openOnly bool) ([]store.MergeRequest, error)
}

// Mirror receives every committed version. *gitrepo.Mirror satisfies it.
type Mirror interface {
	InitDocument(version store.Version) error
	EnsureBranch(documentID, branchName, fromBranch string) error
	CommitVersion(branchName string, version store.Version) (gitrepo.CommitInfo, error)
}

// Index makes versions searchable. *search.Service satisfies it.
type Index interface {
	IndexVersion(rec search.VersionRecord)
	Search(ctx context.Context, q search.Query) search.Response
}

type Config struct {
	MaxBranchDepth int
}

func DefaultConfig() Config {
	return Config{MaxBranchDepth: 10}
}

type Option func(*Service)

func WithMirror(mirror Mirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

func WithIndex(index Index) Option {
	return func(s *Service) { s.index = index }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store  Store
	mirror Mirror
	index  Index
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(st Store, cfg Config, opts ...Option) *Service {
	if cfg.MaxBranchDepth <= 0 {
		cfg.MaxBranchDepth = DefaultConfig().MaxBranchDepth
	}
	s := &Service{
		store:  st,
		cfg:    cfg,
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "versioning")
	return s
}

type InitDocumentInput struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	CreatedBy  string `json:"createdBy"`
}

// InitDocument creates the protected main branch with version 1. Calling it
// again returns the existing main branch and its head.
func (s *Service) InitDocument(ctx context.Context, input InitDocumentInput) (store.Branch, store.Version, error) {
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID == "" {
		return store.Branch{}, store.Version{}, domainerr.InvalidInput.Withf("documentId is required")
	}

	if branch, head, err := s.mainHead(ctx, documentID); err == nil {
		return branch, head, nil
	} else if !errors.Is(err, domainerr.BranchNotFound) {
		return store.Branch{}, store.Version{}, err
	}

	now := s.now()
	branch := store.Branch{
		ID:          util.NewID("br"),
		DocumentID:  documentID,
		Name:        store.MainBranch,
		IsProtected: true,
		Status:      store.BranchActive,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   now,
	}
	version := store.Version{
		ID:            util.NewID("ver"),
		DocumentID:    documentID,
		BranchID:      branch.ID,
		VersionNumber: 1,
		Content:       input.Content,
		Checksum:      util.Checksum(input.Content),
		CreatedBy:     input.CreatedBy,
		CommitMessage: "Initial version",
		CreatedAt:     now,
	}
	branch.LastCommitID = version.ID

	if err := s.store.CreateBranch(ctx, branch, version); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent init.
			return s.mainHead(ctx, documentID)
		}
		return store.Branch{}, store.Version{}, fmt.Errorf("create main branch: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.InitDocument(version); err != nil {
			s.logger.Warn("git mirror init failed", "document_id", documentID, "error", err)
		}
	}
	s.indexVersion(branch, version)
	s.logger.Info("document initialized", "document_id", documentID, "branch_id", branch.ID, "version_id", version.ID)
	return branch, version, nil
}

type CreateVersionInput struct {
	BranchID      string   `json:"branchId"`
	Content       string   `json:"content"`
	CommitMessage string   `json:"commitMessage"`
	OperationIDs  []string `json:"operationIds"`
	CreatedBy     string   `json:"createdBy"`
}

// CreateVersion appends a version to the branch and advances its head in
// one store write. A concurrent commit on the same branch is retried on top
// of the new head.
func (s *Service) CreateVersion(ctx context.Context, input CreateVersionInput) (store.Version, error) {
	branch, err := s.GetBranch(ctx, input.BranchID)
	if err != nil {
		return store.Version{}, err
	}
	if branch.Status == store.BranchAbandoned {
		return store.Version{}, domainerr.BranchAbandoned.With(map[string]any{"branchId": branch.ID})
	}

	var version store.Version
	for attempt := 1; ; attempt++ {
		head, err := s.store.LoadLatestVersion(ctx, branch.ID)
		if err != nil {
			return store.Version{}, mapNotFound(err, domainerr.VersionNotFound, "load branch head")
		}
		version = store.Version{
			ID:              util.NewID("ver"),
			DocumentID:      branch.DocumentID,
			BranchID:        branch.ID,
			VersionNumber:   head.VersionNumber + 1,
			Content:         input.Content,
			Checksum:        util.Checksum(input.Content),
			ParentVersionID: head.ID,
			OperationIDs:    append([]string(nil), input.OperationIDs...),
			CreatedBy:       input.CreatedBy,
			CommitMessage:   strings.TrimSpace(input.CommitMessage),
			CreatedAt:       s.now(),
		}
		err = s.store.CommitVersion(ctx, version)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStaleHead) && !errors.Is(err, store.ErrDuplicate) {
			return store.Version{}, fmt.Errorf("commit version: %w", err)
		}
		if attempt == maxCommitAttempts {
			return store.Version{}, domainerr.Busy.Wrap(err)
		}
	}

	s.Publish(branch, version)
	return version, nil
}

// Publish mirrors a committed version to git and the search index. Failures
// are logged and never surface to the caller.
func (s *Service) Publish(branch store.Branch, version store.Version) {
	if s.mirror != nil {
		if _, err := s.mirror.CommitVersion(branch.Name, version); err != nil {
			s.logger.Warn("git mirror commit failed",
				"document_id", version.DocumentID,
				"branch", branch.Name,
				"version_id", version.ID,
				"error", err,
			)
		}
	}
	s.indexVersion(branch, version)
}

func (s *Service) GetVersion(ctx context.Context, versionID string) (store.Version, error) {
	version, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return store.Version{}, mapNotFound(err, domainerr.VersionNotFound.With(map[string]any{"versionId": versionID}), "load version")
	}
	return version, nil
}

func (s *Service) LatestVersion(ctx context.Context, branchID string) (store.Version, error) {
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return store.Version{}, err
	}
	version, err := s.store.LoadLatestVersion(ctx, branchID)
	if err != nil {
		return store.Version{}, mapNotFound(err, domainerr.VersionNotFound, "load branch head")
	}
	return version, nil
}

// GetVersionHistory lists the branch's versions newest first.
func (s *Service) GetVersionHistory(ctx context.Context, branchID string, limit int) ([]store.Version, error) {
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, branchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *Service) SearchVersions(ctx context.Context, documentID, text string, limit int) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.index.Search(ctx, search.Query{Text: text, DocumentID: documentID, Limit: limit})
}

func (s *Service) indexVersion(branch store.Branch, version store.Version) {
	if s.index == nil {
		return
	}
	s.index.IndexVersion(search.VersionRecord{
		ID:            version.ID,
		DocumentID:    version.DocumentID,
		BranchID:      branch.ID,
		BranchName:    branch.Name,
		VersionNumber: version.VersionNumber,
		Content:       version.Content,
		CommitMessage: version.CommitMessage,
		CreatedBy:     version.CreatedBy,
		CreatedAt:     version.CreatedAt.Unix(),
	})
}

func (s *Service) mainHead(ctx context.Context, documentID string) (store.Branch, store.Version, error) {
	branch, err := s.store.LoadBranchByName(ctx, documentID, store.MainBranch)
	if err != nil {
		return store.Branch{}, store.Version{}, mapNotFound(err, domainerr.BranchNotFound, "load main branch")
	}
	head, err := s.store.LoadLatestVersion(ctx, branch.ID)
	if err != nil {
		return store.Branch{}, store.Version{}, mapNotFound(err, domainerr.VersionNotFound, "load main head")
	}
	return branch, head, nil
}

func mapNotFound(err error, notFound *domainerr.Error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%s: %w", action, err)
}
