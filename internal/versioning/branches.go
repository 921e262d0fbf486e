package versioning

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9\-_/]{1,255}$`)

func ValidBranchName(name string) bool {
	return branchNamePattern.MatchString(name)
}

type CreateBranchInput struct {
	DocumentID     string `json:"documentId"`
	Name           string `json:"name"`
	BaseBranchID   string `json:"baseBranchId"`
	CreatedBy      string `json:"createdBy"`
	IsProtected    bool   `json:"isProtected"`
	ReviewRequired bool   `json:"reviewRequired"`
}

// CreateBranch forks a branch off the base branch's head (main when no base
// is given). The new branch starts with its own copy of the head content.
func (s *Service) CreateBranch(ctx context.Context, input CreateBranchInput) (store.Branch, error) {
	name := input.Name
	if !ValidBranchName(name) {
		return store.Branch{}, domainerr.InvalidBranchName.With(map[string]any{"name": input.Name})
	}

	var base store.Branch
	var err error
	if input.BaseBranchID == "" {
		base, err = s.store.LoadBranchByName(ctx, input.DocumentID, store.MainBranch)
		if err != nil {
			return store.Branch{}, mapNotFound(err, domainerr.BranchNotFound.With(map[string]any{"documentId": input.DocumentID, "name": store.MainBranch}), "load main branch")
		}
	} else {
		base, err = s.GetBranch(ctx, input.BaseBranchID)
		if err != nil {
			return store.Branch{}, err
		}
	}
	if input.DocumentID != "" && base.DocumentID != input.DocumentID {
		return store.Branch{}, domainerr.InvalidInput.Withf("base branch %s belongs to another document", base.ID)
	}
	if base.Status == store.BranchAbandoned {
		return store.Branch{}, domainerr.BranchAbandoned.With(map[string]any{"branchId": base.ID})
	}

	depth, err := s.depth(ctx, base)
	if err != nil {
		return store.Branch{}, err
	}
	if depth+1 > s.cfg.MaxBranchDepth {
		return store.Branch{}, domainerr.MaxBranchDepthExceeded.With(map[string]any{"max": s.cfg.MaxBranchDepth, "baseDepth": depth})
	}

	if _, err := s.store.LoadBranchByName(ctx, base.DocumentID, name); err == nil {
		return store.Branch{}, domainerr.DuplicateBranchName.With(map[string]any{"name": name})
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Branch{}, fmt.Errorf("check branch name: %w", err)
	}

	head, err := s.store.LoadLatestVersion(ctx, base.ID)
	if err != nil {
		return store.Branch{}, mapNotFound(err, domainerr.VersionNotFound, "load base head")
	}

	now := s.now()
	branch := store.Branch{
		ID:             util.NewID("br"),
		DocumentID:     base.DocumentID,
		Name:           name,
		ParentBranchID: base.ID,
		IsProtected:    input.IsProtected,
		ReviewRequired: input.ReviewRequired,
		Status:         store.BranchActive,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      now,
	}
	initial := store.Version{
		ID:              util.NewID("ver"),
		DocumentID:      base.DocumentID,
		BranchID:        branch.ID,
		VersionNumber:   1,
		Content:         head.Content,
		Checksum:        util.Checksum(head.Content),
		ParentVersionID: head.ID,
		CreatedBy:       input.CreatedBy,
		CommitMessage:   fmt.Sprintf("Branch %s from %s", name, base.Name),
		CreatedAt:       now,
	}
	branch.LastCommitID = initial.ID

	if err := s.store.CreateBranch(ctx, branch, initial); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Branch{}, domainerr.DuplicateBranchName.With(map[string]any{"name": name})
		}
		return store.Branch{}, fmt.Errorf("create branch: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.EnsureBranch(branch.DocumentID, branch.Name, base.Name); err != nil {
			s.logger.Warn("git mirror branch failed", "document_id", branch.DocumentID, "branch", branch.Name, "error", err)
		}
	}
	s.Publish(branch, initial)
	s.logger.Info("branch created",
		"document_id", branch.DocumentID,
		"branch_id", branch.ID,
		"name", branch.Name,
		"base_branch_id", base.ID,
	)
	return branch, nil
}

type DeleteBranchInput struct {
	BranchID string `json:"branchId"`
	Force    bool   `json:"force"`
}

// DeleteBranch abandons a branch. Its versions stay readable.
func (s *Service) DeleteBranch(ctx context.Context, input DeleteBranchInput) (store.Branch, error) {
	branch, err := s.GetBranch(ctx, input.BranchID)
	if err != nil {
		return store.Branch{}, err
	}
	if branch.IsMain() {
		return store.Branch{}, domainerr.ProtectedBranch.Withf("the main branch cannot be deleted")
	}
	if branch.Status == store.BranchAbandoned {
		return branch, nil
	}
	if branch.IsProtected && !input.Force {
		return store.Branch{}, domainerr.ProtectedBranch.With(map[string]any{"branchId": branch.ID})
	}

	open, err := s.store.ListMergeRequests(ctx, branch.ID, true)
	if err != nil {
		return store.Branch{}, fmt.Errorf("list merge requests: %w", err)
	}
	if len(open) > 0 && !input.Force {
		ids := make([]string, 0, len(open))
		for _, request := range open {
			ids = append(ids, request.ID)
		}
		return store.Branch{}, domainerr.BranchInUse.With(map[string]any{"mergeRequestIds": ids})
	}

	if err := s.store.UpdateBranchStatus(ctx, branch.ID, store.BranchAbandoned); err != nil {
		return store.Branch{}, mapNotFound(err, domainerr.BranchNotFound, "abandon branch")
	}
	branch.Status = store.BranchAbandoned
	s.logger.Info("branch abandoned", "branch_id", branch.ID, "forced", input.Force, "open_merge_requests", len(open))
	return branch, nil
}

func (s *Service) GetBranch(ctx context.Context, branchID string) (store.Branch, error) {
	branch, err := s.store.LoadBranch(ctx, branchID)
	if err != nil {
		return store.Branch{}, mapNotFound(err, domainerr.BranchNotFound.With(map[string]any{"branchId": branchID}), "load branch")
	}
	return branch, nil
}

func (s *Service) GetBranchByName(ctx context.Context, documentID, name string) (store.Branch, error) {
	branch, err := s.store.LoadBranchByName(ctx, documentID, name)
	if err != nil {
		return store.Branch{}, mapNotFound(err, domainerr.BranchNotFound.With(map[string]any{"documentId": documentID, "name": name}), "load branch")
	}
	return branch, nil
}

func (s *Service) ListBranches(ctx context.Context, documentID string) ([]store.Branch, error) {
	branches, err := s.store.ListBranches(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

// depth counts parent hops from branch up to main, which has depth 0.
func (s *Service) depth(ctx context.Context, branch store.Branch) (int, error) {
	depth := 0
	current := branch
	for current.ParentBranchID != "" {
		depth++
		if depth > s.cfg.MaxBranchDepth {
			return depth, nil
		}
		parent, err := s.store.LoadBranch(ctx, current.ParentBranchID)
		if err != nil {
			return 0, mapNotFound(err, domainerr.BranchNotFound.With(map[string]any{"branchId": current.ParentBranchID}), "load parent branch")
		}
		current = parent
	}
	return depth, nil
}
