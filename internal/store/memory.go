package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chronicle/collab/internal/ot"
)

// MemoryStore keeps the whole graph in process. Every compound write runs
// under one lock, which gives it the same atomicity as the SQL transactions
// in PostgresStore.
type MemoryStore struct {
	mu            sync.RWMutex
	operations    []ot.Operation
	branches      map[string]Branch
	versions      map[string]Version
	mergeRequests map[string]MergeRequest
	conflicts     map[string]Conflict
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		branches:      make(map[string]Branch),
		versions:      make(map[string]Version),
		mergeRequests: make(map[string]MergeRequest),
		conflicts:     make(map[string]Conflict),
		now:           time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// SaveOperation stores op together with the conflicts it raised. Nothing is
// written when any conflict id is already taken.
func (s *MemoryStore) SaveOperation(_ context.Context, op ot.Operation, conflicts ...Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkConflictsLocked(conflicts); err != nil {
		return err
	}
	s.operations = append(s.operations, op.Clone())
	s.putConflictsLocked(conflicts)
	return nil
}

func (s *MemoryStore) ListOperations(_ context.Context, documentID string, limit int) ([]ot.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ot.Operation, 0)
	for _, op := range s.operations {
		if op.DocumentID != documentID {
			continue
		}
		items = append(items, op.Clone())
	}
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (s *MemoryStore) CreateBranch(_ context.Context, branch Branch, initial Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.branches {
		if existing.DocumentID == branch.DocumentID && existing.Name == branch.Name {
			return ErrDuplicate
		}
	}
	if _, ok := s.versions[initial.ID]; ok {
		return ErrDuplicate
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = s.now()
	}
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = s.now()
	}
	initial.BranchID = branch.ID
	branch.LastCommitID = initial.ID
	s.versions[initial.ID] = cloneVersion(initial)
	s.branches[branch.ID] = branch
	return nil
}

func (s *MemoryStore) LoadBranch(_ context.Context, branchID string) (Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return Branch{}, ErrNotFound
	}
	return branch, nil
}

func (s *MemoryStore) LoadBranchByName(_ context.Context, documentID, name string) (Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, branch := range s.branches {
		if branch.DocumentID == documentID && branch.Name == name {
			return branch, nil
		}
	}
	return Branch{}, ErrNotFound
}

func (s *MemoryStore) ListBranches(_ context.Context, documentID string) ([]Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Branch, 0)
	for _, branch := range s.branches {
		if branch.DocumentID == documentID {
			items = append(items, branch)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Name < items[j].Name
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) UpdateBranchStatus(_ context.Context, branchID string, status BranchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return ErrNotFound
	}
	branch.Status = status
	s.branches[branchID] = branch
	return nil
}

func (s *MemoryStore) LoadVersion(_ context.Context, versionID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[versionID]
	if !ok {
		return Version{}, ErrNotFound
	}
	return cloneVersion(version), nil
}

func (s *MemoryStore) LoadLatestVersion(_ context.Context, branchID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	branch, ok := s.branches[branchID]
	if !ok {
		return Version{}, ErrNotFound
	}
	version, ok := s.versions[branch.LastCommitID]
	if !ok {
		return Version{}, ErrNotFound
	}
	return cloneVersion(version), nil
}

func (s *MemoryStore) ListVersions(_ context.Context, branchID string, limit int) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Version, 0)
	for _, version := range s.versions {
		if version.BranchID == branchID {
			items = append(items, cloneVersion(version))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].VersionNumber > items[j].VersionNumber
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) CommitVersion(_ context.Context, version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(version)
}

func (s *MemoryStore) commitLocked(version Version) error {
	branch, ok := s.branches[version.BranchID]
	if !ok {
		return ErrNotFound
	}
	if branch.LastCommitID != version.ParentVersionID {
		return ErrStaleHead
	}
	if _, ok := s.versions[version.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.versions {
		if existing.BranchID == version.BranchID && existing.VersionNumber == version.VersionNumber {
			return ErrDuplicate
		}
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = s.now()
	}
	s.versions[version.ID] = cloneVersion(version)
	branch.LastCommitID = version.ID
	s.branches[branch.ID] = branch
	return nil
}

// CreateMergeRequest stores request and the conflicts found when it was
// opened, or nothing at all.
func (s *MemoryStore) CreateMergeRequest(_ context.Context, request MergeRequest, conflicts ...Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mergeRequests {
		if existing.SourceBranchID == request.SourceBranchID &&
			existing.TargetBranchID == request.TargetBranchID &&
			existing.Status.Open() {
			return ErrDuplicate
		}
	}
	if err := s.checkConflictsLocked(conflicts); err != nil {
		return err
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = s.now()
	}
	s.mergeRequests[request.ID] = cloneMergeRequest(request)
	s.putConflictsLocked(conflicts)
	return nil
}

func (s *MemoryStore) LoadMergeRequest(_ context.Context, id string) (MergeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.mergeRequests[id]
	if !ok {
		return MergeRequest{}, ErrNotFound
	}
	return cloneMergeRequest(request), nil
}

func (s *MemoryStore) ListMergeRequests(_ context.Context, branchID string, openOnly bool) ([]MergeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]MergeRequest, 0)
	for _, request := range s.mergeRequests {
		if request.SourceBranchID != branchID && request.TargetBranchID != branchID {
			continue
		}
		if openOnly && !request.Status.Open() {
			continue
		}
		items = append(items, cloneMergeRequest(request))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// UpdateMergeRequest replaces request and adds the new conflicts it
// references, or changes nothing.
func (s *MemoryStore) UpdateMergeRequest(_ context.Context, request MergeRequest, conflicts ...Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mergeRequests[request.ID]; !ok {
		return ErrNotFound
	}
	if err := s.checkConflictsLocked(conflicts); err != nil {
		return err
	}
	s.mergeRequests[request.ID] = cloneMergeRequest(request)
	s.putConflictsLocked(conflicts)
	return nil
}

func (s *MemoryStore) CompleteMerge(_ context.Context, mergeRequestID string, version Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.mergeRequests[mergeRequestID]
	if !ok {
		return ErrNotFound
	}
	if !request.Status.Open() {
		return ErrStaleHead
	}
	if err := s.commitLocked(version); err != nil {
		return err
	}
	mergedAt := s.now()
	request.Status = MergeRequestMerged
	request.MergedVersionID = version.ID
	request.MergedAt = &mergedAt
	s.mergeRequests[request.ID] = request
	return nil
}

func (s *MemoryStore) checkConflictsLocked(conflicts []Conflict) error {
	seen := make(map[string]struct{}, len(conflicts))
	for _, conflict := range conflicts {
		if _, ok := s.conflicts[conflict.ID]; ok {
			return ErrDuplicate
		}
		if _, ok := seen[conflict.ID]; ok {
			return ErrDuplicate
		}
		seen[conflict.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) putConflictsLocked(conflicts []Conflict) {
	for _, conflict := range conflicts {
		if conflict.CreatedAt.IsZero() {
			conflict.CreatedAt = s.now()
		}
		s.conflicts[conflict.ID] = conflict
	}
}

func (s *MemoryStore) LoadConflict(_ context.Context, id string) (Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conflict, ok := s.conflicts[id]
	if !ok {
		return Conflict{}, ErrNotFound
	}
	return conflict, nil
}

func (s *MemoryStore) ListConflicts(_ context.Context, mergeRequestID string) ([]Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Conflict, 0)
	for _, conflict := range s.conflicts {
		if conflict.MergeRequestID == mergeRequestID {
			items = append(items, conflict)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position == items[j].Position {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Position < items[j].Position
	})
	return items, nil
}

// ResolveConflict stores the resolution only while the conflict is still
// unresolved and reports whether it did.
func (s *MemoryStore) ResolveConflict(_ context.Context, conflict Conflict) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conflicts[conflict.ID]
	if !ok {
		return false, ErrNotFound
	}
	if existing.Status != ConflictUnresolved {
		return false, nil
	}
	existing.Status = ConflictResolved
	existing.Resolution = conflict.Resolution
	existing.ResolvedContent = conflict.ResolvedContent
	existing.ResolvedBy = conflict.ResolvedBy
	existing.ResolvedAt = conflict.ResolvedAt
	s.conflicts[existing.ID] = existing
	return true, nil
}

func cloneVersion(v Version) Version {
	v.MergedFromBranches = append([]string(nil), v.MergedFromBranches...)
	v.OperationIDs = append([]string(nil), v.OperationIDs...)
	return v
}

func cloneMergeRequest(r MergeRequest) MergeRequest {
	r.ConflictIDs = append([]string(nil), r.ConflictIDs...)
	r.Approvals = append([]string(nil), r.Approvals...)
	return r
}
