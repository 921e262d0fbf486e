package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/collab/internal/ot"
)

func seedMain(t *testing.T, s *MemoryStore) (Branch, Version) {
	t.Helper()
	branch := Branch{ID: "b-main", DocumentID: "doc-1", Name: MainBranch, Status: BranchActive, IsProtected: true, CreatedBy: "alice"}
	initial := Version{ID: "v-1", DocumentID: "doc-1", VersionNumber: 1, Content: "Hello", CreatedBy: "alice"}
	require.NoError(t, s.CreateBranch(context.Background(), branch, initial))
	branch.LastCommitID = initial.ID
	initial.BranchID = branch.ID
	return branch, initial
}

func TestMemoryStoreCreateBranchSetsHead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMain(t, s)

	head, err := s.LoadLatestVersion(ctx, "b-main")
	require.NoError(t, err)
	assert.Equal(t, "v-1", head.ID)
	assert.Equal(t, "b-main", head.BranchID)

	err = s.CreateBranch(ctx, Branch{ID: "b-other", DocumentID: "doc-1", Name: MainBranch}, Version{ID: "v-x"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStoreCommitVersionRejectsStaleParent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMain(t, s)

	next := Version{ID: "v-2", DocumentID: "doc-1", BranchID: "b-main", VersionNumber: 2, Content: "Hello!", ParentVersionID: "v-1"}
	require.NoError(t, s.CommitVersion(ctx, next))

	stale := Version{ID: "v-3", DocumentID: "doc-1", BranchID: "b-main", VersionNumber: 3, ParentVersionID: "v-1"}
	assert.ErrorIs(t, s.CommitVersion(ctx, stale), ErrStaleHead)

	versions, err := s.ListVersions(ctx, "b-main", 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v-2", versions[0].ID)
	assert.Equal(t, "v-1", versions[1].ID)
}

func TestMemoryStoreOneOpenMergeRequestPerPair(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := MergeRequest{ID: "mr-1", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestDraft}
	require.NoError(t, s.CreateMergeRequest(ctx, first))
	assert.ErrorIs(t, s.CreateMergeRequest(ctx, MergeRequest{ID: "mr-2", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestDraft}), ErrDuplicate)

	first.Status = MergeRequestClosed
	require.NoError(t, s.UpdateMergeRequest(ctx, first))
	assert.NoError(t, s.CreateMergeRequest(ctx, MergeRequest{ID: "mr-3", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestDraft}))

	open, err := s.ListMergeRequests(ctx, "b-main", true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "mr-3", open[0].ID)
}

func TestMemoryStoreCompleteMergeIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMain(t, s)
	require.NoError(t, s.CreateMergeRequest(ctx, MergeRequest{ID: "mr-1", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestReady}))

	stale := Version{ID: "v-m", BranchID: "b-main", VersionNumber: 2, ParentVersionID: "v-0"}
	assert.ErrorIs(t, s.CompleteMerge(ctx, "mr-1", stale), ErrStaleHead)
	request, err := s.LoadMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	assert.Equal(t, MergeRequestReady, request.Status)

	merged := Version{ID: "v-m", BranchID: "b-main", VersionNumber: 2, ParentVersionID: "v-1"}
	require.NoError(t, s.CompleteMerge(ctx, "mr-1", merged))
	request, err = s.LoadMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	assert.Equal(t, MergeRequestMerged, request.Status)
	assert.Equal(t, "v-m", request.MergedVersionID)
	assert.NotNil(t, request.MergedAt)
}

func TestMemoryStoreResolveConflictOnlyOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateMergeRequest(ctx,
		MergeRequest{ID: "mr-1", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestConflicts, ConflictIDs: []string{"c-1"}},
		Conflict{ID: "c-1", MergeRequestID: "mr-1", Status: ConflictUnresolved},
	))

	now := time.Now()
	resolved, err := s.ResolveConflict(ctx, Conflict{ID: "c-1", Resolution: ResolutionAcceptSource, ResolvedContent: "x", ResolvedBy: "alice", ResolvedAt: &now})
	require.NoError(t, err)
	assert.True(t, resolved)

	resolved, err = s.ResolveConflict(ctx, Conflict{ID: "c-1", Resolution: ResolutionAcceptTarget})
	require.NoError(t, err)
	assert.False(t, resolved)

	stored, err := s.LoadConflict(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, ResolutionAcceptSource, stored.Resolution)

	_, err = s.ResolveConflict(ctx, Conflict{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListOperationsKeepsTail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"op-1", "op-2", "op-3"} {
		require.NoError(t, s.SaveOperation(ctx, ot.Operation{ID: id, DocumentID: "doc-1", Type: ot.OpInsert, Content: "x", AuthorID: "a"}))
	}
	require.NoError(t, s.SaveOperation(ctx, ot.Operation{ID: "op-other", DocumentID: "doc-2", Type: ot.OpInsert, Content: "x", AuthorID: "a"}))

	ops, err := s.ListOperations(ctx, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "op-2", ops[0].ID)
	assert.Equal(t, "op-3", ops[1].ID)
}

func TestMemoryStoreOperationAndConflictsAreAllOrNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	op := ot.Operation{ID: "op-1", DocumentID: "doc-1", Type: ot.OpInsert, Content: "x", AuthorID: "a"}
	require.NoError(t, s.SaveOperation(ctx, op, Conflict{ID: "c-1", DocumentID: "doc-1", OperationID: "op-1", Status: ConflictUnresolved}))

	stored, err := s.LoadConflict(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", stored.OperationID)
	assert.False(t, stored.CreatedAt.IsZero())

	clash := ot.Operation{ID: "op-2", DocumentID: "doc-1", Type: ot.OpInsert, Content: "y", AuthorID: "a"}
	assert.ErrorIs(t, s.SaveOperation(ctx, clash, Conflict{ID: "c-2"}, Conflict{ID: "c-1"}), ErrDuplicate)

	ops, err := s.ListOperations(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
	_, err = s.LoadConflict(ctx, "c-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMergeRequestWritesCarryConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateMergeRequest(ctx,
		MergeRequest{ID: "mr-1", SourceBranchID: "b-f", TargetBranchID: "b-main", Status: MergeRequestConflicts, ConflictIDs: []string{"c-1"}},
		Conflict{ID: "c-1", MergeRequestID: "mr-1", Status: ConflictUnresolved},
	))

	// A clashing conflict id leaves neither the request nor the conflicts.
	err := s.CreateMergeRequest(ctx,
		MergeRequest{ID: "mr-2", SourceBranchID: "b-g", TargetBranchID: "b-main", Status: MergeRequestConflicts, ConflictIDs: []string{"c-1"}},
		Conflict{ID: "c-1", MergeRequestID: "mr-2"},
	)
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = s.LoadMergeRequest(ctx, "mr-2")
	assert.ErrorIs(t, err, ErrNotFound)

	request, err := s.LoadMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	request.ConflictIDs = append(request.ConflictIDs, "c-2", "c-1")
	assert.ErrorIs(t, s.UpdateMergeRequest(ctx, request, Conflict{ID: "c-2", MergeRequestID: "mr-1"}, Conflict{ID: "c-1", MergeRequestID: "mr-1"}), ErrDuplicate)
	unchanged, err := s.LoadMergeRequest(ctx, "mr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1"}, unchanged.ConflictIDs)

	request.ConflictIDs = []string{"c-1", "c-2"}
	require.NoError(t, s.UpdateMergeRequest(ctx, request, Conflict{ID: "c-2", MergeRequestID: "mr-1", Status: ConflictUnresolved}))
	conflicts, err := s.ListConflicts(ctx, "mr-1")
	require.NoError(t, err)
	assert.Len(t, conflicts, 2)
}
