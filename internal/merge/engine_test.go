package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/versioning"
)

type graph struct {
	engine   *Engine
	store    *store.MemoryStore
	versions *versioning.Service
	main     store.Branch
	feature  store.Branch
}

func newGraph(t *testing.T, cfg Config, base string) graph {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	versions := versioning.NewService(st, versioning.DefaultConfig())
	engine, err := NewEngine(st, cfg, WithPublisher(versions), WithLogger(logging.Discard()))
	require.NoError(t, err)

	main, _, err := versions.InitDocument(ctx, versioning.InitDocumentInput{DocumentID: "doc-1", Content: base, CreatedBy: "avery"})
	require.NoError(t, err)
	feature, err := versions.CreateBranch(ctx, versioning.CreateBranchInput{DocumentID: "doc-1", Name: "feature", CreatedBy: "blake"})
	require.NoError(t, err)
	return graph{engine: engine, store: st, versions: versions, main: main, feature: feature}
}

func (g graph) commit(t *testing.T, branch store.Branch, content string) store.Version {
	t.Helper()
	version, err := g.versions.CreateVersion(context.Background(), versioning.CreateVersionInput{BranchID: branch.ID, Content: content, CreatedBy: "avery"})
	require.NoError(t, err)
	return version
}

func (g graph) open(t *testing.T) (store.MergeRequest, []store.Conflict) {
	t.Helper()
	request, conflicts, err := g.engine.CreateMergeRequest(context.Background(), CreateMergeRequestInput{
		SourceBranchID: g.feature.ID,
		TargetBranchID: g.main.ID,
		CreatedBy:      "blake",
	})
	require.NoError(t, err)
	return request, conflicts
}

func TestDetectConflictsOnDivergedBranches(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	g.commit(t, g.main, "draft v2")
	g.commit(t, g.feature, "draft final")

	conflicts, err := g.engine.DetectConflicts(context.Background(), g.feature.ID, g.main.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	conflict := conflicts[0]
	assert.Equal(t, store.ConflictContent, conflict.Type)
	assert.Equal(t, 5, conflict.Position)
	assert.Equal(t, " final", conflict.SourceContent)
	assert.Equal(t, " v2", conflict.TargetContent)
	assert.Equal(t, "", conflict.CommonAncestor)
	assert.True(t, conflict.HasAncestor)
	assert.Equal(t, store.ConflictUnresolved, conflict.Status)
	assert.Empty(t, conflict.MergeRequestID)
}

func TestDetectConflictsDeletionIsStructural(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "keep this line")
	g.commit(t, g.main, "keep that line")
	g.commit(t, g.feature, "keep line")

	conflicts, err := g.engine.DetectConflicts(context.Background(), g.feature.ID, g.main.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictStructural, conflicts[0].Type)
}

func TestDetectConflictsValidatesBranches(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")

	_, err := g.engine.DetectConflicts(context.Background(), g.feature.ID, "br_missing")
	assert.ErrorIs(t, err, domainerr.BranchNotFound)
	_, err = g.engine.DetectConflicts(context.Background(), g.feature.ID, g.feature.ID)
	assert.ErrorIs(t, err, domainerr.InvalidInput)
}

func TestFastForwardNeverConflicts(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	featureHead := g.commit(t, g.feature, "draft final")

	request, conflicts := g.open(t)
	assert.Empty(t, conflicts)
	assert.Equal(t, store.MergeRequestReady, request.Status)

	result, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategyFastForward, MergedBy: "avery"})
	require.NoError(t, err)
	assert.Equal(t, "draft final", result.Version.Content)
	assert.Equal(t, featureHead.ID, result.Version.MergeSourceVersionID)
	assert.Equal(t, []string{g.feature.ID}, result.Version.MergedFromBranches)
	assert.Equal(t, 2, result.Version.VersionNumber)
	assert.Equal(t, store.MergeRequestMerged, result.MergeRequest.Status)
	assert.Equal(t, result.Version.ID, result.MergeRequest.MergedVersionID)

	head, err := g.store.LoadLatestVersion(context.Background(), g.main.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Version.ID, head.ID)

	_, err = g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	assert.ErrorIs(t, err, domainerr.MergeRequestClosed)
}

func TestAutoMergeCombinesDisjointEdits(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "The quick brown fox")
	g.commit(t, g.main, "The quick brown fox jumps")
	g.commit(t, g.feature, "The very quick brown fox")
	request, conflicts := g.open(t)
	require.Empty(t, conflicts)

	_, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategyFastForward})
	assert.ErrorIs(t, err, domainerr.FastForwardNotPossible)

	result, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, "The very quick brown fox jumps", result.Version.Content)

	// a follow-up merge starts from the merged version
	conflicts, err = g.engine.DetectConflicts(context.Background(), g.feature.ID, g.main.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestConflictBlocksMergeUntilResolved(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	g.commit(t, g.main, "draft v2")
	g.commit(t, g.feature, "draft final")

	request, conflicts := g.open(t)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.MergeRequestConflicts, request.Status)
	assert.Equal(t, []string{conflicts[0].ID}, request.ConflictIDs)

	_, err := g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	assert.ErrorIs(t, err, domainerr.UnresolvedConflicts)

	resolved, err := g.engine.ResolveConflict(ctx, ResolveInput{ConflictID: conflicts[0].ID, Resolution: store.ResolutionAcceptSource, ResolvedBy: "avery"})
	require.NoError(t, err)
	assert.Equal(t, " final", resolved.ResolvedContent)
	assert.NotNil(t, resolved.ResolvedAt)

	reopened, err := g.engine.GetMergeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestReady, reopened.Status)

	result, err := g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyManual})
	require.NoError(t, err)
	assert.Equal(t, "draft final", result.Version.Content)
}

func TestManualResolutionContentIsUsed(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	g.commit(t, g.main, "draft v2")
	g.commit(t, g.feature, "draft final")
	request, conflicts := g.open(t)

	merged := " final v2"
	_, err := g.engine.ResolveConflict(ctx, ResolveInput{ConflictID: conflicts[0].ID, Resolution: store.ResolutionManualMerge, ResolvedContent: &merged})
	require.NoError(t, err)

	result, err := g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID})
	require.NoError(t, err)
	assert.Equal(t, "draft final v2", result.Version.Content)
}

func TestConflictsAppearingAfterOpenBlockMerge(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	g.commit(t, g.feature, "draft final")
	request, conflicts := g.open(t)
	require.Empty(t, conflicts)

	g.commit(t, g.main, "draft v2")
	_, err := g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	assert.ErrorIs(t, err, domainerr.UnresolvedConflicts)

	current, err := g.engine.GetMergeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestConflicts, current.Status)
	stored, err := g.engine.ListConflicts(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, " v2", stored[0].TargetContent)
}

func TestBestEffortLengthMergeKeepsLongerSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BestEffortLengthMerge = true
	g := newGraph(t, cfg, "draft")
	ctx := context.Background()
	g.commit(t, g.feature, "draft final")
	request, _ := g.open(t)
	g.commit(t, g.main, "draft v2")

	result, err := g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	require.NoError(t, err)
	assert.Equal(t, "draft final", result.Version.Content)
}

func TestBestEffortDoesNotApplyToManualStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BestEffortLengthMerge = true
	g := newGraph(t, cfg, "draft")
	g.commit(t, g.feature, "draft final")
	request, _ := g.open(t)
	g.commit(t, g.main, "draft v2")

	_, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategyManual})
	assert.ErrorIs(t, err, domainerr.UnresolvedConflicts)
}

func TestSquashTakesSourceWithoutMergeEdge(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	g.commit(t, g.main, "draft, edited on main")
	g.commit(t, g.feature, "draft final")
	request, _ := g.open(t)
	require.NoError(t, resolveAll(g, request.ID, store.ResolutionAcceptTarget))

	result, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: request.ID, Strategy: StrategySquash})
	require.NoError(t, err)
	assert.Equal(t, "draft final", result.Version.Content)
	assert.Empty(t, result.Version.MergeSourceVersionID)
	assert.Equal(t, []string{g.feature.ID}, result.Version.MergedFromBranches)
}

func resolveAll(g graph, mergeRequestID string, resolution store.Resolution) error {
	conflicts, err := g.engine.ListConflicts(context.Background(), mergeRequestID)
	if err != nil {
		return err
	}
	for _, conflict := range conflicts {
		if _, err := g.engine.ResolveConflict(context.Background(), ResolveInput{ConflictID: conflict.ID, Resolution: resolution}); err != nil {
			return err
		}
	}
	return nil
}

func TestApprovalsGateMerge(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	g.commit(t, g.feature, "draft final")
	required := 2
	request, _, err := g.engine.CreateMergeRequest(ctx, CreateMergeRequestInput{SourceBranchID: g.feature.ID, TargetBranchID: g.main.ID, RequiredApprovals: &required})
	require.NoError(t, err)
	assert.Equal(t, "Merge feature into main", request.Title)

	for i := 0; i < 2; i++ {
		request, err = g.engine.ApproveMergeRequest(ctx, request.ID, "casey")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"casey"}, request.Approvals)
	assert.Equal(t, store.MergeRequestReady, request.Status)

	_, err = g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID})
	assert.ErrorIs(t, err, domainerr.InsufficientApprovals)

	request, err = g.engine.ApproveMergeRequest(ctx, request.ID, "devon")
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestApproved, request.Status)

	_, err = g.engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID})
	require.NoError(t, err)
}

func TestReviewRequiredTargetDefaultsToOneApproval(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	reviewed, err := g.versions.CreateBranch(ctx, versioning.CreateBranchInput{DocumentID: "doc-1", Name: "release", ReviewRequired: true})
	require.NoError(t, err)

	request, _, err := g.engine.CreateMergeRequest(ctx, CreateMergeRequestInput{SourceBranchID: g.feature.ID, TargetBranchID: reviewed.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, request.RequiredApprovals)
}

func TestOneOpenMergeRequestPerPair(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	request, _ := g.open(t)

	_, _, err := g.engine.CreateMergeRequest(ctx, CreateMergeRequestInput{SourceBranchID: g.feature.ID, TargetBranchID: g.main.ID})
	assert.ErrorIs(t, err, domainerr.DuplicateMergeRequest)

	closed, err := g.engine.CloseMergeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestClosed, closed.Status)
	_, err = g.engine.CloseMergeRequest(ctx, request.ID)
	require.NoError(t, err)

	_, _, err = g.engine.CreateMergeRequest(ctx, CreateMergeRequestInput{SourceBranchID: g.feature.ID, TargetBranchID: g.main.ID})
	require.NoError(t, err)

	_, err = g.engine.ApproveMergeRequest(ctx, request.ID, "casey")
	assert.ErrorIs(t, err, domainerr.MergeRequestClosed)
}

func TestAbandonedBranchCannotBeMerged(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	_, err := g.versions.DeleteBranch(ctx, versioning.DeleteBranchInput{BranchID: g.feature.ID})
	require.NoError(t, err)

	_, _, err = g.engine.CreateMergeRequest(ctx, CreateMergeRequestInput{SourceBranchID: g.feature.ID, TargetBranchID: g.main.ID})
	assert.ErrorIs(t, err, domainerr.BranchAbandoned)
}

func TestParseStrategy(t *testing.T) {
	strategy, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, strategy)
	strategy, err = ParseStrategy(" Fast-Forward ")
	require.NoError(t, err)
	assert.Equal(t, StrategyFastForward, strategy)

	_, err = ParseStrategy("octopus")
	assert.ErrorIs(t, err, domainerr.UnknownStrategy)
}

func TestMergeUnknownRequest(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")

	_, err := g.engine.MergeMergeRequest(context.Background(), MergeInput{MergeRequestID: "mr_missing"})
	assert.ErrorIs(t, err, domainerr.MergeRequestNotFound)
	assert.True(t, errors.Is(err, domainerr.MergeRequestNotFound))
}

// flakyStore refuses merge request updates that carry new conflicts while
// refuse is set.
type flakyStore struct {
	*store.MemoryStore
	refuse bool
}

func (s *flakyStore) UpdateMergeRequest(ctx context.Context, request store.MergeRequest, conflicts ...store.Conflict) error {
	if s.refuse && len(conflicts) > 0 {
		return errors.New("connection reset")
	}
	return s.MemoryStore.UpdateMergeRequest(ctx, request, conflicts...)
}

func TestFailedConflictWriteLeavesRequestReady(t *testing.T) {
	g := newGraph(t, DefaultConfig(), "draft")
	ctx := context.Background()
	flaky := &flakyStore{MemoryStore: g.store}
	engine, err := NewEngine(flaky, DefaultConfig(), WithPublisher(g.versions), WithLogger(logging.Discard()))
	require.NoError(t, err)

	g.commit(t, g.feature, "draft final")
	request, conflicts := g.open(t)
	require.Empty(t, conflicts)
	g.commit(t, g.main, "draft v2")

	flaky.refuse = true
	_, err = engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainerr.UnresolvedConflicts)

	current, err := engine.GetMergeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestReady, current.Status)
	assert.Empty(t, current.ConflictIDs)
	stored, err := engine.ListConflicts(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	flaky.refuse = false
	_, err = engine.MergeMergeRequest(ctx, MergeInput{MergeRequestID: request.ID, Strategy: StrategyAuto})
	assert.ErrorIs(t, err, domainerr.UnresolvedConflicts)
	current, err = engine.GetMergeRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MergeRequestConflicts, current.Status)
	stored, err = engine.ListConflicts(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{stored[0].ID}, current.ConflictIDs)
}
