package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

type Strategy string

const (
	StrategyFastForward Strategy = "fast-forward"
	StrategySquash      Strategy = "squash"
	StrategyAuto        Strategy = "auto"
	StrategyManual      Strategy = "manual"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case StrategyFastForward, StrategySquash, StrategyAuto, StrategyManual:
		return s, nil
	case "":
		return StrategyAuto, nil
	default:
		return "", domainerr.UnknownStrategy.With(map[string]any{"strategy": raw})
	}
}

type CreateMergeRequestInput struct {
	SourceBranchID    string `json:"sourceBranchId"`
	TargetBranchID    string `json:"targetBranchId"`
	Title             string `json:"title"`
	CreatedBy         string `json:"createdBy"`
	RequiredApprovals *int   `json:"requiredApprovals,omitempty"`
}

// CreateMergeRequest opens a merge request and stores the conflicts found
// between the two heads. The request starts in conflicts when there are any,
// otherwise ready.
func (e *Engine) CreateMergeRequest(ctx context.Context, input CreateMergeRequestInput) (store.MergeRequest, []store.Conflict, error) {
	if input.RequiredApprovals != nil && *input.RequiredApprovals < 0 {
		return store.MergeRequest{}, nil, domainerr.InvalidInput.Withf("requiredApprovals must not be negative")
	}
	cmp, err := e.compare(ctx, input.SourceBranchID, input.TargetBranchID)
	if err != nil {
		return store.MergeRequest{}, nil, err
	}
	if err := requireActive(cmp.source, cmp.target); err != nil {
		return store.MergeRequest{}, nil, err
	}

	open, err := e.store.ListMergeRequests(ctx, cmp.source.ID, true)
	if err != nil {
		return store.MergeRequest{}, nil, fmt.Errorf("list merge requests: %w", err)
	}
	for _, existing := range open {
		if existing.SourceBranchID == cmp.source.ID && existing.TargetBranchID == cmp.target.ID {
			return store.MergeRequest{}, nil, domainerr.DuplicateMergeRequest.With(map[string]any{"mergeRequestId": existing.ID})
		}
	}

	required := 0
	if cmp.target.ReviewRequired {
		required = 1
	}
	if input.RequiredApprovals != nil {
		required = *input.RequiredApprovals
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = fmt.Sprintf("Merge %s into %s", cmp.source.Name, cmp.target.Name)
	}

	request := store.MergeRequest{
		ID:                util.NewID("mr"),
		DocumentID:        cmp.source.DocumentID,
		SourceBranchID:    cmp.source.ID,
		TargetBranchID:    cmp.target.ID,
		Title:             title,
		Status:            store.MergeRequestReady,
		Approvals:         []string{},
		RequiredApprovals: required,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         e.now(),
	}
	conflicts := e.conflictsFor(cmp, request.ID)
	request.ConflictIDs = make([]string, 0, len(conflicts))
	for _, conflict := range conflicts {
		request.ConflictIDs = append(request.ConflictIDs, conflict.ID)
	}
	if len(conflicts) > 0 {
		request.Status = store.MergeRequestConflicts
	}

	if err := e.store.CreateMergeRequest(ctx, request, conflicts...); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.MergeRequest{}, nil, domainerr.DuplicateMergeRequest
		}
		return store.MergeRequest{}, nil, fmt.Errorf("create merge request: %w", err)
	}

	e.logger.Info("merge request created",
		"merge_request_id", request.ID,
		"source_branch_id", request.SourceBranchID,
		"target_branch_id", request.TargetBranchID,
		"conflicts", len(conflicts),
	)
	return request, conflicts, nil
}

func (e *Engine) GetMergeRequest(ctx context.Context, id string) (store.MergeRequest, error) {
	request, err := e.store.LoadMergeRequest(ctx, id)
	if err != nil {
		return store.MergeRequest{}, notFound(err, domainerr.MergeRequestNotFound.With(map[string]any{"mergeRequestId": id}), "load merge request")
	}
	return request, nil
}

func (e *Engine) ListConflicts(ctx context.Context, mergeRequestID string) ([]store.Conflict, error) {
	if _, err := e.GetMergeRequest(ctx, mergeRequestID); err != nil {
		return nil, err
	}
	conflicts, err := e.store.ListConflicts(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return conflicts, nil
}

// ApproveMergeRequest records approver once. A ready request with enough
// approvals moves to approved.
func (e *Engine) ApproveMergeRequest(ctx context.Context, id, approver string) (store.MergeRequest, error) {
	if strings.TrimSpace(approver) == "" {
		return store.MergeRequest{}, domainerr.InvalidInput.Withf("approver is required")
	}
	request, err := e.GetMergeRequest(ctx, id)
	if err != nil {
		return store.MergeRequest{}, err
	}
	if !request.Status.Open() {
		return store.MergeRequest{}, domainerr.MergeRequestClosed.With(map[string]any{"status": request.Status})
	}
	for _, existing := range request.Approvals {
		if existing == approver {
			return request, nil
		}
	}
	request.Approvals = append(request.Approvals, approver)
	if request.Status == store.MergeRequestReady && len(request.Approvals) >= request.RequiredApprovals {
		request.Status = store.MergeRequestApproved
	}
	if err := e.store.UpdateMergeRequest(ctx, request); err != nil {
		return store.MergeRequest{}, fmt.Errorf("update merge request: %w", err)
	}
	return request, nil
}

// CloseMergeRequest closes an open request. Closing a closed request is a
// no-op.
func (e *Engine) CloseMergeRequest(ctx context.Context, id string) (store.MergeRequest, error) {
	request, err := e.GetMergeRequest(ctx, id)
	if err != nil {
		return store.MergeRequest{}, err
	}
	switch request.Status {
	case store.MergeRequestClosed:
		return request, nil
	case store.MergeRequestMerged:
		return store.MergeRequest{}, domainerr.MergeRequestClosed.With(map[string]any{"status": request.Status})
	}
	request.Status = store.MergeRequestClosed
	if err := e.store.UpdateMergeRequest(ctx, request); err != nil {
		return store.MergeRequest{}, fmt.Errorf("update merge request: %w", err)
	}
	return request, nil
}

type MergeInput struct {
	MergeRequestID string   `json:"mergeRequestId"`
	Strategy       Strategy `json:"strategy"`
	MergedBy       string   `json:"mergedBy"`
}

type MergeResult struct {
	MergeRequest store.MergeRequest `json:"mergeRequest"`
	Version      store.Version      `json:"version"`
}

// MergeMergeRequest writes the merged content as a new version on the
// target branch and marks the request merged in the same transaction.
func (e *Engine) MergeMergeRequest(ctx context.Context, input MergeInput) (MergeResult, error) {
	strategy, err := ParseStrategy(string(input.Strategy))
	if err != nil {
		return MergeResult{}, err
	}
	request, err := e.GetMergeRequest(ctx, input.MergeRequestID)
	if err != nil {
		return MergeResult{}, err
	}
	if !request.Status.Open() {
		return MergeResult{}, domainerr.MergeRequestClosed.With(map[string]any{"status": request.Status})
	}
	if request.Status == store.MergeRequestConflicts {
		return MergeResult{}, domainerr.UnresolvedConflicts.With(map[string]any{"conflictIds": request.ConflictIDs})
	}
	if len(request.Approvals) < request.RequiredApprovals {
		return MergeResult{}, domainerr.InsufficientApprovals.With(map[string]any{
			"approvals": len(request.Approvals),
			"required":  request.RequiredApprovals,
		})
	}

	cmp, err := e.compare(ctx, request.SourceBranchID, request.TargetBranchID)
	if err != nil {
		return MergeResult{}, err
	}
	if err := requireActive(cmp.source, cmp.target); err != nil {
		return MergeResult{}, err
	}

	var content string
	switch strategy {
	case StrategyFastForward:
		if !cmp.hasAncestor || cmp.ancestor.ID != cmp.targetHead.ID {
			return MergeResult{}, domainerr.FastForwardNotPossible.With(map[string]any{"targetHeadId": cmp.targetHead.ID})
		}
		content = cmp.sourceHead.Content
	case StrategySquash:
		content = cmp.sourceHead.Content
	case StrategyAuto, StrategyManual:
		content, err = e.mergeContent(ctx, request, cmp, strategy)
		if err != nil {
			return MergeResult{}, err
		}
	}

	version := store.Version{
		ID:                 util.NewID("ver"),
		DocumentID:         cmp.target.DocumentID,
		BranchID:           cmp.target.ID,
		VersionNumber:      cmp.targetHead.VersionNumber + 1,
		Content:            content,
		Checksum:           util.Checksum(content),
		ParentVersionID:    cmp.targetHead.ID,
		MergedFromBranches: []string{cmp.source.ID},
		CreatedBy:          input.MergedBy,
		CommitMessage:      request.Title,
		CreatedAt:          e.now(),
	}
	if strategy != StrategySquash {
		version.MergeSourceVersionID = cmp.sourceHead.ID
		version.OperationIDs = append([]string(nil), cmp.sourceHead.OperationIDs...)
	}

	if err := e.store.CompleteMerge(ctx, request.ID, version); err != nil {
		if errors.Is(err, store.ErrStaleHead) || errors.Is(err, store.ErrDuplicate) {
			current, loadErr := e.GetMergeRequest(ctx, request.ID)
			if loadErr == nil && !current.Status.Open() {
				return MergeResult{}, domainerr.MergeRequestClosed.With(map[string]any{"status": current.Status})
			}
			return MergeResult{}, domainerr.Busy.Wrap(err)
		}
		return MergeResult{}, fmt.Errorf("complete merge: %w", err)
	}
	e.versions.Add(version.ID, version)

	merged, err := e.GetMergeRequest(ctx, request.ID)
	if err != nil {
		return MergeResult{}, err
	}
	if e.publisher != nil {
		e.publisher.Publish(cmp.target, version)
	}
	if e.tagger != nil {
		if err := e.tagger.TagMerge(version.DocumentID, cmp.target.Name, request.ID); err != nil {
			e.logger.Warn("git mirror tag failed", "merge_request_id", request.ID, "error", err)
		}
	}
	e.logger.Info("merge request merged",
		"merge_request_id", request.ID,
		"strategy", strategy,
		"version_id", version.ID,
	)
	return MergeResult{MergeRequest: merged, Version: version}, nil
}

// mergeContent settles every conflicting region from its stored resolution
// (or, under the best-effort policy, the longer side) and merges the rest
// through the transform matrix. Conflicts that appeared since the request
// was opened are stored and block the merge.
func (e *Engine) mergeContent(ctx context.Context, request store.MergeRequest, cmp comparison, strategy Strategy) (string, error) {
	stored, err := e.store.ListConflicts(ctx, request.ID)
	if err != nil {
		return "", fmt.Errorf("list conflicts: %w", err)
	}
	byRegion := make(map[string]store.Conflict, len(stored))
	for _, conflict := range stored {
		byRegion[regionKey(conflict.Position, conflict.SourceContent, conflict.TargetContent)] = conflict
	}

	anc := cmp.ancestorRunes()
	bestEffort := e.cfg.BestEffortLengthMerge && strategy == StrategyAuto
	var sourceEdits, targetEdits []edit
	var blocking []store.Conflict
	var unresolved []string

	fresh := e.conflictsFor(cmp, request.ID)
	freshIdx := 0
	for _, r := range cmp.regions {
		if !r.conflicting(anc) {
			if len(r.target) > 0 {
				targetEdits = append(targetEdits, r.target...)
			} else {
				sourceEdits = append(sourceEdits, r.source...)
			}
			continue
		}

		candidate := fresh[freshIdx]
		freshIdx++
		existing, known := byRegion[regionKey(candidate.Position, candidate.SourceContent, candidate.TargetContent)]
		var settled string
		switch {
		case known && existing.Status == store.ConflictResolved:
			settled = existing.ResolvedContent
		case bestEffort:
			settled = candidate.SourceContent
			if len([]rune(candidate.TargetContent)) > len([]rune(candidate.SourceContent)) {
				settled = candidate.TargetContent
			}
			e.logger.Warn("best-effort merge kept the longer side of an unresolved region",
				"merge_request_id", request.ID,
				"position", r.start,
			)
		case known:
			unresolved = append(unresolved, existing.ID)
			continue
		default:
			blocking = append(blocking, candidate)
			continue
		}
		targetEdits = append(targetEdits, edit{side: sideTarget, start: r.start, end: r.end, text: settled})
	}

	if len(blocking) > 0 {
		for _, conflict := range blocking {
			request.ConflictIDs = append(request.ConflictIDs, conflict.ID)
			unresolved = append(unresolved, conflict.ID)
		}
		request.Status = store.MergeRequestConflicts
		if err := e.store.UpdateMergeRequest(ctx, request, blocking...); err != nil {
			return "", fmt.Errorf("record merge conflicts: %w", err)
		}
	}
	if len(unresolved) > 0 {
		return "", domainerr.UnresolvedConflicts.With(map[string]any{"conflictIds": unresolved})
	}

	merged, err := threeWay(cmp.ancestor.Content, sourceEdits, targetEdits)
	if err != nil {
		return "", domainerr.TransformDivergence.Wrap(err)
	}
	return merged, nil
}

func regionKey(position int, source, target string) string {
	return fmt.Sprintf("%d\x00%s\x00%s", position, source, target)
}

func requireActive(branches ...store.Branch) error {
	for _, branch := range branches {
		if branch.Status == store.BranchAbandoned {
			return domainerr.BranchAbandoned.With(map[string]any{"branchId": branch.ID})
		}
	}
	return nil
}
