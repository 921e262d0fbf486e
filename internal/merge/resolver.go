package merge

import (
	"context"
	"fmt"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/store"
)

type ResolveInput struct {
	ConflictID      string           `json:"conflictId"`
	Resolution      store.Resolution `json:"resolution"`
	ResolvedContent *string          `json:"resolvedContent,omitempty"`
	ResolvedBy      string           `json:"resolvedBy"`
}

// ResolveConflict settles one conflict. It does not re-run the merge; once
// the last conflict of a merge request is resolved the request returns to
// ready and can be merged again.
func (e *Engine) ResolveConflict(ctx context.Context, input ResolveInput) (store.Conflict, error) {
	if !input.Resolution.Valid() {
		return store.Conflict{}, domainerr.InvalidResolution.With(map[string]any{"resolution": input.Resolution})
	}
	if input.Resolution.RequiresContent() && input.ResolvedContent == nil {
		return store.Conflict{}, domainerr.InvalidResolution.Withf("%s requires resolvedContent", input.Resolution)
	}

	conflict, err := e.store.LoadConflict(ctx, input.ConflictID)
	if err != nil {
		return store.Conflict{}, notFound(err, domainerr.ConflictNotFound.With(map[string]any{"conflictId": input.ConflictID}), "load conflict")
	}
	if conflict.Status != store.ConflictUnresolved {
		return store.Conflict{}, domainerr.AlreadyResolved.With(map[string]any{"conflictId": conflict.ID})
	}

	switch input.Resolution {
	case store.ResolutionAcceptSource:
		conflict.ResolvedContent = conflict.SourceContent
	case store.ResolutionAcceptTarget:
		conflict.ResolvedContent = conflict.TargetContent
	default:
		conflict.ResolvedContent = *input.ResolvedContent
	}
	resolvedAt := e.now()
	conflict.Resolution = input.Resolution
	conflict.ResolvedBy = input.ResolvedBy
	conflict.ResolvedAt = &resolvedAt
	conflict.Status = store.ConflictResolved

	ok, err := e.store.ResolveConflict(ctx, conflict)
	if err != nil {
		return store.Conflict{}, notFound(err, domainerr.ConflictNotFound, "resolve conflict")
	}
	if !ok {
		return store.Conflict{}, domainerr.AlreadyResolved.With(map[string]any{"conflictId": conflict.ID})
	}

	if conflict.MergeRequestID != "" {
		if err := e.reopenIfSettled(ctx, conflict.MergeRequestID); err != nil {
			return store.Conflict{}, err
		}
	}
	e.logger.Info("conflict resolved",
		"conflict_id", conflict.ID,
		"merge_request_id", conflict.MergeRequestID,
		"resolution", conflict.Resolution,
	)
	return conflict, nil
}

func (e *Engine) reopenIfSettled(ctx context.Context, mergeRequestID string) error {
	request, err := e.store.LoadMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return notFound(err, domainerr.MergeRequestNotFound, "load merge request")
	}
	if request.Status != store.MergeRequestConflicts {
		return nil
	}
	conflicts, err := e.store.ListConflicts(ctx, mergeRequestID)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	for _, c := range conflicts {
		if c.Status == store.ConflictUnresolved {
			return nil
		}
	}
	request.Status = store.MergeRequestReady
	if err := e.store.UpdateMergeRequest(ctx, request); err != nil {
		return fmt.Errorf("update merge request: %w", err)
	}
	return nil
}

// SuggestResolution asks the configured suggester for merged content. The
// suggestion is not stored; callers resolve with ai-suggested to accept it.
func (e *Engine) SuggestResolution(ctx context.Context, conflictID string) (string, error) {
	if e.suggester == nil {
		return "", domainerr.InvalidResolution.Withf("no resolution suggester is configured")
	}
	conflict, err := e.store.LoadConflict(ctx, conflictID)
	if err != nil {
		return "", notFound(err, domainerr.ConflictNotFound.With(map[string]any{"conflictId": conflictID}), "load conflict")
	}
	if conflict.Status != store.ConflictUnresolved {
		return "", domainerr.AlreadyResolved.With(map[string]any{"conflictId": conflict.ID})
	}
	suggestion, err := e.suggester.SuggestResolution(ctx, conflict)
	if err != nil {
		return "", fmt.Errorf("suggest resolution: %w", err)
	}
	return suggestion, nil
}
