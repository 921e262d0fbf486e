package collab

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/ot"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

// DocumentState is the authoritative live content of one document branch.
type DocumentState struct {
	Content             string         `json:"content"`
	VectorClock         ot.VectorClock `json:"vectorClock"`
	OperationHistory    []string       `json:"operationHistory"`
	LastSyncedOperation string         `json:"lastSyncedOperation"`
	Checksum            string         `json:"checksum"`
	BaseVersionID       string         `json:"baseVersionId"`
}

// NewDocumentState starts a live state from committed version content.
func NewDocumentState(content, baseVersionID string) DocumentState {
	return DocumentState{
		Content:       content,
		VectorClock:   ot.VectorClock{},
		Checksum:      util.Checksum(content),
		BaseVersionID: baseVersionID,
	}
}

func (s DocumentState) Clone() DocumentState {
	next := s
	next.VectorClock = s.VectorClock.Clone()
	next.OperationHistory = append([]string(nil), s.OperationHistory...)
	return next
}

type ContextConfig struct {
	MaxTransformIterations int
	PendingHighWater       int
	PendingLowWater        int
}

func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTransformIterations: 100,
		PendingHighWater:       1000,
		PendingLowWater:        500,
	}
}

// Prepared is the outcome of transforming one operation. Nothing in the
// context changes until it is passed to Commit.
type Prepared struct {
	Original    ot.Operation
	Transformed ot.Operation
	Conflicts   []store.Conflict
	State       DocumentState
	Duplicate   bool

	bridge []ot.Operation
}

// TransformContext owns the server state and pending queue of one document
// branch. It is not safe for concurrent use; Manager serializes access.
//
// Besides the pending queue in server order, the context keeps one bridge
// per author: the pending operations that author has not seen yet, rewritten
// so they apply on top of the author's own edits. An incoming operation is
// transformed through its author's bridge, never through the server-order
// forms, so an author with several operations in flight stays in sync.
type TransformContext struct {
	documentID   string
	branchID     string
	cfg          ContextConfig
	state        DocumentState
	pending      []ot.Operation
	bridges      map[string][]ot.Operation
	acknowledged map[string]struct{}
	newID        func(prefix string) string
	logger       *slog.Logger
}

func NewTransformContext(documentID, branchID string, state DocumentState, cfg ContextConfig) *TransformContext {
	if state.VectorClock == nil {
		state.VectorClock = ot.VectorClock{}
	}
	return &TransformContext{
		documentID:   documentID,
		branchID:     branchID,
		cfg:          cfg,
		state:        state.Clone(),
		bridges:      make(map[string][]ot.Operation),
		acknowledged: make(map[string]struct{}),
		newID:        util.NewID,
		logger:       logging.Discard(),
	}
}

func (c *TransformContext) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *TransformContext) DocumentID() string { return c.documentID }
func (c *TransformContext) BranchID() string   { return c.branchID }

// State returns a copy of the server state.
func (c *TransformContext) State() DocumentState {
	return c.state.Clone()
}

// Pending returns a copy of the pending queue in insertion order.
func (c *TransformContext) Pending() []ot.Operation {
	items := make([]ot.Operation, len(c.pending))
	for i, op := range c.pending {
		items[i] = op.Clone()
	}
	return items
}

// Prepare transforms op against the concurrent pending operations and
// computes the resulting state.
func (c *TransformContext) Prepare(op ot.Operation) (Prepared, error) {
	if err := op.Validate(); err != nil {
		return Prepared{}, domainerr.InvalidOperation.Wrap(err)
	}
	if op.DocumentID != c.documentID {
		return Prepared{}, domainerr.InvalidOperation.Withf("operation targets document %q, context holds %q", op.DocumentID, c.documentID)
	}

	own := op.VectorClock.Get(op.AuthorID)
	seen := c.state.VectorClock.Get(op.AuthorID)
	if own == 0 {
		return Prepared{}, domainerr.InvalidOperation.Withf("vector clock has no entry for author %q", op.AuthorID)
	}
	if own <= seen {
		return Prepared{Original: op, Transformed: op, State: c.State(), Duplicate: true}, nil
	}
	if own > seen+1 {
		return Prepared{}, domainerr.CausalGap.With(map[string]any{"author": op.AuthorID, "received": own, "expected": seen + 1})
	}
	for _, author := range op.VectorClock.Authors() {
		if author == op.AuthorID {
			continue
		}
		if op.VectorClock.Get(author) > c.state.VectorClock.Get(author) {
			return Prepared{}, domainerr.CausalGap.With(map[string]any{"author": author, "received": op.VectorClock.Get(author), "expected": c.state.VectorClock.Get(author)})
		}
	}

	transformed := op.Clone()
	bridge := c.unseen(op)
	if len(bridge) > c.cfg.MaxTransformIterations {
		return Prepared{}, domainerr.TransformDivergence.Withf("operation %s needed more than %d transforms", op.ID, c.cfg.MaxTransformIterations)
	}
	for i := range bridge {
		transformed, bridge[i] = ot.Transform(transformed, bridge[i])
	}

	content, err := ot.Apply(c.state.Content, transformed)
	if err != nil {
		return Prepared{}, domainerr.TransformDivergence.Wrap(fmt.Errorf("apply %s: %w", op.ID, err))
	}

	var conflicts []store.Conflict
	if collided(op, transformed) {
		conflicts = append(conflicts, c.conflictFor(op, transformed))
	}

	next := c.state.Clone()
	next.Content = content
	next.VectorClock = next.VectorClock.Merge(op.VectorClock)
	next.OperationHistory = append(next.OperationHistory, op.ID)
	next.LastSyncedOperation = op.ID
	next.Checksum = util.Checksum(content)

	return Prepared{
		Original:    op,
		Transformed: transformed,
		Conflicts:   conflicts,
		State:       next,
		bridge:      bridge,
	}, nil
}

// unseen returns the bridge of op's author minus the operations op already
// includes. An author without a bridge has no edits in flight, so the
// server-order forms of the concurrent pending operations serve as one.
func (c *TransformContext) unseen(op ot.Operation) []ot.Operation {
	source, ok := c.bridges[op.AuthorID]
	if !ok {
		source = c.pending
	}
	out := make([]ot.Operation, 0, len(source))
	for _, entry := range source {
		if entry.VectorClock.LessOrEqual(op.VectorClock) {
			continue
		}
		out = append(out, entry.Clone())
	}
	return out
}

// Commit installs a prepared result. Duplicates leave the context unchanged.
func (c *TransformContext) Commit(p Prepared) {
	if p.Duplicate {
		return
	}
	c.state = p.State.Clone()
	c.pending = append(c.pending, p.Transformed.Clone())
	for author := range c.bridges {
		if author != p.Original.AuthorID {
			c.bridges[author] = append(c.bridges[author], p.Transformed.Clone())
		}
	}
	c.bridges[p.Original.AuthorID] = p.bridge
	if len(c.pending) > c.cfg.PendingHighWater {
		c.prune()
	}
}

// Acknowledge marks operations as delivered so pruning can drop them first.
func (c *TransformContext) Acknowledge(ids []string) int {
	known := make(map[string]struct{}, len(c.pending))
	for _, op := range c.pending {
		known[op.ID] = struct{}{}
	}
	marked := 0
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, ok := c.acknowledged[id]; ok {
			continue
		}
		c.acknowledged[id] = struct{}{}
		marked++
	}
	return marked
}

// prune shrinks the pending queue to the low water mark, evicting
// acknowledged operations before unacknowledged ones, oldest first.
func (c *TransformContext) prune() {
	excess := len(c.pending) - c.cfg.PendingLowWater
	if excess <= 0 {
		return
	}
	evict := make(map[int]struct{}, excess)
	for i, op := range c.pending {
		if len(evict) == excess {
			break
		}
		if _, ok := c.acknowledged[op.ID]; ok {
			evict[i] = struct{}{}
		}
	}
	for i := range c.pending {
		if len(evict) == excess {
			break
		}
		evict[i] = struct{}{}
	}

	dropped := make(map[string]struct{}, excess)
	unacked := 0
	kept := make([]ot.Operation, 0, c.cfg.PendingLowWater)
	for i, op := range c.pending {
		if _, ok := evict[i]; ok {
			if _, acked := c.acknowledged[op.ID]; !acked {
				unacked++
			}
			delete(c.acknowledged, op.ID)
			dropped[op.ID] = struct{}{}
			continue
		}
		kept = append(kept, op)
	}
	c.pending = kept
	for author, bridge := range c.bridges {
		live := bridge[:0]
		for _, op := range bridge {
			if _, gone := dropped[op.ID]; !gone {
				live = append(live, op)
			}
		}
		c.bridges[author] = live
	}
	if unacked > 0 {
		// A late operation concurrent with these is applied untransformed.
		c.logger.Warn("pruned unacknowledged pending operations",
			"document_id", c.documentID,
			"branch_id", c.branchID,
			"evicted", len(dropped),
			"unacknowledged", unacked,
		)
	}
}

// collided reports whether transformation changed what the operation does,
// not merely where it does it.
func collided(original, transformed ot.Operation) bool {
	if original.IsNoop() != transformed.IsNoop() {
		return true
	}
	return original.Content != transformed.Content || original.Length != transformed.Length
}

func (c *TransformContext) conflictFor(original, transformed ot.Operation) store.Conflict {
	target := transformed.Content
	if transformed.Type == ot.OpDelete {
		target = sliceRunes(c.state.Content, transformed.Position, transformed.Length)
	}
	return store.Conflict{
		ID:            c.newID("conflict"),
		DocumentID:    c.documentID,
		OperationID:   original.ID,
		Type:          store.ConflictContent,
		Position:      transformed.Position,
		SourceContent: original.Content,
		TargetContent: target,
		Status:        store.ConflictUnresolved,
	}
}

// Dump describes the context for divergence logging.
func (c *TransformContext) Dump() map[string]any {
	pending := make([]map[string]any, 0, len(c.pending))
	for _, op := range c.pending {
		_, acked := c.acknowledged[op.ID]
		pending = append(pending, map[string]any{
			"id":           op.ID,
			"type":         op.Type,
			"author":       op.AuthorID,
			"position":     op.Position,
			"length":       op.Length,
			"content_len":  utf8.RuneCountInString(op.Content),
			"vector_clock": op.VectorClock,
			"acknowledged": acked,
		})
	}
	return map[string]any{
		"document_id":    c.documentID,
		"branch_id":      c.branchID,
		"server_clock":   c.state.VectorClock,
		"checksum":       c.state.Checksum,
		"content_length": utf8.RuneCountInString(c.state.Content),
		"history_length": len(c.state.OperationHistory),
		"pending":        pending,
	}
}

func sliceRunes(content string, position, length int) string {
	runes := []rune(content)
	if position > len(runes) {
		return ""
	}
	end := position + length
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[position:end])
}
