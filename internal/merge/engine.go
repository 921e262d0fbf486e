// Package merge detects conflicts between branches, runs merge requests and
// resolves the conflicts they raise.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/util"
)

// Store is the persistence port used by merges and conflict resolution.
type Store interface {
	LoadBranch(ctx context.Context, branchID string) (store.Branch, error)
	LoadVersion(ctx context.Context, versionID string) (store.Version, error)
	LoadLatestVersion(ctx context.Context, branchID string) (store.Version, error)
	// CreateMergeRequest and UpdateMergeRequest store the request together
	// with the new conflicts it references, or nothing.
	CreateMergeRequest(ctx context.Context, request store.MergeRequest, conflicts ...store.Conflict) error
	LoadMergeRequest(ctx context.Context, id string) (store.MergeRequest, error)
	ListMergeRequests(ctx context.Context, branchID string, openOnly bool) ([]store.MergeRequest, error)
	UpdateMergeRequest(ctx context.Context, request store.MergeRequest, conflicts ...store.Conflict) error
	CompleteMerge(ctx context.Context, mergeRequestID string, version store.Version) error
	LoadConflict(ctx context.Context, id string) (store.Conflict, error)
	ListConflicts(ctx context.Context, mergeRequestID string) ([]store.Conflict, error)
	ResolveConflict(ctx context.Context, conflict store.Conflict) (bool, error)
}

// Publisher receives merge versions after they are committed.
// *versioning.Service satisfies it.
type Publisher interface {
	Publish(branch store.Branch, version store.Version)
}

// Tagger marks merge commits in the git mirror. *gitrepo.Mirror satisfies it.
type Tagger interface {
	TagMerge(documentID, branchName, mergeRequestID string) error
}

// Suggester proposes resolved content for a conflict.
type Suggester interface {
	SuggestResolution(ctx context.Context, conflict store.Conflict) (string, error)
}

type Config struct {
	// BestEffortLengthMerge lets the auto strategy settle unresolved regions
	// by keeping the longer side.
	BestEffortLengthMerge bool
	AncestorCacheSize     int
	MaxAncestorWalk       int
}

func DefaultConfig() Config {
	return Config{AncestorCacheSize: 1024, MaxAncestorWalk: 10000}
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithTagger(t Tagger) Option {
	return func(e *Engine) { e.tagger = t }
}

func WithSuggester(s Suggester) Option {
	return func(e *Engine) { e.suggester = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	store     Store
	cfg       Config
	versions  *lru.Cache[string, store.Version]
	dmp       *diffmatchpatch.DiffMatchPatch
	publisher Publisher
	tagger    Tagger
	suggester Suggester
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(st Store, cfg Config, opts ...Option) (*Engine, error) {
	defaults := DefaultConfig()
	if cfg.AncestorCacheSize <= 0 {
		cfg.AncestorCacheSize = defaults.AncestorCacheSize
	}
	if cfg.MaxAncestorWalk <= 0 {
		cfg.MaxAncestorWalk = defaults.MaxAncestorWalk
	}
	cache, err := lru.New[string, store.Version](cfg.AncestorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}
	e := &Engine{
		store:    st,
		cfg:      cfg,
		versions: cache,
		dmp:      diffmatchpatch.New(),
		logger:   logging.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "merge")
	return e, nil
}

// comparison is a three-way view of two branch heads.
type comparison struct {
	source      store.Branch
	target      store.Branch
	sourceHead  store.Version
	targetHead  store.Version
	ancestor    store.Version
	hasAncestor bool
	regions     []region
}

func (c comparison) ancestorRunes() []rune {
	return []rune(c.ancestor.Content)
}

func (c comparison) conflictRegions() []region {
	anc := c.ancestorRunes()
	out := make([]region, 0)
	for _, r := range c.regions {
		if r.conflicting(anc) {
			out = append(out, r)
		}
	}
	return out
}

// DetectConflicts compares the heads of both branches against their nearest
// common ancestor and returns one conflict per region both sides changed
// differently. The conflicts are not stored.
func (e *Engine) DetectConflicts(ctx context.Context, sourceBranchID, targetBranchID string) ([]store.Conflict, error) {
	cmp, err := e.compare(ctx, sourceBranchID, targetBranchID)
	if err != nil {
		return nil, err
	}
	return e.conflictsFor(cmp, ""), nil
}

func (e *Engine) compare(ctx context.Context, sourceBranchID, targetBranchID string) (comparison, error) {
	var cmp comparison
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		branch, head, err := e.branchHead(gctx, sourceBranchID)
		cmp.source, cmp.sourceHead = branch, head
		return err
	})
	g.Go(func() error {
		branch, head, err := e.branchHead(gctx, targetBranchID)
		cmp.target, cmp.targetHead = branch, head
		return err
	})
	if err := g.Wait(); err != nil {
		return comparison{}, err
	}
	if cmp.source.DocumentID != cmp.target.DocumentID {
		return comparison{}, domainerr.InvalidInput.Withf("branches belong to different documents")
	}
	if cmp.source.ID == cmp.target.ID {
		return comparison{}, domainerr.InvalidInput.Withf("source and target must differ")
	}

	ancestor, ok, err := e.commonAncestor(ctx, cmp.sourceHead, cmp.targetHead)
	if err != nil {
		return comparison{}, err
	}
	cmp.ancestor, cmp.hasAncestor = ancestor, ok

	base := ancestor.Content
	sourceEdits := diffEdits(e.dmp, base, cmp.sourceHead.Content, sideSource)
	targetEdits := diffEdits(e.dmp, base, cmp.targetHead.Content, sideTarget)
	cmp.regions = clusterRegions(sourceEdits, targetEdits)
	return cmp, nil
}

func (e *Engine) conflictsFor(cmp comparison, mergeRequestID string) []store.Conflict {
	anc := cmp.ancestorRunes()
	now := e.now()
	conflicts := make([]store.Conflict, 0)
	for _, r := range cmp.conflictRegions() {
		sourceText := r.text(anc, sideSource)
		targetText := r.text(anc, sideTarget)
		kind := store.ConflictContent
		if sourceText == "" || targetText == "" {
			kind = store.ConflictStructural
		}
		conflicts = append(conflicts, store.Conflict{
			ID:             util.NewID("cf"),
			DocumentID:     cmp.source.DocumentID,
			MergeRequestID: mergeRequestID,
			Type:           kind,
			Position:       r.start,
			SourceContent:  sourceText,
			TargetContent:  targetText,
			CommonAncestor: string(anc[r.start:r.end]),
			HasAncestor:    cmp.hasAncestor,
			Status:         store.ConflictUnresolved,
			CreatedAt:      now,
		})
	}
	return conflicts
}

func (e *Engine) branchHead(ctx context.Context, branchID string) (store.Branch, store.Version, error) {
	branch, err := e.store.LoadBranch(ctx, branchID)
	if err != nil {
		return store.Branch{}, store.Version{}, notFound(err, domainerr.BranchNotFound.With(map[string]any{"branchId": branchID}), "load branch")
	}
	head, err := e.store.LoadLatestVersion(ctx, branchID)
	if err != nil {
		return store.Branch{}, store.Version{}, notFound(err, domainerr.VersionNotFound, "load branch head")
	}
	e.versions.Add(head.ID, head)
	return branch, head, nil
}

// commonAncestor walks parent and merge edges breadth first. Every ancestor
// of a is collected, then the walk from b stops at the first shared version,
// which is the one nearest to b.
func (e *Engine) commonAncestor(ctx context.Context, a, b store.Version) (store.Version, bool, error) {
	seen := make(map[string]struct{})
	if err := e.walk(ctx, a, func(v store.Version) bool {
		seen[v.ID] = struct{}{}
		return true
	}); err != nil {
		return store.Version{}, false, err
	}

	var found store.Version
	ok := false
	err := e.walk(ctx, b, func(v store.Version) bool {
		if _, shared := seen[v.ID]; shared {
			found, ok = v, true
			return false
		}
		return true
	})
	if err != nil {
		return store.Version{}, false, err
	}
	return found, ok, nil
}

func (e *Engine) walk(ctx context.Context, start store.Version, visit func(store.Version) bool) error {
	queue := []store.Version{start}
	visited := map[string]struct{}{start.ID: {}}
	for steps := 0; len(queue) > 0; steps++ {
		if steps >= e.cfg.MaxAncestorWalk {
			return fmt.Errorf("ancestor walk exceeded %d versions", e.cfg.MaxAncestorWalk)
		}
		current := queue[0]
		queue = queue[1:]
		if !visit(current) {
			return nil
		}
		for _, parentID := range current.Parents() {
			if _, ok := visited[parentID]; ok {
				continue
			}
			visited[parentID] = struct{}{}
			parent, err := e.version(ctx, parentID)
			if err != nil {
				return err
			}
			queue = append(queue, parent)
		}
	}
	return nil
}

// version loads an immutable version through the cache.
func (e *Engine) version(ctx context.Context, id string) (store.Version, error) {
	if v, ok := e.versions.Get(id); ok {
		return v, nil
	}
	v, err := e.store.LoadVersion(ctx, id)
	if err != nil {
		return store.Version{}, notFound(err, domainerr.VersionNotFound.With(map[string]any{"versionId": id}), "load version")
	}
	e.versions.Add(id, v)
	return v, nil
}

func notFound(err error, typed *domainerr.Error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return typed
	}
	return fmt.Errorf("%s: %w", action, err)
}
