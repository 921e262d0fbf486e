package search

import (
	"context"
	"log/slog"
	"sync"
)

// Service tries the primary index first and falls back to the secondary
// searcher. Either may be nil.
type Service struct {
	primary  Index
	fallback Searcher
	logger   *slog.Logger
	inflight sync.WaitGroup
}

func NewService(primary Index, fallback Searcher, logger *slog.Logger) *Service {
	return &Service{primary: primary, fallback: fallback, logger: logger.With("component", "search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVersion pushes a version to the primary index in the background.
func (s *Service) IndexVersion(rec VersionRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.primary.IndexVersion(rec); err != nil {
			s.logger.Warn("index version", "version_id", rec.ID, "error", err)
		}
	}()
}

// Reindex loads every version from loader and bulk-indexes it.
func (s *Service) Reindex(ctx context.Context, loader func(context.Context) ([]VersionRecord, error)) {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return
	}
	records, err := loader(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexVersions(records); err != nil {
		s.logger.Warn("reindex versions", "count", len(records), "error", err)
		return
	}
	s.logger.Info("reindexed versions", "count", len(records))
}

// Wait blocks until background indexing has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
