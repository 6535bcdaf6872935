package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/FeedStalk/internal/observability"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// PageResolver looks up the live page for a tab id.
type PageResolver interface {
	Page(id string) (Page, error)
}

// Merger folds collected posts into the retained window and reports how many
// were new.
type Merger interface {
	Merge(posts []types.Post) (int, error)
}

// Service executes scrapes: it resolves the tab's page, runs the collector
// over it, and merges the result into the retention store. Every scrape,
// manual or reload-triggered, goes through Execute so both paths share the
// same dedup and merge behavior.
type Service struct {
	collector *Collector
	pages     PageResolver
	store     Merger
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService creates a scrape service.
func NewService(collector *Collector, pages PageResolver, store Merger, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		collector: collector,
		pages:     pages,
		store:     store,
		metrics:   metrics,
		logger:    logger.With("component", "scrape"),
	}
}

// Execute scrapes the given tab and merges the outcome. It returns the
// collected posts and the number that were new to the retained window. An
// empty result is a success, not an error.
func (s *Service) Execute(ctx context.Context, tabID string) ([]types.Post, int, error) {
	s.metrics.ScrapesTotal.Add(1)

	page, err := s.pages.Page(tabID)
	if err != nil {
		s.metrics.ScrapeErrors.Add(1)
		return nil, 0, fmt.Errorf("resolve page: %w", err)
	}

	res, err := s.collector.Collect(ctx, page)
	s.metrics.ScrollSteps.Add(int64(res.Attempts))
	s.metrics.PostsFiltered.Add(int64(res.Filtered))
	if err != nil {
		s.metrics.ScrapeErrors.Add(1)
		return nil, 0, err
	}
	s.metrics.PostsCollected.Add(int64(len(res.Posts)))

	added, err := s.store.Merge(res.Posts)
	if err != nil {
		s.metrics.ScrapeErrors.Add(1)
		return nil, 0, fmt.Errorf("merge posts: %w", err)
	}
	s.metrics.PostsMerged.Add(int64(added))

	s.logger.Info("scrape complete",
		"tab", tabID,
		"collected", len(res.Posts),
		"added", added,
		"reason", string(res.Reason))

	return res.Posts, added, nil
}
