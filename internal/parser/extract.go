package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/FeedStalk/internal/engine"
	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Extractor turns one rendered feed snapshot into structured posts. It is
// stateless: every call parses the snapshot it is given and nothing else, so
// the same snapshot and clock always produce the same posts in the same
// document order.
type Extractor struct {
	profile Profile
	filters *FilterChain
	logger  *slog.Logger
}

// NewExtractor creates an extractor for the given selector profile. A nil
// filter chain disables ad exclusion.
func NewExtractor(profile Profile, filters *FilterChain, logger *slog.Logger) *Extractor {
	if filters == nil {
		filters = NewFilterChain(logger)
	}
	return &Extractor{
		profile: profile,
		filters: filters,
		logger:  logger.With("component", "extractor"),
	}
}

// Extract parses a feed snapshot and returns the posts it contains, newest
// markup first as rendered. now anchors relative timestamps for the whole
// snapshot. The second return value counts items excluded as sponsored
// content. Items missing an author or content are skipped, not errors.
func (e *Extractor) Extract(htmlContent string, now time.Time) ([]types.Post, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, 0, fmt.Errorf("parse snapshot: %w", err)
	}

	items, err := selectItems(doc, e.profile.Item)
	if err != nil {
		return nil, 0, err
	}

	posts := make([]types.Post, 0, items.Length())
	filtered := 0

	items.Each(func(i int, item *goquery.Selection) {
		if name, excluded := e.filters.Exclude(item); excluded {
			filtered++
			e.logger.Debug("sponsored item excluded", "index", i, "predicate", name)
			return
		}

		post, err := e.extractPost(item, now)
		if err != nil {
			e.logger.Warn("item skipped", "index", i, "error", err)
			return
		}
		posts = append(posts, post)
	})

	e.logger.Debug("snapshot extracted",
		"items", items.Length(),
		"posts", len(posts),
		"filtered", filtered)

	return posts, filtered, nil
}

// extractPost assembles a single Post from one feed item element.
func (e *Extractor) extractPost(item *goquery.Selection, now time.Time) (types.Post, error) {
	author := fieldText(item, e.profile.Author, e.logger)
	if author == "" {
		return types.Post{}, &types.ExtractError{
			Field:    "author",
			Selector: e.profile.Author.Selector,
			Err:      fmt.Errorf("no author text"),
		}
	}

	content := fieldText(item, e.profile.Content, e.logger)
	if content == "" {
		return types.Post{}, &types.ExtractError{
			Field:    "content",
			Selector: e.profile.Content.Selector,
			Err:      fmt.Errorf("no content text"),
		}
	}

	norm := NormalizeTimestamp(
		fieldAttr(item, e.profile.Time, datetimeAttr, e.logger),
		fieldText(item, e.profile.Time, e.logger),
		now,
	)

	return types.Post{
		ID:          engine.ComputeID(author, content, norm.Instant, norm.Exact),
		Author:      author,
		Content:     content,
		DisplayTime: norm.Display,
		Instant:     norm.Instant,
	}, nil
}
