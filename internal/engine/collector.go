package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Page is the surface the collector needs from a live tab: a way to read the
// rendered document and a way to scroll further content into view.
type Page interface {
	// Content returns the serialized DOM of the tab as currently rendered.
	Content(ctx context.Context) (string, error)

	// ScrollToBottom scrolls the tab to the bottom of the document so the
	// feed loads more items.
	ScrollToBottom(ctx context.Context) error
}

// Extractor turns one page snapshot into posts. now anchors relative
// timestamps; the collector passes the same instant for every step of a run.
type Extractor interface {
	Extract(htmlContent string, now time.Time) ([]types.Post, int, error)
}

// StopReason explains why a collection run ended.
type StopReason string

const (
	// TargetReached: the run accumulated at least the target post count.
	TargetReached StopReason = "target_reached"

	// MaxAttemptsReached: the attempt limit was hit before the target.
	MaxAttemptsReached StopReason = "max_attempts_reached"

	// NoNewContent: a step after the first yielded zero novel posts, so
	// scrolling further would not help.
	NoNewContent StopReason = "no_new_content"
)

// Result is the outcome of one collection run.
type Result struct {
	// Posts are the unique posts accumulated across all steps, in the order
	// they were first seen.
	Posts []types.Post

	// Attempts is the number of snapshot steps taken.
	Attempts int

	// Filtered counts sponsored items excluded across all steps.
	Filtered int

	// Reason is why the run stopped.
	Reason StopReason
}

// Collector drives the scroll-and-extract loop over one tab. Each step reads
// a snapshot, extracts posts, keeps the ones not yet seen this run, and
// scrolls for more. A run never mutates anything outside its own Result; a
// superseded run that is still finishing is therefore harmless downstream.
type Collector struct {
	extractor   Extractor
	targetCount int
	maxAttempts int
	stepDelay   time.Duration
	logger      *slog.Logger

	// now is the clock used to anchor a run; replaced in tests.
	now func() time.Time
}

// NewCollector creates a collector. targetCount and maxAttempts must be at
// least 1; stepDelay is the pause between a scroll and the next snapshot.
func NewCollector(extractor Extractor, targetCount, maxAttempts int, stepDelay time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		extractor:   extractor,
		targetCount: targetCount,
		maxAttempts: maxAttempts,
		stepDelay:   stepDelay,
		logger:      logger.With("component", "collector"),
		now:         time.Now,
	}
}

// Collect runs the scroll loop against page until one of the stop conditions
// fires. The clock is read once at the start so every step of the run
// resolves relative timestamps against the same instant.
func (c *Collector) Collect(ctx context.Context, page Page) (Result, error) {
	res := Result{Posts: make([]types.Post, 0, c.targetCount)}
	dedup := NewDeduplicator(c.targetCount * 2)
	anchor := c.now()

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		htmlContent, err := page.Content(ctx)
		if err != nil {
			return res, fmt.Errorf("read snapshot (step %d): %w", attempt, err)
		}

		candidates, filtered, err := c.extractor.Extract(htmlContent, anchor)
		if err != nil {
			return res, fmt.Errorf("extract snapshot (step %d): %w", attempt, err)
		}
		res.Filtered += filtered

		novel := dedup.Take(candidates)
		res.Posts = append(res.Posts, novel...)

		c.logger.Debug("collection step",
			"attempt", attempt,
			"candidates", len(candidates),
			"novel", len(novel),
			"total", len(res.Posts))

		if len(res.Posts) >= c.targetCount {
			res.Reason = TargetReached
			break
		}
		if attempt >= c.maxAttempts {
			res.Reason = MaxAttemptsReached
			break
		}
		if attempt > 1 && len(novel) == 0 {
			res.Reason = NoNewContent
			break
		}

		if err := page.ScrollToBottom(ctx); err != nil {
			return res, fmt.Errorf("scroll (step %d): %w", attempt, err)
		}
		if err := sleepCtx(ctx, c.stepDelay); err != nil {
			return res, err
		}
	}

	c.logger.Info("collection finished",
		"posts", len(res.Posts),
		"attempts", res.Attempts,
		"filtered", res.Filtered,
		"reason", string(res.Reason))

	return res, nil
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
