package parser

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Predicate inspects one feed item element and reports whether it is
// sponsored content that must be excluded before extraction.
type Predicate interface {
	// Name identifies the predicate in logs.
	Name() string

	// Match returns true when the item should be excluded.
	Match(item *goquery.Selection) bool
}

// FilterChain runs ad predicates in order. Matching any single predicate
// excludes the item; predicates never mutate the document.
type FilterChain struct {
	predicates []Predicate
	logger     *slog.Logger
}

// NewFilterChain creates an empty filter chain.
func NewFilterChain(logger *slog.Logger) *FilterChain {
	return &FilterChain{
		logger: logger.With("component", "adfilter"),
	}
}

// DefaultFilterChain returns the chain used against the stock feed markup.
// The heuristics are deliberately independent: the feed varies how it marks
// sponsored items, and any one marker is enough.
func DefaultFilterChain(logger *slog.Logger) *FilterChain {
	fc := NewFilterChain(logger)
	fc.Use(&LabelPredicate{})
	fc.Use(&PlacementPredicate{})
	fc.Use(&ExternalCardPredicate{})
	fc.Use(&AriaLabelPredicate{})
	return fc
}

// Use appends a predicate to the chain.
func (fc *FilterChain) Use(p Predicate) {
	fc.predicates = append(fc.predicates, p)
}

// Exclude runs the chain against one item. It returns the name of the first
// matching predicate and true when the item is sponsored content.
func (fc *FilterChain) Exclude(item *goquery.Selection) (string, bool) {
	for _, p := range fc.predicates {
		if p.Match(item) {
			fc.logger.Debug("item excluded", "predicate", p.Name())
			return p.Name(), true
		}
	}
	return "", false
}

// Len returns the number of registered predicates.
func (fc *FilterChain) Len() int {
	return len(fc.predicates)
}

// --- Built-in Predicates ---

// adTermWord matches sponsored-content terms as whole words only, so that
// "Promoted" matches while "Add to thread" does not.
var adTermWord = regexp.MustCompile(`(?i)\b(?:promoted|sponsored|advertisement|ad)\b`)

// adLabels are the exact texts the feed uses to label a sponsored item.
var adLabels = map[string]bool{
	"promoted":      true,
	"sponsored":     true,
	"ad":            true,
	"advertisement": true,
}

// clickTrackingParams are query parameters that mark an outbound card link
// as a paid placement.
var clickTrackingParams = []string{"twclid", "clickid", "click_id", "gclid"}

// fromDomainText matches the "From example.com" attribution line shown under
// labelled external cards.
var fromDomainText = regexp.MustCompile(`(?i)^from\s+(?:[a-z0-9-]+\.)+[a-z]{2,}$`)

// LabelPredicate excludes items carrying an explicit sponsored label span.
type LabelPredicate struct{}

func (p *LabelPredicate) Name() string { return "promoted_label" }

func (p *LabelPredicate) Match(item *goquery.Selection) bool {
	matched := false
	item.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if adLabels[strings.ToLower(strings.TrimSpace(s.Text()))] {
			matched = true
			return false
		}
		return true
	})
	if matched {
		return true
	}
	// The label also appears in the social-context line above the post body.
	ctx := strings.TrimSpace(item.Find(`[data-testid="socialContext"]`).Text())
	return adLabels[strings.ToLower(ctx)]
}

// PlacementPredicate excludes items wrapped in the video placement tracking
// container the feed uses for paid video slots.
type PlacementPredicate struct{}

func (p *PlacementPredicate) Name() string { return "placement_tracking" }

func (p *PlacementPredicate) Match(item *goquery.Selection) bool {
	if item.Is(`[data-testid="placementTracking"]`) {
		return true
	}
	return item.Find(`[data-testid="placementTracking"]`).Length() > 0
}

// ExternalCardPredicate excludes items whose external link card carries a
// click-tracking parameter or a "From <domain>" attribution line.
type ExternalCardPredicate struct{}

func (p *ExternalCardPredicate) Name() string { return "external_card" }

func (p *ExternalCardPredicate) Match(item *goquery.Selection) bool {
	card := item.Find(`[data-testid="card.wrapper"]`)
	if card.Length() == 0 {
		return false
	}

	tracked := false
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if hasClickTracking(a.AttrOr("href", "")) {
			tracked = true
			return false
		}
		return true
	})
	if tracked {
		return true
	}

	card.Find("span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if fromDomainText.MatchString(strings.TrimSpace(s.Text())) {
			tracked = true
			return false
		}
		return true
	})
	return tracked
}

func hasClickTracking(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	q := u.Query()
	for _, param := range clickTrackingParams {
		if q.Has(param) {
			return true
		}
	}
	return false
}

// AriaLabelPredicate excludes items whose accessibility labels contain a
// sponsored-content term as a whole word.
type AriaLabelPredicate struct{}

func (p *AriaLabelPredicate) Name() string { return "aria_ad_term" }

func (p *AriaLabelPredicate) Match(item *goquery.Selection) bool {
	if label, ok := item.Attr("aria-label"); ok && adTermWord.MatchString(label) {
		return true
	}
	matched := false
	item.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if adTermWord.MatchString(s.AttrOr("aria-label", "")) {
			matched = true
			return false
		}
		return true
	})
	return matched
}
