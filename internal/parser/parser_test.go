package parser

import (
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/FeedStalk/internal/config"
	"github.com/IshaanNene/FeedStalk/internal/engine"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// testAnchor is the clock reading used to anchor relative timestamps.
var testAnchor = time.Date(2025, 11, 7, 12, 0, 0, 0, time.UTC)

// feedHTML is a captured-style feed snapshot: three organic posts, four
// sponsored items (one per ad marker), and one item with no post text.
const feedHTML = `<!DOCTYPE html>
<html>
<body>
<div data-testid="primaryColumn">
  <article data-testid="tweet" aria-label="Post by Ada Lovelace">
    <div data-testid="User-Name"><span>Ada Lovelace</span><span>@adalovelace</span></div>
    <div data-testid="tweetText">The analytical engine weaves algebraic patterns.</div>
    <a href="/adalovelace/status/1"><time datetime="2025-11-07T10:15:00.000Z">2h</time></a>
  </article>
  <article data-testid="tweet">
    <div data-testid="User-Name"><span>山田太郎</span><span>@yamada</span></div>
    <div data-testid="tweetText">今日は天気がいいですね 🌤</div>
    <a href="/yamada/status/2"><time datetime="2025-11-07T09:30:00.000Z">3h</time></a>
  </article>
  <article data-testid="tweet">
    <div data-testid="User-Name"><span>Grace Hopper</span><span>@amazinggrace</span></div>
    <div data-testid="tweetText">A ship in port is safe, but that is not what ships are built for.</div>
    <div role="button" aria-label="Add to thread"><span>Reply</span></div>
    <a href="/grace/status/3"><time>4h</time></a>
  </article>
  <article data-testid="tweet">
    <div data-testid="socialContext"><span>Promoted</span></div>
    <div data-testid="User-Name"><span>MegaCorp</span></div>
    <div data-testid="tweetText">Buy our cloud credits.</div>
    <time datetime="2025-11-07T08:00:00.000Z">5h</time>
  </article>
  <article data-testid="tweet">
    <div data-testid="placementTracking">
      <div data-testid="User-Name"><span>StreamCo</span></div>
      <div data-testid="tweetText">Watch the finale tonight.</div>
      <time datetime="2025-11-07T07:00:00.000Z">6h</time>
    </div>
  </article>
  <article data-testid="tweet">
    <div data-testid="User-Name"><span>DealBot</span></div>
    <div data-testid="tweetText">Huge savings this week only.</div>
    <div data-testid="card.wrapper">
      <a href="https://deals.example.com/offer?twclid=29fak3">deals.example.com</a>
    </div>
    <time datetime="2025-11-07T06:00:00.000Z">7h</time>
  </article>
  <article data-testid="tweet" aria-label="Sponsored content from AdNetwork">
    <div data-testid="User-Name"><span>AdNetwork</span></div>
    <div data-testid="tweetText">Grow your audience with us.</div>
    <time datetime="2025-11-07T05:00:00.000Z">8h</time>
  </article>
  <article data-testid="tweet">
    <div data-testid="User-Name"><span>NoBody</span></div>
    <time datetime="2025-11-07T04:00:00.000Z">9h</time>
  </article>
</div>
</body>
</html>`

// selection parses a fixture and returns the first match for sel.
func selection(t *testing.T, html, sel string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	found := doc.Find(sel)
	if found.Length() == 0 {
		t.Fatalf("fixture has no %q element", sel)
	}
	return found.First()
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	return NewExtractor(DefaultProfile(), DefaultFilterChain(testLogger), testLogger)
}

// --- Timestamp Tests ---

func TestNormalizeTimestampAbsoluteLayouts(t *testing.T) {
	cases := []struct {
		name     string
		datetime string
		want     time.Time
	}{
		{"rfc3339nano", "2025-11-07T10:15:00.123456789Z", time.Date(2025, 11, 7, 10, 15, 0, 123456789, time.UTC)},
		{"rfc3339", "2025-11-07T10:15:00Z", time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)},
		{"no_zone", "2025-11-07T10:15:00", time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)},
		{"space_separated", "2025-11-07 10:15:00", time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)},
		{"date_only", "2025-11-07", time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)},
		{"rfc1123z", "Fri, 07 Nov 2025 10:15:00 +0000", time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)},
		{"offset_normalized", "2025-11-07T12:15:00+02:00", time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			norm := NormalizeTimestamp(tc.datetime, "", testAnchor)
			if !norm.Instant.Equal(tc.want) {
				t.Errorf("instant: expected %v, got %v", tc.want, norm.Instant)
			}
			if norm.Instant.Location() != time.UTC {
				t.Errorf("instant not in UTC: %v", norm.Instant.Location())
			}
			if !norm.Exact {
				t.Error("expected Exact for machine-readable datetime")
			}
		})
	}
}

func TestNormalizeTimestampRelativeTokens(t *testing.T) {
	cases := []struct {
		relative string
		age      time.Duration
	}{
		{"45s", 45 * time.Second},
		{"10m", 10 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3d", 72 * time.Hour},
		{"2 h", 2 * time.Hour},
	}

	for _, tc := range cases {
		norm := NormalizeTimestamp("", tc.relative, testAnchor)
		want := testAnchor.Add(-tc.age)
		if !norm.Instant.Equal(want) {
			t.Errorf("%q: expected %v, got %v", tc.relative, want, norm.Instant)
		}
		if norm.Exact {
			t.Errorf("%q: relative token must not be Exact", tc.relative)
		}
	}
}

func TestNormalizeTimestampFallsBackToNow(t *testing.T) {
	for _, relative := range []string{"", "Just now", "yesterday", "2w", "h"} {
		norm := NormalizeTimestamp("", relative, testAnchor)
		if !norm.Instant.Equal(testAnchor) {
			t.Errorf("%q: expected anchor %v, got %v", relative, testAnchor, norm.Instant)
		}
		if norm.Exact {
			t.Errorf("%q: fallback must not be Exact", relative)
		}
	}
}

func TestNormalizeTimestampDatetimeWins(t *testing.T) {
	norm := NormalizeTimestamp("2025-11-07T10:15:00Z", "2h", testAnchor)
	want := time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)
	if !norm.Instant.Equal(want) {
		t.Errorf("expected datetime to win over relative text, got %v", norm.Instant)
	}
	if !norm.Exact {
		t.Error("expected Exact when datetime parses")
	}
}

func TestNormalizeTimestampGarbageDatetimeUsesRelative(t *testing.T) {
	norm := NormalizeTimestamp("not-a-date", "2h", testAnchor)
	want := testAnchor.Add(-2 * time.Hour)
	if !norm.Instant.Equal(want) {
		t.Errorf("expected %v, got %v", want, norm.Instant)
	}
	if norm.Exact {
		t.Error("unparseable datetime must not be Exact")
	}
}

func TestNormalizeTimestampDisplayIsLocal(t *testing.T) {
	norm := NormalizeTimestamp("2025-11-07T10:15:00Z", "", testAnchor)

	parsed, err := time.ParseInLocation("2006/01/02 15:04:05", norm.Display, time.Local)
	if err != nil {
		t.Fatalf("display %q does not parse: %v", norm.Display, err)
	}
	if parsed.Unix() != norm.Instant.Unix() {
		t.Errorf("display %q does not round-trip to instant %v", norm.Display, norm.Instant)
	}
}

// --- Ad Filter Tests ---

func TestAdTermWordBoundary(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Promoted", true},
		{"Promoted post by MegaCorp", true},
		{"Sponsored", true},
		{"AD", true},
		{"an advertisement for shoes", true},
		{"Add to thread", false},
		{"read this thread", false},
		{"squad goals", false},
		{"adjacent topics", false},
	}

	for _, tc := range cases {
		if got := adTermWord.MatchString(tc.text); got != tc.want {
			t.Errorf("adTermWord(%q): expected %v, got %v", tc.text, tc.want, got)
		}
	}
}

func TestLabelPredicate(t *testing.T) {
	p := &LabelPredicate{}

	promoted := selection(t, `<article data-testid="tweet"><span> Promoted </span></article>`, "article")
	if !p.Match(promoted) {
		t.Error("expected match on Promoted label span")
	}

	socialCtx := selection(t, `<article data-testid="tweet"><div data-testid="socialContext">Sponsored</div></article>`, "article")
	if !p.Match(socialCtx) {
		t.Error("expected match on socialContext label")
	}

	organic := selection(t, `<article data-testid="tweet"><span>Promotion season is here</span></article>`, "article")
	if p.Match(organic) {
		t.Error("label predicate must require the exact label text")
	}
}

func TestPlacementPredicate(t *testing.T) {
	p := &PlacementPredicate{}

	wrapper := selection(t, `<div data-testid="placementTracking"><span>x</span></div>`, "div")
	if !p.Match(wrapper) {
		t.Error("expected match when the item is the placement wrapper")
	}

	nested := selection(t, `<article data-testid="tweet"><div data-testid="placementTracking"></div></article>`, "article")
	if !p.Match(nested) {
		t.Error("expected match on nested placement wrapper")
	}

	organic := selection(t, `<article data-testid="tweet"><div data-testid="tweetText">hello</div></article>`, "article")
	if p.Match(organic) {
		t.Error("unexpected match on organic item")
	}
}

func TestExternalCardPredicate(t *testing.T) {
	p := &ExternalCardPredicate{}

	cases := []struct {
		name string
		html string
		want bool
	}{
		{
			"twclid_param",
			`<article><div data-testid="card.wrapper"><a href="https://deals.example.com/x?twclid=abc">link</a></div></article>`,
			true,
		},
		{
			"gclid_param",
			`<article><div data-testid="card.wrapper"><a href="https://deals.example.com/x?gclid=abc&q=1">link</a></div></article>`,
			true,
		},
		{
			"from_domain_line",
			`<article><div data-testid="card.wrapper"><a href="https://shop.example.com/x">link</a><span>From shop.example.com</span></div></article>`,
			true,
		},
		{
			"clean_card",
			`<article><div data-testid="card.wrapper"><a href="https://blog.example.com/post?id=7">link</a><span>A longform read</span></div></article>`,
			false,
		},
		{
			"no_card",
			`<article><a href="https://blog.example.com/post?twclid=abc">link</a></article>`,
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := selection(t, tc.html, "article")
			if got := p.Match(item); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestAriaLabelPredicate(t *testing.T) {
	p := &AriaLabelPredicate{}

	onItem := selection(t, `<article aria-label="Promoted by MegaCorp"></article>`, "article")
	if !p.Match(onItem) {
		t.Error("expected match on the item's own aria-label")
	}

	onChild := selection(t, `<article><div aria-label="Sponsored video"></div></article>`, "article")
	if !p.Match(onChild) {
		t.Error("expected match on a descendant aria-label")
	}

	addToThread := selection(t, `<article><div aria-label="Add to thread"></div></article>`, "article")
	if p.Match(addToThread) {
		t.Error("'Add to thread' must not match the ad term")
	}
}

func TestFilterChainFirstMatchWins(t *testing.T) {
	fc := DefaultFilterChain(testLogger)
	if fc.Len() != 4 {
		t.Fatalf("expected 4 default predicates, got %d", fc.Len())
	}

	// Carries both a label span and a placement wrapper; the label predicate
	// is registered first.
	both := selection(t, `<article><span>Promoted</span><div data-testid="placementTracking"></div></article>`, "article")
	name, excluded := fc.Exclude(both)
	if !excluded {
		t.Fatal("expected exclusion")
	}
	if name != "promoted_label" {
		t.Errorf("expected promoted_label to win, got %q", name)
	}

	organic := selection(t, `<article><span>hello</span></article>`, "article")
	if name, excluded := fc.Exclude(organic); excluded {
		t.Errorf("unexpected exclusion by %q", name)
	}
}

// --- Extractor Tests ---

func TestExtractorExtract(t *testing.T) {
	e := newTestExtractor(t)

	posts, filtered, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}

	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	if filtered != 4 {
		t.Errorf("expected 4 filtered items, got %d", filtered)
	}

	// Document order, not instant order.
	wantAuthors := []string{"Ada Lovelace", "山田太郎", "Grace Hopper"}
	for i, want := range wantAuthors {
		if posts[i].Author != want {
			t.Errorf("posts[%d].Author: expected %q, got %q", i, want, posts[i].Author)
		}
	}

	if posts[1].Content != "今日は天気がいいですね 🌤" {
		t.Errorf("non-ASCII content mangled: %q", posts[1].Content)
	}

	for i, p := range posts {
		if p.ID == "" || p.DisplayTime == "" || p.Instant.IsZero() {
			t.Errorf("posts[%d] incomplete: %+v", i, p)
		}
	}
}

func TestExtractorIdentity(t *testing.T) {
	e := newTestExtractor(t)

	posts, _, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}

	instant := time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)
	want := engine.ComputeID("Ada Lovelace", "The analytical engine weaves algebraic patterns.", instant, true)
	if posts[0].ID != want {
		t.Errorf("expected id %s, got %s", want, posts[0].ID)
	}

	// The third post has only a relative timestamp, anchored to the clock.
	relInstant := testAnchor.Add(-4 * time.Hour)
	if !posts[2].Instant.Equal(relInstant) {
		t.Errorf("relative instant: expected %v, got %v", relInstant, posts[2].Instant)
	}
	wantRel := engine.ComputeID("Grace Hopper", posts[2].Content, relInstant, false)
	if posts[2].ID != wantRel {
		t.Errorf("expected id %s, got %s", wantRel, posts[2].ID)
	}
}

func TestExtractorDeterministic(t *testing.T) {
	e := newTestExtractor(t)

	first, _, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	second, _, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("same snapshot and clock must produce identical posts")
	}
}

func TestExtractorSkipsIncompleteItems(t *testing.T) {
	e := newTestExtractor(t)

	posts, filtered, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}

	// The item without post text is skipped, not counted as sponsored.
	for _, p := range posts {
		if p.Author == "NoBody" {
			t.Error("item without content must be skipped")
		}
	}
	if filtered != 4 {
		t.Errorf("skipped items must not count as filtered, got %d", filtered)
	}
}

func TestExtractorEmptyDocument(t *testing.T) {
	e := newTestExtractor(t)

	posts, filtered, err := e.Extract("<html><body><p>nothing here</p></body></html>", testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(posts) != 0 || filtered != 0 {
		t.Errorf("expected empty result, got %d posts, %d filtered", len(posts), filtered)
	}
}

func TestExtractorNilFilterChain(t *testing.T) {
	e := NewExtractor(DefaultProfile(), nil, testLogger)

	posts, filtered, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if filtered != 0 {
		t.Errorf("nil chain must filter nothing, got %d", filtered)
	}
	// Sponsored items now extract like any other; only the incomplete one drops.
	if len(posts) != 7 {
		t.Errorf("expected 7 posts without filtering, got %d", len(posts))
	}
}

func TestExtractorXPathProfile(t *testing.T) {
	profile := Profile{
		Item:    Rule{Type: "xpath", Selector: `//article[@data-testid="tweet"]`},
		Author:  Rule{Type: "xpath", Selector: `.//div[@data-testid="User-Name"]//span`},
		Content: Rule{Type: "xpath", Selector: `.//div[@data-testid="tweetText"]`},
		Time:    Rule{Type: "xpath", Selector: `.//time`},
	}
	e := NewExtractor(profile, DefaultFilterChain(testLogger), testLogger)

	posts, filtered, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts via xpath, got %d", len(posts))
	}
	if filtered != 4 {
		t.Errorf("expected 4 filtered via xpath, got %d", filtered)
	}
	if posts[0].Author != "Ada Lovelace" {
		t.Errorf("expected first author via xpath, got %q", posts[0].Author)
	}

	instant := time.Date(2025, 11, 7, 10, 15, 0, 0, time.UTC)
	if !posts[0].Instant.Equal(instant) {
		t.Errorf("xpath datetime attribute not read: %v", posts[0].Instant)
	}
}

func TestExtractorInvalidXPath(t *testing.T) {
	profile := DefaultProfile()
	profile.Item = Rule{Type: "xpath", Selector: "///["}
	e := NewExtractor(profile, nil, testLogger)

	if _, _, err := e.Extract(feedHTML, testAnchor); err == nil {
		t.Error("expected error for invalid item xpath")
	}
}

// --- Selector Profile Tests ---

func TestProfileFromConfig(t *testing.T) {
	sc := config.SelectorsConfig{
		Item:    config.SelectorRule{Type: "css", Selector: ".post"},
		Content: config.SelectorRule{Selector: ".body"},
	}
	p := ProfileFromConfig(sc)

	if p.Item.Selector != ".post" {
		t.Errorf("expected configured item selector, got %q", p.Item.Selector)
	}
	if p.Content.Type != "css" {
		t.Errorf("empty rule type must default to css, got %q", p.Content.Type)
	}
	if p.Author.Selector != defaultAuthorSelector {
		t.Errorf("empty selector must fall back to default, got %q", p.Author.Selector)
	}
	if p.Time.Selector != defaultTimeSelector {
		t.Errorf("empty selector must fall back to default, got %q", p.Time.Selector)
	}
}

func TestPostIDShape(t *testing.T) {
	e := newTestExtractor(t)
	posts, _, err := e.Extract(feedHTML, testAnchor)
	if err != nil {
		t.Fatalf("extract error: %v", err)
	}

	idShape := regexp.MustCompile(`^[0-9a-f]{32}$`)
	for i, p := range posts {
		if !idShape.MatchString(p.ID) {
			t.Errorf("posts[%d].ID %q is not 32 lowercase hex chars", i, p.ID)
		}
	}
}

// --- Benchmarks ---

func BenchmarkExtract(b *testing.B) {
	e := NewExtractor(DefaultProfile(), DefaultFilterChain(testLogger), testLogger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Extract(feedHTML, testAnchor)
	}
}

func BenchmarkNormalizeTimestamp(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NormalizeTimestamp("2025-11-07T10:15:00.000Z", "2h", testAnchor)
	}
}

func BenchmarkFilterChain(b *testing.B) {
	fc := DefaultFilterChain(testLogger)
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(feedHTML))
	item := doc.Find(`article[data-testid="tweet"]`).First()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fc.Exclude(item)
	}
}
