package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Normalized is the canonical time pair derived from a raw feed timestamp.
type Normalized struct {
	// Instant is the resolved UTC instant used for ordering and identity.
	Instant time.Time

	// Display is the local-time presentation string (types.DisplayTimeLayout).
	Display string

	// Exact is true when Instant came from a machine-readable datetime rather
	// than a relative token or the evaluation clock.
	Exact bool
}

// absoluteLayouts are tried in order against machine-readable datetimes.
// Feed markup normally carries RFC 3339; the rest cover degraded markup.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RubyDate,
	time.UnixDate,
}

// relativeToken matches feed-style relative ages: "5s", "2m", "3h", "1d".
var relativeToken = regexp.MustCompile(`^(\d+)\s*([smhd])$`)

var relativeUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// NormalizeTimestamp resolves a raw timestamp into a canonical instant and a
// display string. datetime is the machine-readable attribute value if the
// markup had one; relative is the human-visible text ("2h"). Both may be
// empty. now anchors relative tokens and is the fallback when nothing parses,
// so callers must pass a single clock reading per extraction pass.
func NormalizeTimestamp(datetime, relative string, now time.Time) Normalized {
	if raw := strings.TrimSpace(datetime); raw != "" {
		for _, layout := range absoluteLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return newNormalized(t, true)
			}
		}
	}

	if raw := strings.TrimSpace(relative); raw != "" {
		if m := relativeToken.FindStringSubmatch(raw); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return newNormalized(now.Add(-time.Duration(n)*relativeUnits[m[2]]), false)
			}
		}
		// "now", "Just now" and localized variants resolve to the clock.
	}

	return newNormalized(now, false)
}

func newNormalized(t time.Time, exact bool) Normalized {
	utc := t.UTC()
	return Normalized{
		Instant: utc,
		Display: utc.Local().Format(types.DisplayTimeLayout),
		Exact:   exact,
	}
}
