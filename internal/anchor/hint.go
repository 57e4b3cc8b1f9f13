package anchor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

// Hint is the caller-supplied targeting request: exactly one of the
// strategy-specific fields is meaningful, selected by Strategy. Combo
// hints nest Sub hints and combine their contributions.
type Hint struct {
	Strategy      domain.Strategy
	CSS           string
	AriaRole      string
	AriaName      string
	AXRole        string
	Text          string
	Attr          map[string]string
	BackendNodeID string
	Geometry      *domain.Geometry
	Sub           []Hint
}

// NeedsAX reports whether resolving this hint requires an AX-level
// snapshot (full) rather than a DOM-only one (light).
func (h Hint) NeedsAX() bool {
	switch h.Strategy {
	case domain.StrategyAX, domain.StrategyARIA:
		return true
	case domain.StrategyCombo:
		for _, s := range h.Sub {
			if s.NeedsAX() {
				return true
			}
		}
	}
	return false
}

// CacheKey returns a stable string identifying this hint for cache
// lookups. Two hints with the same CacheKey must describe the same
// candidate set; distinct hints must never collide, which the anchor
// cache's invariant (§8.6) depends on.
func (h Hint) CacheKey() string {
	var b strings.Builder
	h.writeKey(&b)
	return b.String()
}

func (h Hint) writeKey(b *strings.Builder) {
	fmt.Fprintf(b, "%s:", h.Strategy)
	switch h.Strategy {
	case domain.StrategyCSS:
		b.WriteString(h.CSS)
	case domain.StrategyARIA:
		fmt.Fprintf(b, "%s|%s", h.AriaRole, h.AriaName)
	case domain.StrategyAX:
		b.WriteString(h.AXRole)
	case domain.StrategyText:
		b.WriteString(h.Text)
	case domain.StrategyBackend:
		b.WriteString(h.BackendNodeID)
	case domain.StrategyGeometry:
		if h.Geometry != nil {
			fmt.Fprintf(b, "%v", *h.Geometry)
		}
	case domain.StrategyCombo:
		for i, s := range h.Sub {
			if i > 0 {
				b.WriteString("+")
			}
			s.writeKey(b)
		}
	default:
		keys := make([]string, 0, len(h.Attr))
		for k := range h.Attr {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s=%s;", k, h.Attr[k])
		}
	}
}
