package anchor

import (
	"fmt"
	"strings"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

// Weights tunes each score component's contribution. Zero-value Weights
// falls back to DefaultWeights.
type Weights struct {
	Backend       float64
	Geometry      float64
	Visibility    float64
	Accessibility float64
	Text          float64
}

// DefaultWeights returns the default per-component scoring weights.
func DefaultWeights() Weights {
	return Weights{Backend: 0.4, Geometry: 0.2, Visibility: 0.2, Accessibility: 0.3, Text: 0.2}
}

func (w Weights) withDefaults() Weights {
	d := DefaultWeights()
	if w.Backend == 0 {
		w.Backend = d.Backend
	}
	if w.Geometry == 0 {
		w.Geometry = d.Geometry
	}
	if w.Visibility == 0 {
		w.Visibility = d.Visibility
	}
	if w.Accessibility == 0 {
		w.Accessibility = d.Accessibility
	}
	if w.Text == 0 {
		w.Text = d.Text
	}
	return w
}

var strategyBonus = map[domain.Strategy]float64{
	domain.StrategyARIA:     0.1,
	domain.StrategyText:     0.05,
	domain.StrategyGeometry: 0.05,
	domain.StrategyBackend:  0.15,
	domain.StrategyCombo:    0.05,
}

// strategyPriority orders tie-broken candidates: higher value wins.
// backend > aria ≈ ax > css > text > geometry > combo, per §4.6's
// tie-break rule.
var strategyPriority = map[domain.Strategy]int{
	domain.StrategyBackend:  6,
	domain.StrategyARIA:     5,
	domain.StrategyAX:       5,
	domain.StrategyCSS:      4,
	domain.StrategyText:     3,
	domain.StrategyGeometry: 2,
	domain.StrategyCombo:    1,
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func geometryFactor(g *domain.Geometry) float64 {
	if g == nil {
		return 0
	}
	return clamp(g.Area()/10_000, 0, 1)
}

// Score computes a's additive, weighted, clamped score against hint,
// generalized from domwatch/internal/profiler's several-independent-
// normalized-measurements-combined-into-one-number shape (landmarks.go +
// density.go + profiler.go) to a per-candidate ranking score: each
// component here is independently normalized to roughly [0,1] before its
// weight is applied, the same way profiler.go treats density and
// landmark counts as independent [0,1]-ish inputs to one Profile.
func Score(a domain.Anchor, hint Hint, w Weights) domain.Score {
	w = w.withDefaults()
	var components []domain.ScoreComponent
	add := func(label string, weight, factor float64) {
		if factor == 0 {
			return
		}
		components = append(components, domain.ScoreComponent{Label: label, Weight: weight, Contribution: weight * factor})
	}

	add("confidence", 1.0, a.Confidence)

	if a.BackendNodeID != "" {
		add("backend", w.Backend, 1.0)
	}

	gf := geometryFactor(a.Geometry)
	add("geometry", w.Geometry, gf)
	add("visibility", w.Visibility, gf)

	if a.AXRole != "" || a.AXName != "" {
		add("accessibility", w.Accessibility, 1.0)
	}

	if a.Value != "" {
		add("text", w.Text, 1.0)
		if hint.Strategy == domain.StrategyText && a.Value != hint.Text && fuzzyMatch(a.Value, hint.Text) {
			add("text-fuzzy", w.Text, 0.5)
		}
	}

	if bonus, ok := strategyBonus[hint.Strategy]; ok && hint.Strategy != domain.StrategyCombo {
		add(fmt.Sprintf("strategy-%s", hint.Strategy), bonus, 1.0)
	}

	if hint.Strategy == domain.StrategyCombo {
		seen := map[domain.Strategy]bool{}
		comboWeight := 0.0
		for _, sub := range hint.Sub {
			if seen[sub.Strategy] {
				continue
			}
			seen[sub.Strategy] = true
			sw := comboSubWeight(sub.Strategy)
			comboWeight += sw
			add(fmt.Sprintf("combo-%s", sub.Strategy), sw, 1.0)
		}
		if n := len(seen); n > 0 {
			add("combo-size", 0.05, float64(n))
		}
	}

	total := 0.0
	for _, c := range components {
		total += c.Contribution
	}
	total = clamp(total, 0, 1.5)

	return domain.Score{Total: total, Components: components}
}

// comboSubWeight is the 0.6-0.8 weighted sub-score range named in §4.6,
// spread across the strategies a combo can nest by tie-break priority.
func comboSubWeight(s domain.Strategy) float64 {
	switch s {
	case domain.StrategyBackend:
		return 0.8
	case domain.StrategyARIA, domain.StrategyAX:
		return 0.75
	case domain.StrategyCSS:
		return 0.7
	case domain.StrategyText:
		return 0.65
	default:
		return 0.6
	}
}

// fuzzyMatch is a small case-insensitive substring test; sufficient for
// the half-weight text-fuzzy bonus, which only needs to distinguish
// "close enough" from "no relation". Stdlib only: no fuzzy-match library
// appears anywhere in the example corpus.
func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	al, bl := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(al, bl) || strings.Contains(bl, al)
}

// Priority returns the tie-break priority for s; higher wins.
func Priority(s domain.Strategy) int {
	return strategyPriority[s]
}
