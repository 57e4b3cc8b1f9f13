package anchor

import (
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

func TestCacheKey_DistinctHintsNeverCollide(t *testing.T) {
	hints := []Hint{
		{Strategy: domain.StrategyCSS, CSS: "#submit"},
		{Strategy: domain.StrategyCSS, CSS: "#cancel"},
		{Strategy: domain.StrategyText, Text: "#submit"},
		{Strategy: domain.StrategyAX, AXRole: "button"},
		{Strategy: domain.StrategyARIA, AriaRole: "button", AriaName: "Submit"},
		{Strategy: domain.StrategyARIA, AriaRole: "button", AriaName: "Cancel"},
		{Strategy: domain.StrategyCombo, Sub: []Hint{
			{Strategy: domain.StrategyCSS, CSS: "#submit"},
			{Strategy: domain.StrategyText, Text: "Submit"},
		}},
	}

	seen := map[string]int{}
	for i, h := range hints {
		k := h.CacheKey()
		if prev, ok := seen[k]; ok {
			t.Fatalf("hints %d and %d produced the same cache key %q", prev, i, k)
		}
		seen[k] = i
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	h := Hint{Strategy: domain.StrategyAttr, Attr: map[string]string{"data-id": "7", "role": "button"}}
	if h.CacheKey() != h.CacheKey() {
		t.Fatalf("CacheKey must be stable across calls for the same hint")
	}
}

func TestNeedsAX(t *testing.T) {
	if (Hint{Strategy: domain.StrategyCSS}).NeedsAX() {
		t.Fatalf("css hint should not require AX")
	}
	if !(Hint{Strategy: domain.StrategyAX}).NeedsAX() {
		t.Fatalf("ax hint should require AX")
	}
	if !(Hint{Strategy: domain.StrategyARIA}).NeedsAX() {
		t.Fatalf("aria hint should require AX")
	}
	combo := Hint{Strategy: domain.StrategyCombo, Sub: []Hint{
		{Strategy: domain.StrategyCSS},
		{Strategy: domain.StrategyARIA},
	}}
	if !combo.NeedsAX() {
		t.Fatalf("combo hint containing an aria sub-hint should require AX")
	}
}
