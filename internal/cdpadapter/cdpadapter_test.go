package cdpadapter

import (
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

func TestLifecyclePhase_KnownNames(t *testing.T) {
	cases := map[string]domain.PageLifecyclePhase{
		"load":             domain.PhaseLoad,
		"DOMContentLoaded": domain.PhaseDOMContentLoaded,
		"networkIdle":      domain.PageLifecyclePhase("networkIdle"),
	}
	for name, want := range cases {
		if got := lifecyclePhase(name); got != want {
			t.Errorf("lifecyclePhase(%q) = %q, want %q", name, got, want)
		}
	}
}
