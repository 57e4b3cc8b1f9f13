package judge

import (
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

func visibleAnchor() domain.Anchor {
	return domain.Anchor{
		Tag:      "BUTTON",
		Geometry: &domain.Geometry{X: 0, Y: 0, W: 100, H: 20},
	}
}

func TestVisible_OK(t *testing.T) {
	r := Visible(visibleAnchor(), DefaultOptions())
	if !r.OK {
		t.Fatalf("got OK=false reason=%q, want OK=true", r.Reason)
	}
}

func TestVisible_NoGeometry(t *testing.T) {
	a := visibleAnchor()
	a.Geometry = nil
	r := Visible(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for nil geometry")
	}
	if r.Reason != "visible(no_geometry)" {
		t.Fatalf("got reason %q", r.Reason)
	}
}

func TestVisible_DisplayNone(t *testing.T) {
	a := visibleAnchor()
	a.ComputedStyle = map[string]string{"display": "none"}
	r := Visible(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for display:none")
	}
}

func TestVisible_AriaHidden(t *testing.T) {
	a := visibleAnchor()
	a.Attributes = map[string]string{"aria-hidden": "true"}
	r := Visible(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for aria-hidden=true")
	}
}

func TestVisible_OpacityTooLow(t *testing.T) {
	a := visibleAnchor()
	a.ComputedStyle = map[string]string{"opacity": "0.0"}
	r := Visible(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for opacity 0")
	}
	if r.Facts["opacity"].(float64) != 0.0 {
		t.Fatalf("got opacity fact %v, want 0.0", r.Facts["opacity"])
	}
}

func TestVisible_AreaTooSmall(t *testing.T) {
	a := visibleAnchor()
	a.Geometry = &domain.Geometry{X: 0, Y: 0, W: 0, H: 0}
	r := Visible(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for zero-area geometry")
	}
}

func TestClickable_ButtonTagIsActionable(t *testing.T) {
	r := Clickable(visibleAnchor(), DefaultOptions())
	if !r.OK {
		t.Fatalf("got OK=false reason=%q, want OK=true for a visible BUTTON", r.Reason)
	}
}

func TestClickable_DivIsNotActionable(t *testing.T) {
	a := visibleAnchor()
	a.Tag = "DIV"
	r := Clickable(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for a plain DIV with no ARIA role or handler")
	}
}

func TestClickable_AriaRoleMakesDivActionable(t *testing.T) {
	a := visibleAnchor()
	a.Tag = "DIV"
	a.AXRole = "button"
	r := Clickable(a, DefaultOptions())
	if !r.OK {
		t.Fatalf("got OK=false reason=%q, want OK=true for role=button", r.Reason)
	}
}

func TestClickable_AnchorTagRequiresHref(t *testing.T) {
	a := visibleAnchor()
	a.Tag = "A"
	r := Clickable(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for <a> without href")
	}

	a.Attributes = map[string]string{"href": "/x"}
	r = Clickable(a, DefaultOptions())
	if !r.OK {
		t.Fatalf("got OK=false reason=%q, want OK=true for <a href>", r.Reason)
	}
}

func TestClickable_PointerEventsNone(t *testing.T) {
	a := visibleAnchor()
	a.ComputedStyle = map[string]string{"pointer-events": "none"}
	r := Clickable(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for pointer-events:none")
	}
}

func TestClickable_Disabled(t *testing.T) {
	a := visibleAnchor()
	a.Disabled = true
	r := Clickable(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for Disabled=true")
	}
}

func TestClickable_InheritsVisibleIssues(t *testing.T) {
	a := visibleAnchor()
	a.Geometry = nil
	r := Clickable(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false when the underlying element isn't visible")
	}
	issues := r.Facts["issues"].([]string)
	found := false
	for _, iss := range issues {
		if iss == "no_geometry" {
			found = true
		}
	}
	if !found {
		t.Fatalf("got issues %v, want no_geometry carried over from Visible", issues)
	}
}

func TestEnabled_OK(t *testing.T) {
	r := Enabled(visibleAnchor(), DefaultOptions())
	if !r.OK {
		t.Fatalf("got OK=false reason=%q, want OK=true", r.Reason)
	}
}

func TestEnabled_DisabledAttribute(t *testing.T) {
	a := visibleAnchor()
	a.Attributes = map[string]string{"disabled": "disabled"}
	r := Enabled(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for disabled attribute present")
	}
}

func TestEnabled_ReadOnly(t *testing.T) {
	a := visibleAnchor()
	a.ReadOnly = true
	r := Enabled(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for ReadOnly=true")
	}
}

func TestEnabled_AXDisabledState(t *testing.T) {
	a := visibleAnchor()
	a.AXStates = []string{"Disabled"}
	r := Enabled(a, DefaultOptions())
	if r.OK {
		t.Fatalf("want OK=false for an ax disabled state (case-insensitive)")
	}
}
