// Package judge implements the stateless visible/clickable/enabled
// predicates over an Anchor. Every function here is pure: same input,
// same JudgeReport, no I/O, no clock reads beyond what the caller passes in.
package judge

import (
	"fmt"
	"strings"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

// Options configures the thresholds the predicates apply.
type Options struct {
	MinVisibleArea float64
	MinOpacity     float64
}

// DefaultOptions returns the policy defaults used when Options is zero.
func DefaultOptions() Options {
	return Options{MinVisibleArea: 1, MinOpacity: 0.05}
}

func (o Options) withDefaults() Options {
	if o.MinVisibleArea <= 0 {
		o.MinVisibleArea = DefaultOptions().MinVisibleArea
	}
	if o.MinOpacity <= 0 {
		o.MinOpacity = DefaultOptions().MinOpacity
	}
	return o
}

var hiddenAXStates = map[string]bool{"hidden": true, "invisible": true, "offscreen": true}
var disabledAXStates = map[string]bool{"disabled": true, "readonly": true}

var clickableTags = map[string]bool{
	"BUTTON": true, "AREA": true, "SUMMARY": true, "SELECT": true, "TEXTAREA": true,
}

var clickableInputTypes = map[string]bool{
	"submit": true, "button": true, "reset": true, "checkbox": true, "radio": true,
}

var clickableRoles = map[string]bool{
	"button": true, "link": true, "menuitem": true, "tab": true, "checkbox": true, "radio": true,
}

func hasAXState(states []string, set map[string]bool) bool {
	for _, s := range states {
		if set[strings.ToLower(s)] {
			return true
		}
	}
	return false
}

func style(a domain.Anchor, key string) string {
	if a.ComputedStyle == nil {
		return ""
	}
	return a.ComputedStyle[key]
}

func attr(a domain.Anchor, key string) (string, bool) {
	if a.Attributes == nil {
		return "", false
	}
	v, ok := a.Attributes[key]
	return v, ok
}

// Visible reports whether the anchor currently occupies visible screen
// space: it has geometry, is above the minimum area, isn't hidden by
// attribute, style, opacity, or AX state.
func Visible(a domain.Anchor, opts Options) domain.JudgeReport {
	opts = opts.withDefaults()
	var issues []string
	facts := map[string]any{}

	if a.Geometry == nil {
		issues = append(issues, "no_geometry")
	} else {
		area := a.Geometry.Area()
		facts["area"] = area
		if area < opts.MinVisibleArea {
			issues = append(issues, "area_too_small")
		}
	}

	if v, ok := attr(a, "hidden"); ok && v != "false" && v != "" {
		issues = append(issues, "hidden_attribute")
	}
	if v, ok := attr(a, "aria-hidden"); ok && v == "true" {
		issues = append(issues, "aria_hidden")
	}
	if style(a, "display") == "none" {
		issues = append(issues, "display_none")
	}
	if style(a, "visibility") == "hidden" {
		issues = append(issues, "visibility_hidden")
	}

	opacity := 1.0
	if raw := style(a, "opacity"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%f", &opacity); err != nil {
			opacity = 1.0
		}
	}
	facts["opacity"] = opacity
	if opacity < opts.MinOpacity {
		issues = append(issues, "opacity_too_low")
	}

	if hasAXState(a.AXStates, hiddenAXStates) {
		issues = append(issues, "ax_hidden_state")
	}

	return report("visible", issues, facts)
}

// Clickable reports whether the anchor is visible and represents an
// actionable element: a native interactive tag, an ARIA/AX interactive
// role, or an explicit click handler, and isn't pointer-events:none or
// disabled.
func Clickable(a domain.Anchor, opts Options) domain.JudgeReport {
	vis := Visible(a, opts)
	issues := append([]string{}, vis.Facts["issues"].([]string)...)
	facts := vis.Facts

	actionable := clickableTags[strings.ToUpper(a.Tag)]
	if strings.ToUpper(a.Tag) == "A" {
		if _, ok := attr(a, "href"); ok {
			actionable = true
		}
	}
	if strings.ToUpper(a.Tag) == "INPUT" {
		if t, ok := attr(a, "type"); ok && clickableInputTypes[strings.ToLower(t)] {
			actionable = true
		}
	}
	if clickableRoles[strings.ToLower(a.AXRole)] {
		actionable = true
	}
	if _, ok := attr(a, "onclick"); ok {
		actionable = true
	}
	facts["actionable"] = actionable
	if !actionable {
		issues = append(issues, "not_actionable")
	}

	if style(a, "pointer-events") == "none" {
		issues = append(issues, "pointer_events_none")
	}

	if a.Disabled {
		issues = append(issues, "disabled")
	}
	if v, ok := attr(a, "disabled"); ok && v != "false" {
		issues = append(issues, "disabled_attribute")
	}

	return report("clickable", issues, facts)
}

// Enabled reports whether the anchor accepts input: not disabled,
// read-only, or carrying a disabling AX state.
func Enabled(a domain.Anchor, opts Options) domain.JudgeReport {
	_ = opts
	var issues []string
	facts := map[string]any{}

	if a.Disabled {
		issues = append(issues, "disabled")
	}
	if v, ok := attr(a, "disabled"); ok && v != "false" {
		issues = append(issues, "disabled_attribute")
	}
	if v, ok := attr(a, "aria-disabled"); ok && v == "true" {
		issues = append(issues, "aria_disabled")
	}
	if a.ReadOnly {
		issues = append(issues, "readonly")
	}
	if v, ok := attr(a, "readonly"); ok && v != "false" {
		issues = append(issues, "readonly_attribute")
	}
	if hasAXState(a.AXStates, disabledAXStates) {
		issues = append(issues, "ax_disabled_state")
	}

	return report("enabled", issues, facts)
}

func report(base string, issues []string, facts map[string]any) domain.JudgeReport {
	if facts == nil {
		facts = map[string]any{}
	}
	facts["issues"] = issues
	reason := base
	if len(issues) > 0 {
		reason = fmt.Sprintf("%s(%s)", base, strings.Join(issues, ","))
	}
	return domain.JudgeReport{OK: len(issues) == 0, Reason: reason, Facts: facts}
}
