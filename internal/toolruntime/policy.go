package toolruntime

import (
	"context"
	"fmt"
)

// PolicyFunc decides whether a tool call is allowed before anything else
// runs. It receives the raw params the caller built the Request from, so a
// policy can inspect tool-specific fields (offset, text length, mode)
// without the runtime needing to know about them.
type PolicyFunc func(ctx context.Context, tool string, params map[string]any) error

// roleKey is the context key RuleBasedPolicy reads the caller's role from.
type roleKey struct{}

// WithRole attaches a role to ctx for RuleBasedPolicy to evaluate against.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFromContext returns the role WithRole attached, or "*" if none.
func RoleFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(roleKey{}).(string); ok && r != "" {
		return r
	}
	return "*"
}

// Effect is one rule's allow/deny verdict.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Rule is one in-process access rule: role "*" matches any caller.
type Rule struct {
	Tool   string
	Role   string
	Effect Effect
}

// RuleBasedPolicy evaluates an in-process rule table with the same
// deny-wins, default-open-when-no-rules shape as this repository's retired
// mcprt.DBPolicy.Evaluate, reimplemented without the SQL/tenancy layer
// since that plumbing is an out-of-scope external collaborator here —
// only the per-call allow/deny idiom is kept.
type RuleBasedPolicy struct {
	rules []Rule
}

// NewRuleBasedPolicy builds a policy from a fixed rule set.
func NewRuleBasedPolicy(rules []Rule) *RuleBasedPolicy {
	return &RuleBasedPolicy{rules: rules}
}

// Evaluate implements PolicyFunc. Deny rules matching the caller's role
// win outright; if allow rules exist for the tool but none match, deny; if
// no rules exist for the tool at all, allow.
func (p *RuleBasedPolicy) Evaluate(ctx context.Context, tool string, params map[string]any) error {
	role := RoleFromContext(ctx)

	var hasAllow, matchesAllow bool
	for _, r := range p.rules {
		if r.Tool != tool {
			continue
		}
		matches := r.Role == "*" || r.Role == role
		if r.Effect == Deny && matches {
			return fmt.Errorf("toolruntime: tool %q denied for role %q", tool, role)
		}
		if r.Effect == Allow {
			hasAllow = true
			if matches {
				matchesAllow = true
			}
		}
	}
	if hasAllow && !matchesAllow {
		return fmt.Errorf("toolruntime: tool %q not allowed for role %q", tool, role)
	}
	return nil
}

// Chain runs policies in order and fails fast on the first error, so
// bounds-checks and RBAC rules can be combined under one PolicyFunc.
func Chain(policies ...PolicyFunc) PolicyFunc {
	return func(ctx context.Context, tool string, params map[string]any) error {
		for _, p := range policies {
			if p == nil {
				continue
			}
			if err := p(ctx, tool, params); err != nil {
				return err
			}
		}
		return nil
	}
}
