package toolruntime

import (
	"context"
	"testing"
)

func TestRuleBasedPolicy_DenyWins(t *testing.T) {
	p := NewRuleBasedPolicy([]Rule{
		{Tool: "click", Role: "*", Effect: Allow},
		{Tool: "click", Role: "intern", Effect: Deny},
	})
	ctx := WithRole(context.Background(), "intern")
	if err := p.Evaluate(ctx, "click", nil); err == nil {
		t.Fatalf("want deny rule to win over a matching allow rule")
	}
}

func TestRuleBasedPolicy_AllowExistsButNoneMatch_Denies(t *testing.T) {
	p := NewRuleBasedPolicy([]Rule{
		{Tool: "click", Role: "admin", Effect: Allow},
	})
	ctx := WithRole(context.Background(), "guest")
	if err := p.Evaluate(ctx, "click", nil); err == nil {
		t.Fatalf("want denial when allow rules exist but none match the caller's role")
	}
}

func TestRuleBasedPolicy_NoRulesForTool_DefaultOpen(t *testing.T) {
	p := NewRuleBasedPolicy([]Rule{
		{Tool: "type_text", Role: "admin", Effect: Allow},
	})
	ctx := WithRole(context.Background(), "guest")
	if err := p.Evaluate(ctx, "click", nil); err != nil {
		t.Fatalf("got %v, want default-open for a tool with no rules", err)
	}
}

func TestRuleBasedPolicy_MatchingAllow_Allows(t *testing.T) {
	p := NewRuleBasedPolicy([]Rule{
		{Tool: "click", Role: "admin", Effect: Allow},
	})
	ctx := WithRole(context.Background(), "admin")
	if err := p.Evaluate(ctx, "click", nil); err != nil {
		t.Fatalf("got %v, want allow for matching role", err)
	}
}

func TestChain_FailsFastOnFirstError(t *testing.T) {
	calls := 0
	first := func(ctx context.Context, tool string, params map[string]any) error {
		calls++
		return errDeny
	}
	second := func(ctx context.Context, tool string, params map[string]any) error {
		calls++
		return nil
	}
	chained := Chain(first, second)
	if err := chained(context.Background(), "click", nil); err == nil {
		t.Fatalf("want chain to propagate the first error")
	}
	if calls != 1 {
		t.Fatalf("got %d policy calls, want 1 (fail fast)", calls)
	}
}

var errDeny = &policyTestErr{"denied"}

type policyTestErr struct{ msg string }

func (e *policyTestErr) Error() string { return e.msg }
