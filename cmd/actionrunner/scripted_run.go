package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/agentloop"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/cdpadapter"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/evidence"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/recipes"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/registry"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/snapshot"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/toolruntime"
	"github.com/RcityLucas/SoulBrowser-sub002/observability"
)

// scriptedRun adapts one scripted YAML step list into the
// agentloop.ObserveFunc/DecideFunc/ExecuteFunc trio, standing in for a
// model-driven planner (out of scope for this entrypoint).
type scriptedRun struct {
	logger   *slog.Logger
	reg      *registry.Registry
	adapter  *cdpadapter.Adapter
	sampler  *snapshot.Sampler
	toolrt   *toolruntime.Runtime
	evidence *evidence.Store
	recipes  *recipes.Store
	events   *observability.EventLogger
	metrics  *observability.MetricsManager
	page     ids.PageId

	steps []StepConfig
	next  int
}

// observe captures a light DOM snapshot and the page's last known URL as
// the loop's BrowserStateSummary.
func (r *scriptedRun) observe(ctx context.Context) (agentloop.BrowserStateSummary, error) {
	snap, err := r.sampler.Capture(ctx, r.page, "", domain.LevelLight)
	if err != nil {
		return agentloop.BrowserStateSummary{}, fmt.Errorf("actionrunner: observe: %w", err)
	}

	entry, _ := r.reg.Page(r.page)
	title := ""
	if res, err := r.adapter.Evaluate(ctx, r.page, "", "document.title"); err == nil && res != nil {
		title = res.Value.Str()
	}

	url := ""
	if entry != nil {
		url = entry.RecentURL
	}

	return agentloop.BrowserStateSummary{
		URL:         url,
		Title:       title,
		ElementTree: string(snap.DomRaw),
	}, nil
}

// decide serves the next scripted step as a single action, or emits a
// done action once the script is exhausted.
func (r *scriptedRun) decide(ctx context.Context, state agentloop.BrowserStateSummary, history []agentloop.HistoryEntry) (agentloop.AgentOutput, error) {
	if r.next >= len(r.steps) {
		return agentloop.AgentOutput{
			Thinking: "script exhausted",
			NextGoal: "finish",
			Actions: []agentloop.Action{{
				Type:   agentloop.ActionDone,
				Params: map[string]any{"success": true, "text": "script completed"},
			}},
		}, nil
	}

	step := r.steps[r.next]
	r.next++

	if step.Tool == "done" {
		return agentloop.AgentOutput{
			Actions: []agentloop.Action{{
				Type:   agentloop.ActionDone,
				Params: map[string]any{"success": true, "text": step.Text},
			}},
		}, nil
	}

	params := map[string]any{"css": step.CSS}
	switch step.Tool {
	case "type_text":
		params["text"] = step.Text
		params["mode"] = step.Mode
	case "select_option":
		params["value"] = step.Value
		params["label"] = step.Label
		params["index"] = step.Index
	}

	return agentloop.AgentOutput{
		NextGoal: fmt.Sprintf("%s %s", step.Tool, step.CSS),
		Actions: []agentloop.Action{{
			Type:   agentloop.ActionType(step.Tool),
			Params: params,
		}},
	}, nil
}

// execute runs one action through the tool runtime and binds the action
// to the snapshots the runtime observed, then records the outcome against
// the recipe store keyed by the CSS selector hint.
func (r *scriptedRun) execute(ctx context.Context, action agentloop.Action, state agentloop.BrowserStateSummary) (agentloop.ActionResult, error) {
	css, _ := action.Params["css"].(string)
	hint := anchor.Hint{Strategy: domain.StrategyCSS, CSS: css}

	req := toolruntime.Request{
		Tool:     toolruntime.Tool(action.Type),
		Page:     r.page,
		Hint:     hint,
		SelfHeal: true,
		WaitTier: domain.WaitAuto,
	}

	switch action.Type {
	case "click":
		req.Click = &toolruntime.ClickParams{}
	case "type_text":
		text, _ := action.Params["text"].(string)
		mode, _ := action.Params["mode"].(string)
		req.Type = &toolruntime.TypeTextParams{Text: text, Mode: toolruntime.TypeTextMode(mode)}
	case "select_option":
		req.Select = &toolruntime.SelectOptionParams{
			Value: asStringPtr(action.Params["value"]),
			Label: asStringPtr(action.Params["label"]),
			Index: asIntPtr(action.Params["index"]),
		}
	default:
		return agentloop.ActionResult{}, fmt.Errorf("actionrunner: unsupported tool %q", action.Type)
	}

	report := r.toolrt.Run(ctx, req)

	if report.OK {
		r.bindEvidence(ctx, report, req)
		r.recordRecipe(ctx, css, hint, true)
	} else {
		r.recordRecipe(ctx, css, hint, false)
	}
	r.logBusinessEvent(ctx, string(action.Type), css, report)
	r.recordActionMetrics(string(action.Type), report)

	result := agentloop.ActionResult{
		Success:      report.OK,
		StateChanged: report.PostSignals.DomDigest != "",
	}
	if report.Error != nil {
		result.ErrorMessage = report.Error.Error()
	}
	return result, nil
}

// logBusinessEvent records one action's outcome as a business event,
// independent of the evidence/recipe bookkeeping, for audit trails and
// cross-run reporting.
func (r *scriptedRun) logBusinessEvent(ctx context.Context, tool, css string, report domain.ActionReport) {
	if r.events == nil {
		return
	}
	r.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "action_executed",
		ServiceName: "actionrunner",
		EntityType:  "page",
		EntityID:    string(r.page),
		Action:      tool,
		Details:     fmt.Sprintf(`{"css":%q,"action_id":%q}`, css, report.ActionID),
		Success:     report.OK,
	})
}

// recordActionMetrics records one executed step's latency and outcome
// against the shared metrics manager, labeled by tool so a later Query
// can break latency down per action type.
func (r *scriptedRun) recordActionMetrics(tool string, report domain.ActionReport) {
	if r.metrics == nil {
		return
	}
	outcome := 0.0
	if report.OK {
		outcome = 1.0
	}
	now := time.Now()
	r.metrics.Record(&observability.Metric{
		Name:      "action_latency_ms",
		Timestamp: now,
		Value:     float64(report.LatencyMs),
		Unit:      "milliseconds",
		Labels:    map[string]string{"tool": tool},
	})
	r.metrics.Record(&observability.Metric{
		Name:      "action_success",
		Timestamp: now,
		Value:     outcome,
		Unit:      "count",
		Labels:    map[string]string{"tool": tool},
	})
}

// evidenceTTL bounds how long a bound action-id/snapshot pair stays
// eligible for replay before Sweep reclaims it.
const evidenceTTL = 10 * time.Minute

func (r *scriptedRun) bindEvidence(ctx context.Context, report domain.ActionReport, req toolruntime.Request) {
	if err := r.evidence.Bind(ctx, report.ActionID, string(req.Page), string(req.Frame), report.PostSignals.DomDigest, nil, evidenceTTL); err != nil {
		r.logger.Warn("actionrunner: bind evidence failed", "action", report.ActionID, "error", err)
	}
}

func (r *scriptedRun) recordRecipe(ctx context.Context, selectorHint string, hint anchor.Hint, outcome bool) {
	a := domain.Anchor{Strategy: hint.Strategy, Value: hint.CSS}
	if err := r.recipes.Record(ctx, domainFromURL(r.reg, r.page), selectorHint, a, outcome); err != nil {
		r.logger.Warn("actionrunner: record recipe failed", "error", err)
	}
}

func domainFromURL(reg *registry.Registry, page ids.PageId) string {
	entry, ok := reg.Page(page)
	if !ok {
		return ""
	}
	u, err := url.Parse(entry.RecentURL)
	if err != nil {
		return entry.RecentURL
	}
	return u.Hostname()
}

func asStringPtr(v any) *string {
	s, ok := v.(*string)
	if !ok {
		return nil
	}
	return s
}

func asIntPtr(v any) *int {
	i, ok := v.(*int)
	if !ok {
		return nil
	}
	return i
}
