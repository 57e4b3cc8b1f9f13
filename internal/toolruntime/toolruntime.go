// Package toolruntime implements the precheck→act→wait→observe executor
// shared by every tool (click, type-text, select-option): policy check,
// anchor precheck via the judge predicates, a one-shot self-heal through
// the anchor resolver, an optional tempo plan, the tool-specific act, a
// bounded wait, and an observe pass that produces a PostSignals digest.
package toolruntime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/eventbus"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/judge"
	"github.com/RcityLucas/SoulBrowser-sub002/kit"
)

// Event-bus topics this runtime publishes, per §4.8's
// started/precheck/finished emission points.
const (
	TopicActionStarted  = "action_started"
	TopicActionPrecheck = "action_precheck"
	TopicActionFinished = "action_finished"
)

// Error taxonomy. Tool-specific failures wrap one of these with
// fmt.Errorf so callers can errors.Is against the class while still
// getting a human-readable reason.
var (
	ErrDisabled           = errors.New("toolruntime: disabled")
	ErrButtonNotAllowed   = errors.New("toolruntime: button not allowed")
	ErrOffsetOutOfRange   = errors.New("toolruntime: offset out of range")
	ErrReadOnly           = errors.New("toolruntime: read only")
	ErrDisabledField      = errors.New("toolruntime: field disabled")
	ErrPasteDenied        = errors.New("toolruntime: paste denied")
	ErrTextTooLong        = errors.New("toolruntime: text too long")
	ErrCancelled          = errors.New("toolruntime: cancelled")
	ErrModeNotAllowed     = errors.New("toolruntime: mode not allowed")
	ErrInvalidTarget      = errors.New("toolruntime: invalid target")
	ErrOptionMissing      = errors.New("toolruntime: option missing")
	ErrSelfHealUnavailable = errors.New("toolruntime: self-heal unavailable")
)

func precheckErr(reason string) error {
	return fmt.Errorf("toolruntime: precheck failed: %s", reason)
}

// Dispatcher is the subset of the CDP adapter's typed commands the
// runtime needs to act and to scroll/focus a target. *cdpadapter.Adapter
// satisfies this.
type Dispatcher interface {
	DispatchMouseEvent(ctx context.Context, page ids.PageId, kind proto.InputDispatchMouseEventType, x, y float64, button proto.InputMouseButton) error
	DispatchKeyEvent(ctx context.Context, page ids.PageId, kind proto.InputDispatchKeyEventType, text string) error
	Evaluate(ctx context.Context, page ids.PageId, frame ids.FrameId, expr string) (*proto.RuntimeRemoteObject, error)
}

// Locator asks the anchor resolver for a (possibly new) candidate. It is
// the self-heal seam; *anchor.Resolver satisfies this.
type Locator interface {
	Resolve(ctx context.Context, page ids.PageId, frame ids.FrameId, hint anchor.Hint, opts anchor.ResolveOptions) (domain.AnchorResolution, error)
}

// SnapshotProvider captures the DOM+AX pair the observe phase diffs
// before/after the act. *snapshot.Sampler satisfies this.
type SnapshotProvider interface {
	Capture(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error)
}

// NetworkProvider reports a page's current network counters for the
// observe phase's net_digest. *networktap.Tap satisfies this.
type NetworkProvider interface {
	Snapshot(page ids.PageId) (domain.NetworkSnapshot, bool)
}

// TempoPlan is the delay/step plan a tempo port returns for one act.
type TempoPlan struct {
	DelayMs int64
}

// TempoPort supplies an op-specific pacing plan. Optional; a nil port
// skips the tempo step entirely.
type TempoPort interface {
	Plan(ctx context.Context, tool string, a domain.Anchor) (TempoPlan, error)
}

// Timeouts bounds each phase. Exceeding a bound logs a warning but only
// fails the run if the underlying port itself errors.
type Timeouts struct {
	Precheck time.Duration
	Act      time.Duration
	Wait     time.Duration
	Observe  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Precheck <= 0 {
		t.Precheck = 2 * time.Second
	}
	if t.Act <= 0 {
		t.Act = 5 * time.Second
	}
	if t.Wait <= 0 {
		t.Wait = 5 * time.Second
	}
	if t.Observe <= 0 {
		t.Observe = 2 * time.Second
	}
	return t
}

// Options configures a Runtime.
type Options struct {
	Logger   *slog.Logger
	Bus      *eventbus.Bus // optional; nil disables event emission
	Tempo    TempoPort     // optional
	Policy   PolicyFunc    // optional default applied when Request.Policy is nil
	Timeouts Timeouts
	JudgeOpts judge.Options
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Timeouts = o.Timeouts.withDefaults()
	o.JudgeOpts = o.JudgeOpts.withDefaults()
	return o
}

// Tool names the shared skeleton's per-tool act step.
type Tool string

const (
	ToolClick        Tool = "click"
	ToolTypeText     Tool = "type_text"
	ToolSelectOption Tool = "select_option"
)

// ClickParams configures the click act.
type ClickParams struct {
	OffsetX, OffsetY float64
	Button           proto.InputMouseButton
	ClickCount       int
}

func (p ClickParams) withDefaults() ClickParams {
	if p.Button == "" {
		p.Button = proto.InputMouseButtonLeft
	}
	if p.ClickCount <= 0 {
		p.ClickCount = 1
	}
	return p
}

// TypeTextMode selects how TypeText inserts characters.
type TypeTextMode string

const (
	ModeCharacter TypeTextMode = "character"
	ModePaste     TypeTextMode = "paste"
	ModeNatural   TypeTextMode = "natural"
	ModeInstant   TypeTextMode = "instant"
)

// TypeTextParams configures the type-text act.
type TypeTextParams struct {
	Text      string
	Mode      TypeTextMode
	MaxLength int  // 0 means no bound
	Sensitive bool // redacts the after-value digest when true
}

// SelectOptionParams configures the select-option act; exactly one of
// Value, Label, Index should be set.
type SelectOptionParams struct {
	Value *string
	Label *string
	Index *int
}

// Request describes one tool run.
type Request struct {
	ActionID ids.ActionId // minted if empty
	Tool     Tool
	Page     ids.PageId
	Frame    ids.FrameId
	Hint     anchor.Hint

	Click  *ClickParams
	Type   *TypeTextParams
	Select *SelectOptionParams

	Policy   PolicyFunc // overrides Options.Policy for this call
	SelfHeal bool
	WaitTier domain.WaitTier
}

// Runtime wires the ports behind the precheck→act→wait→observe skeleton.
type Runtime struct {
	opts       Options
	dispatcher Dispatcher
	locator    Locator
	snapshot   SnapshotProvider
	network    NetworkProvider
}

// New creates a Runtime.
func New(dispatcher Dispatcher, locator Locator, snapshot SnapshotProvider, network NetworkProvider, opts Options) *Runtime {
	return &Runtime{
		opts:       opts.withDefaults(),
		dispatcher: dispatcher,
		locator:    locator,
		snapshot:   snapshot,
		network:    network,
	}
}

func (rt *Runtime) publish(ctx context.Context, topic string, page ids.PageId, actionID ids.ActionId, payload any) {
	if rt.opts.Bus == nil {
		return
	}
	rt.opts.Bus.Publish(ctx, topic, string(page), string(actionID), payload)
}

// Run executes the shared skeleton in §4.8 and always returns an
// ActionReport; every failure, cancellation included, lands in
// ActionReport.OK/Error, since Run has no separate error return.
func (rt *Runtime) Run(ctx context.Context, req Request) domain.ActionReport {
	start := time.Now()
	actionID := req.ActionID
	if actionID == "" {
		actionID = ids.NewActionId()
	}
	ctx = kit.WithActionID(ctx, string(actionID))

	report := domain.ActionReport{ActionID: string(actionID)}
	fail := func(err error) domain.ActionReport {
		report.OK = false
		report.Error = err
		report.LatencyMs = time.Since(start).Milliseconds()
		rt.publish(ctx, TopicActionFinished, req.Page, actionID, report)
		return report
	}

	select {
	case <-ctx.Done():
		return fail(ErrCancelled)
	default:
	}

	// 1. Policy check: per-tool bounds, then the pluggable PolicyFunc.
	if err := validateBounds(req); err != nil {
		return fail(err)
	}
	policy := req.Policy
	if policy == nil {
		policy = rt.opts.Policy
	}
	if policy != nil {
		params := requestParams(req)
		if err := policy(ctx, string(req.Tool), params); err != nil {
			return fail(err)
		}
	}

	// Resolve the hint to an initial anchor before announcing the run, so
	// started(action_id, anchor) names a real target.
	res, err := rt.locator.Resolve(ctx, req.Page, req.Frame, req.Hint, anchor.ResolveOptions{})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidTarget, err))
	}
	if res.Reason == "no_candidates" {
		return fail(ErrInvalidTarget)
	}
	current := res.Primary

	// 2. Emit started(action_id, anchor).
	rt.publish(ctx, TopicActionStarted, req.Page, actionID, current)

	before, _ := rt.snapshot.Capture(ctx, req.Page, req.Frame, domain.LevelLight)

	// 3. Precheck.
	precheckCtx, precheckDone := rt.phaseTimeout(ctx, "precheck", rt.opts.Timeouts.Precheck)
	precheckReport := rt.precheck(precheckCtx, req, current)
	precheckDone()
	rt.publish(ctx, TopicActionPrecheck, req.Page, actionID, precheckReport)
	report.Precheck = &precheckReport

	// 4. Self-heal.
	if !precheckReport.OK && req.SelfHeal {
		heal, healedAnchor, healErr := rt.selfHeal(ctx, req)
		report.SelfHeal = &heal
		if healErr != nil {
			return fail(healErr)
		}
		current = healedAnchor
		precheckCtx, precheckDone = rt.phaseTimeout(ctx, "precheck", rt.opts.Timeouts.Precheck)
		precheckReport = rt.precheck(precheckCtx, req, current)
		precheckDone()
		rt.publish(ctx, TopicActionPrecheck, req.Page, actionID, precheckReport)
		report.Precheck = &precheckReport
	}
	if !precheckReport.OK {
		return fail(precheckErr(precheckReport.Reason))
	}

	// 5. Tempo.
	if rt.opts.Tempo != nil {
		plan, err := rt.opts.Tempo.Plan(ctx, string(req.Tool), current)
		if err == nil && plan.DelayMs > 0 {
			sleep(ctx, time.Duration(plan.DelayMs)*time.Millisecond)
		}
	}

	// 6. Act.
	actCtx, actDone := rt.phaseTimeout(ctx, "act", rt.opts.Timeouts.Act)
	acted, err := rt.act(actCtx, req, current)
	actDone()
	if err != nil {
		return fail(err)
	}

	// 7. Wait.
	rt.wait(ctx, req)

	// 8. Observe.
	observeCtx, observeDone := rt.phaseTimeout(ctx, "observe", rt.opts.Timeouts.Observe)
	after, _ := rt.snapshot.Capture(observeCtx, req.Page, req.Frame, domain.LevelLight)
	post := rt.observe(req, before, after, acted)
	observeDone()

	// 9. Validate post-state (select only).
	if req.Tool == ToolSelectOption && post.SelectionDigest != nil {
		if !selectionSatisfied(req.Select, post.SelectionDigest) {
			report.PostSignals = post
			return fail(ErrOptionMissing)
		}
	}

	report.OK = true
	report.PostSignals = post
	report.LatencyMs = time.Since(start).Milliseconds()
	rt.publish(ctx, TopicActionFinished, req.Page, actionID, report)
	return report
}

// phaseTimeout bounds one phase without failing the run on its own: the
// caller still inspects the underlying port's error, a bound that expires
// only produces a warning log.
func (rt *Runtime) phaseTimeout(ctx context.Context, phase string, d time.Duration) (context.Context, func()) {
	phaseCtx, cancel := context.WithTimeout(ctx, d)
	return phaseCtx, func() {
		if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
			rt.opts.Logger.Warn("toolruntime: phase exceeded its bound",
				"phase", phase, "timeout", d, "action_id", kit.GetActionID(ctx))
		}
		cancel()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (rt *Runtime) precheck(ctx context.Context, req Request, a domain.Anchor) domain.JudgeReport {
	_ = ctx
	vis := judge.Visible(a, rt.opts.JudgeOpts)
	if !vis.OK {
		rt.scrollIntoView(ctx, req, a)
	}
	switch req.Tool {
	case ToolClick:
		rep := judge.Clickable(a, rt.opts.JudgeOpts)
		if rep.OK {
			rt.focus(ctx, req, a)
		}
		return rep
	case ToolSelectOption:
		rep := judge.Enabled(a, rt.opts.JudgeOpts)
		if rep.OK {
			rt.focus(ctx, req, a)
		}
		return rep
	default: // type_text and anything else needs visible+enabled
		if !vis.OK {
			return vis
		}
		rep := judge.Enabled(a, rt.opts.JudgeOpts)
		if rep.OK {
			rt.focus(ctx, req, a)
		}
		return rep
	}
}

func (rt *Runtime) scrollIntoView(ctx context.Context, req Request, a domain.Anchor) {
	if a.BackendNodeID == "" {
		return
	}
	expr := fmt.Sprintf("(function(){var e=window.__sb_node_%s; if(e&&e.scrollIntoView) e.scrollIntoView({block:'center'});})()", a.BackendNodeID)
	_, _ = rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr)
}

func (rt *Runtime) focus(ctx context.Context, req Request, a domain.Anchor) {
	if a.BackendNodeID == "" {
		return
	}
	expr := fmt.Sprintf("(function(){var e=window.__sb_node_%s; if(e&&e.focus) e.focus();})()", a.BackendNodeID)
	_, _ = rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr)
}

func (rt *Runtime) selfHeal(ctx context.Context, req Request) (domain.SelfHeal, domain.Anchor, error) {
	if rt.locator == nil {
		return domain.SelfHeal{Attempted: true, Reason: "no_locator"}, domain.Anchor{}, ErrSelfHealUnavailable
	}
	res, err := rt.locator.Resolve(ctx, req.Page, req.Frame, req.Hint, anchor.ResolveOptions{})
	if err != nil || res.Reason == "no_candidates" {
		return domain.SelfHeal{Attempted: true, Reason: "resolve_failed"}, domain.Anchor{}, ErrSelfHealUnavailable
	}
	used := res.Primary
	return domain.SelfHeal{Attempted: true, Reason: "precheck_failed", UsedAnchor: &used}, used, nil
}

func (rt *Runtime) wait(ctx context.Context, req Request) {
	switch req.WaitTier {
	case domain.WaitNone, "":
		return
	case domain.WaitDomReady, domain.WaitAuto:
		deadline := time.Now().Add(rt.opts.Timeouts.Wait)
		for time.Now().Before(deadline) {
			res, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, "document.readyState")
			if err == nil && res != nil && res.Value.Str() == "complete" {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

func (rt *Runtime) observe(req Request, before, after domain.DomAxSnapshot, act actResult) domain.PostSignals {
	post := domain.PostSignals{}
	if before.ID != "" && after.ID != "" {
		post.DomDigest = digestChanges(before, after)
	}
	if rt.network != nil {
		if snap, ok := rt.network.Snapshot(req.Page); ok {
			post.NetDigest = digestNetwork(snap)
		}
	}
	post.RedactedURL = RedactURL(act.url)
	post.RedactedTitle = RedactTitle(act.title)
	post.ValueDigest = act.valueDigest
	post.SelectionDigest = act.selectionDigest
	return post
}

func digestChanges(before, after domain.DomAxSnapshot) string {
	h := sha256.New()
	h.Write([]byte(before.ID))
	h.Write([]byte{0})
	h.Write([]byte(after.ID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func digestNetwork(s domain.NetworkSnapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:%d:%d:%d", s.Req, s.Res2xx, s.Res4xx, s.Res5xx, s.Inflight)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func selectionSatisfied(p *SelectOptionParams, d *domain.SelectionDigest) bool {
	if p == nil || d == nil {
		return true
	}
	if p.Value != nil {
		for _, v := range d.ValueAfter {
			if v == *p.Value {
				return true
			}
		}
		return false
	}
	if p.Index != nil {
		for _, i := range d.IndexAfter {
			if i == *p.Index {
				return true
			}
		}
		return false
	}
	return true
}

func requestParams(req Request) map[string]any {
	params := map[string]any{}
	if req.Click != nil {
		params["offset_x"] = req.Click.OffsetX
		params["offset_y"] = req.Click.OffsetY
		params["button"] = string(req.Click.Button)
	}
	if req.Type != nil {
		params["text_length"] = len(req.Type.Text)
		params["mode"] = string(req.Type.Mode)
	}
	if req.Select != nil {
		if req.Select.Value != nil {
			params["value"] = *req.Select.Value
		}
		if req.Select.Index != nil {
			params["index"] = *req.Select.Index
		}
	}
	return params
}

func validateBounds(req Request) error {
	switch req.Tool {
	case ToolClick:
		if req.Click == nil {
			return fmt.Errorf("%w: click requires params", ErrInvalidTarget)
		}
		switch req.Click.Button {
		case "", proto.InputMouseButtonLeft, proto.InputMouseButtonRight, proto.InputMouseButtonMiddle,
			proto.InputMouseButtonBack, proto.InputMouseButtonForward:
		default:
			return ErrButtonNotAllowed
		}
	case ToolTypeText:
		if req.Type == nil {
			return fmt.Errorf("%w: type_text requires params", ErrInvalidTarget)
		}
		if req.Type.MaxLength > 0 && len(req.Type.Text) > req.Type.MaxLength {
			return fmt.Errorf("%w: %d", ErrTextTooLong, len(req.Type.Text))
		}
		switch req.Type.Mode {
		case "", ModeCharacter, ModePaste, ModeNatural, ModeInstant:
		default:
			return ErrModeNotAllowed
		}
	case ToolSelectOption:
		if req.Select == nil {
			return fmt.Errorf("%w: select_option requires params", ErrInvalidTarget)
		}
		if req.Select.Value == nil && req.Select.Label == nil && req.Select.Index == nil {
			return fmt.Errorf("%w: select_option requires value, label or index", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrInvalidTarget, req.Tool)
	}
	return nil
}
