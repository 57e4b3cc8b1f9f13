package toolruntime

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

type fakeDispatcher struct {
	evalResults map[string]string
	evalErr     error
	mouseCalls  int
	keyCalls    int
}

func (f *fakeDispatcher) DispatchMouseEvent(ctx context.Context, page ids.PageId, kind proto.InputDispatchMouseEventType, x, y float64, button proto.InputMouseButton) error {
	f.mouseCalls++
	return nil
}

func (f *fakeDispatcher) DispatchKeyEvent(ctx context.Context, page ids.PageId, kind proto.InputDispatchKeyEventType, text string) error {
	f.keyCalls++
	return nil
}

func (f *fakeDispatcher) Evaluate(ctx context.Context, page ids.PageId, frame ids.FrameId, expr string) (*proto.RuntimeRemoteObject, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return nil, nil
}

type fakeLocator struct {
	resolution domain.AnchorResolution
	err        error
}

func (f *fakeLocator) Resolve(ctx context.Context, page ids.PageId, frame ids.FrameId, hint anchor.Hint, opts anchor.ResolveOptions) (domain.AnchorResolution, error) {
	return f.resolution, f.err
}

type fakeSnapshot struct{ n int }

func (f *fakeSnapshot) Capture(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error) {
	f.n++
	return domain.DomAxSnapshot{ID: "snap"}, nil
}

type fakeNetwork struct{}

func (f *fakeNetwork) Snapshot(page ids.PageId) (domain.NetworkSnapshot, bool) {
	return domain.NetworkSnapshot{Req: 1}, true
}

func clickableAnchor() domain.Anchor {
	return domain.Anchor{
		Tag:      "BUTTON",
		Geometry: &domain.Geometry{X: 0, Y: 0, W: 100, H: 20},
	}
}

func TestRun_Click_SucceedsOnClickableAnchor(t *testing.T) {
	disp := &fakeDispatcher{}
	loc := &fakeLocator{resolution: domain.AnchorResolution{
		Primary: clickableAnchor(), Reason: "resolved",
	}}
	rt := New(disp, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#go"},
		Click: &ClickParams{},
	})

	if !report.OK {
		t.Fatalf("got OK=false, error=%v, want success", report.Error)
	}
	if disp.mouseCalls != 2 {
		t.Fatalf("got %d mouse dispatches, want 2 (press+release)", disp.mouseCalls)
	}
}

func TestRun_NoCandidates_FailsInvalidTarget(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Reason: "no_candidates"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#missing"},
		Click: &ClickParams{},
	})

	if report.OK {
		t.Fatalf("want failure when the locator finds no candidates")
	}
	if !errors.Is(report.Error, ErrInvalidTarget) {
		t.Fatalf("got error %v, want ErrInvalidTarget", report.Error)
	}
}

func TestRun_DisabledAnchor_FailsPrecheck(t *testing.T) {
	disabled := clickableAnchor()
	disabled.Disabled = true
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: disabled, Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#go"},
		Click: &ClickParams{},
	})

	if report.OK {
		t.Fatalf("want failure for a disabled click target")
	}
	if report.Precheck == nil || report.Precheck.OK {
		t.Fatalf("want a failing precheck report recorded")
	}
}

func TestRun_SelfHeal_RecoversFromFailedPrecheck(t *testing.T) {
	notClickable := domain.Anchor{Tag: "DIV"} // no geometry: visible fails too
	healed := clickableAnchor()

	calls := 0
	loc := &stepLocator{steps: []domain.AnchorResolution{
		{Primary: notClickable, Reason: "resolved"},
		{Primary: healed, Reason: "resolved"},
	}, calls: &calls}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#go"},
		Click: &ClickParams{}, SelfHeal: true,
	})

	if !report.OK {
		t.Fatalf("got OK=false, error=%v, want self-heal to recover", report.Error)
	}
	if report.SelfHeal == nil || !report.SelfHeal.Attempted {
		t.Fatalf("want a recorded self-heal attempt")
	}
}

type stepLocator struct {
	steps []domain.AnchorResolution
	calls *int
}

func (s *stepLocator) Resolve(ctx context.Context, page ids.PageId, frame ids.FrameId, hint anchor.Hint, opts anchor.ResolveOptions) (domain.AnchorResolution, error) {
	i := *s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	*s.calls++
	return s.steps[i], nil
}

func TestRun_PolicyDenies_NoSideEffects(t *testing.T) {
	disp := &fakeDispatcher{}
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: clickableAnchor(), Reason: "resolved"}}
	deny := func(ctx context.Context, tool string, params map[string]any) error {
		return errors.New("denied")
	}
	rt := New(disp, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{Policy: deny})

	report := rt.Run(context.Background(), Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#go"},
		Click: &ClickParams{},
	})

	if report.OK {
		t.Fatalf("want failure when policy denies")
	}
	if disp.mouseCalls != 0 {
		t.Fatalf("got %d mouse dispatches, want 0 when policy denies before act", disp.mouseCalls)
	}
}

func TestRun_TypeText_TooLong_FailsBeforeResolve(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: clickableAnchor(), Reason: "resolved"}}
	snap := &fakeSnapshot{}
	rt := New(&fakeDispatcher{}, loc, snap, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolTypeText, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#name"},
		Type: &TypeTextParams{Text: "abcdef", MaxLength: 3},
	})

	if report.OK {
		t.Fatalf("want failure for text exceeding MaxLength")
	}
	if !errors.Is(report.Error, ErrTextTooLong) {
		t.Fatalf("got error %v, want ErrTextTooLong", report.Error)
	}
	if snap.n != 0 {
		t.Fatalf("got %d snapshot captures, want 0: bounds check must fail before resolving an anchor", snap.n)
	}
}

func TestRun_Cancelled_ContextDone(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: clickableAnchor(), Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := rt.Run(ctx, Request{
		Tool: ToolClick, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint: anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#go"},
		Click: &ClickParams{},
	})

	if report.OK {
		t.Fatalf("want failure for an already-cancelled context")
	}
	if !errors.Is(report.Error, ErrCancelled) {
		t.Fatalf("got error %v, want ErrCancelled", report.Error)
	}
}
