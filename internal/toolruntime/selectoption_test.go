package toolruntime

import (
	"context"
	"errors"
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

func selectAnchor() domain.Anchor {
	return domain.Anchor{
		Tag:           "SELECT",
		BackendNodeID: "5",
		Geometry:      &domain.Geometry{W: 80, H: 20},
	}
}

func TestRun_SelectOption_ByLabel_Succeeds(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: selectAnchor(), Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	label := "Blue"
	report := rt.Run(context.Background(), Request{
		Tool: ToolSelectOption, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint:   anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#color"},
		Select: &SelectOptionParams{Label: &label},
	})

	if !report.OK {
		t.Fatalf("got OK=false, error=%v", report.Error)
	}
	if report.PostSignals.SelectionDigest == nil {
		t.Fatalf("want a selection digest recorded")
	}
}

func TestRun_SelectOption_ValueNeverApplied_FailsOptionMissing(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: selectAnchor(), Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	value := "blue"
	report := rt.Run(context.Background(), Request{
		Tool: ToolSelectOption, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint:   anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#color"},
		Select: &SelectOptionParams{Value: &value},
	})

	if report.OK {
		t.Fatalf("want failure when the requested value never shows up in the after-selection set")
	}
	if !errors.Is(report.Error, ErrOptionMissing) {
		t.Fatalf("got error %v, want ErrOptionMissing", report.Error)
	}
}

func TestRun_SelectOption_Disabled_Fails(t *testing.T) {
	a := selectAnchor()
	a.Disabled = true
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: a, Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	label := "Blue"
	report := rt.Run(context.Background(), Request{
		Tool: ToolSelectOption, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint:   anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#color"},
		Select: &SelectOptionParams{Label: &label},
	})

	if report.OK {
		t.Fatalf("want a disabled select to fail precheck")
	}
}

func TestRun_SelectOption_NoTarget_ValidationRequiresOneOf(t *testing.T) {
	loc := &fakeLocator{resolution: domain.AnchorResolution{Primary: selectAnchor(), Reason: "resolved"}}
	rt := New(&fakeDispatcher{}, loc, &fakeSnapshot{}, &fakeNetwork{}, Options{})

	report := rt.Run(context.Background(), Request{
		Tool: ToolSelectOption, Page: ids.NewPageId(), Frame: ids.NewFrameId(),
		Hint:   anchor.Hint{Strategy: domain.StrategyCSS, CSS: "#color"},
		Select: &SelectOptionParams{},
	})

	if report.OK {
		t.Fatalf("want failure when none of value/label/index is set")
	}
}
