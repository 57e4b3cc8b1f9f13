package toolruntime

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

// actResult carries whatever the act step learned that the observe step
// needs, before/after digests are computed once both snapshots exist.
type actResult struct {
	url             string
	title           string
	valueDigest     *domain.Digest
	selectionDigest *domain.SelectionDigest
}

func (rt *Runtime) act(ctx context.Context, req Request, a domain.Anchor) (actResult, error) {
	switch req.Tool {
	case ToolClick:
		return rt.actClick(ctx, req, a)
	case ToolTypeText:
		return rt.actTypeText(ctx, req, a)
	case ToolSelectOption:
		return rt.actSelectOption(ctx, req, a)
	default:
		return actResult{}, fmt.Errorf("%w: unknown tool %q", ErrInvalidTarget, req.Tool)
	}
}

// currentURLAndTitle fetches location.href and document.title through the
// bound page, best-effort; an evaluation failure just leaves the matching
// digest field empty rather than failing the whole act.
func (rt *Runtime) currentURLAndTitle(ctx context.Context, req Request) (string, string) {
	res, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, "location.href")
	url := ""
	if err == nil && res != nil {
		url = res.Value.Str()
	}
	res, err = rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, "document.title")
	title := ""
	if err == nil && res != nil {
		title = res.Value.Str()
	}
	return url, title
}

func (rt *Runtime) actClick(ctx context.Context, req Request, a domain.Anchor) (actResult, error) {
	if a.Disabled {
		return actResult{}, ErrDisabled
	}
	params := req.Click.withDefaults()
	if a.Geometry == nil {
		return actResult{}, fmt.Errorf("%w: no geometry for click target", ErrInvalidTarget)
	}
	cx := a.Geometry.X + a.Geometry.W/2 + params.OffsetX
	cy := a.Geometry.Y + a.Geometry.H/2 + params.OffsetY
	if params.OffsetX != 0 && (params.OffsetX < -a.Geometry.W/2 || params.OffsetX > a.Geometry.W/2) {
		return actResult{}, ErrOffsetOutOfRange
	}
	if params.OffsetY != 0 && (params.OffsetY < -a.Geometry.H/2 || params.OffsetY > a.Geometry.H/2) {
		return actResult{}, ErrOffsetOutOfRange
	}

	if err := rt.dispatcher.DispatchMouseEvent(ctx, req.Page, proto.InputDispatchMouseEventTypeMousePressed, cx, cy, params.Button); err != nil {
		return actResult{}, fmt.Errorf("toolruntime: click press: %w", err)
	}
	if err := rt.dispatcher.DispatchMouseEvent(ctx, req.Page, proto.InputDispatchMouseEventTypeMouseReleased, cx, cy, params.Button); err != nil {
		return actResult{}, fmt.Errorf("toolruntime: click release: %w", err)
	}

	url, title := rt.currentURLAndTitle(ctx, req)
	return actResult{url: url, title: title}, nil
}
