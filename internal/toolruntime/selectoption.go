package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

func (rt *Runtime) actSelectOption(ctx context.Context, req Request, a domain.Anchor) (actResult, error) {
	if a.Disabled {
		return actResult{}, ErrDisabled
	}
	if a.BackendNodeID == "" {
		return actResult{}, fmt.Errorf("%w: select_option requires a resolved node", ErrInvalidTarget)
	}

	before, err := rt.currentSelection(ctx, req, a)
	if err != nil {
		before = selectionState{}
	}

	params := req.Select
	var expr string
	switch {
	case params.Value != nil:
		expr = fmt.Sprintf(
			"(function(){var e=window.__sb_node_%s; if(!e) return; for (var i=0;i<e.options.length;i++){ e.options[i].selected = (e.options[i].value===%q); } e.dispatchEvent(new Event('change',{bubbles:true}));})()",
			a.BackendNodeID, *params.Value,
		)
	case params.Label != nil:
		expr = fmt.Sprintf(
			"(function(){var e=window.__sb_node_%s; if(!e) return; for (var i=0;i<e.options.length;i++){ e.options[i].selected = (e.options[i].label===%q || e.options[i].text===%q); } e.dispatchEvent(new Event('change',{bubbles:true}));})()",
			a.BackendNodeID, *params.Label, *params.Label,
		)
	case params.Index != nil:
		expr = fmt.Sprintf(
			"(function(){var e=window.__sb_node_%s; if(!e) return; for (var i=0;i<e.options.length;i++){ e.options[i].selected = (i===%d); } e.dispatchEvent(new Event('change',{bubbles:true}));})()",
			a.BackendNodeID, *params.Index,
		)
	default:
		return actResult{}, fmt.Errorf("%w: select_option requires value, label or index", ErrInvalidTarget)
	}

	if _, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr); err != nil {
		return actResult{}, fmt.Errorf("toolruntime: select option: %w", err)
	}

	after, err := rt.currentSelection(ctx, req, a)
	if err != nil {
		after = selectionState{}
	}

	digest := &domain.SelectionDigest{
		IndexBefore: before.indices, ValueBefore: before.values,
		IndexAfter: after.indices, ValueAfter: after.values,
		SelectedCount: len(after.indices),
		Changed:       !equalInts(before.indices, after.indices) || !equalStrings(before.values, after.values),
	}

	url, title := rt.currentURLAndTitle(ctx, req)
	return actResult{url: url, title: title, selectionDigest: digest}, nil
}

type selectionState struct {
	indices []int
	values  []string
}

func (rt *Runtime) currentSelection(ctx context.Context, req Request, a domain.Anchor) (selectionState, error) {
	expr := fmt.Sprintf(
		"(function(){var e=window.__sb_node_%s; if(!e) return JSON.stringify({idx:[],val:[]}); var idx=[],val=[]; for (var i=0;i<e.options.length;i++){ if(e.options[i].selected){ idx.push(i); val.push(e.options[i].value); } } return JSON.stringify({idx:idx,val:val});})()",
		a.BackendNodeID,
	)
	res, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr)
	if err != nil || res == nil {
		return selectionState{}, err
	}
	var parsed struct {
		Idx []int    `json:"idx"`
		Val []string `json:"val"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &parsed); err != nil {
		return selectionState{}, err
	}
	return selectionState{indices: parsed.Idx, values: parsed.Val}, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
