package cdpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/anchor"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

// CaptureLight implements internal/snapshot.Perceiver's cheap path: one
// Runtime.evaluate round trip serializing the live DOM's tag/attribute
// shape, skipping the accessibility tree entirely (light snapshots never
// need AX per anchor.Hint.NeedsAX). Mirrors domwatch/internal/profiler's
// single-evaluate-pass style for landmark/density probes.
func (a *Adapter) CaptureLight(ctx context.Context, page ids.PageId, frame ids.FrameId) (domRaw, axRaw []byte, err error) {
	res, err := a.Evaluate(ctx, page, frame, lightDOMScript)
	if err != nil {
		return nil, nil, fmt.Errorf("cdpadapter: capture light: %w", err)
	}
	return []byte(evalString(res)), []byte("{}"), nil
}

// CaptureFull implements internal/snapshot.Perceiver's full path:
// DOM.getDocument (depth -1, pierce) plus Accessibility.getFullAXTree,
// each marshaled to JSON for content addressing.
func (a *Adapter) CaptureFull(ctx context.Context, page ids.PageId, frame ids.FrameId) (domRaw, axRaw []byte, err error) {
	doc, err := a.GetDocument(ctx, page)
	if err != nil {
		return nil, nil, fmt.Errorf("cdpadapter: capture full dom: %w", err)
	}
	nodes, err := a.GetFullAXTree(ctx, page)
	if err != nil {
		return nil, nil, fmt.Errorf("cdpadapter: capture full ax: %w", err)
	}

	domRaw, err = json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("cdpadapter: marshal dom: %w", err)
	}
	axRaw, err = json.Marshal(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("cdpadapter: marshal ax: %w", err)
	}
	return domRaw, axRaw, nil
}

// candidateDescriptor is one element the query script reports back.
type candidateDescriptor struct {
	BackendNodeID string            `json:"backendNodeId"`
	Tag           string            `json:"tag"`
	Attrs         map[string]string `json:"attrs"`
	Text          string            `json:"text"`
	X             float64           `json:"x"`
	Y             float64           `json:"y"`
	W             float64           `json:"w"`
	H             float64           `json:"h"`
	Disabled      bool              `json:"disabled"`
	ReadOnly      bool              `json:"readOnly"`
}

// Query implements internal/anchor.CandidateSource: it runs a single
// Runtime.evaluate querying the live DOM for elements matching hint, and
// stamps each match onto window.__sb_node_<backendNodeId> so a later tool
// run can re-reference the same element by BackendNodeID (the convention
// internal/toolruntime's act/focus/scroll helpers read from).
func (a *Adapter) Query(ctx context.Context, page ids.PageId, frame ids.FrameId, hint anchor.Hint) ([]domain.Anchor, error) {
	script, ok := queryScriptFor(hint)
	if !ok {
		return nil, nil
	}

	res, err := a.Evaluate(ctx, page, frame, script)
	if err != nil {
		return nil, fmt.Errorf("cdpadapter: query candidates: %w", err)
	}

	raw := evalString(res)
	if raw == "" {
		return nil, nil
	}

	var descriptors []candidateDescriptor
	if err := json.Unmarshal([]byte(raw), &descriptors); err != nil {
		return nil, fmt.Errorf("cdpadapter: parse candidates: %w", err)
	}

	anchors := make([]domain.Anchor, 0, len(descriptors))
	for _, d := range descriptors {
		anchors = append(anchors, domain.Anchor{
			Strategy:      hint.Strategy,
			Value:         hint.CSS,
			Frame:         string(frame),
			BackendNodeID: d.BackendNodeID,
			Geometry:      &domain.Geometry{X: d.X, Y: d.Y, W: d.W, H: d.H},
			Attributes:    d.Attrs,
			Tag:           d.Tag,
			Disabled:      d.Disabled,
			ReadOnly:      d.ReadOnly,
		})
	}
	return anchors, nil
}

// queryScriptFor builds the candidate-gathering script for the strategies
// that map directly to a DOM query. Geometry/backend/combo hints resolve
// through other means (a direct node lookup, or recursing into Sub) and
// report no candidates here; the resolver still augments whatever the
// cache/snapshot pass contributes.
func queryScriptFor(h anchor.Hint) (string, bool) {
	switch h.Strategy {
	case domain.StrategyCSS:
		return fmt.Sprintf(candidateScriptTemplate, jsString(h.CSS)), true
	case domain.StrategyText:
		return fmt.Sprintf(candidateScriptTemplate, "\"*\""), true
	default:
		return "", false
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// evalString reads a RuntimeRemoteObject's value as a string, tolerating a
// nil result.
func evalString(res *proto.RuntimeRemoteObject) string {
	if res == nil {
		return ""
	}
	return res.Value.Str()
}

const lightDOMScript = `(function(){
	var root = document.documentElement;
	return JSON.stringify({tag: root ? root.tagName : '', html: root ? root.outerHTML.slice(0, 20000) : ''});
})()`

const candidateScriptTemplate = `(function(){
	window.__sb_counter = window.__sb_counter || 0;
	var els = document.querySelectorAll(%s);
	var out = [];
	for (var i = 0; i < els.length; i++) {
		var el = els[i];
		var id = 'q' + (window.__sb_counter++);
		window['__sb_node_' + id] = el;
		var r = el.getBoundingClientRect();
		var attrs = {};
		for (var j = 0; j < el.attributes.length; j++) {
			attrs[el.attributes[j].name] = el.attributes[j].value;
		}
		out.push({
			backendNodeId: id,
			tag: el.tagName,
			attrs: attrs,
			text: (el.textContent || '').slice(0, 200),
			x: r.x, y: r.y, w: r.width, h: r.height,
			disabled: !!el.disabled,
			readOnly: !!el.readOnly
		});
	}
	return JSON.stringify(out);
})()`
