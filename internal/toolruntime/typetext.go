package toolruntime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

func hashValue(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

func (rt *Runtime) actTypeText(ctx context.Context, req Request, a domain.Anchor) (actResult, error) {
	if a.ReadOnly {
		return actResult{}, ErrReadOnly
	}
	if a.Disabled {
		return actResult{}, ErrDisabledField
	}
	params := req.Type
	if name, ok := a.Attributes["name"]; ok && IsSensitiveField(name) && params.Mode == ModePaste {
		return actResult{}, ErrPasteDenied
	}

	before, err := rt.currentFieldValue(ctx, req, a)
	if err != nil {
		before = ""
	}

	switch params.Mode {
	case ModePaste, ModeInstant, "":
		if err := rt.setFieldValue(ctx, req, a, params.Text); err != nil {
			return actResult{}, fmt.Errorf("toolruntime: set field value: %w", err)
		}
	default: // character, natural: dispatch one key event per rune
		for _, r := range params.Text {
			ev := proto.InputDispatchKeyEventTypeChar
			if err := rt.dispatcher.DispatchKeyEvent(ctx, req.Page, ev, string(r)); err != nil {
				return actResult{}, fmt.Errorf("toolruntime: dispatch key: %w", err)
			}
		}
	}

	sensitive := params.Sensitive || IsSensitiveField(a.Attributes["name"])

	digest := &domain.Digest{HashBefore: hashValue(before)}
	if !sensitive {
		after, _ := rt.currentFieldValue(ctx, req, a)
		digest.HashAfter = hashValue(after)
	}

	url, title := rt.currentURLAndTitle(ctx, req)
	return actResult{url: url, title: title, valueDigest: digest}, nil
}

func (rt *Runtime) currentFieldValue(ctx context.Context, req Request, a domain.Anchor) (string, error) {
	if a.BackendNodeID == "" {
		return "", nil
	}
	expr := fmt.Sprintf("(function(){var e=window.__sb_node_%s; return e?e.value:'';})()", a.BackendNodeID)
	res, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr)
	if err != nil || res == nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (rt *Runtime) setFieldValue(ctx context.Context, req Request, a domain.Anchor, value string) error {
	expr := fmt.Sprintf(
		"(function(){var e=window.__sb_node_%s; if(!e) return; e.value=%q; e.dispatchEvent(new Event('input',{bubbles:true})); e.dispatchEvent(new Event('change',{bubbles:true}));})()",
		a.BackendNodeID, value,
	)
	_, err := rt.dispatcher.Evaluate(ctx, req.Page, req.Frame, expr)
	return err
}
