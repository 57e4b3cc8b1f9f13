package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

// Diff summarizes structural differences between two DOM+AX captures,
// walking both node trees with golang.org/x/net/html and counting how
// much changed between them.
func Diff(base, current domain.DomAxSnapshot) domain.DomAxDiff {
	d := domain.DomAxDiff{GeneratedAt: time.Now()}
	if base.ID != "" {
		id := base.ID
		d.Base = &id
	}
	if current.ID != "" {
		id := current.ID
		d.Current = &id
	}

	if base.ID == current.ID {
		return d // identical content hash, nothing to diff
	}

	baseDoc, baseErr := html.Parse(strings.NewReader(string(base.DomRaw)))
	curDoc, curErr := html.Parse(strings.NewReader(string(current.DomRaw)))
	if baseErr == nil && curErr == nil {
		baseCount, baseAttrs, baseText := walk(baseDoc)
		curCount, curAttrs, curText := walk(curDoc)

		if baseCount != curCount {
			d.Changes = append(d.Changes, domain.Change{
				Kind:   domain.ChangeDomNodeCount,
				Detail: fmt.Sprintf("%d -> %d", baseCount, curCount),
			})
		}
		if addedAttrs := setDiff(baseAttrs, curAttrs); addedAttrs != "" {
			d.Changes = append(d.Changes, domain.Change{Kind: domain.ChangeDomAttrKeys, Detail: addedAttrs})
		}
		if baseText != curText {
			d.Changes = append(d.Changes, domain.Change{Kind: domain.ChangeDomText, Detail: "text content changed"})
		}
	}

	baseAX, curAX := parseAX(base.AxRaw), parseAX(current.AxRaw)
	if len(baseAX) != len(curAX) {
		d.Changes = append(d.Changes, domain.Change{
			Kind:   domain.ChangeAXNodeCount,
			Detail: fmt.Sprintf("%d -> %d", len(baseAX), len(curAX)),
		})
	}
	if rolesDiff := axRoleDiff(baseAX, curAX); rolesDiff != "" {
		d.Changes = append(d.Changes, domain.Change{Kind: domain.ChangeAXRoles, Detail: rolesDiff})
	}

	return d
}

func walk(n *html.Node) (count int, attrKeys map[string]bool, text string) {
	attrKeys = map[string]bool{}
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		count++
		for _, a := range n.Attr {
			attrKeys[a.Key] = true
		}
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return count, attrKeys, sb.String()
}

func setDiff(base, current map[string]bool) string {
	var added, removed []string
	for k := range current {
		if !base[k] {
			added = append(added, k)
		}
	}
	for k := range base {
		if !current[k] {
			removed = append(removed, k)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return ""
	}
	return fmt.Sprintf("added=%v removed=%v", added, removed)
}

func parseAX(raw []byte) []domain.AXNodeRecord {
	if len(raw) == 0 {
		return nil
	}
	var nodes []domain.AXNodeRecord
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil
	}
	return nodes
}

func axRoleDiff(base, current []domain.AXNodeRecord) string {
	baseRoles := map[string]int{}
	curRoles := map[string]int{}
	for _, n := range base {
		baseRoles[n.Role]++
	}
	for _, n := range current {
		curRoles[n.Role]++
	}
	var diffs []string
	seen := map[string]bool{}
	for role, c := range curRoles {
		seen[role] = true
		if baseRoles[role] != c {
			diffs = append(diffs, fmt.Sprintf("%s:%d->%d", role, baseRoles[role], c))
		}
	}
	for role, b := range baseRoles {
		if seen[role] {
			continue
		}
		diffs = append(diffs, fmt.Sprintf("%s:%d->0", role, b))
	}
	if len(diffs) == 0 {
		return ""
	}
	return strings.Join(diffs, ",")
}
