// Package anchor resolves a targeting Hint into a ranked
// domain.AnchorResolution: sample DOM+AX, gather candidates, augment them
// with geometry/attributes/AX data, score and sort, cache by
// (page, frame, hint.CacheKey()).
package anchor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/eventbus"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

// TopicAnchorResolved is the state-center event emitted on every resolve.
const TopicAnchorResolved = "anchor_resolved"

// CandidateSource queries the adapter for an initial candidate set, or
// synthesizes skeleton candidates when the hint doesn't map to a direct
// DOM query (e.g. a bare geometry hint).
type CandidateSource interface {
	Query(ctx context.Context, page ids.PageId, frame ids.FrameId, hint Hint) ([]domain.Anchor, error)
}

// SnapshotProvider captures the DOM+AX pair a resolve pass augments
// candidates from. internal/snapshot.Sampler satisfies this.
type SnapshotProvider interface {
	Capture(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error)
}

// Options configures a Resolver.
type Options struct {
	Weights Weights
	Logger  *slog.Logger
	Bus     *eventbus.Bus // optional; nil disables state-center events
}

func (o Options) withDefaults() Options {
	o.Weights = o.Weights.withDefaults()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ResolveOptions bounds a single resolve call.
type ResolveOptions struct {
	MaxCandidates int
	DebounceMs    int64
}

func (o ResolveOptions) withDefaults() ResolveOptions {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 5
	}
	return o
}

type cacheKey struct {
	page  ids.PageId
	frame ids.FrameId
	hint  string
}

type cacheEntry struct {
	resolution domain.AnchorResolution
	at         time.Time
}

// Resolver runs the resolve pipeline and caches results.
type Resolver struct {
	opts     Options
	source   CandidateSource
	snapshot SnapshotProvider

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// New creates a Resolver.
func New(source CandidateSource, snapshot SnapshotProvider, opts Options) *Resolver {
	return &Resolver{
		opts:     opts.withDefaults(),
		source:   source,
		snapshot: snapshot,
		cache:    make(map[cacheKey]cacheEntry),
	}
}

// Resolve runs the pipeline in §4.6: cache lookup, sample, query,
// augment, score, sort, cache insert.
func (r *Resolver) Resolve(ctx context.Context, page ids.PageId, frame ids.FrameId, hint Hint, opts ResolveOptions) (domain.AnchorResolution, error) {
	opts = opts.withDefaults()
	key := cacheKey{page: page, frame: frame, hint: hint.CacheKey()}

	if opts.DebounceMs > 0 {
		r.mu.Lock()
		if entry, ok := r.cache[key]; ok && time.Since(entry.at).Milliseconds() < opts.DebounceMs {
			r.mu.Unlock()
			hit := entry.resolution
			hit.CacheHit = true
			return hit, nil
		}
		r.mu.Unlock()
	}

	level := domain.LevelLight
	if hint.NeedsAX() {
		level = domain.LevelFull
	}
	snap, err := r.snapshot.Capture(ctx, page, frame, level)
	if err != nil {
		return domain.AnchorResolution{}, err
	}

	candidates, err := r.source.Query(ctx, page, frame, hint)
	if err != nil {
		return domain.AnchorResolution{}, err
	}

	axIndex := indexAX(snap.AxRaw)
	for i := range candidates {
		augment(&candidates[i], axIndex)
	}

	type scored struct {
		anchor domain.Anchor
		score  domain.Score
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{anchor: c, score: Score(c, hint, r.opts.Weights)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score.Total != ranked[j].score.Total {
			return ranked[i].score.Total > ranked[j].score.Total
		}
		return Priority(ranked[i].anchor.Strategy) > Priority(ranked[j].anchor.Strategy)
	})

	if len(ranked) > opts.MaxCandidates {
		ranked = ranked[:opts.MaxCandidates]
	}

	res := domain.AnchorResolution{}
	cands := make([]domain.Anchor, len(ranked))
	for i, s := range ranked {
		cands[i] = s.anchor
	}
	res.Candidates = cands
	if len(ranked) > 0 {
		res.Primary = ranked[0].anchor
		res.Score = ranked[0].score
		res.Reason = "resolved"
	} else {
		res.Reason = "no_candidates"
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{resolution: res, at: time.Now()}
	r.mu.Unlock()

	if r.opts.Bus != nil {
		r.opts.Bus.Publish(ctx, TopicAnchorResolved, string(page), "", res)
	}

	return res, nil
}

// InvalidatePage drops every cache entry for a page.
func (r *Resolver) InvalidatePage(page ids.PageId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k.page == page {
			delete(r.cache, k)
		}
	}
}

// InvalidateFrame drops every cache entry scoped to a frame. Implements
// cdpadapter.FrameCacheInvalidator.
func (r *Resolver) InvalidateFrame(frame ids.FrameId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k.frame == frame {
			delete(r.cache, k)
		}
	}
}

// InvalidateRoute drops the cache entries for one page+frame, e.g. after a
// non-empty diff indicates the cached candidates are stale.
func (r *Resolver) InvalidateRoute(page ids.PageId, frame ids.FrameId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k.page == page && k.frame == frame {
			delete(r.cache, k)
		}
	}
}

func indexAX(raw []byte) map[string]domain.AXNodeRecord {
	if len(raw) == 0 {
		return nil
	}
	var nodes []domain.AXNodeRecord
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil
	}
	idx := make(map[string]domain.AXNodeRecord, len(nodes))
	for _, n := range nodes {
		if n.BackendNodeID != "" {
			idx[n.BackendNodeID] = n
		}
	}
	return idx
}

// augment merges AX role/name/states into a by backend-node-id, when
// present and not already set. Geometry/attribute augmentation from the
// DOM snapshot's node index is left to the candidate source: in this
// runtime the adapter already attaches them at query time (§4.6 step 3),
// so the resolver's own augmentation only needs to cover the one source
// the adapter cannot supply — AX data merged from a separate capture.
func augment(a *domain.Anchor, axIndex map[string]domain.AXNodeRecord) {
	if a.BackendNodeID == "" || axIndex == nil {
		return
	}
	rec, ok := axIndex[a.BackendNodeID]
	if !ok {
		return
	}
	if a.AXRole == "" {
		a.AXRole = rec.Role
	}
	if a.AXName == "" {
		a.AXName = rec.Name
	}
	if len(a.AXStates) == 0 {
		a.AXStates = rec.States
	}
}
