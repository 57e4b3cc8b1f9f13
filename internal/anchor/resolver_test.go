package anchor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

type fakeSnapshotProvider struct {
	calls     atomic.Int32
	axRaw     []byte
	lastLevel domain.SnapshotLevel
}

func (f *fakeSnapshotProvider) Capture(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error) {
	f.calls.Add(1)
	f.lastLevel = level
	return domain.DomAxSnapshot{ID: "snap1", Level: level, AxRaw: f.axRaw}, nil
}

type fakeCandidateSource struct {
	candidates []domain.Anchor
}

func (f *fakeCandidateSource) Query(ctx context.Context, page ids.PageId, frame ids.FrameId, hint Hint) ([]domain.Anchor, error) {
	return f.candidates, nil
}

func TestResolve_RanksByScoreDescending(t *testing.T) {
	source := &fakeCandidateSource{candidates: []domain.Anchor{
		{Strategy: domain.StrategyCSS, Value: "weak"},
		{Strategy: domain.StrategyCSS, Value: "strong", BackendNodeID: "1", Geometry: &domain.Geometry{W: 50, H: 20}},
	}}
	snap := &fakeSnapshotProvider{}
	r := New(source, snap, Options{})

	res, err := r.Resolve(context.Background(), ids.NewPageId(), ids.NewFrameId(), Hint{Strategy: domain.StrategyCSS, CSS: "x"}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Primary.Value != "strong" {
		t.Fatalf("got primary %q, want the higher-scoring candidate", res.Primary.Value)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
}

func TestResolve_NoCandidates_ReturnsReason(t *testing.T) {
	r := New(&fakeCandidateSource{}, &fakeSnapshotProvider{}, Options{})
	res, err := r.Resolve(context.Background(), ids.NewPageId(), ids.NewFrameId(), Hint{Strategy: domain.StrategyCSS, CSS: "x"}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Reason != "no_candidates" {
		t.Fatalf("got reason %q, want no_candidates", res.Reason)
	}
}

func TestResolve_DebounceServesCachedResult(t *testing.T) {
	source := &fakeCandidateSource{candidates: []domain.Anchor{{Strategy: domain.StrategyCSS, Value: "x"}}}
	snap := &fakeSnapshotProvider{}
	r := New(source, snap, Options{})
	page, frame := ids.NewPageId(), ids.NewFrameId()
	hint := Hint{Strategy: domain.StrategyCSS, CSS: "x"}

	first, err := r.Resolve(context.Background(), page, frame, hint, ResolveOptions{DebounceMs: 10_000})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first resolve must not be a cache hit")
	}

	second, err := r.Resolve(context.Background(), page, frame, hint, ResolveOptions{DebounceMs: 10_000})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("second resolve within debounce window must be a cache hit")
	}
	if snap.calls.Load() != 1 {
		t.Fatalf("got %d snapshot captures, want 1 (second resolve should skip sampling)", snap.calls.Load())
	}
}

func TestResolve_AugmentsAXFromSnapshot(t *testing.T) {
	axRaw, _ := json.Marshal([]domain.AXNodeRecord{{BackendNodeID: "42", Role: "button", Name: "Go"}})
	source := &fakeCandidateSource{candidates: []domain.Anchor{{Strategy: domain.StrategyBackend, BackendNodeID: "42"}}}
	snap := &fakeSnapshotProvider{axRaw: axRaw}
	r := New(source, snap, Options{})

	res, err := r.Resolve(context.Background(), ids.NewPageId(), ids.NewFrameId(), Hint{Strategy: domain.StrategyAX, AXRole: "button"}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Primary.AXRole != "button" || res.Primary.AXName != "Go" {
		t.Fatalf("got AXRole=%q AXName=%q, want augmented from snapshot AX index", res.Primary.AXRole, res.Primary.AXName)
	}
}

func TestResolve_AXHintUsesFullLevel(t *testing.T) {
	snap := &fakeSnapshotProvider{}
	r := New(&fakeCandidateSource{}, snap, Options{})
	_, err := r.Resolve(context.Background(), ids.NewPageId(), ids.NewFrameId(), Hint{Strategy: domain.StrategyAX}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.lastLevel != domain.LevelFull {
		t.Fatalf("got snapshot level %v, want LevelFull for an AX hint", snap.lastLevel)
	}
}

func TestInvalidateFrame_ClearsOnlyMatchingEntries(t *testing.T) {
	source := &fakeCandidateSource{candidates: []domain.Anchor{{Strategy: domain.StrategyCSS, Value: "x"}}}
	r := New(source, &fakeSnapshotProvider{}, Options{})
	page := ids.NewPageId()
	frameA, frameB := ids.NewFrameId(), ids.NewFrameId()
	hint := Hint{Strategy: domain.StrategyCSS, CSS: "x"}

	r.Resolve(context.Background(), page, frameA, hint, ResolveOptions{DebounceMs: 10_000})
	r.Resolve(context.Background(), page, frameB, hint, ResolveOptions{DebounceMs: 10_000})

	r.InvalidateFrame(frameA)

	r.mu.Lock()
	_, aCached := r.cache[cacheKey{page: page, frame: frameA, hint: hint.CacheKey()}]
	_, bCached := r.cache[cacheKey{page: page, frame: frameB, hint: hint.CacheKey()}]
	r.mu.Unlock()

	if aCached {
		t.Fatalf("frame A's cache entry should have been invalidated")
	}
	if !bCached {
		t.Fatalf("frame B's cache entry should be unaffected")
	}
}
