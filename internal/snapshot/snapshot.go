// Package snapshot samples a page's DOM and accessibility tree into an
// immutable, content-addressed domain.DomAxSnapshot, TTL-caches samples
// keyed by route, and diffs two snapshots into a domain.DomAxDiff.
//
// The light/full level split mirrors domwatch/internal/profiler: a cheap
// single Runtime.evaluate pass (profiler.findLandmarks/computeTextDensity
// style — one JS round trip) for Light, versus the full
// DOM.getDocument+Accessibility.getFullAXTree capture for Full. Content
// addressing (ID = sha256(dom_raw || ax_raw || level)) generalizes
// domwatch/mutation.HashHTML from "hash one HTML blob" to "hash the pair
// that makes up a DomAxSnapshot".
package snapshot

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

// Perceiver is the capability port the sampler drives. A production
// implementation is internal/cdpadapter.Adapter; tests use a fake.
type Perceiver interface {
	CaptureLight(ctx context.Context, page ids.PageId, frame ids.FrameId) (domRaw, axRaw []byte, err error)
	CaptureFull(ctx context.Context, page ids.PageId, frame ids.FrameId) (domRaw, axRaw []byte, err error)
}

// Options configures the sampler's cache.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type cacheKey struct {
	page  ids.PageId
	frame ids.FrameId
	level domain.SnapshotLevel
}

type cacheEntry struct {
	snap    domain.DomAxSnapshot
	expires time.Time
}

// Sampler captures and TTL-caches DOM+AX snapshots.
type Sampler struct {
	opts      Options
	perceiver Perceiver

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// New creates a Sampler driving perceiver.
func New(perceiver Perceiver, opts Options) *Sampler {
	return &Sampler{
		opts:      opts.withDefaults(),
		perceiver: perceiver,
		cache:     make(map[cacheKey]cacheEntry),
	}
}

// Capture returns a cached snapshot if one is still fresh for
// (page, frame, level); otherwise it samples a new one. On a Full-level
// capture error it falls back to Light once, so a failed Full capture
// still yields something rather than nothing.
func (s *Sampler) Capture(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error) {
	key := cacheKey{page: page, frame: frame, level: level}

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expires) {
		s.mu.Unlock()
		return entry.snap, nil
	}
	s.mu.Unlock()

	snap, err := s.sample(ctx, page, frame, level)
	if err != nil {
		if level == domain.LevelFull {
			s.opts.Logger.Warn("snapshot: full capture failed, falling back to light", "page", page, "error", err)
			snap, err = s.sample(ctx, page, frame, domain.LevelLight)
			key.level = domain.LevelLight
		}
		if err != nil {
			return domain.DomAxSnapshot{}, err
		}
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{snap: snap, expires: time.Now().Add(s.opts.TTL)}
	s.mu.Unlock()

	return snap, nil
}

func (s *Sampler) sample(ctx context.Context, page ids.PageId, frame ids.FrameId, level domain.SnapshotLevel) (domain.DomAxSnapshot, error) {
	var domRaw, axRaw []byte
	var err error
	switch level {
	case domain.LevelFull:
		domRaw, axRaw, err = s.perceiver.CaptureFull(ctx, page, frame)
	default:
		level = domain.LevelLight
		domRaw, axRaw, err = s.perceiver.CaptureLight(ctx, page, frame)
	}
	if err != nil {
		return domain.DomAxSnapshot{}, fmt.Errorf("snapshot: capture %s: %w", level, err)
	}

	return domain.DomAxSnapshot{
		ID:         hashSnapshot(domRaw, axRaw, level),
		CapturedAt: time.Now(),
		Page:       string(page),
		Frame:      string(frame),
		Level:      level,
		DomRaw:     domRaw,
		AxRaw:      axRaw,
	}, nil
}

// InvalidateFrame drops every cache entry scoped to frame. Implements
// cdpadapter.FrameCacheInvalidator.
func (s *Sampler) InvalidateFrame(frame ids.FrameId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if k.frame == frame {
			delete(s.cache, k)
		}
	}
}

// hashSnapshot computes the content-addressed id: sha256(dom_raw ||
// ax_raw || level). Two snapshots with equal ids are guaranteed to carry
// equal dom_raw/ax_raw, which is the identity invariant §8 tests for.
func hashSnapshot(domRaw, axRaw []byte, level domain.SnapshotLevel) string {
	h := sha256.New()
	h.Write(domRaw)
	h.Write([]byte{0})
	h.Write(axRaw)
	h.Write([]byte{0})
	h.Write([]byte(level))
	return fmt.Sprintf("%x", h.Sum(nil))
}
