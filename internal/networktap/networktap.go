// Package networktap aggregates per-page request/response counters from
// the CDP Adapter's Network.* event stream into windowed summaries, and
// emits a "quiet" signal when a page has had zero inflight requests for a
// configured interval.
//
// The maintenance ticker (a goroutine that periodically re-evaluates
// publish state even with no incoming traffic, so quiescence is detected
// without relying on the next event to arrive) is grounded on
// watch.Watcher's poll loop (watch/watch.go): a ticker selects between
// "time to check" and "stop", the same way OnChange does, generalized
// here from "detect a SQLite version change" to "detect network
// quiescence".
package networktap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/eventbus"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

// TopicNetworkSummary is the event-bus topic the tap publishes on.
const TopicNetworkSummary = "network_summary"

// Options tunes the tap's publish cadence. WindowMs and QuietWindowMs
// default to 1000ms each, while staying independently configurable.
type Options struct {
	WindowMs            int64
	QuietWindowMs       int64
	MinPublishIntervalMs int64
	MaintenanceInterval time.Duration
	Logger              *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.WindowMs <= 0 {
		o.WindowMs = 1000
	}
	if o.QuietWindowMs <= 0 {
		o.QuietWindowMs = 1000
	}
	if o.MinPublishIntervalMs <= 0 {
		o.MinPublishIntervalMs = 250
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Tap aggregates network counters per page and publishes windowed
// summaries to the event bus.
type Tap struct {
	opts Options
	bus  *eventbus.Bus

	mu    sync.Mutex
	pages map[ids.PageId]*domain.NetworkSnapshot
}

// New creates a Tap publishing to bus.
func New(bus *eventbus.Bus, opts Options) *Tap {
	return &Tap{
		opts:  opts.withDefaults(),
		bus:   bus,
		pages: make(map[ids.PageId]*domain.NetworkSnapshot),
	}
}

// Enable opens the tap's counters for a page (state Closed → Open).
func (t *Tap) Enable(page ids.PageId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pages[page]; !ok {
		t.pages[page] = &domain.NetworkSnapshot{}
	}
}

// Disable removes a page's counters (state Open → removed).
func (t *Tap) Disable(page ids.PageId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, page)
}

// RequestWillBeSent records a new in-flight request.
func (t *Tap) RequestWillBeSent(ctx context.Context, page ids.PageId) {
	t.update(ctx, page, func(s *domain.NetworkSnapshot) {
		s.Req++
		s.Inflight++
		s.LastActivity = time.Now()
	})
}

// ResponseReceived buckets a response by status class.
func (t *Tap) ResponseReceived(ctx context.Context, page ids.PageId, status int) {
	t.update(ctx, page, func(s *domain.NetworkSnapshot) {
		switch {
		case status >= 200 && status < 300:
			s.Res2xx++
		case status >= 400 && status < 500:
			s.Res4xx++
		case status >= 500 && status < 600:
			s.Res5xx++
		}
		s.LastActivity = time.Now()
	})
}

// LoadingFinished decrements inflight on completion.
func (t *Tap) LoadingFinished(ctx context.Context, page ids.PageId) {
	t.update(ctx, page, func(s *domain.NetworkSnapshot) {
		if s.Inflight > 0 {
			s.Inflight--
		}
		s.LastActivity = time.Now()
	})
}

// LoadingFailed decrements inflight on failure, same as completion.
func (t *Tap) LoadingFailed(ctx context.Context, page ids.PageId) {
	t.LoadingFinished(ctx, page)
}

func (t *Tap) update(ctx context.Context, page ids.PageId, mutate func(*domain.NetworkSnapshot)) {
	t.mu.Lock()
	s, ok := t.pages[page]
	if !ok {
		t.mu.Unlock()
		return
	}
	mutate(s)
	t.maybePublishLocked(page, s)
	t.mu.Unlock()
	_ = ctx
}

// maybePublishLocked implements the publish rule: publish iff
// (now - last_publish >= min_publish_interval) || (quiet && !was_quiet).
// Caller holds t.mu.
func (t *Tap) maybePublishLocked(page ids.PageId, s *domain.NetworkSnapshot) {
	now := time.Now()
	sinceActivityMs := now.Sub(s.LastActivity).Milliseconds()
	quiet := s.Inflight == 0 && sinceActivityMs >= t.opts.QuietWindowMs

	dueByInterval := now.Sub(s.LastPublish).Milliseconds() >= t.opts.MinPublishIntervalMs
	dueByQuiet := quiet && !s.LastQuiet

	if !dueByInterval && !dueByQuiet {
		return
	}

	s.LastPublish = now
	s.LastQuiet = quiet

	summary := domain.NetworkSummary{
		Page: string(page),
		Req: s.Req, Res2xx: s.Res2xx, Res4xx: s.Res4xx, Res5xx: s.Res5xx, Inflight: s.Inflight,
		WindowMs:            t.opts.WindowMs,
		Quiet:               quiet,
		SinceLastActivityMs: sinceActivityMs,
	}
	t.bus.Publish(context.Background(), TopicNetworkSummary, string(page), "", summary)
}

// Run drives the maintenance ticker until ctx is cancelled. It re-checks
// every page's publish rule even with no incoming traffic, so quiescence
// is detected without relying on another event to arrive.
func (t *Tap) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			for page, s := range t.pages {
				t.maybePublishLocked(page, s)
			}
			t.mu.Unlock()
		}
	}
}

// Snapshot returns a copy of a page's current counters, for tests and
// diagnostics.
func (t *Tap) Snapshot(page ids.PageId) (domain.NetworkSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.pages[page]
	if !ok {
		return domain.NetworkSnapshot{}, false
	}
	return *s, true
}
