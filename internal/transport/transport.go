// Package transport owns the single websocket connection to Chrome and
// hands out call-id-correlated command/event access to everything above
// it. It does not know about pages, frames, sessions as domain concepts
// (that's the Session Registry) or what a command means (that's the CDP
// Adapter) — it only launches/connects Chrome and exposes Send/EachEvent.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the transport's Chrome connection.
type Config struct {
	// RemoteURL is the websocket URL of an already-running Chrome instance.
	// Empty launches a local headless Chrome via launcher.
	RemoteURL string

	// MemoryLimit recycles the browser process once its JS heap exceeds
	// this many bytes. 0 disables memory-based recycling.
	MemoryLimit int64

	// RecycleInterval recycles the browser after this much uptime. 0
	// disables interval-based recycling.
	RecycleInterval time.Duration

	// MonitorInterval controls how often the memory/interval checks run.
	MonitorInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleCallback lets the layer above flush state before Chrome is killed
// and reconnect after it restarts.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(browser *rod.Browser)
}

// Transport is the single owner of the Chrome connection. All callers
// route commands and page creation through it rather than holding their
// own *rod.Browser.
type Transport struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
	cb      *RecycleCallback
}

// New creates a Transport. Call Start to open the connection.
func New(cfg Config) *Transport {
	cfg.defaults()
	return &Transport{cfg: cfg}
}

// SetRecycleCallback installs the before/after recycle hooks.
func (t *Transport) SetRecycleCallback(cb *RecycleCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// Start launches or connects to Chrome and begins the monitor loop. The
// returned *rod.Browser is the same instance Browser() will keep returning
// until the next recycle.
func (t *Transport) Start(ctx context.Context) (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport: already closed")
	}

	b, err := t.connect()
	if err != nil {
		return nil, err
	}
	t.browser = b
	t.startAt = time.Now()

	go t.monitorLoop(ctx)

	return b, nil
}

// Browser returns the current browser handle. Thread-safe; the returned
// pointer may become stale across a Recycle, callers should re-fetch
// rather than cache it across a long span.
func (t *Transport) Browser() *rod.Browser {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.browser
}

// Send issues a call-id-correlated CDP command against a target. An empty
// sessionID targets the browser itself; a non-empty one scopes the call to
// that CDP session. Deadline is the caller's ctx.
func (t *Transport) Send(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	b := t.Browser()
	if b == nil {
		return nil, fmt.Errorf("transport: not started")
	}
	raw, err := b.Call(ctx, sessionID, method, params)
	if err != nil {
		return nil, fmt.Errorf("transport: call %s: %w", method, err)
	}
	return raw, nil
}

// OpenPage creates a new tab, optionally stealth-patched, navigates it and
// waits for load. Grounded on domwatch/internal/browser.Tab's OpenTab.
func (t *Transport) OpenPage(ctx context.Context, url string, useStealth bool, navTimeout time.Duration) (*rod.Page, error) {
	b := t.Browser()
	if b == nil {
		return nil, fmt.Errorf("transport: not started")
	}

	var page *rod.Page
	var err error
	if useStealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("transport: create page: %w", err)
	}

	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if url != "" {
		if err := page.Context(navCtx).Navigate(url); err != nil {
			page.Close()
			return nil, fmt.Errorf("transport: navigate %s: %w", url, err)
		}
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			t.cfg.Logger.Warn("transport: wait load timeout", "url", url, "error", err)
		}
	}

	return page, nil
}

// ClosePage closes a single tab.
func (t *Transport) ClosePage(page *rod.Page) error {
	if page == nil {
		return nil
	}
	return page.Close()
}

// EachEvent is a thin pass-through to the page's own event pump. The CDP
// Adapter supplies the typed per-domain handlers (§4.3's event table);
// Transport does not interpret events, only owns the connection they
// arrive on. Grounded on domwatch/internal/observer/cdpdom.go's
// page.Context(ctx).EachEvent(...) usage.
func (t *Transport) EachEvent(ctx context.Context, page *rod.Page, handlers ...any) (wait func()) {
	return page.Context(ctx).EachEvent(handlers...)
}

// Recycle kills the current Chrome process and relaunches it, calling the
// before/after callbacks so observers can flush and reconnect.
func (t *Transport) Recycle(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport: already closed")
	}
	return t.recycleLocked(ctx)
}

func (t *Transport) recycleLocked(ctx context.Context) error {
	log := t.cfg.Logger
	log.Info("transport: recycling", "uptime", time.Since(t.startAt))

	if t.cb != nil && t.cb.BeforeRecycle != nil {
		t.cb.BeforeRecycle()
	}

	t.cleanupLocked()

	b, err := t.connect()
	if err != nil {
		return fmt.Errorf("transport: relaunch: %w", err)
	}
	t.browser = b
	t.startAt = time.Now()

	if t.cb != nil && t.cb.AfterRecycle != nil {
		t.cb.AfterRecycle(b)
	}

	log.Info("transport: recycled")
	return nil
}

// Close shuts down Chrome and releases launcher resources. All inflight
// Send calls fail once the underlying connection drops; Transport applies
// no automatic reconnect — that decision belongs to the adapter above.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cleanupLocked()
	return nil
}

func (t *Transport) cleanupLocked() {
	if t.browser != nil {
		t.browser.Close()
		t.browser = nil
	}
	if t.lnch != nil {
		t.lnch.Cleanup()
		t.lnch = nil
	}
}

func (t *Transport) connect() (*rod.Browser, error) {
	log := t.cfg.Logger
	var wsURL string

	if t.cfg.RemoteURL != "" {
		wsURL = t.cfg.RemoteURL
		log.Info("transport: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("transport: launch: %w", err)
		}
		wsURL = u
		t.lnch = l
		log.Info("transport: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("transport: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("transport: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (t *Transport) monitorLoop(ctx context.Context) {
	if t.cfg.RecycleInterval <= 0 && t.cfg.MemoryLimit <= 0 {
		return
	}

	ticker := time.NewTicker(t.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			closed, b, startAt := t.closed, t.browser, t.startAt
			t.mu.RUnlock()
			if closed || b == nil {
				return
			}

			if t.cfg.RecycleInterval > 0 && time.Since(startAt) > t.cfg.RecycleInterval {
				t.cfg.Logger.Info("transport: recycle interval reached")
				if err := t.Recycle(ctx); err != nil {
					t.cfg.Logger.Error("transport: recycle failed", "error", err)
				}
				continue
			}

			if t.cfg.MemoryLimit > 0 {
				used, err := jsHeapUsage(b)
				if err != nil {
					t.cfg.Logger.Debug("transport: heap check failed", "error", err)
					continue
				}
				if used > t.cfg.MemoryLimit {
					t.cfg.Logger.Info("transport: memory limit exceeded", "used", used, "limit", t.cfg.MemoryLimit)
					if err := t.Recycle(ctx); err != nil {
						t.cfg.Logger.Error("transport: recycle failed", "error", err)
					}
				}
			}
		}
	}
}

func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("transport: no pages for heap check")
	}
	res, err := pages[0].Eval(`() => (performance.memory ? performance.memory.usedJSHeapSize : 0)`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
