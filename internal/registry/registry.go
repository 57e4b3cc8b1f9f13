// Package registry maps browser-assigned target/session/frame identifiers
// to this runtime's stable internal ids, and tracks each page's recent URL
// and CDP session binding.
//
// Generalized from domwatch/internal/browser.Manager's tabs map[string]*Tab
// + sync.RWMutex: that map only ever indexed by page id; this registry also
// indexes by frame id and CDP session id so the CDP Adapter can resolve a
// page from either end of an event.
package registry

import (
	"sync"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

// PageEntry is everything the registry knows about one page.
type PageEntry struct {
	ID         ids.PageId
	TargetID   string // browser-assigned CDP target id
	RecentURL  string
	Session    ids.SessionId // zero value if unattached
	OpenedAt   time.Time
}

// FrameEntry maps an internal FrameId to the page that owns it and the
// browser-assigned CDP frame id.
type FrameEntry struct {
	ID       ids.FrameId
	Page     ids.PageId
	ProviderFrameID string
}

// Registry is the process-wide session registry. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	pages        map[ids.PageId]*PageEntry
	pagesByTarget map[string]ids.PageId

	frames       map[ids.FrameId]*FrameEntry
	framesByProviderID map[string]ids.FrameId // scoped by page, see frameKey()

	sessions map[ids.SessionId]ids.PageId
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		pages:         make(map[ids.PageId]*PageEntry),
		pagesByTarget: make(map[string]ids.PageId),
		frames:        make(map[ids.FrameId]*FrameEntry),
		framesByProviderID: make(map[string]ids.FrameId),
		sessions:      make(map[ids.SessionId]ids.PageId),
	}
}

func frameKey(page ids.PageId, providerFrameID string) string {
	return string(page) + "\x00" + providerFrameID
}

// InsertPage registers a newly observed page (Target.targetCreated).
func (r *Registry) InsertPage(targetID string) *PageEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &PageEntry{ID: ids.NewPageId(), TargetID: targetID, OpenedAt: time.Now()}
	r.pages[p.ID] = p
	r.pagesByTarget[targetID] = p.ID
	return p
}

// RemovePage removes a page and everything derived from it: session
// bindings and frame entries scoped to the page.
func (r *Registry) RemovePage(page ids.PageId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pages[page]
	if !ok {
		return
	}
	if entry.Session != "" {
		delete(r.sessions, entry.Session)
	}
	delete(r.pagesByTarget, entry.TargetID)
	delete(r.pages, page)

	for fid, f := range r.frames {
		if f.Page == page {
			delete(r.frames, fid)
			delete(r.framesByProviderID, frameKey(page, f.ProviderFrameID))
		}
	}
}

// BindSession attaches a CDP session id to a page (Target.attachedToTarget).
func (r *Registry) BindSession(page ids.PageId, session ids.SessionId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pages[page]
	if !ok {
		return false
	}
	if entry.Session != "" {
		delete(r.sessions, entry.Session)
	}
	entry.Session = session
	r.sessions[session] = page
	return true
}

// SetRecentURL records the most recently navigated-to URL for a page.
func (r *Registry) SetRecentURL(page ids.PageId, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.pages[page]; ok {
		entry.RecentURL = url
	}
}

// InsertFrame registers a frame under a page (Page.frameAttached).
func (r *Registry) InsertFrame(page ids.PageId, providerFrameID string) *FrameEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := &FrameEntry{ID: ids.NewFrameId(), Page: page, ProviderFrameID: providerFrameID}
	r.frames[f.ID] = f
	r.framesByProviderID[frameKey(page, providerFrameID)] = f.ID
	return f
}

// RemoveFrame removes a single frame entry (Page.frameDetached).
func (r *Registry) RemoveFrame(frame ids.FrameId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.frames[frame]
	if !ok {
		return
	}
	delete(r.framesByProviderID, frameKey(f.Page, f.ProviderFrameID))
	delete(r.frames, frame)
}

// Page looks up a page entry by internal id.
func (r *Registry) Page(page ids.PageId) (*PageEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pages[page]
	return e, ok
}

// PageByTarget resolves a page from its browser-assigned target id.
func (r *Registry) PageByTarget(targetID string) (ids.PageId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pagesByTarget[targetID]
	return p, ok
}

// PageBySession resolves a page from the CDP session bound to it.
func (r *Registry) PageBySession(session ids.SessionId) (ids.PageId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[session]
	return p, ok
}

// Frame resolves a frame entry from a page and the browser-assigned frame id.
func (r *Registry) Frame(page ids.PageId, providerFrameID string) (*FrameEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fid, ok := r.framesByProviderID[frameKey(page, providerFrameID)]
	if !ok {
		return nil, false
	}
	f, ok := r.frames[fid]
	return f, ok
}

// FrameEntryByID looks up a frame entry by internal id.
func (r *Registry) FrameEntryByID(frame ids.FrameId) (*FrameEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frames[frame]
	return f, ok
}

// Pages returns a snapshot slice of all currently registered page entries.
func (r *Registry) Pages() []*PageEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PageEntry, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, p)
	}
	return out
}
