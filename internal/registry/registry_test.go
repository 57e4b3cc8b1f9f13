package registry

import (
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/internal/ids"
)

func TestInsertPage_IndexesByTarget(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")

	got, ok := r.PageByTarget("target-1")
	if !ok || got != p.ID {
		t.Fatalf("PageByTarget: got (%v,%v), want (%v,true)", got, ok, p.ID)
	}
}

func TestBindSession_ResolvesPage(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")
	sess := ids.NewSessionId()

	if !r.BindSession(p.ID, sess) {
		t.Fatalf("BindSession: want true for known page")
	}

	got, ok := r.PageBySession(sess)
	if !ok || got != p.ID {
		t.Fatalf("PageBySession: got (%v,%v), want (%v,true)", got, ok, p.ID)
	}
}

func TestBindSession_UnknownPage(t *testing.T) {
	r := New()
	if r.BindSession(ids.NewPageId(), ids.NewSessionId()) {
		t.Fatalf("BindSession: want false for unknown page")
	}
}

func TestBindSession_Rebind_RemovesOldBinding(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")
	first := ids.NewSessionId()
	second := ids.NewSessionId()

	r.BindSession(p.ID, first)
	r.BindSession(p.ID, second)

	if _, ok := r.PageBySession(first); ok {
		t.Fatalf("PageBySession(first): want not-found after rebind")
	}
	if got, ok := r.PageBySession(second); !ok || got != p.ID {
		t.Fatalf("PageBySession(second): got (%v,%v), want (%v,true)", got, ok, p.ID)
	}
}

func TestRemovePage_PurgesSessionsAndFrames(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")
	sess := ids.NewSessionId()
	r.BindSession(p.ID, sess)
	f := r.InsertFrame(p.ID, "provider-frame-1")

	r.RemovePage(p.ID)

	if _, ok := r.Page(p.ID); ok {
		t.Fatalf("Page: want not-found after RemovePage")
	}
	if _, ok := r.PageBySession(sess); ok {
		t.Fatalf("PageBySession: want not-found after RemovePage")
	}
	if _, ok := r.FrameEntryByID(f.ID); ok {
		t.Fatalf("FrameEntryByID: want not-found after owning page removed")
	}
}

func TestFrame_ScopedByPage(t *testing.T) {
	r := New()
	p1 := r.InsertPage("target-1")
	p2 := r.InsertPage("target-2")

	f1 := r.InsertFrame(p1.ID, "shared-provider-id")
	f2 := r.InsertFrame(p2.ID, "shared-provider-id")

	if f1.ID == f2.ID {
		t.Fatalf("frames from different pages sharing a provider id must not collide")
	}

	got, ok := r.Frame(p1.ID, "shared-provider-id")
	if !ok || got.ID != f1.ID {
		t.Fatalf("Frame(p1): got (%v,%v), want (%v,true)", got, ok, f1.ID)
	}
}

func TestRemoveFrame(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")
	f := r.InsertFrame(p.ID, "provider-frame-1")

	r.RemoveFrame(f.ID)

	if _, ok := r.FrameEntryByID(f.ID); ok {
		t.Fatalf("FrameEntryByID: want not-found after RemoveFrame")
	}
	if _, ok := r.Frame(p.ID, "provider-frame-1"); ok {
		t.Fatalf("Frame: want not-found after RemoveFrame")
	}
}

func TestSetRecentURL(t *testing.T) {
	r := New()
	p := r.InsertPage("target-1")
	r.SetRecentURL(p.ID, "https://example.com")

	got, ok := r.Page(p.ID)
	if !ok || got.RecentURL != "https://example.com" {
		t.Fatalf("RecentURL: got %q, want %q", got.RecentURL, "https://example.com")
	}
}
