package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/dbopen"
	_ "modernc.org/sqlite"
)

type fakePool struct{ known map[string]bool }

func (p *fakePool) Exists(id string) bool { return p.known[id] }

func newTestStore(t *testing.T, pool SnapshotPool) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := Open(t.TempDir(), db, Options{Pool: pool, MaxTTL: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestBind_WritesIndexFileAndMirror(t *testing.T) {
	pool := &fakePool{known: map[string]bool{"ss_1": true, "px_1": true}}
	s := newTestStore(t, pool)

	if err := s.Bind(context.Background(), "action-1", "page-1", "frame-1", "ss_1", []string{"px_1"}, time.Minute); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".json" {
		t.Fatalf("want one json index file, got %v", entries)
	}

	b, ok := s.RefsByAction("action-1")
	if !ok {
		t.Fatalf("want a binding recorded for action-1")
	}
	if b.StructID != "ss_1" || len(b.PixIDs) != 1 {
		t.Fatalf("got binding %+v", b)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM bindings WHERE action_id = ?`, "action-1").Scan(&count); err != nil {
		t.Fatalf("query mirror: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d mirror rows, want 1", count)
	}
}

func TestBind_UnknownSnapshot_Rejected(t *testing.T) {
	pool := &fakePool{known: map[string]bool{}}
	s := newTestStore(t, pool)

	err := s.Bind(context.Background(), "action-1", "page-1", "frame-1", "ss_missing", nil, time.Minute)
	if err == nil {
		t.Fatalf("want an error for a snapshot id the pool doesn't know about")
	}
}

func TestBind_TTLTooLong_Rejected(t *testing.T) {
	s := newTestStore(t, nil)

	err := s.Bind(context.Background(), "action-1", "page-1", "frame-1", "ss_1", nil, 2*time.Hour)
	if err == nil {
		t.Fatalf("want an error when ttl exceeds the store maximum")
	}
}

func TestBind_ReplacesPriorBinding_ReleasesOldRefs(t *testing.T) {
	pool := &fakePool{known: map[string]bool{"ss_1": true, "ss_2": true}}
	s := newTestStore(t, pool)

	if err := s.Bind(context.Background(), "action-1", "page-1", "", "ss_1", nil, time.Minute); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := s.Bind(context.Background(), "action-1", "page-1", "", "ss_2", nil, time.Minute); err != nil {
		t.Fatalf("second bind: %v", err)
	}

	candidates := s.EvictionCandidates()
	found := false
	for _, id := range candidates {
		if id == "ss_1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("want ss_1 to become an eviction candidate after being replaced, got %v", candidates)
	}
}

func TestReplayMinimalFor(t *testing.T) {
	pool := &fakePool{known: map[string]bool{"ss_1": true, "px_1": true, "px_2": true}}
	s := newTestStore(t, pool)
	s.Bind(context.Background(), "action-1", "page-1", "frame-1", "ss_1", []string{"px_1", "px_2"}, time.Minute)

	replay, ok := s.ReplayMinimalFor("action-1")
	if !ok {
		t.Fatalf("want a replay for a bound action")
	}
	if replay.StructID != "ss_1" || len(replay.PixIDs) != 2 || replay.Summary == "" {
		t.Fatalf("got replay %+v", replay)
	}

	if _, ok := s.ReplayMinimalFor("missing"); ok {
		t.Fatalf("want no replay for an unbound action")
	}
}

func TestSweep_RemovesExpiredBindings(t *testing.T) {
	pool := &fakePool{known: map[string]bool{"ss_1": true}}
	s := newTestStore(t, pool)

	if err := s.Bind(context.Background(), "action-1", "page-1", "", "ss_1", nil, time.Millisecond); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	removed, err := s.Sweep(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("got %d removed, want 1", removed)
	}

	if _, ok := s.RefsByAction("action-1"); ok {
		t.Fatalf("want the binding gone after sweep")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want the index file removed too, got %v", entries)
	}
}

func TestSweep_KeepsUnexpiredBindings(t *testing.T) {
	pool := &fakePool{known: map[string]bool{"ss_1": true}}
	s := newTestStore(t, pool)
	s.Bind(context.Background(), "action-1", "page-1", "", "ss_1", nil, time.Hour)

	removed, err := s.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("got %d removed, want 0", removed)
	}
}

func TestOpen_RehydratesFromExistingIndexFiles(t *testing.T) {
	dir := t.TempDir()
	db1 := dbopen.OpenMemory(t)
	s1, err := Open(dir, db1, Options{MaxTTL: time.Hour})
	if err != nil {
		t.Fatalf("Open (1): %v", err)
	}
	if err := s1.Bind(context.Background(), "action-1", "page-1", "", "ss_1", nil, time.Minute); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	db2 := dbopen.OpenMemory(t)
	s2, err := Open(dir, db2, Options{MaxTTL: time.Hour})
	if err != nil {
		t.Fatalf("Open (2): %v", err)
	}

	b, ok := s2.RefsByAction("action-1")
	if !ok {
		t.Fatalf("want the rehydrated store to know about action-1")
	}
	if b.StructID != "ss_1" {
		t.Fatalf("got %+v", b)
	}
}
