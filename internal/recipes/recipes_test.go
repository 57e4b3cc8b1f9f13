package recipes

import (
	"context"
	"testing"

	"github.com/RcityLucas/SoulBrowser-sub002/dbopen"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := Open(db)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestRecord_CreatesNewRecipeOnFirstOutcome(t *testing.T) {
	s := newTestStore(t)
	anchor := domain.Anchor{Strategy: domain.StrategyCSS, Value: "#submit"}

	if err := s.Record(context.Background(), "example.com", "submit button", anchor, true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := s.Lookup(context.Background(), "example.com", "submit button")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].SuccessCount != 1 || entries[0].FailureCount != 0 {
		t.Fatalf("got %+v", entries[0])
	}
}

func TestRecord_AccumulatesCountsForSameStrategy(t *testing.T) {
	s := newTestStore(t)
	anchor := domain.Anchor{Strategy: domain.StrategyCSS, Value: "#submit"}

	s.Record(context.Background(), "example.com", "submit button", anchor, true)
	s.Record(context.Background(), "example.com", "submit button", anchor, true)
	s.Record(context.Background(), "example.com", "submit button", anchor, false)

	entries, err := s.Lookup(context.Background(), "example.com", "submit button")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (same domain/hint/strategy should accumulate)", len(entries))
	}
	if entries[0].SuccessCount != 2 || entries[0].FailureCount != 1 {
		t.Fatalf("got %+v", entries[0])
	}
}

func TestLookup_RanksBySuccessRateThenRecency(t *testing.T) {
	s := newTestStore(t)
	css := domain.Anchor{Strategy: domain.StrategyCSS, Value: "#submit"}
	aria := domain.Anchor{Strategy: domain.StrategyARIA, Value: "Submit"}

	// css: 1/2 success rate
	s.Record(context.Background(), "example.com", "submit button", css, true)
	s.Record(context.Background(), "example.com", "submit button", css, false)

	// aria: 2/2 success rate, should rank first
	s.Record(context.Background(), "example.com", "submit button", aria, true)
	s.Record(context.Background(), "example.com", "submit button", aria, true)

	entries, err := s.Lookup(context.Background(), "example.com", "submit button")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].AnchorStrategy != domain.StrategyARIA {
		t.Fatalf("got top entry %+v, want the higher success-rate strategy first", entries[0])
	}
}

func TestLookup_UnknownDomain_ReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.Lookup(context.Background(), "nowhere.example", "anything")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}
}

func TestLeaderboard_AggregatesAcrossRecipes(t *testing.T) {
	s := newTestStore(t)
	css := domain.Anchor{Strategy: domain.StrategyCSS, Value: "#a"}
	aria := domain.Anchor{Strategy: domain.StrategyARIA, Value: "B"}

	s.Record(context.Background(), "example.com", "a", css, true)
	s.Record(context.Background(), "example.com", "b", aria, false)

	board, err := s.Leaderboard(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board.RecipeCount != 2 {
		t.Fatalf("got %d recipes, want 2", board.RecipeCount)
	}
	if board.TotalUses != 2 {
		t.Fatalf("got %d total uses, want 2", board.TotalUses)
	}
	if board.AvgSuccess != 0.5 {
		t.Fatalf("got avg success %v, want 0.5", board.AvgSuccess)
	}
}

func TestLeaderboard_NoRecipes_ZeroValue(t *testing.T) {
	s := newTestStore(t)
	board, err := s.Leaderboard(context.Background(), "nowhere.example")
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board.RecipeCount != 0 || board.AvgSuccess != 0 {
		t.Fatalf("got %+v", board)
	}
}
