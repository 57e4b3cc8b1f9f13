// Package recipes is the anchor-recipe learning store: it remembers
// which anchor strategy/selector worked for a given domain and selector
// hint, so a future resolve can be seeded with what has worked before
// instead of starting cold.
//
// A RecipeEntry tracks plain success_count/failure_count counters per
// (domain, selector_hint, anchor_strategy), and Leaderboard aggregates
// them by domain. embedding_ref is stored and returned but never
// interpreted — a vector-embedding backend is out of scope here.
package recipes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RcityLucas/SoulBrowser-sub002/idgen"
	"github.com/RcityLucas/SoulBrowser-sub002/internal/domain"
)

var newRecipeID = idgen.Prefixed("rcp_", idgen.Default)

// RecipeEntry is one learned domain/selector-hint → anchor-strategy
// association plus its track record.
type RecipeEntry struct {
	ID             string
	Domain         string
	SelectorHint   string
	AnchorStrategy domain.Strategy
	AnchorValue    string
	SuccessCount   int
	FailureCount   int
	EmbeddingRef   string
	LastUsedAt     time.Time
	CreatedAt      time.Time
}

// successRate is the count-derived rate used to rank lookups; a recipe
// with no recorded outcomes rates 0, the same as one with only failures,
// and ties are broken by LastUsedAt.
func (r RecipeEntry) successRate() float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}

// LeaderboardEntry aggregates a domain's recipes.
type LeaderboardEntry struct {
	Domain       string
	RecipeCount  int
	AvgSuccess   float64
	TotalUses    int
	LastUsedAt   time.Time
}

// Store is the SQLite-backed recipe store.
type Store struct {
	db *sql.DB
}

// Open applies the schema (if absent) and returns a Store backed by db.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("recipes: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record registers one outcome for resolving selectorHint on domain using
// anchor. A prior recipe for the same (domain, selector_hint,
// anchor.Strategy) has its counters bumped and last_used_at refreshed;
// otherwise a new recipe is created.
func (s *Store) Record(ctx context.Context, dom, selectorHint string, anchor domain.Anchor, outcome bool) error {
	now := time.Now()

	existing, err := s.find(ctx, dom, selectorHint, anchor.Strategy)
	if err != nil {
		return err
	}

	if existing == nil {
		id := newRecipeID()
		success, failure := 0, 0
		if outcome {
			success = 1
		} else {
			failure = 1
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO recipes (id, domain, selector_hint, anchor_strategy, anchor_value,
				success_count, failure_count, embedding_ref, last_used_at, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			id, dom, selectorHint, string(anchor.Strategy), anchor.Value,
			success, failure, "", now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("recipes: insert: %w", err)
		}
		return nil
	}

	column := "failure_count"
	if outcome {
		column = "success_count"
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE recipes SET %s = %s + 1, anchor_value = ?, last_used_at = ?
		WHERE id = ?`, column, column),
		anchor.Value, now.UnixMilli(), existing.ID,
	)
	if err != nil {
		return fmt.Errorf("recipes: update: %w", err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, dom, selectorHint string, strategy domain.Strategy) (*RecipeEntry, error) {
	e := &RecipeEntry{}
	var lastUsed, created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, domain, selector_hint, anchor_strategy, anchor_value,
		       success_count, failure_count, embedding_ref, last_used_at, created_at
		FROM recipes WHERE domain = ? AND selector_hint = ? AND anchor_strategy = ?`,
		dom, selectorHint, string(strategy)).Scan(
		&e.ID, &e.Domain, &e.SelectorHint, &e.AnchorStrategy, &e.AnchorValue,
		&e.SuccessCount, &e.FailureCount, &e.EmbeddingRef, &lastUsed, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recipes: find: %w", err)
	}
	e.LastUsedAt = time.UnixMilli(lastUsed)
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}

// Lookup returns the recipes recorded for (domain, selectorHint), ranked
// by success rate then recency.
func (s *Store) Lookup(ctx context.Context, dom, selectorHint string) ([]RecipeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, selector_hint, anchor_strategy, anchor_value,
		       success_count, failure_count, embedding_ref, last_used_at, created_at
		FROM recipes WHERE domain = ? AND selector_hint = ?`, dom, selectorHint)
	if err != nil {
		return nil, fmt.Errorf("recipes: lookup: %w", err)
	}
	defer rows.Close()

	var entries []RecipeEntry
	for rows.Next() {
		var e RecipeEntry
		var lastUsed, created int64
		if err := rows.Scan(
			&e.ID, &e.Domain, &e.SelectorHint, &e.AnchorStrategy, &e.AnchorValue,
			&e.SuccessCount, &e.FailureCount, &e.EmbeddingRef, &lastUsed, &created,
		); err != nil {
			return nil, fmt.Errorf("recipes: scan: %w", err)
		}
		e.LastUsedAt = time.UnixMilli(lastUsed)
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortBySuccessThenRecency(entries)
	return entries, nil
}

func sortBySuccessThenRecency(entries []RecipeEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			a, b := entries[j-1], entries[j]
			if a.successRate() > b.successRate() {
				break
			}
			if a.successRate() == b.successRate() && !a.LastUsedAt.Before(b.LastUsedAt) {
				break
			}
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// Leaderboard aggregates recipe stats for dom.
func (s *Store) Leaderboard(ctx context.Context, dom string) (LeaderboardEntry, error) {
	var e LeaderboardEntry
	e.Domain = dom
	var lastUsed sql.NullInt64
	var totalSuccess, totalFailure sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(success_count), SUM(failure_count), MAX(last_used_at)
		FROM recipes WHERE domain = ?`, dom).Scan(&e.RecipeCount, &totalSuccess, &totalFailure, &lastUsed)
	if err != nil {
		return LeaderboardEntry{}, fmt.Errorf("recipes: leaderboard: %w", err)
	}

	total := totalSuccess.Int64 + totalFailure.Int64
	if total > 0 {
		e.AvgSuccess = float64(totalSuccess.Int64) / float64(total)
	}
	e.TotalUses = int(total)
	if lastUsed.Valid {
		e.LastUsedAt = time.UnixMilli(lastUsed.Int64)
	}
	return e, nil
}
