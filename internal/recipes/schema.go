package recipes

// schema is the DDL for the anchor-recipe learning store. Adapted wholesale
// from domregistry/internal/store's profile table: success_count/
// failure_count replace the extraction profile row's EMA success_rate,
// domain+selector_hint+anchor_strategy is the natural key in place of
// domregistry's url_pattern.
const schema = `
CREATE TABLE IF NOT EXISTS recipes (
    id              TEXT PRIMARY KEY,
    domain          TEXT NOT NULL,
    selector_hint   TEXT NOT NULL,
    anchor_strategy TEXT NOT NULL,
    anchor_value    TEXT NOT NULL DEFAULT '',
    success_count   INTEGER NOT NULL DEFAULT 0,
    failure_count   INTEGER NOT NULL DEFAULT 0,
    embedding_ref   TEXT NOT NULL DEFAULT '',
    last_used_at    INTEGER NOT NULL,
    created_at      INTEGER NOT NULL,
    UNIQUE(domain, selector_hint, anchor_strategy)
);
CREATE INDEX IF NOT EXISTS idx_recipes_domain ON recipes(domain);
CREATE INDEX IF NOT EXISTS idx_recipes_lookup ON recipes(domain, selector_hint);
`
