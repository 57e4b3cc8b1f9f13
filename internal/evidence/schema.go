package evidence

// schema is the DDL for the bindings mirror table. The JSON index under
// root/index/action/<action-id>.json remains the source of truth; this
// table exists purely so refs_by_action and the sweep can use indexed
// queries instead of re-reading every JSON file on disk.
const schema = `
CREATE TABLE IF NOT EXISTS bindings (
    action_id   TEXT PRIMARY KEY,
    page        TEXT NOT NULL,
    frame       TEXT NOT NULL DEFAULT '',
    struct_id   TEXT NOT NULL DEFAULT '',
    pix_ids     TEXT NOT NULL DEFAULT '[]',
    ttl_at      INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bindings_ttl ON bindings(ttl_at);
`
