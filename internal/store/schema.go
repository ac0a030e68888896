package store

// Schema is the DDL of the record log. seq preserves insertion order, which
// is the replay order of a context.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    related_id  TEXT NOT NULL,
    type        TEXT NOT NULL,
    time        TEXT NOT NULL,
    raw         TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_records_related ON records(related_id, seq);
`
