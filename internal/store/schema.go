package store

// schema defines the object store, versioned-object index, channel/entry
// log, and access-grant tables. The versioned-object index follows the
// same temporal pattern the notes table used: a composite key per revision
// plus a partial index over the current row, so "get current" stays O(1)
// regardless of how long an entity's history grows.
const schema = `
-- C3: flat content-addressed blob store.
CREATE TABLE IF NOT EXISTS blobs (
    content_hash TEXT PRIMARY KEY,
    object_type  TEXT NOT NULL,
    bytes        BLOB NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_type ON blobs(object_type);

-- C4: per-IdHash version chain. seq is 1-based and monotonically
-- increasing per id_hash; is_current marks the single latest row.
CREATE TABLE IF NOT EXISTS versions (
    id_hash      TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    recipe_name  TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    is_current   INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id_hash, seq)
);
CREATE INDEX IF NOT EXISTS idx_versions_current ON versions(id_hash) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_versions_type ON versions(recipe_name) WHERE is_current = 1;

-- C5: per-channel hash-chained entry log.
CREATE TABLE IF NOT EXISTS channels (
    topic_id     TEXT NOT NULL,
    owner_id     TEXT NOT NULL DEFAULT '',
    head_entry   TEXT NOT NULL DEFAULT '',
    entry_count  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (topic_id, owner_id)
);

CREATE TABLE IF NOT EXISTS entries (
    entry_hash     TEXT PRIMARY KEY,
    topic_id       TEXT NOT NULL,
    owner_id       TEXT NOT NULL DEFAULT '',
    previous_entry TEXT NOT NULL DEFAULT '',
    data_hash      TEXT NOT NULL,
    creation_time  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_channel ON entries(topic_id, owner_id);
CREATE INDEX IF NOT EXISTS idx_entries_topic_time ON entries(topic_id, creation_time);

-- C8: access grants, one row per (object_id_hash, mode).
CREATE TABLE IF NOT EXISTS grants (
    object_id_hash TEXT NOT NULL,
    mode           TEXT NOT NULL,
    persons        TEXT NOT NULL DEFAULT '[]',
    groups_        TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (object_id_hash, mode)
);

-- corruption quarantine (§7): rows moved here are never auto-discarded.
CREATE TABLE IF NOT EXISTS quarantine (
    content_hash TEXT PRIMARY KEY,
    reason       TEXT NOT NULL,
    quarantined_at INTEGER NOT NULL
);
`
