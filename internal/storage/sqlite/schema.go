package sqlite

import "time"

// lockRetryInterval is how often Open retries the advisory file lock
// while another process holds it; Open keeps retrying until its context
// is done.
const lockRetryInterval = 2 * time.Second

// schema is applied on every Open(); every statement is idempotent so
// repeated opens against an existing database are safe.
const schema = `
CREATE TABLE IF NOT EXISTS records (
    id            TEXT PRIMARY KEY,
    data          TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'synced',
    last_modified INTEGER
);

CREATE INDEX IF NOT EXISTS idx_records_status        ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_last_modified ON records(last_modified);

CREATE TABLE IF NOT EXISTS sync_meta (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// metaKeyLastModified / metaKeyCollection are the two sync_meta rows
// every adapter maintains, per §6.4.
const (
	metaKeyLastModified = "lastModified"
	metaKeyCollection   = "collection"
)
