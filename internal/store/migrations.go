package store

// migration is one schema step. The runner records its version.
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	date        DATETIME NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS seen_messages (
	message_id TEXT PRIMARY KEY,
	seen_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_message_id
	ON notifications(message_id);
`,
	},
}
