package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	cache_key  TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	mailbox         TEXT NOT NULL,
	id              TEXT NOT NULL,
	folder          TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	from_address    TEXT NOT NULL DEFAULT '',
	from_name       TEXT NOT NULL DEFAULT '',
	body_preview    TEXT NOT NULL DEFAULT '',
	received_at     TEXT NOT NULL,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	indexed_at      TEXT NOT NULL,
	PRIMARY KEY (mailbox, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(mailbox, folder, received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS attachments (
	mailbox      TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (mailbox, message_id) REFERENCES messages(mailbox, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(mailbox, message_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
