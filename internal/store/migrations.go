package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connection_settings (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL DEFAULT 993,
	use_tls    INTEGER NOT NULL DEFAULT 1,
	username   TEXT NOT NULL,
	password   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_connection_settings_user
	ON connection_settings(user_id, created_at);

CREATE TABLE IF NOT EXISTS folders (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	path            TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'custom',
	special_use     TEXT NOT NULL DEFAULT '',
	flags           TEXT NOT NULL DEFAULT '[]',
	total_messages  INTEGER NOT NULL DEFAULT 0,
	unread_messages INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, path)
);

CREATE INDEX IF NOT EXISTS idx_folders_user ON folders(user_id);
CREATE INDEX IF NOT EXISTS idx_folders_type ON folders(user_id, type);

CREATE TABLE IF NOT EXISTS sync_status (
	user_id          TEXT PRIMARY KEY,
	last_sync_at     DATETIME,
	sync_in_progress INTEGER NOT NULL DEFAULT 0 CHECK(sync_in_progress IN (0, 1)),
	last_error       TEXT NOT NULL DEFAULT '',
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS api_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
