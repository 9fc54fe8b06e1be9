package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// Each database keeps its own schema_version counter. Migrations are
// additive and each version must be sequential starting from 1.

var mailboxInfoMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mailboxes (
	mailbox_id          TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	email               TEXT NOT NULL,
	aliases             TEXT NOT NULL DEFAULT '[]',
	quota_used          INTEGER NOT NULL DEFAULT 0,
	quota_max           INTEGER NOT NULL DEFAULT 0,
	permissions         TEXT NOT NULL DEFAULT '{}',
	unseen_count        INTEGER NOT NULL DEFAULT 0,
	spam_filter_enabled INTEGER NOT NULL DEFAULT 0 CHECK(spam_filter_enabled IN (0, 1)),
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (mailbox_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_mailboxes_user_id ON mailboxes(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE mailboxes ADD COLUMN sender_restrictions TEXT NOT NULL DEFAULT '{}';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

var contentMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	role                TEXT NOT NULL DEFAULT '',
	is_history_complete INTEGER NOT NULL DEFAULT 0 CHECK(is_history_complete IN (0, 1)),
	last_update         DATETIME,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS threads (
	folder_id  TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid        INTEGER NOT NULL,
	id         TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	from_addr  TEXT NOT NULL DEFAULT '',
	from_name  TEXT NOT NULL DEFAULT '',
	to_addrs   TEXT NOT NULL DEFAULT '[]',
	date       DATETIME NOT NULL,
	seen       INTEGER NOT NULL DEFAULT 0 CHECK(seen IN (0, 1)),
	fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (folder_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_threads_folder_date ON threads(folder_id, date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE threads ADD COLUMN flagged INTEGER NOT NULL DEFAULT 0 CHECK(flagged IN (0, 1));
ALTER TABLE folders ADD COLUMN unread_count INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_threads_folder_seen ON threads(folder_id, seen);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

var contactMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
	id        TEXT PRIMARY KEY,
	email     TEXT NOT NULL UNIQUE,
	name      TEXT NOT NULL DEFAULT '',
	frequency INTEGER NOT NULL DEFAULT 0,
	last_seen DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_frequency ON contacts(frequency);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
