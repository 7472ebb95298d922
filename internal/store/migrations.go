package store

// Schema migrations, applied in order. Version numbers are recorded in
// schema_version so upgrades only run what is outstanding.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	user_email TEXT NOT NULL UNIQUE,
	auth_method TEXT NOT NULL,
	encrypted_secret TEXT NOT NULL,
	issued_at TIMESTAMP NOT NULL,
	expiry TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	folder TEXT NOT NULL DEFAULT 'inbox',
	from_addr TEXT NOT NULL DEFAULT '',
	to_addrs TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	date TIMESTAMP NOT NULL,
	unread INTEGER NOT NULL DEFAULT 0,
	fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date DESC);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	summary TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMP NOT NULL,
	end_time TIMESTAMP NOT NULL,
	all_day INTEGER NOT NULL DEFAULT 0,
	fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
