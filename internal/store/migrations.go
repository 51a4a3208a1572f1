package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				owner_id    TEXT NOT NULL,
				model_id    TEXT NOT NULL,
				title       TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_owner ON sessions (owner_id, created_at);

			CREATE TABLE messages (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				id          TEXT NOT NULL UNIQUE,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role        TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL
			);

			CREATE INDEX idx_messages_session ON messages (session_id, timestamp, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create agent logs",
		SQL: `
			CREATE TABLE agent_logs (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id          TEXT NOT NULL UNIQUE,
				session_id       TEXT NOT NULL,
				action           TEXT NOT NULL,
				tool             TEXT NOT NULL DEFAULT '',
				content          TEXT NOT NULL,
				result           TEXT NOT NULL CHECK (result IN ('PENDING', 'SUCCESS', 'FAILED')),
				permission_flag  TEXT NOT NULL,
				timestamp        TEXT NOT NULL
			);

			CREATE INDEX idx_agent_logs_session ON agent_logs (session_id, id);
		`,
	},
	{
		Version: 3,
		Name:    "create agent metrics and tool permissions",
		SQL: `
			CREATE TABLE agent_metrics (
				task_id        TEXT PRIMARY KEY,
				agent_name     TEXT NOT NULL,
				duration_ms    INTEGER NOT NULL,
				tool_usage     TEXT NOT NULL DEFAULT '{}',
				token_count    INTEGER NOT NULL DEFAULT 0,
				status         TEXT NOT NULL CHECK (status IN ('SUCCESS', 'FAILED', 'TIMEOUT')),
				error_message  TEXT NOT NULL DEFAULT '',
				timestamp      TEXT NOT NULL
			);

			CREATE TABLE tool_permissions (
				tool_name   TEXT PRIMARY KEY,
				status      TEXT NOT NULL CHECK (status IN ('ALLOWED', 'BLOCKED', 'ASK')),
				updated_at  TEXT NOT NULL
			);
		`,
	},
	{
		Version: 4,
		Name:    "create plugins",
		SQL: `
			CREATE TABLE plugins (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL,
				version        TEXT NOT NULL DEFAULT '',
				description    TEXT NOT NULL DEFAULT '',
				endpoint       TEXT NOT NULL,
				enabled        INTEGER NOT NULL DEFAULT 1,
				registered_at  TEXT NOT NULL
			);
		`,
	},
}
