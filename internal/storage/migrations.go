package storage

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT    PRIMARY KEY,
	target       TEXT    NOT NULL,
	started_at   TEXT    NOT NULL,
	finished_at  TEXT    NOT NULL,
	overall      TEXT    NOT NULL,
	pass         INTEGER NOT NULL DEFAULT 0,
	fail         INTEGER NOT NULL DEFAULT 0,
	inconclusive INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	error        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_checks (
	run_id     TEXT    NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	verdict    TEXT    NOT NULL,
	detail     TEXT    NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_target_started ON runs(target, started_at);
`

type migration struct {
	version int
	sql     string
}

// migrations upgrade databases created by earlier releases. The base schema
// above already includes every migration.
var migrations = []migration{
	{
		version: 2,
		sql:     `CREATE INDEX IF NOT EXISTS idx_runs_target_started ON runs(target, started_at);`,
	},
}
