package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"time"

	_ "modernc.org/sqlite"

	"github.com/y0f/apiprobe/internal/check"
	"github.com/y0f/apiprobe/internal/report"
)

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// NewSQLiteStore opens the database with separate read and write pools.
func NewSQLiteStore(path string, maxReadConns int) (*SQLiteStore, error) {
	if maxReadConns <= 0 {
		maxReadConns = runtime.NumCPU()
	}

	// Write connection: single connection, WAL mode
	writeDB, err := sql.Open("sqlite", "file:"+path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	// Run migrations before the read pool opens so it sees the schema.
	if err := runMigrations(writeDB); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	readDB, err := sql.Open("sqlite", "file:"+path+"?"+pragmas+"&_pragma=query_only(1)")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	readDB.SetMaxOpenConns(maxReadConns)
	readDB.SetMaxIdleConns(maxReadConns)

	return &SQLiteStore{readDB: readDB, writeDB: writeDB}, nil
}

func runMigrations(db *sql.DB) error {
	var hasSchemaTbl int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&hasSchemaTbl); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if hasSchemaTbl == 0 {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("apply base schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if currentVersion > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than this build (v%d)", currentVersion, schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration v%d begin: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d version update: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d commit: %w", m.version, err)
		}
		currentVersion = m.version
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.readDB.Close()
	s.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.writeDB.Close()
}

// timeFormat is the format used for storing timestamps in SQLite. It sorts
// lexically.
const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) SaveRun(ctx context.Context, r *report.RunReport) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	pass, fail, inconclusive, skipped, errored := summaryCounts(r.Summary)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, target, started_at, finished_at, overall, pass, fail, inconclusive, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Target, formatTime(r.StartedAt), formatTime(r.FinishedAt), string(r.Overall),
		pass, fail, inconclusive, skipped, errored)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_checks (run_id, position, name, verdict, detail, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for i, res := range r.Results {
		if _, err := stmt.ExecContext(ctx, r.ID, i, res.Name, string(res.Verdict), res.Detail, res.Latency.Milliseconds()); err != nil {
			return fmt.Errorf("insert check %q: %w", res.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, target, started_at, finished_at, overall, pass, fail, inconclusive, skipped, error`

func scanRunSummary(row scanner) (*RunSummary, error) {
	var rs RunSummary
	var startedAt, finishedAt, overall string
	err := row.Scan(&rs.ID, &rs.Target, &startedAt, &finishedAt, &overall,
		&rs.Pass, &rs.Fail, &rs.Inconc, &rs.Skipped, &rs.Errored)
	if err != nil {
		return nil, err
	}
	rs.StartedAt = parseTime(startedAt)
	rs.FinishedAt = parseTime(finishedAt)
	rs.Overall = report.Overall(overall)
	rs.Checks = rs.Pass + rs.Fail + rs.Inconc + rs.Skipped + rs.Errored
	return &rs, nil
}

var errAmbiguous = errors.New("ambiguous run id prefix")

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*report.RunReport, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY (id = ?) DESC LIMIT 2`,
		id, stripWildcards(id)+"%", id)
	if err != nil {
		return nil, err
	}
	var found []*RunSummary
	for rows.Next() {
		rs, err := scanRunSummary(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, sql.ErrNoRows
	case len(found) > 1 && found[0].ID != id:
		return nil, fmt.Errorf("%w: %s", errAmbiguous, id)
	}
	return s.loadRun(ctx, found[0])
}

func (s *SQLiteStore) LatestRun(ctx context.Context, target, exclude string) (*report.RunReport, error) {
	rs, err := scanRunSummary(s.readDB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE target = ? AND id != ? ORDER BY started_at DESC LIMIT 1`,
		target, exclude))
	if err != nil {
		return nil, err
	}
	return s.loadRun(ctx, rs)
}

func (s *SQLiteStore) loadRun(ctx context.Context, rs *RunSummary) (*report.RunReport, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT name, verdict, detail, latency_ms FROM run_checks WHERE run_id = ? ORDER BY position`, rs.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := &report.RunReport{
		ID:         rs.ID,
		Target:     rs.Target,
		StartedAt:  rs.StartedAt,
		FinishedAt: rs.FinishedAt,
		Overall:    rs.Overall,
		Summary:    report.Summary{},
	}
	for _, v := range check.Verdicts {
		r.Summary[v] = 0
	}
	for rows.Next() {
		var res report.Result
		var verdict string
		var latencyMs int64
		if err := rows.Scan(&res.Name, &verdict, &res.Detail, &latencyMs); err != nil {
			return nil, err
		}
		res.Verdict = check.Verdict(verdict)
		res.Latency = time.Duration(latencyMs) * time.Millisecond
		r.Results = append(r.Results, res)
		r.Summary[res.Verdict]++
	}
	return r, rows.Err()
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunSummary
	for rows.Next() {
		rs, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := formatTime(before)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_checks WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge checks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func stripWildcards(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' {
			continue
		}
		r = append(r, c)
	}
	return string(r)
}
