package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fugebench/fugebench/internal/result"
)

// ErrRunNotFound is returned when no recorded run matches an ID.
var ErrRunNotFound = errors.New("run not found")

// Store keeps finished runs in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Marker     string
	Artifacts  int
	TrainError string
}

// Open opens or creates the history database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve history db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	store := &Store{
		DBPath: absPath,
		db:     db,
	}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	executor TEXT NOT NULL,
	dataset TEXT NOT NULL,
	script TEXT NOT NULL,
	marker TEXT NOT NULL,
	train_error TEXT,
	cleanup_json TEXT
);

CREATE TABLE IF NOT EXISTS evaluations (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	artifact TEXT NOT NULL,
	status TEXT NOT NULL,
	raw TEXT,
	value REAL,
	numeric INTEGER NOT NULL,
	exit_code INTEGER NOT NULL,
	timed_out INTEGER NOT NULL,
	error TEXT,
	duration_s REAL NOT NULL,
	metrics_json TEXT,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record stores a run and its evaluations in one transaction.
func (s *Store) Record(run *result.Run) error {
	cleanupJSON, err := json.Marshal(run.Cleanup)
	if err != nil {
		return fmt.Errorf("marshal cleanup: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs (id, started_at, finished_at, executor, dataset, script, marker, train_error, cleanup_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Executor,
		run.Dataset, run.Script, run.Marker, run.TrainError, string(cleanupJSON))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, ev := range run.Results {
		metricsJSON, err := json.Marshal(ev.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO evaluations (run_id, seq, artifact, status, raw, value, numeric, exit_code, timed_out, error, duration_s, metrics_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, ev.Artifact, ev.Status, ev.Raw, ev.Value, boolInt(ev.Numeric),
			ev.ExitCode, boolInt(ev.TimedOut), ev.Error, ev.DurationS, string(metricsJSON))
		if err != nil {
			return fmt.Errorf("insert evaluation %s: %w", ev.Artifact, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// List returns recorded runs, newest first.
func (s *Store) List(limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT r.id, r.started_at, r.finished_at, r.marker, r.train_error,
		(SELECT COUNT(*) FROM evaluations e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		var started, finished, trainErr sql.NullString
		if err := rows.Scan(&info.ID, &started, &finished, &info.Marker, &trainErr, &info.Artifacts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		info.StartedAt = parseTime(started)
		info.FinishedAt = parseTime(finished)
		info.TrainError = trainErr.String
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Latest returns the ID of the most recently started run.
func (s *Store) Latest() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// Load returns a recorded run. id may be a unique prefix.
func (s *Store) Load(id string) (*result.Run, error) {
	rows, err := s.db.Query(`SELECT id, started_at, finished_at, executor, dataset, script, marker, train_error, cleanup_json
		FROM runs WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	var runs []*result.Run
	for rows.Next() {
		run := &result.Run{}
		var started, finished, trainErr, cleanupJSON sql.NullString
		if err := rows.Scan(&run.ID, &started, &finished, &run.Executor, &run.Dataset, &run.Script, &run.Marker, &trainErr, &cleanupJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.TrainError = trainErr.String
		if cleanupJSON.Valid && cleanupJSON.String != "" {
			json.Unmarshal([]byte(cleanupJSON.String), &run.Cleanup)
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 2:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
	run := runs[0]

	evRows, err := s.db.Query(`SELECT artifact, status, raw, value, numeric, exit_code, timed_out, error, duration_s, metrics_json
		FROM evaluations WHERE run_id = ? ORDER BY seq`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load evaluations: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		ev := &result.Evaluation{Marker: run.Marker}
		var raw, errText, metricsJSON sql.NullString
		var numeric, timedOut int
		if err := evRows.Scan(&ev.Artifact, &ev.Status, &raw, &ev.Value, &numeric, &ev.ExitCode, &timedOut, &errText, &ev.DurationS, &metricsJSON); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		ev.Raw = raw.String
		ev.Error = errText.String
		ev.Numeric = numeric != 0
		ev.TimedOut = timedOut != 0
		if metricsJSON.Valid && metricsJSON.String != "" && metricsJSON.String != "null" {
			json.Unmarshal([]byte(metricsJSON.String), &ev.Metrics)
		}
		run.Results = append(run.Results, ev)
	}
	return run, evRows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
