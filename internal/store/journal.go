// Package store persists an audit trail of search runs in SQLite.
//
// The journal is write-only from the point of view of a search: it records
// what each run did and how it ended, and is never read back to resume one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"recongo/internal/search"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Journal provides persistence for search runs and their steps.
// Thread-safe; a single Journal may record several runs.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	logger *zap.Logger
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Status      string    `json:"status"`
	Config      string    `json:"config"`
	Sources     []string  `json:"sources"`
	Verdict     string    `json:"verdict,omitempty"`
	WitnessStep int       `json:"witness_step"`
	Model       string    `json:"model,omitempty"`
	Steps       int       `json:"steps"`
	Solves      int       `json:"solves"`
	Skips       int       `json:"skips"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// StepRecord is one row of the steps table.
type StepRecord struct {
	RunID      string    `json:"run_id"`
	Step       int       `json:"step"`
	Action     string    `json:"action"` // solved, skipped, failed
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// one writer at a time keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, dbPath: path, logger: logger}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	logger.Debug("journal opened", zap.String("path", path))
	return j, nil
}

// ensureSchema creates the journal tables if they don't exist.
func (j *Journal) ensureSchema() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		status TEXT NOT NULL,
		config TEXT NOT NULL,
		sources TEXT NOT NULL,
		verdict TEXT,
		witness_step INTEGER NOT NULL DEFAULT -1,
		model TEXT,
		steps INTEGER NOT NULL DEFAULT 0,
		solves INTEGER NOT NULL DEFAULT 0,
		skips INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL REFERENCES runs(id),
		step INTEGER NOT NULL,
		action TEXT NOT NULL,
		outcome TEXT,
		detail TEXT,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id, step);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	return runMigrations(j.db, j.logger)
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun records the start of a run.
func (j *Journal) BeginRun(ctx context.Context, runID, config string, sources []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	encoded, _ := json.Marshal(sources)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, config, sources)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UnixMilli(), StatusRunning, config, string(encoded))
	if err != nil {
		j.logger.Error("failed to record run start", zap.String("run_id", runID), zap.Error(err))
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun stores the final report of a run.
func (j *Journal) FinishRun(ctx context.Context, report search.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := StatusFinished
	var errMsg string
	if report.Err != nil {
		status = StatusFailed
		errMsg = report.Err.Error()
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, verdict = ?, witness_step = ?, model = ?,
		    steps = ?, solves = ?, skips = ?, error_kind = ?, error = ?,
		    last_outcome = ?, duration_ms = ?
		WHERE id = ?`,
		time.Now().UnixMilli(), status, report.Verdict.String(), report.WitnessStep, report.Model,
		report.Steps, report.Solves, report.Skips, string(report.ErrorKind), errMsg,
		report.LastOutcome, report.Duration.Milliseconds(),
		report.RunID)
	if err != nil {
		j.logger.Error("failed to record run finish", zap.String("run_id", report.RunID), zap.Error(err))
		return fmt.Errorf("record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record run finish: unknown run %s", report.RunID)
	}
	return nil
}

func (j *Journal) recordStep(runID string, step int, action, outcome, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO steps (run_id, step, action, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, step, action, outcome, detail, time.Now().UnixMilli())
	return err
}

// ListRuns returns the most recent runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, config, sources, verdict,
		       witness_step, model, steps, solves, skips, error_kind, error,
		       last_outcome, duration_ms
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                                RunRecord
			started                          int64
			finished                         sql.NullInt64
			sources                          string
			verdict, model, errKind, errText sql.NullString
			lastOutcome                      sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Config, &sources, &verdict,
			&r.WitnessStep, &model, &r.Steps, &r.Solves, &r.Skips, &errKind, &errText,
			&lastOutcome, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of run %s: %w", r.ID, err)
		}
		r.Verdict = verdict.String
		r.Model = model.String
		r.ErrorKind = errKind.String
		r.Error = errText.String
		r.LastOutcome = lastOutcome.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the recorded steps of a run in order.
func (j *Journal) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, step, action, outcome, detail, recorded_at
		FROM steps
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var (
			s               StepRecord
			outcome, detail sql.NullString
			recorded        int64
		)
		if err := rows.Scan(&s.RunID, &s.Step, &s.Action, &outcome, &detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.Outcome = outcome.String
		s.Detail = detail.String
		s.RecordedAt = time.UnixMilli(recorded)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Recorder returns a search.Observer that journals the steps of runID.
func (j *Journal) Recorder(runID string) *Recorder {
	return &Recorder{journal: j, runID: runID}
}

// Recorder journals the progress of one run. Write failures are logged and
// kept; they never interrupt the search.
type Recorder struct {
	journal *Journal
	runID   string

	mu  sync.Mutex
	err error
}

var _ search.Observer = (*Recorder)(nil)

func (r *Recorder) record(step int, action, outcome, detail string) {
	if err := r.journal.recordStep(r.runID, step, action, outcome, detail); err != nil {
		r.journal.logger.Warn("failed to journal step",
			zap.String("run_id", r.runID), zap.Int("step", step), zap.Error(err))
		r.mu.Lock()
		r.err = errors.Join(r.err, err)
		r.mu.Unlock()
	}
}

// StepStarted is not journaled; every started step ends solved, skipped or failed.
func (r *Recorder) StepStarted(int) {}

func (r *Recorder) StepSkipped(step int) {
	r.record(step, "skipped", "", "")
}

func (r *Recorder) StepSolved(step int, res search.Result) {
	r.record(step, "solved", res.Outcome.String(), res.Model)
}

func (r *Recorder) Failed(step int, err error) {
	r.record(step, "failed", "", err.Error())
}

// Err returns the accumulated write errors.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
