package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"testmend/internal/report"
	"testmend/internal/runner"
)

// Run kinds stored in the history database.
const (
	RunKindFix = "fix"
	RunKindGen = "gen"
)

// Run is one pipeline invocation. Headline is a short human summary shown
// by the history listing; the full report document rides along as JSON.
type Run struct {
	ID          string
	Kind        string
	ProjectRoot string
	StartedAt   time.Time
	FinishedAt  time.Time
	Iterations  int
	Headline    string
}

// FailureRow pairs a raw failure with its final classification.
type FailureRow struct {
	Failure        runner.TestFailure
	Classification string
}

// GapRow is one gap snapshot captured during a generation iteration.
type GapRow struct {
	Iteration      int
	File           string
	Symbol         string
	StartLine      int
	EndLine        int
	UncoveredLines int
}

// NewRunID mints the identifier for a pipeline run.
func NewRunID() string {
	return uuid.NewString()
}

// HistoryStore persists past runs, their failures, fix attempts and gap
// snapshots in a SQLite database.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates or opens the history database at path, creating
// parent directories as needed.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &HistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT,
			project_root TEXT,
			started_at TEXT,
			finished_at TEXT,
			iterations INTEGER,
			headline TEXT,
			report JSON
		);`,
		`CREATE TABLE IF NOT EXISTS failures (
			run_id TEXT,
			test_file TEXT,
			test_name TEXT,
			exception_kind TEXT,
			message TEXT,
			line_number INTEGER,
			classification TEXT,
			PRIMARY KEY (run_id, test_file, test_name)
		);`,
		`CREATE TABLE IF NOT EXISTS fixes (
			run_id TEXT,
			test_file TEXT,
			test_name TEXT,
			iteration INTEGER,
			classification TEXT,
			fix_attempted INTEGER,
			fix_successful INTEGER,
			reason TEXT,
			PRIMARY KEY (run_id, test_file, test_name, iteration)
		);`,
		`CREATE TABLE IF NOT EXISTS gap_snapshots (
			run_id TEXT,
			iteration INTEGER,
			file TEXT,
			symbol TEXT,
			start_line INTEGER,
			end_line INTEGER,
			uncovered_lines INTEGER,
			PRIMARY KEY (run_id, iteration, file, symbol, start_line)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_fixes_run ON fixes(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_gaps_run ON gap_snapshots(run_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveFixRun records a repair run, its unique failures and every fix
// attempt from the report's history, in one transaction.
func (s *HistoryStore) SaveFixRun(ctx context.Context, run Run, rep *report.IterationReport, failures []FailureRow) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, run, RunKindFix, doc); err != nil {
		return err
	}

	failStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO failures (run_id, test_file, test_name, exception_kind, message, line_number, classification)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, test_file, test_name) DO UPDATE SET
			exception_kind=excluded.exception_kind,
			message=excluded.message,
			line_number=excluded.line_number,
			classification=excluded.classification
	`)
	if err != nil {
		return err
	}
	defer failStmt.Close()

	for _, row := range failures {
		f := row.Failure
		if _, err := failStmt.Exec(run.ID, f.TestFile, f.TestName, f.ExceptionKind, f.Message, f.LineNumber, row.Classification); err != nil {
			return err
		}
	}

	fixStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixes (run_id, test_file, test_name, iteration, classification, fix_attempted, fix_successful, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, test_file, test_name, iteration) DO UPDATE SET
			classification=excluded.classification,
			fix_attempted=excluded.fix_attempted,
			fix_successful=excluded.fix_successful,
			reason=excluded.reason
	`)
	if err != nil {
		return err
	}
	defer fixStmt.Close()

	if rep != nil {
		for _, e := range rep.FixHistory {
			if _, err := fixStmt.Exec(run.ID, e.TestFile, e.TestName, e.Iteration, e.Classification, e.FixAttempted, e.FixSuccessful, e.Reason); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// SaveGenerationRun records a generation run and its gap snapshots.
func (s *HistoryStore) SaveGenerationRun(ctx context.Context, run Run, rep *report.GenerationReport, gaps []GapRow) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, run, RunKindGen, doc); err != nil {
		return err
	}

	gapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gap_snapshots (run_id, iteration, file, symbol, start_line, end_line, uncovered_lines)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, iteration, file, symbol, start_line) DO UPDATE SET
			end_line=excluded.end_line,
			uncovered_lines=excluded.uncovered_lines
	`)
	if err != nil {
		return err
	}
	defer gapStmt.Close()

	for _, g := range gaps {
		if _, err := gapStmt.Exec(run.ID, g.Iteration, g.File, g.Symbol, g.StartLine, g.EndLine, g.UncoveredLines); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run, kind string, doc []byte) error {
	if run.Kind == "" {
		run.Kind = kind
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, kind, project_root, started_at, finished_at, iterations, headline, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind,
			project_root=excluded.project_root,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at,
			iterations=excluded.iterations,
			headline=excluded.headline,
			report=excluded.report
	`, run.ID, run.Kind, run.ProjectRoot,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Iterations, run.Headline, doc)
	return err
}

// Runs lists stored runs, newest first.
func (s *HistoryStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, project_root, started_at, finished_at, iterations, headline
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Kind, &r.ProjectRoot, &started, &finished, &r.Iterations, &r.Headline); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FixesForRun lists a run's fix attempts in insertion order.
func (s *HistoryStore) FixesForRun(ctx context.Context, runID string) ([]report.FixEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_file, test_name, iteration, classification, fix_attempted, fix_successful, reason
		FROM fixes WHERE run_id = ? ORDER BY iteration, test_file, test_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []report.FixEntry
	for rows.Next() {
		var e report.FixEntry
		if err := rows.Scan(&e.TestFile, &e.TestName, &e.Iteration, &e.Classification, &e.FixAttempted, &e.FixSuccessful, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		fixes = append(fixes, e)
	}
	return fixes, rows.Err()
}

// GapsForRun lists a run's gap snapshots.
func (s *HistoryStore) GapsForRun(ctx context.Context, runID string) ([]GapRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, file, symbol, start_line, end_line, uncovered_lines
		FROM gap_snapshots WHERE run_id = ? ORDER BY iteration, file, start_line
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query gap snapshots: %w", err)
	}
	defer rows.Close()

	var gaps []GapRow
	for rows.Next() {
		var g GapRow
		if err := rows.Scan(&g.Iteration, &g.File, &g.Symbol, &g.StartLine, &g.EndLine, &g.UncoveredLines); err != nil {
			return nil, fmt.Errorf("failed to scan gap snapshot: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// Report loads the stored report document for one run.
func (s *HistoryStore) Report(ctx context.Context, runID string) (json.RawMessage, error) {
	row := s.db.QueryRowContext(ctx, "SELECT report FROM runs WHERE id = ?", runID)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
