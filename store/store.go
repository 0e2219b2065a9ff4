// Package store records training runs in a SQLite database: run metadata,
// per-epoch losses, evaluation metrics and feature importances.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sbl8/wearsense/importance"
	"github.com/sbl8/wearsense/train"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded training run.
type Run struct {
	ID         string
	CreatedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Config     string // JSON
	Checkpoint string
}

// Evaluation is one stored per-target metric row.
type Evaluation struct {
	Split string
	train.TargetMetrics
	Loss float64
}

// Store manages the run database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		config_json TEXT NOT NULL,
		checkpoint TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		epoch INTEGER NOT NULL,
		train_loss REAL NOT NULL,
		val_loss REAL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, epoch)
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		split TEXT NOT NULL,
		target TEXT NOT NULL,
		loss REAL,
		accuracy REAL,
		precision REAL,
		recall REAL,
		f1 REAL,
		auc REAL,
		positives INTEGER NOT NULL,
		support INTEGER NOT NULL,
		PRIMARY KEY (run_id, split, target)
	);

	CREATE TABLE IF NOT EXISTS importances (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		feature TEXT NOT NULL,
		members TEXT NOT NULL,
		position INTEGER NOT NULL,
		mean REAL,
		std REAL,
		auc_drop REAL,
		auc_drop_std REAL,
		PRIMARY KEY (run_id, feature)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new running run and returns it.
func (s *Store) CreateRun(ctx context.Context, configJSON string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Status:    StatusRunning,
		Config:    configJSON,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, status, config_json) VALUES (?, ?, ?, ?)`,
		run.ID, formatTime(run.CreatedAt), run.Status, run.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun sets the final status and checkpoint path of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, checkpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, checkpoint = ?, finished_at = ? WHERE id = ?`,
		status, checkpoint, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return requireRow(res, id)
}

// FailRun marks a run failed, even when ctx is already cancelled.
func (s *Store) FailRun(ctx context.Context, id string) error {
	return s.FinishRun(context.WithoutCancel(ctx), id, StatusFailed, "")
}

// RecordEpoch stores one epoch's losses. A repeated epoch overwrites the row.
func (s *Store) RecordEpoch(ctx context.Context, runID string, r train.EpochResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO epochs (run_id, epoch, train_loss, val_loss, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		runID, r.Epoch, r.TrainLoss, nullable(r.ValLoss), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record epoch %d: %w", r.Epoch, err)
	}
	return nil
}

// RecordEvaluation stores per-target and macro metrics for a split.
func (s *Store) RecordEvaluation(ctx context.Context, runID, split string, ev train.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows := append(append([]train.TargetMetrics(nil), ev.Targets...), ev.Macro)
	for _, m := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO evaluations
				(run_id, split, target, loss, accuracy, precision, recall, f1, auc, positives, support)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, split, m.Target, nullable(ev.Loss), nullable(m.Accuracy), nullable(m.Precision),
			nullable(m.Recall), nullable(m.F1), nullable(m.AUC), m.Positives, m.Support)
		if err != nil {
			return fmt.Errorf("failed to record evaluation for %s: %w", m.Target, err)
		}
	}
	return tx.Commit()
}

// RecordImportance replaces the stored importances of a run with rep.
func (s *Store) RecordImportance(ctx context.Context, runID string, rep *importance.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM importances WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear importances: %w", err)
	}
	for i, r := range rep.Results {
		members, err := json.Marshal(r.Features)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO importances (run_id, feature, members, position, mean, std, auc_drop, auc_drop_std)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Feature, string(members), i+1, nullable(r.Importance), nullable(r.Std),
			nullable(r.AUCDrop), nullable(r.AUCDropStd))
		if err != nil {
			return fmt.Errorf("failed to record importance for %s: %w", r.Feature, err)
		}
	}
	return tx.Commit()
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, finished_at, status, config_json, checkpoint FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, finished_at, status, config_json, checkpoint
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Epochs returns a run's epoch losses in order.
func (s *Store) Epochs(ctx context.Context, runID string) ([]train.EpochResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, train_loss, val_loss, duration_ms FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()

	var out []train.EpochResult
	for rows.Next() {
		var (
			r   train.EpochResult
			val sql.NullFloat64
			ms  int64
		)
		if err := rows.Scan(&r.Epoch, &r.TrainLoss, &val, &ms); err != nil {
			return nil, err
		}
		r.ValLoss = fromNull(val)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Evaluations returns the stored metrics of a run, macro rows included.
func (s *Store) Evaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT split, target, loss, accuracy, precision, recall, f1, auc, positives, support
		FROM evaluations WHERE run_id = ? ORDER BY split, target`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var (
			e                        Evaluation
			loss, acc, prec, rec, f1 sql.NullFloat64
			auc                      sql.NullFloat64
		)
		if err := rows.Scan(&e.Split, &e.Target, &loss, &acc, &prec, &rec, &f1, &auc, &e.Positives, &e.Support); err != nil {
			return nil, err
		}
		e.Loss = fromNull(loss)
		e.Accuracy, e.Precision, e.Recall = fromNull(acc), fromNull(prec), fromNull(rec)
		e.F1, e.AUC = fromNull(f1), fromNull(auc)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Importances returns a run's importances in rank order.
func (s *Store) Importances(ctx context.Context, runID string) ([]importance.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT feature, members, mean, std, auc_drop, auc_drop_std
		FROM importances WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query importances: %w", err)
	}
	defer rows.Close()

	var out []importance.Result
	for rows.Next() {
		var (
			r                    importance.Result
			members              string
			mean, std, drop, dsd sql.NullFloat64
		)
		if err := rows.Scan(&r.Feature, &members, &mean, &std, &drop, &dsd); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &r.Features); err != nil {
			return nil, fmt.Errorf("bad members for %s: %w", r.Feature, err)
		}
		r.Importance, r.Std = fromNull(mean), fromNull(std)
		r.AUCDrop, r.AUCDropStd = fromNull(drop), fromNull(dsd)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run      Run
		created  string
		finished sql.NullString
	)
	if err := sc.Scan(&run.ID, &created, &finished, &run.Status, &run.Config, &run.Checkpoint); err != nil {
		return nil, err
	}
	var err error
	if run.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("run %s: bad created_at: %w", run.ID, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return nil, fmt.Errorf("run %s: bad finished_at: %w", run.ID, err)
		}
	}
	return &run, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullable maps NaN, which SQLite cannot store, to NULL.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
