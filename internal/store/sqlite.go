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

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/defsim/internal/experiment"
)

// ErrNotFound is returned for an experiment id the database does not hold.
var ErrNotFound = errors.New("experiment not found")

// Experiment describes one stored experiment.
type Experiment struct {
	ID          string         `json:"id"`
	Seed        int64          `json:"seed"`
	Repetitions int            `json:"repetitions"`
	Space       map[string]any `json:"space,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Rows        int            `json:"rows"`
	Failures    int            `json:"failures"`
}

// Store is a SQLite results database.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveExperiment records or replaces experiment metadata. Stored rows are
// kept.
func (s *Store) SaveExperiment(ctx context.Context, exp Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	space, err := json.Marshal(exp.Space)
	if err != nil {
		return fmt.Errorf("failed to marshal space: %w", err)
	}
	created := exp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiments (id, seed, repetitions, space, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seed = excluded.seed,
			repetitions = excluded.repetitions,
			space = excluded.space`,
		exp.ID, exp.Seed, exp.Repetitions, string(space), created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save experiment %s: %w", exp.ID, err)
	}
	return nil
}

// SaveResult stores the rows and failures of res under experimentID in
// one transaction. The experiment is created if it does not exist yet.
// Saving the same rows again replaces them, so a batch collected twice
// does not duplicate anything.
func (s *Store) SaveResult(ctx context.Context, experimentID string, res *experiment.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO experiments (id, created_at) VALUES (?, ?)`,
		experimentID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to create experiment %s: %w", experimentID, err)
	}

	rowStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO result_rows (
			experiment_id, parameter_set_id, repetition, seed, tick, ticks,
			converged, exhausted, successful_influence, params, measures
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer rowStmt.Close()

	for _, row := range res.Rows {
		params, err := json.Marshal(row.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		measures, err := json.Marshal(row.Measures)
		if err != nil {
			return fmt.Errorf("failed to marshal measures: %w", err)
		}
		if _, err := rowStmt.ExecContext(ctx,
			experimentID, row.ParameterSetID, row.Repetition, row.Seed, row.Tick, row.Ticks,
			row.Converged, row.Exhausted, row.SuccessfulInfluence, string(params), string(measures)); err != nil {
			return fmt.Errorf("failed to insert row %s/%d@%d: %w", row.ParameterSetID, row.Repetition, row.Tick, err)
		}
	}

	for _, f := range res.Failures {
		values, err := json.Marshal(f.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal failure values: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO failures (
				experiment_id, parameter_set_id, repetition, seed, stage, error, params
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			experimentID, f.ParameterSetID, f.Repetition, f.Seed, f.Stage, f.Error, string(values)); err != nil {
			return fmt.Errorf("failed to insert failure %s/%d: %w", f.ParameterSetID, f.Repetition, err)
		}
	}

	return tx.Commit()
}

// Experiment loads one experiment with its row and failure counts.
func (s *Store) Experiment(ctx context.Context, id string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.queryExperiments(ctx, `WHERE e.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(exps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &exps[0], nil
}

// Experiments lists every stored experiment, newest first.
func (s *Store) Experiments(ctx context.Context) ([]Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryExperiments(ctx, ``)
}

func (s *Store) queryExperiments(ctx context.Context, where string, args ...any) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.seed, e.repetitions, e.space, e.created_at,
			(SELECT COUNT(*) FROM result_rows r WHERE r.experiment_id = e.id),
			(SELECT COUNT(*) FROM failures f WHERE f.experiment_id = e.id)
		FROM experiments e `+where+`
		ORDER BY e.created_at DESC, e.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		var (
			exp     Experiment
			space   sql.NullString
			created string
		)
		if err := rows.Scan(&exp.ID, &exp.Seed, &exp.Repetitions, &space, &created, &exp.Rows, &exp.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		if space.Valid && space.String != "" && space.String != "null" {
			if err := json.Unmarshal([]byte(space.String), &exp.Space); err != nil {
				return nil, fmt.Errorf("failed to unmarshal space of %s: %w", exp.ID, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			exp.CreatedAt = t
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// Rows returns the stored rows of an experiment in parameter set,
// repetition and tick order.
func (s *Store) Rows(ctx context.Context, experimentID string) ([]experiment.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT parameter_set_id, repetition, seed, tick, ticks,
			converged, exhausted, successful_influence, params, measures
		FROM result_rows
		WHERE experiment_id = ?
		ORDER BY parameter_set_id, repetition, tick`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []experiment.Row
	for rows.Next() {
		var (
			row              experiment.Row
			params, measures string
		)
		if err := rows.Scan(&row.ParameterSetID, &row.Repetition, &row.Seed, &row.Tick, &row.Ticks,
			&row.Converged, &row.Exhausted, &row.SuccessfulInfluence, &params, &measures); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &row.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
		if err := json.Unmarshal([]byte(measures), &row.Measures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measures: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Failures returns the stored failures of an experiment.
func (s *Store) Failures(ctx context.Context, experimentID string) ([]experiment.Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT parameter_set_id, repetition, seed, stage, error, params
		FROM failures
		WHERE experiment_id = ?
		ORDER BY parameter_set_id, repetition`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []experiment.Failure
	for rows.Next() {
		var (
			f      experiment.Failure
			values sql.NullString
		)
		if err := rows.Scan(&f.ParameterSetID, &f.Repetition, &f.Seed, &f.Stage, &f.Error, &values); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		if values.Valid && values.String != "null" {
			if err := json.Unmarshal([]byte(values.String), &f.Values); err != nil {
				return nil, fmt.Errorf("failed to unmarshal failure values: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Result loads rows and failures back into an experiment.Result.
func (s *Store) Result(ctx context.Context, experimentID string) (*experiment.Result, error) {
	rows, err := s.Rows(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	failures, err := s.Failures(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return &experiment.Result{Rows: rows, Failures: failures}, nil
}

// DeleteExperiment removes an experiment with its rows and failures.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
