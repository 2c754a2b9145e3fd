// Package sqlite persists jitter solve runs so successive parameter sweeps
// over the same scene can be compared after the fact.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/jitter.report/internal/jitter"
	"github.com/banshee-data/jitter.report/internal/monitoring"
)

//go:embed schema.sql
var schemaSQL string

// SolveRunStore provides persistence for solve reports.
type SolveRunStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the solve-run database at path and applies
// the embedded schema.
func Open(path string) (*SolveRunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open solve database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply solve schema: %w", err)
	}
	monitoring.Logf("initialized solve run database at %s", path)
	return &SolveRunStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SolveRunStore) Close() error { return s.db.Close() }

// Insert persists a solve report together with the JSON-encoded tuning
// parameters that produced it. If the report has no run ID one is generated.
func (s *SolveRunStore) Insert(rep *jitter.Report, paramsJSON json.RawMessage) error {
	if rep.RunID == "" {
		rep.RunID = uuid.New().String()
	}
	trace, err := json.Marshal(rep.CostTrace)
	if err != nil {
		return fmt.Errorf("failed to encode cost trace: %w", err)
	}
	var params interface{}
	if len(paramsJSON) > 0 {
		params = string(paramsJSON)
	}
	_, err = s.db.Exec(`
		INSERT INTO solve_runs (
			run_id, started_unix_nanos, finished_unix_nanos,
			num_cameras, num_points, num_outliers, num_residual_blocks,
			num_parameters, threads, iterations,
			initial_cost, final_cost, status, termination_reason,
			cost_trace_json, params_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.StartedUnixNanos, rep.FinishedUnixNanos,
		rep.NumCameras, rep.NumPoints, rep.NumOutliers, rep.NumResidualBlocks,
		rep.NumParameters, rep.Threads, rep.Iterations,
		rep.InitialCost, rep.FinalCost, string(rep.Status), rep.TerminationReason,
		string(trace), params,
	)
	if err != nil {
		return fmt.Errorf("failed to insert solve run: %w", err)
	}
	return nil
}

// Get returns one run by ID, or sql.ErrNoRows when it does not exist.
func (s *SolveRunStore) Get(runID string) (*jitter.Report, error) {
	row := s.db.QueryRow(`
		SELECT run_id, started_unix_nanos, finished_unix_nanos,
			num_cameras, num_points, num_outliers, num_residual_blocks,
			num_parameters, threads, iterations,
			initial_cost, final_cost, status, termination_reason,
			cost_trace_json
		FROM solve_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// List returns the most recent runs, newest first.
func (s *SolveRunStore) List(limit int) ([]*jitter.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, started_unix_nanos, finished_unix_nanos,
			num_cameras, num_points, num_outliers, num_residual_blocks,
			num_parameters, threads, iterations,
			initial_cost, final_cost, status, termination_reason,
			cost_trace_json
		FROM solve_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list solve runs: %w", err)
	}
	defer rows.Close()

	var out []*jitter.Report
	for rows.Next() {
		rep, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*jitter.Report, error) {
	var rep jitter.Report
	var status string
	var trace sql.NullString
	err := row.Scan(
		&rep.RunID, &rep.StartedUnixNanos, &rep.FinishedUnixNanos,
		&rep.NumCameras, &rep.NumPoints, &rep.NumOutliers, &rep.NumResidualBlocks,
		&rep.NumParameters, &rep.Threads, &rep.Iterations,
		&rep.InitialCost, &rep.FinalCost, &status, &rep.TerminationReason,
		&trace,
	)
	if err != nil {
		return nil, err
	}
	rep.Status = jitter.Status(status)
	if trace.Valid && trace.String != "" {
		if err := json.Unmarshal([]byte(trace.String), &rep.CostTrace); err != nil {
			return nil, fmt.Errorf("failed to decode cost trace for run %s: %w", rep.RunID, err)
		}
	}
	return &rep, nil
}
