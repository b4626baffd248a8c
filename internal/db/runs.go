package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/speedplan/internal/planner"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted planner invocation. ProfileJSON is empty for runs
// that failed, in which case Error holds the reason.
type Run struct {
	RunID       string          `json:"run_id"`
	CreatedAt   int64           `json:"created_at"`
	Knots       int             `json:"knots"`
	Delta       float64         `json:"delta"`
	Status      string          `json:"status"`
	Iterations  int             `json:"iterations"`
	SolveNanos  int64           `json:"solve_nanos"`
	Objective   float64         `json:"objective"`
	Error       string          `json:"error,omitempty"`
	RequestJSON json.RawMessage `json:"request"`
	ProfileJSON json.RawMessage `json:"profile,omitempty"`
}

// SolveTime returns the recorded solver wall time.
func (r *Run) SolveTime() time.Duration { return time.Duration(r.SolveNanos) }

// RunStore persists planner runs.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `run_id, created_at, knots, delta, status, iterations,
	solve_nanos, objective, error, request_json, profile_json`

// Insert persists run. An empty RunID gets a fresh UUID and a zero
// CreatedAt gets the current time.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	if len(run.RequestJSON) == 0 {
		return fmt.Errorf("insert run %s: empty request", run.RunID)
	}

	var errStr, profile any
	if run.Error != "" {
		errStr = run.Error
	}
	if len(run.ProfileJSON) > 0 {
		profile = string(run.ProfileJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`INSERT INTO planner_runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt, run.Knots, run.Delta, run.Status, run.Iterations,
			run.SolveNanos, run.Objective, errStr, string(run.RequestJSON), profile,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// Record persists the outcome of one planner solve and stamps the run id
// on resp when there is one.
func (s *RunStore) Record(req *planner.Request, resp *planner.Response, solveErr error) (*Run, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	run := &Run{
		Knots:       req.Knots,
		Delta:       req.Delta,
		Status:      planner.Outcome(resp, solveErr),
		RequestJSON: reqJSON,
	}
	if solveErr != nil {
		run.Error = solveErr.Error()
	}
	if resp != nil {
		run.Iterations = resp.Stats.Iterations
		run.SolveNanos = int64(resp.Stats.SolveTime())
		run.Objective = resp.Stats.Objective
		if run.ProfileJSON, err = json.Marshal(resp); err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
	}
	if err := s.Insert(run); err != nil {
		return nil, err
	}
	if resp != nil {
		resp.RunID = run.RunID
	}
	return run, nil
}

// Response decodes the stored profile. Failed runs have none and return
// nil, nil.
func (r *Run) Response() (*planner.Response, error) {
	if len(r.ProfileJSON) == 0 {
		return nil, nil
	}
	var resp planner.Response
	if err := json.Unmarshal(r.ProfileJSON, &resp); err != nil {
		return nil, fmt.Errorf("decode run %s profile: %w", r.RunID, err)
	}
	resp.RunID = r.RunID
	return &resp, nil
}

// Get returns the run with the given id, or an error wrapping
// ErrRunNotFound.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM planner_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// means no limit.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM planner_runs
		ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run by id.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM planner_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r       Run
		errStr  sql.NullString
		request string
		profile sql.NullString
	)
	err := row.Scan(
		&r.RunID, &r.CreatedAt, &r.Knots, &r.Delta, &r.Status, &r.Iterations,
		&r.SolveNanos, &r.Objective, &errStr, &request, &profile,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Error = errStr.String
	r.RequestJSON = json.RawMessage(request)
	if profile.Valid {
		r.ProfileJSON = json.RawMessage(profile.String)
	}
	return &r, nil
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * busyBackoff)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
