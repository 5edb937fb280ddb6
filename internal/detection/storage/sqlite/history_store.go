package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/boxeval/internal/timeutil"
)

// Run is one persisted evaluation.
type Run struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	ResultPath  string          `json:"result_path"`
	GTPath      string          `json:"gt_path"`
	FilterPath  string          `json:"filter_path,omitempty"`
	NDScore     float64         `json:"nd_score"`
	MeanAP      float64         `json:"mean_ap"`
	MetricsJSON json.RawMessage `json:"metrics_json"`
	ToolVersion string          `json:"tool_version,omitempty"`
	CreatedAt   int64           `json:"created_at"`
}

// HistoryStore persists evaluation runs.
type HistoryStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewHistoryStore creates a new HistoryStore using the wall clock.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return NewHistoryStoreWithClock(db, timeutil.RealClock{})
}

// NewHistoryStoreWithClock creates a HistoryStore that stamps runs and
// paces busy retries with clock.
func NewHistoryStoreWithClock(db *sql.DB, clock timeutil.Clock) *HistoryStore {
	return &HistoryStore{db: db, clock: clock}
}

const runColumns = `run_id, name, result_path, gt_path, filter_path,
	nd_score, mean_ap, metrics_json, tool_version, created_at`

// Insert persists run. If RunID is empty, a UUID is generated; if CreatedAt
// is zero, the current time is used.
func (s *HistoryStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}
	if len(run.MetricsJSON) == 0 {
		run.MetricsJSON = json.RawMessage("{}")
	}
	return retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`INSERT INTO evaluation_runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Name, run.ResultPath, run.GTPath, run.FilterPath,
			nanToZero(run.NDScore), nanToZero(run.MeanAP), string(run.MetricsJSON), run.ToolVersion, run.CreatedAt,
		)
		return err
	})
}

// Get returns a single run by ID.
func (s *HistoryStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM evaluation_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return r, err
}

// List returns runs newest first. An empty name lists every run; limit <= 0
// means no limit.
func (s *HistoryStore) List(name string, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM evaluation_runs`
	var args []interface{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC, run_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes a run by ID.
func (s *HistoryStore) Delete(runID string) error {
	return retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`DELETE FROM evaluation_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var metrics string
	err := row.Scan(&r.RunID, &r.Name, &r.ResultPath, &r.GTPath, &r.FilterPath,
		&r.NDScore, &r.MeanAP, &metrics, &r.ToolVersion, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.MetricsJSON = json.RawMessage(metrics)
	return &r, nil
}

func nanToZero(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}
