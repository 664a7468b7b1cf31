package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// ErrRunExists is returned when a run with the same run_id or logical date
// already exists for the dag.
var ErrRunExists = errors.New("dag run already exists")

const runColumns = ` id, dag_id, run_id, run_type, state, logical_date, data_interval_start,
		data_interval_end, external_id, params, created, modified, started, ended,
		next_check, executor_id `

type DagRunRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewDagRunRepository(db *sql.DB, clock core.Clock) *DagRunRepository {
	return &DagRunRepository{db: db, clock: clock}
}

func scanRun(s rowScanner) (*domain.DagRun, error) {
	var run domain.DagRun
	err := s.Scan(
		&run.ID,
		&run.DagID,
		&run.RunID,
		&run.RunType,
		&run.State,
		&run.LogicalDate,
		&run.DataIntervalStart,
		&run.DataIntervalEnd,
		&run.ExternalID,
		&run.Params,
		&run.Created,
		&run.Modified,
		&run.Started,
		&run.Ended,
		&run.NextCheck,
		&run.ExecutorID,
	)
	if err != nil {
		return nil, err
	}
	run.LogicalDate = utc(run.LogicalDate)
	run.DataIntervalStart = utc(run.DataIntervalStart)
	run.DataIntervalEnd = utc(run.DataIntervalEnd)
	run.Created = utc(run.Created)
	run.Modified = utc(run.Modified)
	run.Started = utcNull(run.Started)
	run.Ended = utcNull(run.Ended)
	run.NextCheck = utcNull(run.NextCheck)
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*domain.DagRun, error) {
	defer rows.Close()
	runs := make([]*domain.DagRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Create inserts the run and one task instance per task id in a single
// transaction. It returns ErrRunExists when the run is a duplicate.
func (r *DagRunRepository) Create(run *domain.DagRun, taskIDs []string) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	check := `SELECT COUNT(*) FROM dag_runs WHERE dag_id = ` + placeholder(1) +
		` AND (run_id = ` + placeholder(2) + ` OR logical_date = ` + placeholder(3) + `)`
	if err := tx.QueryRow(check, run.DagID, run.RunID, formatDateInDatabase(run.LogicalDate)).Scan(&existing); err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrRunExists, run.DagID, run.RunID)
	}

	now := r.clock.Now()
	if run.Created.IsZero() {
		run.Created = now
	}
	run.Modified = now
	vals := []interface{}{run.DagID, run.RunID, run.RunType, run.State,
		formatDateInDatabase(run.LogicalDate), formatDateInDatabase(run.DataIntervalStart),
		formatDateInDatabase(run.DataIntervalEnd), run.ExternalID, run.Params,
		formatDateInDatabase(run.Created), formatDateInDatabase(run.Modified),
		formatDateInDatabaseNull(run.NextCheck)}
	base := `INSERT INTO dag_runs (
		dag_id, run_id, run_type, state, logical_date, data_interval_start,
		data_interval_end, external_id, params, created, modified, next_check
	) VALUES (` + placeholders(1, len(vals)) + `)`
	if supportsReturning() {
		if err := tx.QueryRow(base+" RETURNING id", vals...).Scan(&run.ID); err != nil {
			return 0, err
		}
	} else {
		res, err := tx.Exec(base, vals...)
		if err != nil {
			return 0, err
		}
		if run.ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}

	insertTask := `INSERT INTO task_instances (dag_run_id, task_id, state, try_number, modified)
		VALUES (` + placeholders(1, 5) + `)`
	for _, taskID := range taskIDs {
		if _, err := tx.Exec(insertTask, run.ID, taskID, models.TaskNone, 0, formatDateInDatabase(now)); err != nil {
			return 0, fmt.Errorf("create task instance %s: %w", taskID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (r *DagRunRepository) FindByID(id int64) (*domain.DagRun, error) {
	query := `SELECT ` + runColumns + ` FROM dag_runs WHERE id = ` + placeholder(1)
	run, err := scanRun(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dag run %d: %w", id, ErrNotFound)
	}
	return run, err
}

func (r *DagRunRepository) FindByRunID(dagID, runID string) (*domain.DagRun, error) {
	query := `SELECT ` + runColumns + ` FROM dag_runs WHERE dag_id = ` + placeholder(1) + ` AND run_id = ` + placeholder(2)
	run, err := scanRun(r.db.QueryRow(query, dagID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dag run %s %s: %w", dagID, runID, ErrNotFound)
	}
	return run, err
}

// FindByDag lists the most recent runs of a dag, newest logical date first.
func (r *DagRunRepository) FindByDag(dagID string, limit int) ([]*domain.DagRun, error) {
	query := `SELECT ` + runColumns + ` FROM dag_runs WHERE dag_id = ` + placeholder(1) + `
		ORDER BY logical_date DESC LIMIT ` + placeholder(2)
	rows, err := r.db.Query(query, dagID, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// LatestLogicalDate returns the newest logical date among runs of the given
// type, or nil when there are none.
func (r *DagRunRepository) LatestLogicalDate(dagID string, runType models.RunType) (*time.Time, error) {
	query := `SELECT logical_date FROM dag_runs WHERE dag_id = ` + placeholder(1) + ` AND run_type = ` + placeholder(2) + `
		ORDER BY logical_date DESC LIMIT 1`
	var t time.Time
	err := r.db.QueryRow(query, dagID, runType).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// FindDueRuns returns unlocked queued or running runs whose next_check has
// passed, skipping paused dags.
func (r *DagRunRepository) FindDueRuns(limit int) ([]*domain.DagRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM dag_runs
		WHERE ` + dateBeforeOrAt("next_check", r.clock) + `
		  AND state IN ('queued', 'running')
		  AND executor_id IS NULL
		  AND dag_id NOT IN (SELECT dag_id FROM dags WHERE is_paused = ` + placeholder(1) + `)
		ORDER BY next_check ASC, id ASC
		LIMIT ` + placeholder(2)
	rows, err := r.db.Query(query, true, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// CountRunning counts runs of the dag currently in the running state.
func (r *DagRunRepository) CountRunning(dagID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM dag_runs WHERE dag_id = ` + placeholder(1) + ` AND state = 'running'`
	err := r.db.QueryRow(query, dagID).Scan(&n)
	return n, err
}

// LockRunByModified claims the run for the executor. It only succeeds when
// modified still matches, so two executors cannot pick up the same run.
func (r *DagRunRepository) LockRunByModified(id int64, executorID int64, modified time.Time) bool {
	query := `
		UPDATE dag_runs
		SET executor_id = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND executor_id IS NULL
		  AND state IN ('queued', 'running')
	`
	result, err := r.db.Exec(query, executorID, id, formatDateInDatabase(modified))
	if err != nil {
		slog.Error("Failed to lock dag run", "error", err, "id", id, "executorId", executorID, "modified", modified)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// MarkRunning moves a run to running, stamping started on the first call.
func (r *DagRunRepository) MarkRunning(id int64) error {
	query := `
		UPDATE dag_runs
		SET state = 'running', started = COALESCE(started, ` + nowFunc(r.clock) + `), modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1)
	_, err := r.db.Exec(query, id)
	return err
}

// Finish records the final state, releases the executor and clears next_check.
func (r *DagRunRepository) Finish(id int64, state models.RunState) error {
	query := `
		UPDATE dag_runs
		SET state = ` + placeholder(1) + `, ended = ` + nowFunc(r.clock) + `, next_check = NULL,
		    executor_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, state, id)
	return err
}

// Release hands the run back to the pool to be checked again at next.
func (r *DagRunRepository) Release(id int64, next time.Time) error {
	query := `
		UPDATE dag_runs
		SET next_check = ` + placeholder(1) + `, executor_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

// FindStuckRuns returns runs still held by an executor whose heartbeat is
// older than repairAfter and that were not modified in that time.
func (r *DagRunRepository) FindStuckRuns(repairAfter time.Duration, limit int) ([]*domain.DagRun, error) {
	cutoff := formatDateInDatabase(r.clock.Now().Add(-repairAfter))
	query := `
		SELECT ` + runColumns + `
		FROM dag_runs
		WHERE modified < ` + placeholder(1) + `
		  AND state IN ('queued', 'running')
		  AND executor_id IS NOT NULL
		  AND executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE last_active > ` + placeholder(2) + `
		  )
		ORDER BY next_check ASC
		LIMIT ` + placeholder(3)
	rows, err := r.db.Query(query, cutoff, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}
