package repository

import (
	"database/sql"
	"time"

	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

const taskColumns = ` id, dag_run_id, task_id, state, try_number, started, ended, next_attempt, output, modified `

type TaskInstanceRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewTaskInstanceRepository(db *sql.DB, clock core.Clock) *TaskInstanceRepository {
	return &TaskInstanceRepository{db: db, clock: clock}
}

// FindByRun returns the task instances of a run ordered by id, which is the
// order the tasks were declared in.
func (r *TaskInstanceRepository) FindByRun(dagRunID int64) ([]*domain.TaskInstance, error) {
	query := `SELECT ` + taskColumns + ` FROM task_instances WHERE dag_run_id = ` + placeholder(1) + ` ORDER BY id`
	rows, err := r.db.Query(query, dagRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*domain.TaskInstance, 0)
	for rows.Next() {
		var ti domain.TaskInstance
		if err := rows.Scan(&ti.ID, &ti.DagRunID, &ti.TaskID, &ti.State, &ti.TryNumber,
			&ti.Started, &ti.Ended, &ti.NextAttempt, &ti.Output, &ti.Modified); err != nil {
			return nil, err
		}
		ti.Started = utcNull(ti.Started)
		ti.Ended = utcNull(ti.Ended)
		ti.NextAttempt = utcNull(ti.NextAttempt)
		ti.Modified = utc(ti.Modified)
		tasks = append(tasks, &ti)
	}
	return tasks, rows.Err()
}

// Create adds a task instance to an existing run. Used when a task is added
// to a dag after the run was created.
func (r *TaskInstanceRepository) Create(dagRunID int64, taskID string) (int64, error) {
	vals := []interface{}{dagRunID, taskID, models.TaskNone, 0, formatDateInDatabase(r.clock.Now())}
	base := `INSERT INTO task_instances (dag_run_id, task_id, state, try_number, modified) VALUES (` + placeholders(1, 5) + `)`
	if supportsReturning() {
		var id int64
		err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&id)
		return id, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkRunning starts an attempt: state running, try_number set and the
// previous attempt's end cleared.
func (r *TaskInstanceRepository) MarkRunning(id int64, tryNumber int) error {
	query := `
		UPDATE task_instances
		SET state = 'running', try_number = ` + placeholder(1) + `, started = ` + nowFunc(r.clock) + `,
		    ended = NULL, next_attempt = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, tryNumber, id)
	return err
}

// Finish records a terminal state and the attempt output.
func (r *TaskInstanceRepository) Finish(id int64, state models.TaskState, output string) error {
	query := `
		UPDATE task_instances
		SET state = ` + placeholder(1) + `, output = ` + placeholder(2) + `, ended = ` + nowFunc(r.clock) + `,
		    next_attempt = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(3)
	_, err := r.db.Exec(query, state, output, id)
	return err
}

// MarkUpForRetry records a failed attempt that will be retried at next.
func (r *TaskInstanceRepository) MarkUpForRetry(id int64, next time.Time, output string) error {
	query := `
		UPDATE task_instances
		SET state = 'up_for_retry', output = ` + placeholder(1) + `, ended = ` + nowFunc(r.clock) + `,
		    next_attempt = ` + placeholder(2) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(3)
	_, err := r.db.Exec(query, output, formatDateInDatabase(next), id)
	return err
}

// MarkUpstreamFailed flags a task that will not run because an upstream task failed.
func (r *TaskInstanceRepository) MarkUpstreamFailed(id int64) error {
	query := `
		UPDATE task_instances
		SET state = 'upstream_failed', modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1)
	_, err := r.db.Exec(query, id)
	return err
}
