package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// RunExecutor advances a locked dag run as far as it can: every task whose
// upstream tasks succeeded is attempted, in topological order.
type RunExecutor struct {
	Dags       DagSource
	Runs       DagRunRepo
	Tasks      TaskInstanceRepo
	Clock      core.Clock
	ExecutorID int64
}

// Execute runs the ready tasks of run and then either finishes the run or
// releases it with next_check set to the earliest pending retry.
func (e *RunExecutor) Execute(ctx context.Context, run *domain.DagRun) {
	ctx = context.WithValue(ctx, core.CtxKeyExecutorId, e.ExecutorID)
	logger := slog.With("dag_id", run.DagID, "run_id", run.RunID, "worker_id", ctx.Value(core.CtxKeyWorkerId))

	dag, err := e.Dags.Get(run.DagID)
	if err != nil {
		logger.ErrorContext(ctx, "Dag for run is not loaded, failing run", "error", err)
		e.finish(ctx, run, models.RunFailed)
		return
	}
	order, err := dag.TopologicalOrder()
	if err != nil {
		logger.ErrorContext(ctx, "Dag graph is invalid, failing run", "error", err)
		e.finish(ctx, run, models.RunFailed)
		return
	}

	if models.RunState(run.State) == models.RunQueued {
		if err := e.Runs.MarkRunning(run.ID); err != nil {
			logger.ErrorContext(ctx, "Error marking run as running", "error", err)
			e.release(ctx, run, e.Clock.Now())
			return
		}
		logger.InfoContext(ctx, "Dag run started")
	}

	instances, err := e.taskInstances(run, dag)
	if err != nil {
		logger.ErrorContext(ctx, "Error loading task instances", "error", err)
		e.release(ctx, run, e.Clock.Now())
		return
	}
	params := decodeParams(run.Params)

	states := make(map[string]models.TaskState, len(instances))
	for id, ti := range instances {
		states[id] = models.TaskState(ti.State)
	}

	var nextRetry time.Time
	for _, task := range order {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Stopping dag run, context cancelled")
			e.release(ctx, run, e.Clock.Now())
			return
		}
		ti := instances[task.ID()]
		state := states[task.ID()]
		if state.Finished() {
			continue
		}
		if state == models.TaskUpForRetry && ti.NextAttempt.Valid && ti.NextAttempt.Time.After(e.Clock.Now()) {
			nextRetry = earliest(nextRetry, ti.NextAttempt.Time)
			continue
		}

		ready, upstreamFailed := upstreamStatus(dag, task.ID(), states)
		if upstreamFailed {
			logger.InfoContext(ctx, "Upstream failed, skipping task", "task_id", task.ID())
			if err := e.Tasks.MarkUpstreamFailed(ti.ID); err != nil {
				logger.ErrorContext(ctx, "Error marking task upstream_failed", "task_id", task.ID(), "error", err)
			}
			states[task.ID()] = models.TaskUpstreamFailed
			continue
		}
		if !ready {
			continue
		}

		tc := &core.TaskContext{
			DagID:             dag.ID,
			Owner:             dag.DefaultArgs.Owner,
			TaskID:            task.ID(),
			RunID:             run.RunID,
			RunType:           models.RunType(run.RunType),
			LogicalDate:       run.LogicalDate,
			DataIntervalStart: run.DataIntervalStart,
			DataIntervalEnd:   run.DataIntervalEnd,
			TryNumber:         ti.TryNumber + 1,
			Params:            params,
		}
		next, newState, aborted := e.attempt(ctx, task, ti, tc)
		if aborted {
			e.release(ctx, run, e.Clock.Now())
			return
		}
		states[task.ID()] = newState
		if newState == models.TaskUpForRetry {
			nextRetry = earliest(nextRetry, next)
		}
	}

	if state, done := runOutcome(states); done {
		e.finish(ctx, run, state)
		return
	}
	if nextRetry.IsZero() {
		nextRetry = e.Clock.Now()
	}
	logger.InfoContext(ctx, "Dag run waiting for retries", "next_check", nextRetry)
	e.release(ctx, run, nextRetry)
}

// attempt runs one try of the task and records the result. aborted means the
// run should be released without judging the attempt.
func (e *RunExecutor) attempt(ctx context.Context, task *core.Task, ti *domain.TaskInstance, tc *core.TaskContext) (next time.Time, state models.TaskState, aborted bool) {
	logger := slog.With("dag_id", tc.DagID, "run_id", tc.RunID, "task_id", tc.TaskID, "try_number", tc.TryNumber)
	if err := e.Tasks.MarkRunning(ti.ID, tc.TryNumber); err != nil {
		logger.ErrorContext(ctx, "Error marking task running", "error", err)
		return time.Time{}, models.TaskState(ti.State), true
	}
	logger.InfoContext(ctx, "Running task", "operator", task.Operator.Kind())

	output, runErr := runOperator(ctx, task.Operator, tc)
	if runErr != nil && ctx.Err() != nil {
		// shutdown, the attempt stays running and is retried on the next pickup
		logger.WarnContext(ctx, "Task interrupted", "error", runErr)
		return time.Time{}, models.TaskRunning, true
	}
	if runErr == nil {
		logger.InfoContext(ctx, "Task succeeded")
		if err := e.Tasks.Finish(ti.ID, models.TaskSuccess, output); err != nil {
			logger.ErrorContext(ctx, "Error recording task success", "error", err)
		}
		return time.Time{}, models.TaskSuccess, false
	}

	record := output
	if record != "" {
		record += "\n"
	}
	record += runErr.Error()

	retry := task.RetryConfig()
	if retry.CanRetry(tc.TryNumber) {
		next = e.Clock.Now().Add(retry.SlidingInterval(tc.TryNumber))
		logger.WarnContext(ctx, "Task failed, up for retry", "error", runErr, "next_attempt", next, "max_retries", retry.MaxRetryCount)
		if err := e.Tasks.MarkUpForRetry(ti.ID, next, record); err != nil {
			logger.ErrorContext(ctx, "Error recording task retry", "error", err)
		}
		return next, models.TaskUpForRetry, false
	}
	logger.ErrorContext(ctx, "Task failed, no retries left", "error", runErr)
	if err := e.Tasks.Finish(ti.ID, models.TaskFailed, record); err != nil {
		logger.ErrorContext(ctx, "Error recording task failure", "error", err)
	}
	return time.Time{}, models.TaskFailed, false
}

// runOperator converts a panic inside the operator into a task error.
func runOperator(ctx context.Context, op core.Operator, tc *core.TaskContext) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Operator panicked", "task_id", tc.TaskID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("operator panicked: %v", r)
		}
	}()
	return op.Execute(ctx, tc)
}

// taskInstances indexes the run's task instances by task id, creating rows
// for tasks that were added to the dag after the run was created.
func (e *RunExecutor) taskInstances(run *domain.DagRun, dag *core.DAG) (map[string]*domain.TaskInstance, error) {
	list, err := e.Tasks.FindByRun(run.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.TaskInstance, len(list))
	for _, ti := range list {
		out[ti.TaskID] = ti
	}
	for _, id := range dag.TaskIDs() {
		if _, ok := out[id]; ok {
			continue
		}
		newID, err := e.Tasks.Create(run.ID, id)
		if err != nil {
			return nil, fmt.Errorf("create task instance %s: %w", id, err)
		}
		out[id] = &domain.TaskInstance{ID: newID, DagRunID: run.ID, TaskID: id, State: string(models.TaskNone)}
	}
	return out, nil
}

func (e *RunExecutor) finish(ctx context.Context, run *domain.DagRun, state models.RunState) {
	if err := e.Runs.Finish(run.ID, state); err != nil {
		slog.ErrorContext(ctx, "Error finishing dag run", "dag_id", run.DagID, "run_id", run.RunID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Dag run finished", "dag_id", run.DagID, "run_id", run.RunID, "state", state)
}

func (e *RunExecutor) release(ctx context.Context, run *domain.DagRun, next time.Time) {
	if err := e.Runs.Release(run.ID, next); err != nil {
		slog.ErrorContext(ctx, "Error releasing dag run", "dag_id", run.DagID, "run_id", run.RunID, "error", err)
	}
}

// upstreamStatus reports whether every upstream task succeeded, and whether
// any of them failed for good.
func upstreamStatus(dag *core.DAG, taskID string, states map[string]models.TaskState) (ready bool, failed bool) {
	ready = true
	for _, up := range dag.Upstream(taskID) {
		switch states[up] {
		case models.TaskSuccess:
		case models.TaskFailed, models.TaskUpstreamFailed:
			return false, true
		default:
			ready = false
		}
	}
	return ready, false
}

// runOutcome returns the final run state once every task is finished.
func runOutcome(states map[string]models.TaskState) (models.RunState, bool) {
	success := true
	for _, s := range states {
		if !s.Finished() {
			return "", false
		}
		if s != models.TaskSuccess {
			success = false
		}
	}
	if success {
		return models.RunSuccess, true
	}
	return models.RunFailed, true
}

func earliest(current, candidate time.Time) time.Time {
	if current.IsZero() || candidate.Before(current) {
		return candidate
	}
	return current
}

func decodeParams(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	params := map[string]string{}
	if err := json.Unmarshal([]byte(raw.String), &params); err != nil {
		slog.Warn("Ignoring malformed run params", "error", err)
		return nil
	}
	return params
}
