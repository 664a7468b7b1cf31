package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/internal/schedule"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// maxRunsPerTick caps how many catchup runs one scheduler pass creates per dag.
const maxRunsPerTick = 100

func startScheduler(ctx context.Context, dm *DagManager, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dm.scheduleDueRuns(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Scheduler stopping due to context cancel")
			return
		case <-ticker.C:
			dm.scheduleDueRuns(ctx)
		}
	}
}

// scheduleDueRuns creates the scheduled runs that are due for every
// unpaused dag and returns how many were created.
func (dm *DagManager) scheduleDueRuns(ctx context.Context) int {
	now := dm.clock.Now()
	created := 0
	for _, dag := range dm.Dags.All() {
		def, err := dm.DagRepo.FindByID(dag.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Error loading dag definition", "dag_id", dag.ID, "error", err)
			continue
		}
		if def.IsPaused {
			continue
		}
		sched, err := schedule.Parse(dag.Schedule)
		if err != nil {
			slog.ErrorContext(ctx, "Invalid schedule", "dag_id", dag.ID, "error", err)
			continue
		}
		if sched.Kind() == schedule.KindNone {
			continue
		}
		last, err := dm.RunRepo.LatestLogicalDate(dag.ID, models.RunTypeScheduled)
		if err != nil {
			slog.ErrorContext(ctx, "Error loading latest run", "dag_id", dag.ID, "error", err)
			continue
		}
		created += dm.createDueRuns(ctx, dag, sched, last, now)
	}
	if created > 0 {
		dm.Wake()
	}
	return created
}

// createDueRuns walks the due intervals after last, stepping over logical
// dates already held by backfill or manual runs, until maxRunsPerTick runs
// have been created or no interval is left.
func (dm *DagManager) createDueRuns(ctx context.Context, dag *core.DAG, sched schedule.Schedule, last *time.Time, now time.Time) int {
	created := 0
	cursor := last
	for created < maxRunsPerTick {
		due := schedule.DueIntervals(sched, dag.StartDate, cursor, now, dag.Catchup, maxRunsPerTick-created)
		if len(due) == 0 {
			return created
		}
		for _, iv := range due {
			start := iv.Start
			cursor = &start
			_, err := dm.createRun(ctx, dag, models.RunTypeScheduled, iv, nil)
			if errors.Is(err, repository.ErrRunExists) {
				slog.DebugContext(ctx, "Run already exists for interval", "dag_id", dag.ID, "logical_date", iv.Start)
				continue
			}
			if err != nil {
				slog.ErrorContext(ctx, "Error creating scheduled run", "dag_id", dag.ID, "logical_date", iv.Start, "error", err)
				return created
			}
			created++
		}
	}
	return created
}

// responsible for finding runs whose executor died half way and handing them
// back to the pool. The executor will be last active more than
// GFLOW_ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES ago.
func startRunRepairService(ctx context.Context, dm *DagManager) {
	ticker := time.NewTicker(config.GetSystemSettingDuration(config.ENGINE_STUCK_RUNS_INTERVAL))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Run repair service stopping due to context cancel")
			return
		case <-ticker.C:
			dm.repairStuckRuns(ctx)
		}
	}
}

func (dm *DagManager) repairStuckRuns(ctx context.Context) int {
	repairAfter := time.Duration(config.GetSystemSettingInteger(config.ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES)) * time.Minute
	stuck, err := dm.RunRepo.FindStuckRuns(repairAfter, 100)
	if err != nil {
		slog.Error("Error finding stuck dag runs", "error", err)
		return 0
	}
	for _, run := range stuck {
		slog.Warn("Repairing stuck dag run", "dag_id", run.DagID, "run_id", run.RunID, "state", run.State,
			"previous_executor", run.ExecutorID.Int64)
		if err := dm.RunRepo.Release(run.ID, dm.clock.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to release stuck dag run", "dag_id", run.DagID, "run_id", run.RunID, "error", err)
		}
	}
	if len(stuck) > 0 {
		dm.Wake()
	}
	return len(stuck)
}
