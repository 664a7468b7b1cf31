package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/internal/schedule"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

var ErrRunNotFound = errors.New("dag run not found")

type DagManager struct {
	Dags         DagSource
	DagRepo      DagRepo
	RunRepo      DagRunRepo
	TaskRepo     TaskInstanceRepo
	executorRepo ExecutorRepo
	executorID   int64
	runQueue     chan *domain.DagRun
	wakeup       chan struct{}
	clock        core.Clock
}

func NewDagManager(dags DagSource, dagRepo DagRepo, runRepo DagRunRepo, taskRepo TaskInstanceRepo,
	executorRepo ExecutorRepo, clock core.Clock) *DagManager {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &DagManager{
		Dags:         dags,
		DagRepo:      dagRepo,
		RunRepo:      runRepo,
		TaskRepo:     taskRepo,
		executorRepo: executorRepo,
		wakeup:       make(chan struct{}, 1),
		clock:        clock,
	}
}

// ListDags returns the stored definitions of every dag.
func (dm *DagManager) ListDags() ([]*domain.DagDefinition, error) {
	return dm.DagRepo.FindAll()
}

func (dm *DagManager) GetDag(dagID string) (*domain.DagDefinition, *core.DAG, error) {
	dag, err := dm.Dags.Get(dagID)
	if err != nil {
		return nil, nil, err
	}
	def, err := dm.DagRepo.FindByID(dagID)
	if err != nil {
		return nil, nil, err
	}
	return def, dag, nil
}

func (dm *DagManager) SetPaused(dagID string, paused bool) error {
	if _, err := dm.Dags.Get(dagID); err != nil {
		return err
	}
	if err := dm.DagRepo.SetPaused(dagID, paused); err != nil {
		return err
	}
	slog.Info("Dag pause state changed", "dag_id", dagID, "paused", paused)
	if !paused {
		dm.Wake()
	}
	return nil
}

func (dm *DagManager) ListRuns(dagID string, limit int) ([]*domain.DagRun, error) {
	if _, err := dm.Dags.Get(dagID); err != nil {
		return nil, err
	}
	return dm.RunRepo.FindByDag(dagID, limit)
}

func (dm *DagManager) GetRun(id int64) (*domain.DagRun, error) {
	run, err := dm.RunRepo.FindByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

func (dm *DagManager) GetTaskInstances(runID int64) ([]*domain.TaskInstance, error) {
	if _, err := dm.GetRun(runID); err != nil {
		return nil, err
	}
	return dm.TaskRepo.FindByRun(runID)
}

// ListExecutors returns recent executors ordered by last_active desc.
func (dm *DagManager) ListExecutors(limit int) ([]*domain.Executor, error) {
	return dm.executorRepo.GetExecutorsByLastActive(limit)
}

// Wake triggers a poll without waiting for the next tick.
func (dm *DagManager) Wake() {
	select {
	case dm.wakeup <- struct{}{}:
	default:
	}
}

// TriggerRun creates a manual run. A nil logical date means now.
func (dm *DagManager) TriggerRun(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error) {
	dag, err := dm.Dags.Get(dagID)
	if err != nil {
		return nil, err
	}
	logical := dm.clock.Now()
	if req.LogicalDate != nil {
		logical = req.LogicalDate.UTC()
	}
	run, err := dm.createRun(ctx, dag, models.RunTypeManual, schedule.ManualInterval(logical), req.Params)
	if err != nil {
		return nil, err
	}
	dm.Wake()
	return run, nil
}

// Backfill creates runs for every interval whose logical date falls in
// [from, to], regardless of catchup. Existing logical dates are skipped.
func (dm *DagManager) Backfill(ctx context.Context, dagID string, from, to time.Time) (*models.BackfillResponse, error) {
	dag, err := dm.Dags.Get(dagID)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.Parse(dag.Schedule)
	if err != nil {
		return nil, err
	}
	intervals, err := schedule.BackfillIntervals(sched, dag.StartDate, from, to)
	if err != nil {
		return nil, err
	}
	resp := &models.BackfillResponse{Created: []string{}, Skipped: []string{}}
	for _, iv := range intervals {
		run, err := dm.createRun(ctx, dag, models.RunTypeBackfill, iv, nil)
		if errors.Is(err, repository.ErrRunExists) {
			resp.Skipped = append(resp.Skipped, schedule.RunID(models.RunTypeBackfill, iv.Start))
			continue
		}
		if err != nil {
			return resp, err
		}
		resp.Created = append(resp.Created, run.RunID)
	}
	slog.InfoContext(ctx, "Backfill requested", "dag_id", dagID, "from", from, "to", to,
		"created", len(resp.Created), "skipped", len(resp.Skipped))
	dm.Wake()
	return resp, nil
}

func (dm *DagManager) createRun(ctx context.Context, dag *core.DAG, runType models.RunType, iv schedule.Interval, params map[string]string) (*domain.DagRun, error) {
	run := &domain.DagRun{
		DagID:             dag.ID,
		RunID:             schedule.RunID(runType, iv.Start),
		RunType:           string(runType),
		State:             string(models.RunQueued),
		LogicalDate:       iv.Start,
		DataIntervalStart: iv.Start,
		DataIntervalEnd:   iv.End,
		ExternalID:        uuid.NewString(),
	}
	run.NextCheck.Time, run.NextCheck.Valid = dm.clock.Now(), true
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		run.Params.String, run.Params.Valid = string(raw), true
	}
	if _, err := dm.RunRepo.Create(run, dag.TaskIDs()); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Created dag run", "dag_id", dag.ID, "run_id", run.RunID, "run_type", runType,
		"data_interval_start", iv.Start, "data_interval_end", iv.End)
	return run, nil
}

// StartEngine registers this executor and the dag definitions, then starts
// the scheduler, the repair service and the worker pool. It polls for due
// runs at pollInterval and blocks until ctx is cancelled.
func (dm *DagManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	registerExecutorInstance(ctx, dm)

	registerDagDefinitions(ctx, dm)

	go startScheduler(ctx, dm, config.GetSystemSettingDuration(config.ENGINE_SCHEDULER_INTERVAL))
	go startRunRepairService(ctx, dm)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10
	}
	dm.runQueue = make(chan *domain.DagRun, queueSize)

	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	if workers <= 0 {
		workers = 1
	}
	executor := &RunExecutor{Dags: dm.Dags, Runs: dm.RunRepo, Tasks: dm.TaskRepo, Clock: dm.clock, ExecutorID: dm.executorID}
	slog.Info("Starting dag engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		go Worker(ctx, i, executor, dm.runQueue)
	}

	slog.Info("Dag engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Dag engine stopping due to context cancel")
			return
		case <-ticker.C:
			dm.pollAndRunDags(ctx)
		case <-dm.wakeup:
			dm.pollAndRunDags(ctx)
		}
	}
}

// pollAndRunDags locks due runs and hands them to the workers.
func (dm *DagManager) pollAndRunDags(ctx context.Context) {
	slog.Debug("Polling for due dag runs")

	batch := cap(dm.runQueue) - len(dm.runQueue)
	if batch <= 0 {
		slog.Warn("run queue full, skipping poll, possibly long running tasks")
		return
	}

	runs, err := dm.RunRepo.FindDueRuns(batch)
	if err != nil {
		slog.Error("Error fetching due dag runs", "error", err)
		return
	}

	maxActive := config.GetSystemSettingInteger(config.ENGINE_MAX_ACTIVE_RUNS)
	running := map[string]int{}
	for _, run := range runs {
		if models.RunState(run.State) == models.RunQueued && maxActive > 0 {
			n, ok := running[run.DagID]
			if !ok {
				if n, err = dm.RunRepo.CountRunning(run.DagID); err != nil {
					slog.ErrorContext(ctx, "Error counting running dag runs", "dag_id", run.DagID, "error", err)
					continue
				}
			}
			if n >= maxActive {
				slog.DebugContext(ctx, "Max active runs reached, leaving run queued", "dag_id", run.DagID, "run_id", run.RunID)
				running[run.DagID] = n
				continue
			}
			running[run.DagID] = n + 1
		}

		if !dm.RunRepo.LockRunByModified(run.ID, dm.executorID, run.Modified) {
			slog.InfoContext(ctx, "Unable to gain lock on dag run, possibly picked up by other executor", "dag_id", run.DagID, "run_id", run.RunID)
			continue
		}
		slog.InfoContext(ctx, "Add dag run to execution channel", "dag_id", run.DagID, "run_id", run.RunID)
		dm.runQueue <- run
	}
}

func registerExecutorInstance(ctx context.Context, dm *DagManager) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "dagflow"
		}
		name = hostname + "-" + uuid.NewString()[:8]
	}
	now := dm.clock.Now()
	id, err := dm.executorRepo.Save(&domain.Executor{Name: name, Started: now, LastActive: now})
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	dm.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name)
	go func(executorID int64) {
		hb := time.NewTicker(30 * time.Second)
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				if err := dm.executorRepo.UpdateLastActive(executorID, dm.clock.Now()); err != nil {
					slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
				} else {
					slog.Debug("Updated executor last_active", "executor_id", executorID)
				}
			}
		}
	}(id)
}

// registerDagDefinitions upserts a definition row for every loaded dag.
func registerDagDefinitions(ctx context.Context, dm *DagManager) {
	for _, dag := range dm.Dags.All() {
		now := dm.clock.Now()
		def := &domain.DagDefinition{
			DagID:             dag.ID,
			Description:       dag.Description,
			Owner:             dag.DefaultArgs.Owner,
			Schedule:          dag.Schedule,
			StartDate:         dag.StartDate,
			Catchup:           dag.Catchup,
			Retries:           dag.DefaultArgs.Retries,
			RetryDelaySeconds: int64(dag.DefaultArgs.RetryDelay / time.Second),
			Created:           now,
			Updated:           now,
			FlowChart:         buildFlowChart(dag),
		}
		slog.InfoContext(ctx, "Saving dag definition", "dag_id", dag.ID)
		if err := dm.DagRepo.Save(def); err != nil {
			slog.Error("Failed to save dag definition", "dag_id", dag.ID, "error", err)
		}
	}
}

func buildFlowChart(dag *core.DAG) string {
	var sb strings.Builder

	bashClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,rx:10,ry:10;"
	sqlClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,rx:10,ry:10;"
	normalClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"

	sb.WriteString("flowchart TD\n")
	for _, id := range dag.TaskIDs() {
		sb.WriteString(fmt.Sprintf("    %s[%s]\n", id, id))
	}
	for _, e := range dag.Edges() {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", e[0], e[1]))
	}

	sb.WriteString(fmt.Sprintf("    classDef bashClass %s\n", bashClass))
	sb.WriteString(fmt.Sprintf("    classDef sqlClass %s\n", sqlClass))
	sb.WriteString(fmt.Sprintf("    classDef normalClass %s\n", normalClass))

	for _, task := range dag.Tasks() {
		switch task.Operator.Kind() {
		case "bash":
			sb.WriteString(fmt.Sprintf("    class %s bashClass;\n", task.ID()))
		case "sql":
			sb.WriteString(fmt.Sprintf("    class %s sqlClass;\n", task.ID()))
		default:
			sb.WriteString(fmt.Sprintf("    class %s normalClass;\n", task.ID()))
		}
	}
	return sb.String()
}
