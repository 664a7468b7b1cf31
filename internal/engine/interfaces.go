package engine

import (
	"time"

	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// DagRepo defines the interface for dag definition persistence, matching repository.DagRepository.
type DagRepo interface {
	Save(def *domain.DagDefinition) error
	FindByID(dagID string) (*domain.DagDefinition, error)
	FindAll() ([]*domain.DagDefinition, error)
	SetPaused(dagID string, paused bool) error
}

// DagRunRepo defines the interface for dag run persistence, matching repository.DagRunRepository.
type DagRunRepo interface {
	Create(run *domain.DagRun, taskIDs []string) (int64, error)
	FindByID(id int64) (*domain.DagRun, error)
	FindByRunID(dagID, runID string) (*domain.DagRun, error)
	FindByDag(dagID string, limit int) ([]*domain.DagRun, error)
	LatestLogicalDate(dagID string, runType models.RunType) (*time.Time, error)
	FindDueRuns(limit int) ([]*domain.DagRun, error)
	CountRunning(dagID string) (int, error)
	LockRunByModified(id int64, executorID int64, modified time.Time) bool
	MarkRunning(id int64) error
	Finish(id int64, state models.RunState) error
	Release(id int64, next time.Time) error
	FindStuckRuns(repairAfter time.Duration, limit int) ([]*domain.DagRun, error)
}

// TaskInstanceRepo defines the interface for task instance persistence.
type TaskInstanceRepo interface {
	FindByRun(dagRunID int64) ([]*domain.TaskInstance, error)
	Create(dagRunID int64, taskID string) (int64, error)
	MarkRunning(id int64, tryNumber int) error
	Finish(id int64, state models.TaskState, output string) error
	MarkUpForRetry(id int64, next time.Time, output string) error
	MarkUpstreamFailed(id int64) error
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// DagSource resolves the DAGs known to this process, matching dags.Registry.
type DagSource interface {
	Get(id string) (*core.DAG, error)
	All() []*core.DAG
}
