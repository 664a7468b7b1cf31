package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

type MockClock struct{ now time.Time }

func (c *MockClock) Now() time.Time                         { return c.now }
func (c *MockClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c *MockClock) Sleep(d time.Duration)                  { c.now = c.now.Add(d) }

// MockOperator returns the results in order, repeating the last one.
type MockOperator struct {
	mu      sync.Mutex
	results []error
	calls   []core.TaskContext
	panics  bool
}

func (o *MockOperator) Kind() string   { return "mock" }
func (o *MockOperator) Source() string { return "mock" }
func (o *MockOperator) Execute(ctx context.Context, tc *core.TaskContext) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, *tc)
	if o.panics {
		panic("boom")
	}
	if len(o.results) == 0 {
		return "ok", nil
	}
	idx := len(o.calls) - 1
	if idx >= len(o.results) {
		idx = len(o.results) - 1
	}
	if err := o.results[idx]; err != nil {
		return "failed output", err
	}
	return "ok", nil
}

type MockDagSource struct {
	dags map[string]*core.DAG
}

func newMockDagSource(list ...*core.DAG) *MockDagSource {
	s := &MockDagSource{dags: map[string]*core.DAG{}}
	for _, d := range list {
		s.dags[d.ID] = d
	}
	return s
}

func (s *MockDagSource) Get(id string) (*core.DAG, error) {
	d, ok := s.dags[id]
	if !ok {
		return nil, fmt.Errorf("dag not found: %s", id)
	}
	return d, nil
}

func (s *MockDagSource) All() []*core.DAG {
	out := make([]*core.DAG, 0, len(s.dags))
	for _, d := range s.dags {
		out = append(out, d)
	}
	return out
}

type MockDagRepo struct {
	SaveFunc      func(def *domain.DagDefinition) error
	FindByIDFunc  func(dagID string) (*domain.DagDefinition, error)
	FindAllFunc   func() ([]*domain.DagDefinition, error)
	SetPausedFunc func(dagID string, paused bool) error
}

func (m *MockDagRepo) Save(def *domain.DagDefinition) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(def)
	}
	return nil
}
func (m *MockDagRepo) FindByID(dagID string) (*domain.DagDefinition, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(dagID)
	}
	return &domain.DagDefinition{DagID: dagID}, nil
}
func (m *MockDagRepo) FindAll() ([]*domain.DagDefinition, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockDagRepo) SetPaused(dagID string, paused bool) error {
	if m.SetPausedFunc != nil {
		return m.SetPausedFunc(dagID, paused)
	}
	return nil
}

// MockDagRunRepo keeps runs in memory; function fields override single calls.
type MockDagRunRepo struct {
	mu                    sync.Mutex
	runs                  []*domain.DagRun
	released              map[int64]time.Time
	finished              map[int64]models.RunState
	CreateFunc            func(run *domain.DagRun, taskIDs []string) (int64, error)
	FindDueRunsFunc       func(limit int) ([]*domain.DagRun, error)
	CountRunningFunc      func(dagID string) (int, error)
	LockRunByModifiedFunc func(id int64, executorID int64, modified time.Time) bool
	FindStuckRunsFunc     func(repairAfter time.Duration, limit int) ([]*domain.DagRun, error)
	tasks                 *MockTaskInstanceRepo
}

func newMockDagRunRepo(tasks *MockTaskInstanceRepo) *MockDagRunRepo {
	return &MockDagRunRepo{released: map[int64]time.Time{}, finished: map[int64]models.RunState{}, tasks: tasks}
}

func (m *MockDagRunRepo) Create(run *domain.DagRun, taskIDs []string) (int64, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(run, taskIDs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.DagID == run.DagID && (r.RunID == run.RunID || r.LogicalDate.Equal(run.LogicalDate)) {
			return 0, errRunExists(run)
		}
	}
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, run)
	if m.tasks != nil {
		for _, id := range taskIDs {
			_, _ = m.tasks.Create(run.ID, id)
		}
	}
	return run.ID, nil
}
func (m *MockDagRunRepo) FindByID(id int64) (*domain.DagRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errNotFound(id)
}
func (m *MockDagRunRepo) FindByRunID(dagID, runID string) (*domain.DagRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.DagID == dagID && r.RunID == runID {
			return r, nil
		}
	}
	return nil, errNotFound(0)
}
func (m *MockDagRunRepo) FindByDag(dagID string, limit int) ([]*domain.DagRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DagRun
	for _, r := range m.runs {
		if r.DagID == dagID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *MockDagRunRepo) LatestLogicalDate(dagID string, runType models.RunType) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, r := range m.runs {
		if r.DagID == dagID && r.RunType == string(runType) && (latest == nil || r.LogicalDate.After(*latest)) {
			t := r.LogicalDate
			latest = &t
		}
	}
	return latest, nil
}
func (m *MockDagRunRepo) FindDueRuns(limit int) ([]*domain.DagRun, error) {
	if m.FindDueRunsFunc != nil {
		return m.FindDueRunsFunc(limit)
	}
	return nil, nil
}
func (m *MockDagRunRepo) CountRunning(dagID string) (int, error) {
	if m.CountRunningFunc != nil {
		return m.CountRunningFunc(dagID)
	}
	return 0, nil
}
func (m *MockDagRunRepo) LockRunByModified(id int64, executorID int64, modified time.Time) bool {
	if m.LockRunByModifiedFunc != nil {
		return m.LockRunByModifiedFunc(id, executorID, modified)
	}
	return true
}
func (m *MockDagRunRepo) MarkRunning(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			r.State = string(models.RunRunning)
		}
	}
	return nil
}
func (m *MockDagRunRepo) Finish(id int64, state models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[id] = state
	for _, r := range m.runs {
		if r.ID == id {
			r.State = string(state)
		}
	}
	return nil
}
func (m *MockDagRunRepo) Release(id int64, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[id] = next
	return nil
}
func (m *MockDagRunRepo) FindStuckRuns(repairAfter time.Duration, limit int) ([]*domain.DagRun, error) {
	if m.FindStuckRunsFunc != nil {
		return m.FindStuckRunsFunc(repairAfter, limit)
	}
	return nil, nil
}

// MockTaskInstanceRepo keeps task instances in memory.
type MockTaskInstanceRepo struct {
	mu    sync.Mutex
	items []*domain.TaskInstance
}

func (m *MockTaskInstanceRepo) find(id int64) *domain.TaskInstance {
	for _, ti := range m.items {
		if ti.ID == id {
			return ti
		}
	}
	return nil
}

func (m *MockTaskInstanceRepo) byTask(runID int64, taskID string) *domain.TaskInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ti := range m.items {
		if ti.DagRunID == runID && ti.TaskID == taskID {
			return ti
		}
	}
	return nil
}

func (m *MockTaskInstanceRepo) FindByRun(dagRunID int64) ([]*domain.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TaskInstance
	for _, ti := range m.items {
		if ti.DagRunID == dagRunID {
			cp := *ti
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (m *MockTaskInstanceRepo) Create(dagRunID int64, taskID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ti := &domain.TaskInstance{ID: int64(len(m.items) + 1), DagRunID: dagRunID, TaskID: taskID, State: string(models.TaskNone)}
	m.items = append(m.items, ti)
	return ti.ID, nil
}
func (m *MockTaskInstanceRepo) MarkRunning(id int64, tryNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ti := m.find(id)
	ti.State, ti.TryNumber, ti.NextAttempt = string(models.TaskRunning), tryNumber, sql.NullTime{}
	return nil
}
func (m *MockTaskInstanceRepo) Finish(id int64, state models.TaskState, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ti := m.find(id)
	ti.State, ti.Output = string(state), sql.NullString{String: output, Valid: true}
	return nil
}
func (m *MockTaskInstanceRepo) MarkUpForRetry(id int64, next time.Time, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ti := m.find(id)
	ti.State, ti.Output = string(models.TaskUpForRetry), sql.NullString{String: output, Valid: true}
	ti.NextAttempt = sql.NullTime{Time: next, Valid: true}
	return nil
}
func (m *MockTaskInstanceRepo) MarkUpstreamFailed(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.find(id).State = string(models.TaskUpstreamFailed)
	return nil
}

type MockExecutorRepo struct {
	SaveFunc                     func(e *domain.Executor) (int64, error)
	UpdateLastActiveFunc         func(id int64, ts time.Time) error
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}
func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(id, ts)
	}
	return nil
}
func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

func errRunExists(run *domain.DagRun) error {
	return fmt.Errorf("%w: %s %s", repository.ErrRunExists, run.DagID, run.RunID)
}

func errNotFound(id int64) error {
	return fmt.Errorf("dag run %d: %w", id, repository.ErrNotFound)
}
