package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

type MockDagService struct {
	ListDagsFunc         func() ([]*domain.DagDefinition, error)
	GetDagFunc           func(dagID string) (*domain.DagDefinition, *core.DAG, error)
	SetPausedFunc        func(dagID string, paused bool) error
	ListRunsFunc         func(dagID string, limit int) ([]*domain.DagRun, error)
	TriggerRunFunc       func(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error)
	BackfillFunc         func(ctx context.Context, dagID string, from, to time.Time) (*models.BackfillResponse, error)
	GetRunFunc           func(id int64) (*domain.DagRun, error)
	GetTaskInstancesFunc func(runID int64) ([]*domain.TaskInstance, error)
}

func (m *MockDagService) ListDags() ([]*domain.DagDefinition, error) {
	return m.ListDagsFunc()
}
func (m *MockDagService) GetDag(dagID string) (*domain.DagDefinition, *core.DAG, error) {
	return m.GetDagFunc(dagID)
}
func (m *MockDagService) SetPaused(dagID string, paused bool) error {
	return m.SetPausedFunc(dagID, paused)
}
func (m *MockDagService) ListRuns(dagID string, limit int) ([]*domain.DagRun, error) {
	return m.ListRunsFunc(dagID, limit)
}
func (m *MockDagService) TriggerRun(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error) {
	return m.TriggerRunFunc(ctx, dagID, req)
}
func (m *MockDagService) Backfill(ctx context.Context, dagID string, from, to time.Time) (*models.BackfillResponse, error) {
	return m.BackfillFunc(ctx, dagID, from, to)
}
func (m *MockDagService) GetRun(id int64) (*domain.DagRun, error) {
	return m.GetRunFunc(id)
}
func (m *MockDagService) GetTaskInstances(runID int64) ([]*domain.TaskInstance, error) {
	return m.GetTaskInstancesFunc(runID)
}

var startDate = time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC)

func sampleDag() (*domain.DagDefinition, *core.DAG) {
	dag := core.NewDAG("sample", models.DefaultArgs{Owner: "airflow"}, core.WithSchedule("@daily"), core.WithStartDate(startDate))
	dag.AddTask("only", nil)
	def := &domain.DagDefinition{DagID: "sample", Owner: "airflow", Schedule: "@daily", StartDate: startDate, Retries: 5, RetryDelaySeconds: 120}
	return def, dag
}

func serve(c *DagsController, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	c.RegisterRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestDagsController_GetDag(t *testing.T) {
	svc := &MockDagService{
		GetDagFunc: func(dagID string) (*domain.DagDefinition, *core.DAG, error) {
			if dagID != "sample" {
				return nil, nil, fmt.Errorf("%w: %s", dags.ErrDagNotFound, dagID)
			}
			def, dag := sampleDag()
			return def, dag, nil
		},
	}
	c := NewDagsController(svc, "")

	w := serve(c, httptest.NewRequest("GET", "/api/dags/sample", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got models.DagApiResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.DagID != "sample" || got.RetryDelay != "2m0s" || len(got.Tasks) != 1 {
		t.Errorf("Unexpected response: %+v", got)
	}

	w = serve(c, httptest.NewRequest("GET", "/api/dags/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDagsController_PauseUnpause(t *testing.T) {
	paused := false
	svc := &MockDagService{
		SetPausedFunc: func(dagID string, p bool) error {
			paused = p
			return nil
		},
		GetDagFunc: func(dagID string) (*domain.DagDefinition, *core.DAG, error) {
			def, dag := sampleDag()
			def.IsPaused = paused
			return def, dag, nil
		},
	}
	c := NewDagsController(svc, "")

	w := serve(c, httptest.NewRequest("POST", "/api/dags/sample/pause", nil))
	if w.Code != http.StatusOK || !paused {
		t.Fatalf("Expected paused dag, got status %d paused=%v", w.Code, paused)
	}
	w = serve(c, httptest.NewRequest("POST", "/api/dags/sample/unpause", nil))
	var got models.DagApiResponse
	_ = json.NewDecoder(w.Body).Decode(&got)
	if paused || got.IsPaused {
		t.Errorf("Expected unpaused dag")
	}
}

func TestDagsController_ListRuns(t *testing.T) {
	var gotLimit int
	svc := &MockDagService{
		ListRunsFunc: func(dagID string, limit int) ([]*domain.DagRun, error) {
			gotLimit = limit
			return []*domain.DagRun{{ID: 7, DagID: dagID, RunID: "scheduled__2025-12-16T00:00:00+00:00", State: string(models.RunSuccess)}}, nil
		},
	}
	c := NewDagsController(svc, "")

	w := serve(c, httptest.NewRequest("GET", "/api/dags/sample/runs?limit=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotLimit != 5 {
		t.Errorf("Expected limit 5, got %d", gotLimit)
	}
	var runs []models.DagRunApiResponse
	_ = json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 1 || runs[0].ID != 7 {
		t.Errorf("Unexpected runs: %+v", runs)
	}

	w = serve(c, httptest.NewRequest("GET", "/api/dags/sample/runs?limit=x", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestDagsController_TriggerRun(t *testing.T) {
	svc := &MockDagService{
		TriggerRunFunc: func(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error) {
			if req.Params["table"] != "orders" {
				t.Errorf("Expected params to be passed through, got %v", req.Params)
			}
			return &domain.DagRun{ID: 3, DagID: dagID, RunType: string(models.RunTypeManual), State: string(models.RunQueued)}, nil
		},
	}
	c := NewDagsController(svc, "")

	body := strings.NewReader(`{"params":{"table":"orders"}}`)
	w := serve(c, httptest.NewRequest("POST", "/api/dags/sample/runs", body))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	w = serve(c, httptest.NewRequest("POST", "/api/dags/sample/runs", strings.NewReader(`{"bogus":1}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown field, got %d", w.Code)
	}

	svc.TriggerRunFunc = func(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error) {
		return nil, repository.ErrRunExists
	}
	w = serve(c, httptest.NewRequest("POST", "/api/dags/sample/runs", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestDagsController_Backfill(t *testing.T) {
	svc := &MockDagService{
		BackfillFunc: func(ctx context.Context, dagID string, from, to time.Time) (*models.BackfillResponse, error) {
			return &models.BackfillResponse{Created: []string{"backfill__2025-12-21T00:00:00+00:00"}, Skipped: []string{}}, nil
		},
	}
	c := NewDagsController(svc, "")

	body := `{"from":"2025-12-21T00:00:00Z","to":"2025-12-21T00:00:00Z"}`
	w := serve(c, httptest.NewRequest("POST", "/api/dags/sample/backfill", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp models.BackfillResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Created) != 1 {
		t.Errorf("Unexpected backfill response: %+v", resp)
	}

	body = `{"from":"2025-12-23T00:00:00Z","to":"2025-12-21T00:00:00Z"}`
	w = serve(c, httptest.NewRequest("POST", "/api/dags/sample/backfill", strings.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for reversed range, got %d", w.Code)
	}
}

func TestDagsController_GetRunAndTasks(t *testing.T) {
	svc := &MockDagService{
		GetRunFunc: func(id int64) (*domain.DagRun, error) {
			if id != 1 {
				return nil, engine.ErrRunNotFound
			}
			return &domain.DagRun{ID: 1, DagID: "sample"}, nil
		},
		GetTaskInstancesFunc: func(runID int64) ([]*domain.TaskInstance, error) {
			return []*domain.TaskInstance{{TaskID: "only", State: string(models.TaskSuccess), TryNumber: 1}}, nil
		},
	}
	c := NewDagsController(svc, "")

	if w := serve(c, httptest.NewRequest("GET", "/api/runs/1", nil)); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w := serve(c, httptest.NewRequest("GET", "/api/runs/2", nil)); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := serve(c, httptest.NewRequest("GET", "/api/runs/abc", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w := serve(c, httptest.NewRequest("GET", "/api/runs/1/tasks", nil))
	var tasks []models.TaskInstanceApiResponse
	_ = json.NewDecoder(w.Body).Decode(&tasks)
	if len(tasks) != 1 || tasks[0].TaskID != "only" {
		t.Errorf("Unexpected tasks: %+v", tasks)
	}
}

func TestDagsController_RequiresApiKey(t *testing.T) {
	svc := &MockDagService{ListDagsFunc: func() ([]*domain.DagDefinition, error) { return nil, nil }}
	c := NewDagsController(svc, "$2a$10$invalidhashvalueforthistestonlyxxxxxxxxxxxxxxxxxxxxxx")

	w := serve(c, httptest.NewRequest("GET", "/api/dags", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}
