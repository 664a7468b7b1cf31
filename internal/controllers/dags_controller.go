package controllers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/internal/schedule"
	"github.com/afrith/dagflow/internal/util"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// DagService is the part of engine.DagManager the HTTP layer uses.
type DagService interface {
	ListDags() ([]*domain.DagDefinition, error)
	GetDag(dagID string) (*domain.DagDefinition, *core.DAG, error)
	SetPaused(dagID string, paused bool) error
	ListRuns(dagID string, limit int) ([]*domain.DagRun, error)
	TriggerRun(ctx context.Context, dagID string, req models.TriggerRunRequest) (*domain.DagRun, error)
	Backfill(ctx context.Context, dagID string, from, to time.Time) (*models.BackfillResponse, error)
	GetRun(id int64) (*domain.DagRun, error)
	GetTaskInstances(runID int64) ([]*domain.TaskInstance, error)
}

const defaultRunsLimit = 50

var validate = validator.New(validator.WithRequiredStructEnabled())

// DagsController holds dependencies for dag and run HTTP endpoints.
type DagsController struct {
	AuthController
	Manager DagService
}

func NewDagsController(manager DagService, apiKeyHash string) *DagsController {
	return &DagsController{Manager: manager, AuthController: NewAuthController(apiKeyHash)}
}

func (c *DagsController) handleListDags(w http.ResponseWriter, r *http.Request) {
	defs, err := c.Manager.ListDags()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.DagApiResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, mapDagToApi(d, nil))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *DagsController) handleGetDag(w http.ResponseWriter, r *http.Request) {
	def, dag, err := c.Manager.GetDag(r.PathValue("dagId"))
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapDagToApi(def, dag))
}

func (c *DagsController) handlePause(w http.ResponseWriter, r *http.Request) {
	c.setPaused(w, r, true)
}

func (c *DagsController) handleUnpause(w http.ResponseWriter, r *http.Request) {
	c.setPaused(w, r, false)
}

func (c *DagsController) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	dagID := r.PathValue("dagId")
	if err := c.Manager.SetPaused(dagID, paused); err != nil {
		writeError(w, err)
		return
	}
	def, dag, err := c.Manager.GetDag(dagID)
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapDagToApi(def, dag))
}

func (c *DagsController) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := c.Manager.ListRuns(r.PathValue("dagId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.DagRunApiResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, mapRunToApi(run))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *DagsController) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.TriggerRunRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	run, err := c.Manager.TriggerRun(r.Context(), r.PathValue("dagId"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, mapRunToApi(run))
}

func (c *DagsController) handleBackfill(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.BackfillRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := c.Manager.Backfill(r.Context(), r.PathValue("dagId"), req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}

func (c *DagsController) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := c.Manager.GetRun(id)
	if err != nil {
		writeError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapRunToApi(run))
}

func (c *DagsController) handleGetRunTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tasks, err := c.Manager.GetTaskInstances(id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.TaskInstanceApiResponse, 0, len(tasks))
	for _, ti := range tasks {
		out = append(out, models.TaskInstanceApiResponse{
			TaskID:      ti.TaskID,
			State:       ti.State,
			TryNumber:   ti.TryNumber,
			Started:     nullTime(ti.Started),
			Ended:       nullTime(ti.Ended),
			NextAttempt: nullTime(ti.NextAttempt),
			Output:      ti.Output.String,
		})
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dags.ErrDagNotFound), errors.Is(err, engine.ErrRunNotFound), errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrRunExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, schedule.ErrNotSchedulable), errors.Is(err, schedule.ErrInvalidSchedule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func mapDagToApi(def *domain.DagDefinition, dag *core.DAG) models.DagApiResponse {
	resp := models.DagApiResponse{
		DagID:       def.DagID,
		Description: def.Description,
		Owner:       def.Owner,
		Schedule:    def.Schedule,
		StartDate:   def.StartDate,
		Catchup:     def.Catchup,
		Retries:     def.Retries,
		RetryDelay:  (time.Duration(def.RetryDelaySeconds) * time.Second).String(),
		IsPaused:    def.IsPaused,
	}
	if dag != nil {
		resp.Tasks = dag.TaskIDs()
		resp.FlowChart = def.FlowChart
	}
	return resp
}

func mapRunToApi(run *domain.DagRun) models.DagRunApiResponse {
	resp := models.DagRunApiResponse{
		ID:                run.ID,
		DagID:             run.DagID,
		RunID:             run.RunID,
		RunType:           run.RunType,
		State:             run.State,
		LogicalDate:       run.LogicalDate,
		DataIntervalStart: run.DataIntervalStart,
		DataIntervalEnd:   run.DataIntervalEnd,
		Created:           run.Created,
		Started:           nullTime(run.Started),
		Ended:             nullTime(run.Ended),
	}
	if run.Params.Valid && run.Params.String != "" {
		_ = json.Unmarshal([]byte(run.Params.String), &resp.Params)
	}
	return resp
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
