package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *DagsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dags", c.RequireAuth(c.handleListDags))
	mux.HandleFunc("GET /api/dags/{dagId}", c.RequireAuth(c.handleGetDag))
	mux.HandleFunc("POST /api/dags/{dagId}/pause", c.RequireAuth(c.handlePause))
	mux.HandleFunc("POST /api/dags/{dagId}/unpause", c.RequireAuth(c.handleUnpause))
	mux.HandleFunc("GET /api/dags/{dagId}/runs", c.RequireAuth(c.handleListRuns))
	mux.HandleFunc("POST /api/dags/{dagId}/runs", c.RequireAuth(c.handleTriggerRun))
	mux.HandleFunc("POST /api/dags/{dagId}/backfill", c.RequireAuth(c.handleBackfill))
	mux.HandleFunc("GET /api/runs/{id}", c.RequireAuth(c.handleGetRun))
	mux.HandleFunc("GET /api/runs/{id}/tasks", c.RequireAuth(c.handleGetRunTasks))
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}
