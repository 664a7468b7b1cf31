package web

import "net/http"

func (c *WebController) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /login", c.loginPageHandler)
	mux.HandleFunc("POST /login", c.loginSubmitHandler)

	// Protected routes
	mux.HandleFunc("GET /{$}", c.RequireSession(c.dagsHandler))
	mux.HandleFunc("POST /logout", c.RequireSession(c.logoutHandler))
	mux.HandleFunc("GET /dags/{dagId}", c.RequireSession(c.dagHandler))
	mux.HandleFunc("GET /runs/{id}", c.RequireSession(c.runHandler))
	mux.HandleFunc("GET /executors", c.RequireSession(c.executorsHandler))
}
