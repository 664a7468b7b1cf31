// Package web serves a read-only HTML view of dags, runs and executors.
package web

import (
	"crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/controllers"
	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

const sessionCookie = "sessionId"
const dateTimeFormat = "2006-01-02 15:04:05"

type WebController struct {
	controllers.AuthController
	manager   controllers.DagService
	executors engine.ExecutorRepo
	sessions  *sessionStore
	tmpl      *template.Template
	now       func() time.Time
}

func NewWebController(manager controllers.DagService, executors engine.ExecutorRepo, apiKeyHash string) *WebController {
	tmpl := template.Must(template.New("").Funcs(template.FuncMap{
		"hasPrefix":  hasPrefix,
		"stateClass": stateCssClass,
	}).ParseFS(templatesFS, "templates/*.html"))
	return &WebController{
		AuthController: controllers.NewAuthController(apiKeyHash),
		manager:        manager,
		executors:      executors,
		sessions:       &sessionStore{sessions: make(map[string]time.Time)},
		tmpl:           tmpl,
		now:            time.Now,
	}
}

type pageData struct {
	Title        string
	CurrentPath  string
	LoginEnabled bool
}

type dagView struct {
	DagID       string
	Description string
	Owner       string
	Schedule    string
	StartDate   string
	Catchup     bool
	Retries     int
	RetryDelay  string
	IsPaused    bool
	FlowChart   string
}

type runView struct {
	ID                int64
	DagID             string
	RunID             string
	RunType           string
	State             string
	DataIntervalStart string
	DataIntervalEnd   string
	Started           string
	Ended             string
}

type taskView struct {
	TaskID      string
	State       string
	TryNumber   int
	Started     string
	Ended       string
	NextAttempt string
	Output      string
}

// ExecutorModel maps executor info for the view.
type ExecutorModel struct {
	ID        int64
	Name      string
	StartedAt string
	LastAlive string
	CssClass  string
}

func (wc *WebController) page(r *http.Request, title string) pageData {
	return pageData{Title: title, CurrentPath: r.URL.Path, LoginEnabled: wc.ApiKeyHash != ""}
}

func (wc *WebController) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := wc.tmpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to execute template", "template", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (wc *WebController) dagsHandler(w http.ResponseWriter, r *http.Request) {
	defs, err := wc.manager.ListDags()
	if err != nil {
		slog.Error("Failed to list dags", "error", err)
		http.Error(w, "Failed to load dags", http.StatusInternalServerError)
		return
	}
	views := make([]dagView, 0, len(defs))
	for _, d := range defs {
		views = append(views, dagView{
			DagID:      d.DagID,
			Owner:      d.Owner,
			Schedule:   d.Schedule,
			StartDate:  d.StartDate.Format(time.DateOnly),
			Catchup:    d.Catchup,
			Retries:    d.Retries,
			RetryDelay: (time.Duration(d.RetryDelaySeconds) * time.Second).String(),
			IsPaused:   d.IsPaused,
		})
	}
	wc.render(w, "dags", struct {
		pageData
		Dags []dagView
	}{wc.page(r, "DAGs"), views})
}

func (wc *WebController) dagHandler(w http.ResponseWriter, r *http.Request) {
	dagID := r.PathValue("dagId")
	def, _, err := wc.manager.GetDag(dagID)
	if errors.Is(err, dags.ErrDagNotFound) {
		http.Error(w, "DAG not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to get dag", "dag_id", dagID, "error", err)
		http.Error(w, "Failed to load dag", http.StatusInternalServerError)
		return
	}
	runs, err := wc.manager.ListRuns(dagID, 25)
	if err != nil {
		slog.Error("Failed to list runs", "dag_id", dagID, "error", err)
		http.Error(w, "Failed to load runs", http.StatusInternalServerError)
		return
	}
	runViews := make([]runView, 0, len(runs))
	for _, run := range runs {
		runViews = append(runViews, runView{
			ID:                run.ID,
			RunID:             run.RunID,
			RunType:           run.RunType,
			State:             run.State,
			DataIntervalStart: run.DataIntervalStart.Format(dateTimeFormat),
			DataIntervalEnd:   run.DataIntervalEnd.Format(dateTimeFormat),
			Started:           formatNullTime(run.Started.Time, run.Started.Valid),
			Ended:             formatNullTime(run.Ended.Time, run.Ended.Valid),
		})
	}
	dv := dagView{
		DagID:       def.DagID,
		Description: def.Description,
		Owner:       def.Owner,
		Schedule:    def.Schedule,
		StartDate:   def.StartDate.Format(time.DateOnly),
		Catchup:     def.Catchup,
		Retries:     def.Retries,
		RetryDelay:  (time.Duration(def.RetryDelaySeconds) * time.Second).String(),
		IsPaused:    def.IsPaused,
		FlowChart:   def.FlowChart,
	}
	wc.render(w, "dag", struct {
		pageData
		Dag  dagView
		Runs []runView
	}{wc.page(r, def.DagID), dv, runViews})
}

func (wc *WebController) runHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	run, err := wc.manager.GetRun(id)
	if errors.Is(err, engine.ErrRunNotFound) || errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to get run", "id", id, "error", err)
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return
	}
	tasks, err := wc.manager.GetTaskInstances(id)
	if err != nil {
		slog.Error("Failed to get task instances", "id", id, "error", err)
		http.Error(w, "Failed to load tasks", http.StatusInternalServerError)
		return
	}
	taskViews := make([]taskView, 0, len(tasks))
	for _, ti := range tasks {
		taskViews = append(taskViews, taskView{
			TaskID:      ti.TaskID,
			State:       ti.State,
			TryNumber:   ti.TryNumber,
			Started:     formatNullTime(ti.Started.Time, ti.Started.Valid),
			Ended:       formatNullTime(ti.Ended.Time, ti.Ended.Valid),
			NextAttempt: formatNullTime(ti.NextAttempt.Time, ti.NextAttempt.Valid),
			Output:      ti.Output.String,
		})
	}
	rv := runView{
		ID:                run.ID,
		DagID:             run.DagID,
		RunID:             run.RunID,
		RunType:           run.RunType,
		State:             run.State,
		DataIntervalStart: run.DataIntervalStart.Format(dateTimeFormat),
		DataIntervalEnd:   run.DataIntervalEnd.Format(dateTimeFormat),
	}
	wc.render(w, "run", struct {
		pageData
		Run   runView
		Tasks []taskView
	}{wc.page(r, run.RunID), rv, taskViews})
}

func (wc *WebController) executorsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := wc.executors.GetExecutorsByLastActive(50)
	if err != nil {
		slog.Error("Failed to list executors", "error", err)
		http.Error(w, "Failed to load executors", http.StatusInternalServerError)
		return
	}
	now := wc.now()
	out := make([]ExecutorModel, 0, len(list))
	for _, e := range list {
		out = append(out, ExecutorModel{
			ID:        e.ID,
			Name:      e.Name,
			StartedAt: e.Started.Format(dateTimeFormat),
			LastAlive: friendlyTimeAgo(now, e.LastActive),
			CssClass:  statusCssClass(now, e.LastActive),
		})
	}
	wc.render(w, "executors", struct {
		pageData
		Executors []ExecutorModel
	}{wc.page(r, "Executors"), out})
}

func (wc *WebController) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	wc.renderLogin(w, r, "")
}

func (wc *WebController) renderLogin(w http.ResponseWriter, r *http.Request, msg string) {
	wc.render(w, "login", struct {
		pageData
		Error string
	}{wc.page(r, "Login"), msg})
}

func (wc *WebController) loginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		wc.renderLogin(w, r, "Invalid form")
		return
	}
	apiKey := r.FormValue("apiKey")
	if wc.ApiKeyHash != "" && bcrypt.CompareHashAndPassword([]byte(wc.ApiKeyHash), []byte(apiKey)) != nil {
		w.WriteHeader(http.StatusUnauthorized)
		wc.renderLogin(w, r, "Invalid API key")
		return
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("rand.Read failed", "error", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	sessionID := hex.EncodeToString(buf)
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expires := wc.now().Add(time.Duration(expiryHours) * time.Hour)
	wc.sessions.put(sessionID, expires)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (wc *WebController) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		wc.sessions.remove(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// RequireSession redirects to the login page unless the request carries a
// live session. Without an API key hash every request passes.
func (wc *WebController) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wc.ApiKeyHash == "" {
			next(w, r)
			return
		}
		c, err := r.Cookie(sessionCookie)
		if err != nil || !wc.sessions.valid(c.Value, wc.now()) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
}

func (s *sessionStore) put(id string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = expires
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *sessionStore) valid(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.sessions[id]
	if ok && now.After(expires) {
		delete(s.sessions, id)
		return false
	}
	return ok
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

func formatNullTime(t time.Time, valid bool) string {
	if !valid {
		return ""
	}
	return t.Format(dateTimeFormat)
}

func friendlyTimeAgo(now, since time.Time) string {
	d := now.Sub(since)
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func statusCssClass(now, last time.Time) string {
	mins := now.Sub(last).Minutes()
	if mins < 2 {
		return "bg-green-300"
	} else if mins < 10 {
		return "bg-amber-200"
	}
	return "bg-gray-200"
}

func stateCssClass(state string) string {
	switch models.RunState(state) {
	case models.RunSuccess:
		return "bg-green-300"
	case models.RunFailed:
		return "bg-red-300"
	case models.RunRunning:
		return "bg-sky-200"
	}
	switch models.TaskState(state) {
	case models.TaskUpForRetry:
		return "bg-amber-200"
	case models.TaskUpstreamFailed:
		return "bg-orange-200"
	}
	return "bg-gray-200"
}
