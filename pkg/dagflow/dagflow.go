// Package dagflow boots the metadata database, the dag engine, the HTTP API
// and the web view.
package dagflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	_ "github.com/mattn/go-sqlite3"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/connections"
	"github.com/afrith/dagflow/internal/controllers"
	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/internal/engine"
	"github.com/afrith/dagflow/internal/migrations"
	"github.com/afrith/dagflow/internal/repository"
	"github.com/afrith/dagflow/internal/web"
	"github.com/afrith/dagflow/pkg/dagflow/core"
)

// Start boots the engine and HTTP server and blocks until ctx is cancelled
// or the server fails. A nil mux gets a fresh one.
func Start(ctx context.Context, mux *http.ServeMux) error {
	conns, err := LoadConnections()
	if err != nil {
		return err
	}
	defer conns.Close()

	registry, err := LoadDags(conns)
	if err != nil {
		return err
	}

	db, err := OpenDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	executorRepo := repository.NewExecutorRepository(db)
	manager := NewManager(db, registry)

	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go manager.StartEngine(engineCtx, config.GetSystemSettingDuration(config.ENGINE_CHECK_DB_INTERVAL))

	if mux == nil {
		mux = http.NewServeMux()
	}
	apiKeyHash := config.GetSystemSettingString(config.API_KEY_HASH)
	controllers.NewDagsController(manager, apiKeyHash).RegisterRoutes(mux)
	controllers.NewExecutorsController(executorRepo, apiKeyHash).RegisterRoutes(mux)
	web.NewWebController(manager, executorRepo, apiKeyHash).RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutting down HTTP server")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	}
}

// NewManager wires the repositories for db into a dag manager. The engine is
// not started.
func NewManager(db *sql.DB, registry *dags.Registry) *engine.DagManager {
	clock := core.NewRealClock()
	return engine.NewDagManager(
		registry,
		repository.NewDagRepository(db),
		repository.NewDagRunRepository(db, clock),
		repository.NewTaskInstanceRepository(db, clock),
		repository.NewExecutorRepository(db),
		clock,
	)
}

// LoadConnections builds the connection registry, reading GFLOW_CONNECTIONS_FILE
// when set. Ids not in the file fall back to GFLOW_CONN_<ID> variables.
func LoadConnections() (*connections.Registry, error) {
	conns := connections.NewRegistry()
	if path := config.GetSystemSettingString(config.CONNECTIONS_FILE); path != "" {
		if err := conns.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return conns, nil
}

// LoadDags returns the builtin dags plus every YAML dag in GFLOW_DAGS_FOLDER.
func LoadDags(conns *connections.Registry) (*dags.Registry, error) {
	registry, err := dags.NewRegistry(dags.Builtin(conns)...)
	if err != nil {
		return nil, err
	}
	folder := config.GetSystemSettingString(config.DAGS_FOLDER)
	if folder == "" {
		return registry, nil
	}
	loaded, err := dags.LoadFolder(folder, conns)
	if err != nil {
		return nil, err
	}
	for _, d := range loaded {
		if err := registry.Add(d); err != nil {
			return nil, err
		}
	}
	slog.Info("Dags registered", "count", registry.Len())
	return registry, nil
}

// OpenDatabase migrates and opens the metadata database selected by
// GFLOW_DATABASE_TYPE.
func OpenDatabase() (*sql.DB, error) {
	switch databaseType := config.GetSystemSettingString(config.DATABASE_TYPE); databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		return setupPostgresDatabase()
	case config.DATABASE_TYPE_MYSQL:
		return setupMysqlDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		return setupSqlLiteDatabase()
	default:
		return nil, fmt.Errorf("GFLOW_DATABASE_TYPE must be one of POSTGRES, MYSQL, SQLLITE, got %q", databaseType)
	}
}

func setupPostgresDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, errors.New("GFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Running migrations", "database", "postgres")
	if err := migrations.Run("postgres", dbURL); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return pingDatabase(db)
}

func setupSqlLiteDatabase() (*sql.DB, error) {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		return nil, errors.New("GFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	slog.Info("Running migrations", "database", "sqlite", "file", fileName)
	if err := migrations.Run("sqllite3", "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	return pingDatabase(db)
}

func setupMysqlDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, errors.New("GFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, errors.New("GFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, errors.New("GFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	slog.Info("Running migrations", "database", "mysql")
	if err := migrations.Run("mysql", dbURL); err != nil {
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}
	db, err := sql.Open("mysql", strings.TrimPrefix(dbURL, "mysql://"))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return pingDatabase(db)
}

// pingDatabase closes db when it cannot be reached.
func pingDatabase(db *sql.DB) (*sql.DB, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// SetupLogger installs a tint handler on the default slog logger with the
// level taken from GFLOW_LOG_LEVEL.
func SetupLogger() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLevel(config.GetSystemSettingString(config.LOG_LEVEL)),
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
