package dagflow

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/dags"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestLoadDags_BuiltinAndFolder(t *testing.T) {
	dir := t.TempDir()
	content := `dag_id: extra
default_args:
  owner: airflow
schedule: "@hourly"
start_date: "2025-12-16"
tasks:
  - task_id: hello
    bash_command: echo hello
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(content), 0o600))
	t.Setenv(config.DAGS_FOLDER, dir)

	conns, err := LoadConnections()
	require.NoError(t, err)
	registry, err := LoadDags(conns)
	require.NoError(t, err)

	_, err = registry.Get("extra")
	assert.NoError(t, err)
	_, err = registry.Get(dags.CatchupAndBackfillID)
	assert.NoError(t, err)
}

func TestOpenDatabase_SQLite(t *testing.T) {
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	t.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filepath.Join(t.TempDir(), "meta.db"))

	db, err := OpenDatabase()
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dag_runs").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpenDatabase_UnknownType(t *testing.T) {
	t.Setenv(config.DATABASE_TYPE, "ORACLE")
	_, err := OpenDatabase()
	assert.Error(t, err)
}

func TestPingDatabase_ClosesUnreachable(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://u:p@127.0.0.1:1/meta?sslmode=disable&connect_timeout=1")
	require.NoError(t, err)

	got, err := pingDatabase(db)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorContains(t, db.Ping(), "database is closed")
}
