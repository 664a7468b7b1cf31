package dags

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrith/dagflow/internal/connections"
)

const yamlDag = `
dag_id: yaml_dag
description: loaded from yaml
default_args:
  owner: afrith
  retries: 2
  retry_delay: 30s
schedule: "@hourly"
start_date: "2025-12-16"
catchup: false
tasks:
  - task_id: extract
    bash_command: echo extract {{ ds }}
  - task_id: load
    sql: INSERT INTO t (dt) VALUES ('{{ ds }}')
    conn_id: postgres_localhost
    upstream: [extract]
    retries: 0
`

func TestLoadFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlDag), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	loaded, err := LoadFolder(dir, connections.NewRegistry())
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	d := loaded[0]
	require.NoError(t, Validate(d))
	assert.Equal(t, "yaml_dag", d.ID)
	assert.False(t, d.Catchup)
	assert.Equal(t, 30*time.Second, d.DefaultArgs.RetryDelay)
	assert.Equal(t, time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC), d.StartDate)
	assert.Equal(t, []string{"extract"}, d.Upstream("load"))
	load, _ := d.Task("load")
	assert.Equal(t, 0, load.RetryConfig().MaxRetryCount)
}

const sameCommandDag = `
dag_id: same_command
default_args:
  owner: afrith
schedule: "@daily"
start_date: "2025-12-16"
tasks:
  - task_id: first
    bash_command: echo hi
    upstream: [second]
  - task_id: second
    bash_command: echo hi
`

func TestLoadFolder_TasksSharingACommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "same.yaml"), []byte(sameCommandDag), 0o600))

	loaded, err := LoadFolder(dir, connections.NewRegistry())
	require.NoError(t, err)
	reg, err := NewRegistry(loaded...)
	require.NoError(t, err)

	d, err := reg.Get("same_command")
	require.NoError(t, err)
	order, err := d.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "second", order[0].ID())
	assert.Equal(t, "first", order[1].ID())
}

func TestFileBuild_Errors(t *testing.T) {
	f := File{DagID: "x", Tasks: []TaskFile{{TaskID: "a"}}}
	_, err := f.Build(nil)
	assert.Error(t, err)

	f = File{DagID: "x", Tasks: []TaskFile{{TaskID: "a", BashCommand: "true", Upstream: []string{"ghost"}}}}
	_, err = f.Build(nil)
	assert.ErrorContains(t, err, "ghost")

	f = File{DagID: "x", StartDate: "yesterday"}
	_, err = f.Build(nil)
	assert.Error(t, err)
}
