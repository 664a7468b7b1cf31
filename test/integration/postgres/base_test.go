//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/internal/connections"
	"github.com/afrith/dagflow/test/integration/common"
)

func SetupPostgresTestInstance(t *testing.T) string {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_USER":     "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("error starting postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	return "postgres://test:test@" + host + ":" + port.Port()
}

// createDatabase adds a database next to the metadata one for the sql workflow.
func createDatabase(t *testing.T, base, name string) string {
	db, err := sql.Open("postgres", base+"/testdb?sslmode=disable")
	if err != nil {
		t.Fatalf("error connecting to postgres: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE DATABASE " + name); err != nil {
		t.Fatalf("error creating database %s: %v", name, err)
	}
	return base + "/" + name + "?sslmode=disable"
}

func runTestWithSetup(t *testing.T, testFunc func(t *testing.T, c *common.Client)) {
	base := SetupPostgresTestInstance(t)
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_POSTGRES)
	t.Setenv(config.DATABASE_URL, base+"/testdb?sslmode=disable")
	t.Setenv(connections.EnvPrefix+"POSTGRES_LOCALHOST", createDatabase(t, base, "warehouse"))
	testFunc(t, common.StartServer(t))
}

func TestPostgres_ManualRunSucceeds(t *testing.T) {
	runTestWithSetup(t, common.ManualRunSucceeds)
}

func TestPostgres_RetryThenFail(t *testing.T) {
	runTestWithSetup(t, common.RetryThenFail)
}

func TestPostgres_SQLWorkflow(t *testing.T) {
	runTestWithSetup(t, common.SQLWorkflowSucceeds)
}
