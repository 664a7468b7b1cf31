//go:build integration

package common

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/pkg/dagflow"
)

// ApiKey is sent as X-API-Key; its bcrypt hash is installed by StartServer.
const ApiKey = "b5f0e8c4-daa6-465c-bded-50ca22b798b2"

const (
	EchoDagID  = "it_echo"
	FlakyDagID = "it_flaky"
)

const echoDag = `
dag_id: it_echo
default_args:
  owner: it
schedule: None
start_date: "2025-12-16"
tasks:
  - task_id: print_date
    bash_command: echo "{{ ds }}"
  - task_id: done
    bash_command: echo done
    upstream: [print_date]
`

const flakyDag = `
dag_id: it_flaky
default_args:
  owner: it
  retries: 1
  retry_delay: 1s
schedule: "@daily"
start_date: "2025-12-16"
catchup: false
tasks:
  - task_id: boom
    bash_command: exit 3
  - task_id: after
    bash_command: echo unreachable
    upstream: [boom]
`

var portBase int32 = 9118

func nextPort() int {
	return int(atomic.AddInt32(&portBase, 1))
}

// StartServer writes the integration dags, points the engine at them with
// short intervals and runs dagflow.Start until the test ends. The database
// settings must already be in the environment.
func StartServer(t *testing.T) *Client {
	t.Helper()

	dir := t.TempDir()
	for name, content := range map[string]string{"echo.yaml": echoDag, "flaky.yaml": flakyDag} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("Failed to write dag file: %v", err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(ApiKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash api key: %v", err)
	}

	port := nextPort()
	t.Setenv("HTTP_ADDR", ":"+strconv.Itoa(port))
	t.Setenv(config.DAGS_FOLDER, dir)
	t.Setenv(config.API_KEY_HASH, string(hash))
	t.Setenv(config.ENGINE_CHECK_DB_INTERVAL, "200ms")
	t.Setenv(config.ENGINE_SCHEDULER_INTERVAL, "500ms")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := dagflow.Start(ctx, nil); err != nil {
			slog.Error("Engine exited with error", "error", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := &Client{
		BaseURL: fmt.Sprintf("http://localhost:%d", port),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	c.WaitForServer(t, 30*time.Second)
	return c
}
