//go:build integration

package common

import (
	"net/http"
	"testing"
	"time"

	"github.com/afrith/dagflow/internal/dags"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

func day(d int) time.Time { return time.Date(2025, 12, d, 0, 0, 0, 0, time.UTC) }

// ManualRunSucceeds triggers the echo dag and waits for both tasks to succeed.
func ManualRunSucceeds(t *testing.T, c *Client) {
	logical := day(18)
	run := c.TriggerRun(t, EchoDagID, models.TriggerRunRequest{LogicalDate: &logical, Params: map[string]string{"k": "v"}})
	if run.RunID != "manual__2025-12-18T00:00:00+00:00" {
		t.Errorf("Unexpected run id %s", run.RunID)
	}
	c.WaitForRunState(t, run.ID, models.RunSuccess, 30*time.Second)

	tasks := c.TaskStates(t, run.ID)
	for _, id := range []string{"print_date", "done"} {
		if tasks[id].State != string(models.TaskSuccess) {
			t.Errorf("Expected task %s to succeed, got %s", id, tasks[id].State)
		}
	}
	if tasks["print_date"].Output != "2025-12-18" {
		t.Errorf("Expected rendered ds in output, got %q", tasks["print_date"].Output)
	}

	// the same logical date again conflicts
	resp := c.do(t, "POST", "/api/dags/"+EchoDagID+"/runs", models.TriggerRunRequest{LogicalDate: &logical})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate logical date, got %d", resp.StatusCode)
	}
}

// RetryThenFail runs the flaky dag: one retry, then failed with the
// downstream task upstream_failed.
func RetryThenFail(t *testing.T, c *Client) {
	c.Pause(t, FlakyDagID)
	logical := day(20)
	run := c.TriggerRun(t, FlakyDagID, models.TriggerRunRequest{LogicalDate: &logical})

	// runs of a paused dag are not picked up
	time.Sleep(time.Second)
	if got := c.GetRun(t, run.ID); got.State != string(models.RunQueued) {
		t.Fatalf("Expected run of paused dag to stay queued, got %s", got.State)
	}

	resp := c.do(t, "POST", "/api/dags/"+FlakyDagID+"/unpause", nil)
	resp.Body.Close()
	c.WaitForRunState(t, run.ID, models.RunFailed, 30*time.Second)

	tasks := c.TaskStates(t, run.ID)
	if tasks["boom"].State != string(models.TaskFailed) || tasks["boom"].TryNumber != 2 {
		t.Errorf("Expected boom failed on try 2, got %+v", tasks["boom"])
	}
	if tasks["after"].State != string(models.TaskUpstreamFailed) {
		t.Errorf("Expected after upstream_failed, got %s", tasks["after"].State)
	}
}

// BackfillCreatesRuns backfills three days of the catchup dag, then repeats
// the request and expects every interval to be skipped.
func BackfillCreatesRuns(t *testing.T, c *Client) {
	c.Pause(t, dags.CatchupAndBackfillID)

	first := c.Backfill(t, dags.CatchupAndBackfillID, day(21), day(23))
	if len(first.Created)+len(first.Skipped) != 3 {
		t.Fatalf("Expected three intervals, got %+v", first)
	}
	again := c.Backfill(t, dags.CatchupAndBackfillID, day(21), day(23))
	if len(again.Created) != 0 || len(again.Skipped) != 3 {
		t.Errorf("Expected repeat backfill to skip everything, got %+v", again)
	}
}

// SQLWorkflowSucceeds backfills one day of the postgres operator dag and
// checks the row it writes. GFLOW_CONN_POSTGRES_LOCALHOST must point at a
// reachable postgres.
func SQLWorkflowSucceeds(t *testing.T, c *Client) {
	c.Pause(t, dags.PostgresOperatorDagID)
	resp := c.Backfill(t, dags.PostgresOperatorDagID, day(16), day(16))
	if len(resp.Created) != 1 {
		t.Fatalf("Expected one backfill run, got %+v", resp)
	}
	c.do(t, "POST", "/api/dags/"+dags.PostgresOperatorDagID+"/unpause", nil).Body.Close()

	var backfill *models.DagRunApiResponse
	for _, r := range c.ListRuns(t, dags.PostgresOperatorDagID) {
		if r.RunID == resp.Created[0] {
			backfill = &r
		}
	}
	if backfill == nil {
		t.Fatalf("Backfill run %s not listed", resp.Created[0])
	}
	c.WaitForRunState(t, backfill.ID, models.RunSuccess, 60*time.Second)

	tasks := c.TaskStates(t, backfill.ID)
	if len(tasks) != 3 {
		t.Errorf("Expected three sql tasks, got %d", len(tasks))
	}
}
