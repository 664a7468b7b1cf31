//go:build integration

package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/afrith/dagflow/internal/util"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// Client calls the dagflow HTTP API with the integration API key.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *Client) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", ApiKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func expect[T any](t *testing.T, resp *http.Response, status int) T {
	t.Helper()
	if resp.StatusCode != status {
		resp.Body.Close()
		t.Fatalf("Expected %d, got %d", status, resp.StatusCode)
	}
	out, err := util.DecodeJSONBodyResponse[T](resp)
	if err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

// WaitForServer polls until the API answers and the integration dags are registered.
func (c *Client) WaitForServer(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.dagsRegistered(EchoDagID, FlakyDagID) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("Server at %s did not come up within %s", c.BaseURL, timeout)
}

func (c *Client) dagsRegistered(ids ...string) bool {
	req, err := http.NewRequest("GET", c.BaseURL+"/api/dags", nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-API-Key", ApiKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return false
	}
	list, err := util.DecodeJSONBodyResponse[[]models.DagApiResponse](resp)
	if err != nil {
		return false
	}
	seen := make(map[string]bool, len(list))
	for _, d := range list {
		seen[d.DagID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return false
		}
	}
	return true
}

func (c *Client) ListDags(t *testing.T) []models.DagApiResponse {
	return expect[[]models.DagApiResponse](t, c.do(t, "GET", "/api/dags", nil), http.StatusOK)
}

func (c *Client) Pause(t *testing.T, dagID string) models.DagApiResponse {
	return expect[models.DagApiResponse](t, c.do(t, "POST", "/api/dags/"+dagID+"/pause", nil), http.StatusOK)
}

func (c *Client) TriggerRun(t *testing.T, dagID string, req models.TriggerRunRequest) models.DagRunApiResponse {
	return expect[models.DagRunApiResponse](t, c.do(t, "POST", "/api/dags/"+dagID+"/runs", req), http.StatusCreated)
}

func (c *Client) Backfill(t *testing.T, dagID string, from, to time.Time) models.BackfillResponse {
	req := models.BackfillRequest{From: from, To: to}
	return expect[models.BackfillResponse](t, c.do(t, "POST", "/api/dags/"+dagID+"/backfill", req), http.StatusOK)
}

func (c *Client) ListRuns(t *testing.T, dagID string) []models.DagRunApiResponse {
	return expect[[]models.DagRunApiResponse](t, c.do(t, "GET", "/api/dags/"+dagID+"/runs", nil), http.StatusOK)
}

func (c *Client) GetRun(t *testing.T, id int64) models.DagRunApiResponse {
	return expect[models.DagRunApiResponse](t, c.do(t, "GET", fmt.Sprintf("/api/runs/%d", id), nil), http.StatusOK)
}

func (c *Client) Tasks(t *testing.T, id int64) []models.TaskInstanceApiResponse {
	return expect[[]models.TaskInstanceApiResponse](t, c.do(t, "GET", fmt.Sprintf("/api/runs/%d/tasks", id), nil), http.StatusOK)
}

// WaitForRunState polls a run until it reaches state or the timeout passes.
func (c *Client) WaitForRunState(t *testing.T, id int64, state models.RunState, timeout time.Duration) models.DagRunApiResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var run models.DagRunApiResponse
	for time.Now().Before(deadline) {
		run = c.GetRun(t, id)
		if run.State == string(state) {
			return run
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("Run %d stayed %s, expected %s", id, run.State, state)
	return run
}

// TaskStates maps task id to state for a run.
func (c *Client) TaskStates(t *testing.T, id int64) map[string]models.TaskInstanceApiResponse {
	out := make(map[string]models.TaskInstanceApiResponse)
	for _, ti := range c.Tasks(t, id) {
		out[ti.TaskID] = ti
	}
	return out
}
