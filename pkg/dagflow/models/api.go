package models

import (
	"time"
)

// TriggerRunRequest is the payload for a manual run.
type TriggerRunRequest struct {
	LogicalDate *time.Time        `json:"logicalDate,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// BackfillRequest asks for every interval whose logical date falls in [From, To].
type BackfillRequest struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required,gtefield=From"`
}

type BackfillResponse struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// DagApiResponse represents the API response for a DAG definition.
type DagApiResponse struct {
	DagID       string    `json:"dagId"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner"`
	Schedule    string    `json:"schedule"`
	StartDate   time.Time `json:"startDate"`
	Catchup     bool      `json:"catchup"`
	Retries     int       `json:"retries"`
	RetryDelay  string    `json:"retryDelay"`
	IsPaused    bool      `json:"isPaused"`
	Tasks       []string  `json:"tasks,omitempty"`
	FlowChart   string    `json:"flowChart,omitempty"`
}

// DagRunApiResponse represents the API response for a DAG run.
type DagRunApiResponse struct {
	ID                int64             `json:"id"`
	DagID             string            `json:"dagId"`
	RunID             string            `json:"runId"`
	RunType           string            `json:"runType"`
	State             string            `json:"state"`
	LogicalDate       time.Time         `json:"logicalDate"`
	DataIntervalStart time.Time         `json:"dataIntervalStart"`
	DataIntervalEnd   time.Time         `json:"dataIntervalEnd"`
	Created           time.Time         `json:"created"`
	Started           *time.Time        `json:"started,omitempty"`
	Ended             *time.Time        `json:"ended,omitempty"`
	Params            map[string]string `json:"params,omitempty"`
}

type TaskInstanceApiResponse struct {
	TaskID      string     `json:"taskId"`
	State       string     `json:"state"`
	TryNumber   int        `json:"tryNumber"`
	Started     *time.Time `json:"started,omitempty"`
	Ended       *time.Time `json:"ended,omitempty"`
	NextAttempt *time.Time `json:"nextAttempt,omitempty"`
	Output      string     `json:"output,omitempty"`
}
