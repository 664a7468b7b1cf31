package core

import (
	"time"

	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// TaskContext describes one try of one task inside one DAG run.
type TaskContext struct {
	DagID             string
	Owner             string
	TaskID            string
	RunID             string
	RunType           models.RunType
	LogicalDate       time.Time
	DataIntervalStart time.Time
	DataIntervalEnd   time.Time
	TryNumber         int
	Params            map[string]string
}

// Vars returns the template variables available to commands and SQL.
func (tc *TaskContext) Vars() map[string]any {
	logical := tc.LogicalDate.UTC()
	params := make(map[string]any, len(tc.Params))
	for k, v := range tc.Params {
		params[k] = v
	}
	return map[string]any{
		"ds":                  logical.Format("2006-01-02"),
		"ds_nodash":           logical.Format("20060102"),
		"ts":                  logical.Format("2006-01-02T15:04:05-07:00"),
		"ts_nodash":           logical.Format("20060102T150405"),
		"logical_date":        logical.Format(time.RFC3339),
		"data_interval_start": tc.DataIntervalStart.UTC().Format(time.RFC3339),
		"data_interval_end":   tc.DataIntervalEnd.UTC().Format(time.RFC3339),
		"run_id":              tc.RunID,
		"try_number":          tc.TryNumber,
		"dag": map[string]any{
			"dag_id": tc.DagID,
			"owner":  tc.Owner,
		},
		"task": map[string]any{
			"task_id": tc.TaskID,
		},
		"params": params,
	}
}
