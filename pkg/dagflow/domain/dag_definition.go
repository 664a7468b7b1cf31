package domain

import "time"

type DagDefinition struct {
	DagID             string
	Description       string
	Owner             string
	Schedule          string
	StartDate         time.Time
	Catchup           bool
	Retries           int
	RetryDelaySeconds int64
	IsPaused          bool
	Created           time.Time
	Updated           time.Time
	FlowChart         string
}
