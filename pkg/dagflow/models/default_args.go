package models

import "time"

// DefaultArgs are applied to every task of a DAG unless the task overrides them.
type DefaultArgs struct {
	Owner      string        `json:"owner" yaml:"owner" validate:"required"`
	Retries    int           `json:"retries" yaml:"retries" validate:"min=0"`
	RetryDelay time.Duration `json:"retryDelay" yaml:"retry_delay" validate:"min=0"`
}
