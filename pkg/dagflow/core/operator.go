package core

import "context"

// Operator is the unit of work attached to a Task.
type Operator interface {
	// Kind names the operator in logs and flowcharts, e.g. "bash" or "sql".
	Kind() string
	// Source returns the raw, unrendered command or SQL text.
	Source() string
	// Execute renders the operator against tc and runs it. The returned string is
	// stored as the task output.
	Execute(ctx context.Context, tc *TaskContext) (string, error)
}
