package models

type RunState string

const (
	RunQueued  RunState = "queued"
	RunRunning RunState = "running"
	RunSuccess RunState = "success"
	RunFailed  RunState = "failed"
)

func (s RunState) Finished() bool {
	return s == RunSuccess || s == RunFailed
}

type TaskState string

const (
	TaskNone           TaskState = "none"
	TaskRunning        TaskState = "running"
	TaskSuccess        TaskState = "success"
	TaskFailed         TaskState = "failed"
	TaskUpForRetry     TaskState = "up_for_retry"
	TaskUpstreamFailed TaskState = "upstream_failed"
)

// Finished reports whether no further attempt will be made for the task.
func (s TaskState) Finished() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskUpstreamFailed
}

type RunType string

const (
	RunTypeScheduled RunType = "scheduled"
	RunTypeBackfill  RunType = "backfill"
	RunTypeManual    RunType = "manual"
)
