package domain

import (
	"database/sql"
	"time"
)

type TaskInstance struct {
	ID          int64
	DagRunID    int64
	TaskID      string
	State       string
	TryNumber   int
	Started     sql.NullTime
	Ended       sql.NullTime
	NextAttempt sql.NullTime
	Output      sql.NullString
	Modified    time.Time
}
