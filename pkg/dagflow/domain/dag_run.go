package domain

import (
	"database/sql"
	"time"
)

type DagRun struct {
	ID                int64
	DagID             string
	RunID             string
	RunType           string
	State             string
	LogicalDate       time.Time
	DataIntervalStart time.Time
	DataIntervalEnd   time.Time
	ExternalID        string
	Params            sql.NullString
	Created           time.Time
	Modified          time.Time
	Started           sql.NullTime
	Ended             sql.NullTime
	NextCheck         sql.NullTime
	ExecutorID        sql.NullInt64
}
