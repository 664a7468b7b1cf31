package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/afrith/dagflow/internal/config"
	"github.com/afrith/dagflow/pkg/dagflow/core"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func placeholders(from, n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += placeholder(from + i)
	}
	return s
}

func nowFunc(clock core.Clock) string {
	return "'" + formatDateInDatabase(clock.Now()) + "'"
}

// dateBeforeOrAt returns a DB-specific predicate that checks the column is at
// or before the clock's current time. SQLite compares through julianday() so
// stored text timestamps order correctly.
func dateBeforeOrAt(column string, clock core.Clock) string {
	now := formatDateInDatabase(clock.Now())
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s <= '%s'", column, now)
	default:
		return fmt.Sprintf("julianday(%s) <= julianday('%s')", column, now)
	}
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_SQLLITE:
		return t.UTC().Format("2006-01-02 15:04:05.000")
	case config.DATABASE_TYPE_MYSQL:
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// Postgres stores microseconds
	return t.UTC().Truncate(time.Microsecond).Format("2006-01-02 15:04:05.000000")
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

// utc normalises a scanned timestamp. Drivers return TIMESTAMP columns in
// UTC or with a zero offset location depending on the dialect.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcNull(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}
