// Package dags holds the DAGs shipped with dagflow.
package dags

import (
	"time"

	"github.com/afrith/dagflow/internal/operators"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

const (
	Owner                 = "afrith"
	PostgresConnectionID  = "postgres_localhost"
	CatchupAndBackfillID  = "dag_with_catchup_and_backfill_v02"
	CronExpressionID      = "dag_with_cron_expression_v04"
	PostgresOperatorDagID = "dag_with_postgres_operator_v03"
)

const (
	createDagRunsSQL = `
        CREATE TABLE IF NOT EXISTS dag_runs (
            dt DATE,
            dag_id VARCHAR,
            PRIMARY KEY (dt, dag_id)
        );
        `
	insertDagRunSQL = `
            INSERT INTO dag_runs (dt, dag_id) VALUES ('{{ ds }}', '{{ dag.dag_id }}')
        `
	deleteDagRunSQL = `
            DELETE FROM dag_runs WHERE dt = '{{ ds }}' and dag_id = '{{ dag.dag_id }}';
        `
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CatchupAndBackfill runs one echo every day since 2025-12-21, catching up on
// every missed day.
func CatchupAndBackfill() *core.DAG {
	d := core.NewDAG(CatchupAndBackfillID,
		models.DefaultArgs{Owner: Owner, Retries: 5, RetryDelay: 2 * time.Minute},
		core.WithDescription("DAG with catchup and backfill example"),
		core.WithStartDate(day(2025, 12, 21)),
		core.WithSchedule("@daily"),
		core.WithCatchup(true),
	)
	d.AddTask("task1", operators.NewBashOperator("echo This is a simple bash command!"))
	return d
}

// CronExpression runs every Tuesday at 03:00.
func CronExpression() *core.DAG {
	d := core.NewDAG(CronExpressionID,
		models.DefaultArgs{Owner: Owner, Retries: 5, RetryDelay: 5 * time.Minute},
		core.WithStartDate(day(2025, 12, 16)),
		core.WithSchedule("0 3 * * Tue"),
		core.WithCatchup(true),
	)
	d.AddTask("task1", operators.NewBashOperator("echo dag with cron expression!"))
	return d
}

// PostgresOperator records each daily run in the dag_runs table of the
// postgres_localhost connection: create the table, delete the row for the run
// date, then insert it again.
func PostgresOperator(conns operators.ConnectionProvider) *core.DAG {
	d := core.NewDAG(PostgresOperatorDagID,
		models.DefaultArgs{Owner: Owner, Retries: 5, RetryDelay: 5 * time.Minute},
		core.WithStartDate(day(2025, 12, 16)),
		core.WithSchedule("0 0 * * *"),
		core.WithCatchup(false),
	)
	create := d.AddTask("create_postgres_table", operators.NewSQLExecuteQueryOperator(PostgresConnectionID, createDagRunsSQL, conns))
	insert := d.AddTask("insert_into_table", operators.NewSQLExecuteQueryOperator(PostgresConnectionID, insertDagRunSQL, conns))
	del := d.AddTask("delete_data_from_table", operators.NewSQLExecuteQueryOperator(PostgresConnectionID, deleteDagRunSQL, conns))
	core.Chain(create, del, insert)
	return d
}

// Builtin returns the DAGs compiled into the binary.
func Builtin(conns operators.ConnectionProvider) []*core.DAG {
	return []*core.DAG{
		CatchupAndBackfill(),
		CronExpression(),
		PostgresOperator(conns),
	}
}
