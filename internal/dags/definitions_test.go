package dags

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrith/dagflow/internal/connections"
	"github.com/afrith/dagflow/internal/operators"
	"github.com/afrith/dagflow/internal/schedule"
	"github.com/afrith/dagflow/pkg/dagflow/core"
)

func taskIDs(tasks []*core.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID())
	}
	return out
}

func TestBuiltin_AreValidAndUnique(t *testing.T) {
	reg, err := NewRegistry(Builtin(connections.NewRegistry())...)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	seen := map[string]bool{}
	for _, d := range reg.All() {
		assert.NotEmpty(t, d.ID)
		assert.False(t, seen[d.ID])
		seen[d.ID] = true
		assert.Equal(t, Owner, d.DefaultArgs.Owner)
		assert.Equal(t, 5, d.DefaultArgs.Retries)
		_, err := schedule.Parse(d.Schedule)
		assert.NoError(t, err, d.ID)
	}
}

func TestCatchupAndBackfill(t *testing.T) {
	d := CatchupAndBackfill()
	assert.Equal(t, "dag_with_catchup_and_backfill_v02", d.ID)
	assert.Equal(t, "DAG with catchup and backfill example", d.Description)
	assert.Equal(t, "@daily", d.Schedule)
	assert.True(t, d.Catchup)
	assert.Equal(t, time.Date(2025, 12, 21, 0, 0, 0, 0, time.UTC), d.StartDate)
	assert.Equal(t, 2*time.Minute, d.DefaultArgs.RetryDelay)
	require.Equal(t, []string{"task1"}, d.TaskIDs())
	task, _ := d.Task("task1")
	assert.Equal(t, "echo This is a simple bash command!", task.Operator.Source())
}

func TestCronExpression(t *testing.T) {
	d := CronExpression()
	assert.Equal(t, "dag_with_cron_expression_v04", d.ID)
	assert.Equal(t, "0 3 * * Tue", d.Schedule)
	assert.True(t, d.Catchup)
	assert.Equal(t, time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC), d.StartDate)
	assert.Equal(t, 5*time.Minute, d.DefaultArgs.RetryDelay)
	task, _ := d.Task("task1")
	assert.Equal(t, "echo dag with cron expression!", task.Operator.Source())
}

func TestPostgresOperator_OrderAndSQL(t *testing.T) {
	d := PostgresOperator(connections.NewRegistry())
	assert.Equal(t, "dag_with_postgres_operator_v03", d.ID)
	assert.Equal(t, "0 0 * * *", d.Schedule)
	assert.False(t, d.Catchup)
	require.Len(t, d.Tasks(), 3)

	order, err := d.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"create_postgres_table", "delete_data_from_table", "insert_into_table"}, taskIDs(order))
	assert.Equal(t, []string{"create_postgres_table"}, d.Upstream("delete_data_from_table"))
	assert.Equal(t, []string{"delete_data_from_table"}, d.Upstream("insert_into_table"))
	assert.Empty(t, d.Upstream("create_postgres_table"))

	for _, task := range d.Tasks() {
		op, ok := task.Operator.(*operators.SQLExecuteQueryOperator)
		require.True(t, ok)
		assert.Equal(t, PostgresConnectionID, op.ConnID)
		assert.NoError(t, operators.ValidateSQL(op.SQL), task.ID())
	}
}

func TestRegistry_RejectsDuplicatesAndInvalid(t *testing.T) {
	_, err := NewRegistry(CronExpression(), CronExpression())
	assert.ErrorContains(t, err, "duplicate")

	bad := CronExpression()
	bad.Schedule = "0 3 * * Funday"
	_, err = NewRegistry(bad)
	assert.Error(t, err)

	negative := CronExpression()
	negative.DefaultArgs.Retries = -1
	_, err = NewRegistry(negative)
	assert.Error(t, err)

	empty := CronExpression()
	empty.ID = ""
	_, err = NewRegistry(empty)
	assert.Error(t, err)

	typo := CronExpression()
	typo.AddTask("typo", operators.NewBashOperator("echo {{ dss }} {{ params.env }} {{ dag.owner }}"))
	err = Validate(typo)
	assert.ErrorContains(t, err, `unknown template variable "dss"`)
	assert.NotContains(t, err.Error(), "params.env")
	assert.NotContains(t, err.Error(), "dag.owner")

	reg, err := NewRegistry(CronExpression())
	require.NoError(t, err)
	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrDagNotFound)
}
