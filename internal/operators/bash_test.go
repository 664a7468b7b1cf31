package operators

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afrith/dagflow/pkg/dagflow/core"
)

func requireBash(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func testContext() *core.TaskContext {
	return &core.TaskContext{
		DagID:       "dag_with_cron_expression_v04",
		TaskID:      "task1",
		RunID:       "scheduled__2025-12-16T03:00:00+00:00",
		LogicalDate: time.Date(2025, 12, 16, 3, 0, 0, 0, time.UTC),
		TryNumber:   1,
	}
}

func TestBashOperator_Echo(t *testing.T) {
	requireBash(t)
	op := NewBashOperator("echo dag with cron expression!")
	out, err := op.Execute(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "dag with cron expression!", out)
}

func TestBashOperator_TemplatesAndEnv(t *testing.T) {
	requireBash(t)
	op := NewBashOperator(`echo "{{ ds }} $DAGFLOW_CTX_DAG_ID $EXTRA"`)
	op.Env = map[string]string{"EXTRA": "yes"}
	out, err := op.Execute(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "2025-12-16 dag_with_cron_expression_v04 yes", out)
}

func TestBashOperator_NonZeroExitFails(t *testing.T) {
	requireBash(t)
	op := NewBashOperator("echo boom; exit 3")
	out, err := op.Execute(context.Background(), testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Equal(t, "boom", out)
}

func TestBashOperator_ContextCancel(t *testing.T) {
	requireBash(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewBashOperator("sleep 5").Execute(ctx, testContext())
	assert.Error(t, err)
}
