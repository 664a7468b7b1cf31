package engine

import (
	"context"
	"log/slog"

	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/domain"
)

// Worker processes runs from the queue until ctx is cancelled or the queue is closed.
func Worker(ctx context.Context, id int, executor *RunExecutor, runQueue <-chan *domain.DagRun) {
	ctx = context.WithValue(ctx, core.CtxKeyWorkerId, id)
	for {
		select {
		case <-ctx.Done():
			return
		case run, ok := <-runQueue:
			if !ok {
				return
			}
			slog.InfoContext(ctx, "Worker starting dag run", "worker_id", id, "dag_id", run.DagID, "run_id", run.RunID)
			executor.Execute(ctx, run)
			slog.InfoContext(ctx, "Worker finished dag run", "worker_id", id, "dag_id", run.DagID, "run_id", run.RunID)
		}
	}
}
