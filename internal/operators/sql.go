package operators

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/afrith/dagflow/internal/connections"
	"github.com/afrith/dagflow/internal/templating"
	"github.com/afrith/dagflow/pkg/dagflow/core"
)

// ConnectionProvider resolves a connection id to a database handle.
type ConnectionProvider interface {
	DB(ctx context.Context, id string) (*sql.DB, connections.Dialect, error)
}

// SQLExecuteQueryOperator runs one or more SQL statements against a named connection.
type SQLExecuteQueryOperator struct {
	ConnID string
	SQL    string
	// Autocommit runs each statement on its own instead of inside one transaction.
	Autocommit  bool
	Connections ConnectionProvider
}

func NewSQLExecuteQueryOperator(connID, sqlText string, provider ConnectionProvider) *SQLExecuteQueryOperator {
	return &SQLExecuteQueryOperator{ConnID: connID, SQL: sqlText, Connections: provider}
}

func (o *SQLExecuteQueryOperator) Kind() string   { return "sql" }
func (o *SQLExecuteQueryOperator) Source() string { return o.SQL }

func (o *SQLExecuteQueryOperator) Execute(ctx context.Context, tc *core.TaskContext) (string, error) {
	if o.Connections == nil {
		return "", fmt.Errorf("sql task %s has no connection provider", tc.TaskID)
	}
	rendered, err := templating.Render(o.SQL, tc.Vars())
	if err != nil {
		return "", fmt.Errorf("render sql: %w", err)
	}
	stmts, err := SplitStatements(rendered)
	if err != nil {
		return "", fmt.Errorf("split sql: %w", err)
	}
	if len(stmts) == 0 {
		return "", ErrEmptySQL
	}
	db, dialect, err := o.Connections.DB(ctx, o.ConnID)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "Executing sql", "dag_id", tc.DagID, "task_id", tc.TaskID, "conn_id", o.ConnID, "dialect", dialect, "statements", len(stmts))

	var affected int64
	if o.Autocommit {
		for _, stmt := range stmts {
			n, err := execStatement(ctx, db, stmt)
			if err != nil {
				return "", err
			}
			affected += n
		}
	} else {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("begin transaction: %w", err)
		}
		for _, stmt := range stmts {
			n, err := execStatement(ctx, tx, stmt)
			if err != nil {
				_ = tx.Rollback()
				return "", err
			}
			affected += n
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
	}
	return fmt.Sprintf("executed %d statement(s), %d row(s) affected", len(stmts), affected), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execStatement(ctx context.Context, db execer, stmt string) (int64, error) {
	res, err := db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("exec %q: %w", abbreviate(stmt), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// some drivers cannot report affected rows for DDL
		return 0, nil
	}
	return n, nil
}
