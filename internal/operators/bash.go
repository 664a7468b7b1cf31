package operators

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/afrith/dagflow/internal/templating"
	"github.com/afrith/dagflow/pkg/dagflow/core"
)

const maxOutputBytes = 64 * 1024

// BashOperator runs a shell command with bash -c.
type BashOperator struct {
	Command string
	Env     map[string]string
	// Shell defaults to bash.
	Shell string
}

func NewBashOperator(command string) *BashOperator {
	return &BashOperator{Command: command}
}

func (o *BashOperator) Kind() string   { return "bash" }
func (o *BashOperator) Source() string { return o.Command }

func (o *BashOperator) Execute(ctx context.Context, tc *core.TaskContext) (string, error) {
	command, err := templating.Render(o.Command, tc.Vars())
	if err != nil {
		return "", fmt.Errorf("render bash_command: %w", err)
	}
	shell := o.Shell
	if shell == "" {
		shell = "bash"
	}
	slog.InfoContext(ctx, "Running command", "dag_id", tc.DagID, "task_id", tc.TaskID, "command", command)

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Env = append(os.Environ(), contextEnv(tc)...)
	for k, v := range o.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	output := out.String()
	if len(output) > maxOutputBytes {
		output = output[len(output)-maxOutputBytes:]
	}
	output = strings.TrimRight(output, "\n")
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return output, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), lastLine(output))
		}
		return output, fmt.Errorf("run command: %w", runErr)
	}
	return output, nil
}

func contextEnv(tc *core.TaskContext) []string {
	vars := tc.Vars()
	return []string{
		"DAGFLOW_CTX_DAG_ID=" + tc.DagID,
		"DAGFLOW_CTX_DAG_OWNER=" + tc.Owner,
		"DAGFLOW_CTX_TASK_ID=" + tc.TaskID,
		"DAGFLOW_CTX_DAG_RUN_ID=" + tc.RunID,
		"DAGFLOW_CTX_LOGICAL_DATE=" + vars["logical_date"].(string),
		"DAGFLOW_CTX_TRY_NUMBER=" + strconv.Itoa(tc.TryNumber),
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
