package dags

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afrith/dagflow/internal/operators"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// File is the YAML form of a DAG.
type File struct {
	DagID       string `yaml:"dag_id"`
	Description string `yaml:"description"`
	DefaultArgs struct {
		Owner      string        `yaml:"owner"`
		Retries    int           `yaml:"retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"default_args"`
	Schedule  string     `yaml:"schedule"`
	StartDate string     `yaml:"start_date"`
	Catchup   *bool      `yaml:"catchup"`
	Tasks     []TaskFile `yaml:"tasks"`
}

type TaskFile struct {
	TaskID      string            `yaml:"task_id"`
	BashCommand string            `yaml:"bash_command"`
	Env         map[string]string `yaml:"env"`
	SQL         string            `yaml:"sql"`
	ConnID      string            `yaml:"conn_id"`
	Autocommit  bool              `yaml:"autocommit"`
	Upstream    []string          `yaml:"upstream"`
	Retries     *int              `yaml:"retries"`
	RetryDelay  *time.Duration    `yaml:"retry_delay"`
}

var startDateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseStartDate(s string) (time.Time, error) {
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised start_date %q", s)
}

// Build turns the parsed file into a DAG. SQL tasks resolve connections through conns.
func (f *File) Build(conns operators.ConnectionProvider) (*core.DAG, error) {
	opts := []core.DAGOption{
		core.WithDescription(f.Description),
		core.WithSchedule(f.Schedule),
	}
	if f.StartDate != "" {
		start, err := parseStartDate(f.StartDate)
		if err != nil {
			return nil, fmt.Errorf("dag %q: %w", f.DagID, err)
		}
		opts = append(opts, core.WithStartDate(start))
	}
	if f.Catchup != nil {
		opts = append(opts, core.WithCatchup(*f.Catchup))
	}
	d := core.NewDAG(f.DagID, models.DefaultArgs{
		Owner:      f.DefaultArgs.Owner,
		Retries:    f.DefaultArgs.Retries,
		RetryDelay: f.DefaultArgs.RetryDelay,
	}, opts...)

	for _, tf := range f.Tasks {
		var op core.Operator
		switch {
		case tf.BashCommand != "" && tf.SQL != "":
			return nil, fmt.Errorf("dag %q task %q: set either bash_command or sql, not both", f.DagID, tf.TaskID)
		case tf.BashCommand != "":
			bash := operators.NewBashOperator(tf.BashCommand)
			bash.Env = tf.Env
			op = bash
		case tf.SQL != "":
			sqlOp := operators.NewSQLExecuteQueryOperator(tf.ConnID, tf.SQL, conns)
			sqlOp.Autocommit = tf.Autocommit
			op = sqlOp
		default:
			return nil, fmt.Errorf("dag %q task %q: bash_command or sql is required", f.DagID, tf.TaskID)
		}
		var topts []core.TaskOption
		if tf.Retries != nil {
			topts = append(topts, core.WithRetries(*tf.Retries))
		}
		if tf.RetryDelay != nil {
			topts = append(topts, core.WithRetryDelay(*tf.RetryDelay))
		}
		d.AddTask(tf.TaskID, op, topts...)
	}
	for _, tf := range f.Tasks {
		task, _ := d.Task(tf.TaskID)
		for _, up := range tf.Upstream {
			parent, ok := d.Task(up)
			if !ok {
				return nil, fmt.Errorf("dag %q task %q: unknown upstream task %q", f.DagID, tf.TaskID, up)
			}
			task.SetUpstream(parent)
		}
	}
	return d, nil
}

// LoadFile parses a single YAML DAG file.
func LoadFile(path string, conns operators.ConnectionProvider) (*core.DAG, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dag file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse dag file %s: %w", path, err)
	}
	return f.Build(conns)
}

// LoadFolder loads every *.yaml and *.yml file in dir, sorted by name.
func LoadFolder(dir string, conns operators.ConnectionProvider) ([]*core.DAG, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dags folder: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var out []*core.DAG
	for _, name := range names {
		d, err := LoadFile(filepath.Join(dir, name), conns)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded dag file", "file", name, "dag_id", d.ID)
		out = append(out, d)
	}
	return out, nil
}
