package dags

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/afrith/dagflow/internal/operators"
	"github.com/afrith/dagflow/internal/schedule"
	"github.com/afrith/dagflow/internal/templating"
	"github.com/afrith/dagflow/pkg/dagflow/core"
	"github.com/afrith/dagflow/pkg/dagflow/models"
)

var identifier = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifier.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := schedule.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

type dagShape struct {
	DagID     string             `validate:"required,max=250,identifier"`
	Args      models.DefaultArgs `validate:"required"`
	Schedule  string             `validate:"schedule"`
	StartDate time.Time          `validate:"required"`
	Tasks     []taskShape        `validate:"required,min=1,dive"`
}

type taskShape struct {
	TaskID string `validate:"required,max=250,identifier"`
	Kind   string `validate:"required,oneof=bash sql"`
	Source string `validate:"required"`
}

// Validate checks a DAG definition: identifiers, default args, schedule
// syntax, an acyclic task graph and well formed SQL.
func Validate(d *core.DAG) error {
	shape := dagShape{
		DagID:     d.ID,
		Args:      d.DefaultArgs,
		Schedule:  d.Schedule,
		StartDate: d.StartDate,
	}
	for _, t := range d.Tasks() {
		ts := taskShape{TaskID: t.ID()}
		if t.Operator != nil {
			ts.Kind = t.Operator.Kind()
			ts.Source = t.Operator.Source()
		}
		shape.Tasks = append(shape.Tasks, ts)
	}
	var errs []error
	if err := validate.Struct(shape); err != nil {
		errs = append(errs, fmt.Errorf("dag %q: %w", d.ID, err))
	}
	if _, err := d.TopologicalOrder(); err != nil {
		errs = append(errs, err)
	}
	for _, t := range d.Tasks() {
		if t.RetryConfig().MaxRetryCount < 0 {
			errs = append(errs, fmt.Errorf("dag %q task %q: negative retries", d.ID, t.ID()))
		}
		if t.Operator != nil {
			for _, path := range templating.Placeholders(t.Operator.Source()) {
				if !knownVariable(path) {
					errs = append(errs, fmt.Errorf("dag %q task %q: unknown template variable %q", d.ID, t.ID(), path))
				}
			}
		}
		op, ok := t.Operator.(*operators.SQLExecuteQueryOperator)
		if !ok {
			continue
		}
		if op.ConnID == "" {
			errs = append(errs, fmt.Errorf("dag %q task %q: conn_id is required", d.ID, t.ID()))
		}
		if err := operators.ValidateSQL(op.SQL); err != nil {
			errs = append(errs, fmt.Errorf("dag %q task %q: %w", d.ID, t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

var templateVars = (&core.TaskContext{}).Vars()

// knownVariable reports whether path resolves against the task template
// variables. Any key below params is accepted.
func knownVariable(path string) bool {
	parts := strings.Split(path, ".")
	if parts[0] == "params" {
		return len(parts) == 2
	}
	var cur any = templateVars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = m[p]; !ok {
			return false
		}
	}
	return true
}
