package dags

import (
	"errors"
	"fmt"
	"sort"

	"github.com/afrith/dagflow/pkg/dagflow/core"
)

var ErrDagNotFound = errors.New("dag not found")

// Registry holds validated DAGs keyed by id.
type Registry struct {
	dags  map[string]*core.DAG
	order []string
}

// NewRegistry validates every DAG and rejects empty or duplicate ids.
func NewRegistry(list ...*core.DAG) (*Registry, error) {
	r := &Registry{dags: make(map[string]*core.DAG)}
	var errs []error
	for _, d := range list {
		if err := r.Add(d); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Add(d *core.DAG) error {
	if d.ID == "" {
		return errors.New("dag id must not be empty")
	}
	if _, exists := r.dags[d.ID]; exists {
		return fmt.Errorf("duplicate dag id %q", d.ID)
	}
	if err := Validate(d); err != nil {
		return err
	}
	r.dags[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

func (r *Registry) Get(id string) (*core.DAG, error) {
	d, ok := r.dags[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDagNotFound, id)
	}
	return d, nil
}

// All returns DAGs sorted by id.
func (r *Registry) All() []*core.DAG {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	out := make([]*core.DAG, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.dags[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.dags) }
