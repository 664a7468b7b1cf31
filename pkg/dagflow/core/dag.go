package core

import (
	"fmt"
	"time"

	godag "github.com/begmaroman/go-dag"

	"github.com/afrith/dagflow/pkg/dagflow/models"
)

// DAG is a schedulable workflow made of tasks and the edges between them.
type DAG struct {
	ID          string
	Description string
	DefaultArgs models.DefaultArgs
	StartDate   time.Time
	Schedule    string
	Catchup     bool

	tasks      map[string]*Task
	order      []string
	downstream map[string][]string
	upstream   map[string][]string
}

type DAGOption func(*DAG)

func WithDescription(desc string) DAGOption { return func(d *DAG) { d.Description = desc } }
func WithStartDate(t time.Time) DAGOption   { return func(d *DAG) { d.StartDate = t.UTC() } }
func WithSchedule(expr string) DAGOption    { return func(d *DAG) { d.Schedule = expr } }
func WithCatchup(catchup bool) DAGOption    { return func(d *DAG) { d.Catchup = catchup } }

func NewDAG(id string, args models.DefaultArgs, opts ...DAGOption) *DAG {
	d := &DAG{
		ID:          id,
		DefaultArgs: args,
		Catchup:     true,
		tasks:       make(map[string]*Task),
		downstream:  make(map[string][]string),
		upstream:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Task is a single step of a DAG.
type Task struct {
	id         string
	dag        *DAG
	Operator   Operator
	retries    *int
	retryDelay *time.Duration
}

type TaskOption func(*Task)

func WithRetries(n int) TaskOption {
	return func(t *Task) { t.retries = &n }
}

func WithRetryDelay(d time.Duration) TaskOption {
	return func(t *Task) { t.retryDelay = &d }
}

// ID implements the go-dag Identifiable interface.
func (t *Task) ID() string { return t.id }

func (t *Task) DAG() *DAG { return t.dag }

// Hash identifies the task as a graph vertex by dag and task id, so tasks
// with identical operators stay distinct.
func (t *Task) Hash() (godag.VHash, error) {
	dagID := ""
	if t.dag != nil {
		dagID = t.dag.ID
	}
	return godag.ToHash(dagID + "." + t.id)
}

// RetryConfig returns the fixed delay retry policy for the task, falling back
// to the DAG default args.
func (t *Task) RetryConfig() models.RetryConfig {
	retries := t.dag.DefaultArgs.Retries
	delay := t.dag.DefaultArgs.RetryDelay
	if t.retries != nil {
		retries = *t.retries
	}
	if t.retryDelay != nil {
		delay = *t.retryDelay
	}
	return models.FixedRetry(retries, delay)
}

// AddTask registers a task. Adding the same id twice replaces the operator but
// keeps the original position and edges.
func (d *DAG) AddTask(id string, op Operator, opts ...TaskOption) *Task {
	t, ok := d.tasks[id]
	if !ok {
		t = &Task{id: id, dag: d}
		d.tasks[id] = t
		d.order = append(d.order, id)
	}
	t.Operator = op
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetDownstream adds edges t -> each of others and returns the last task so
// calls can be chained like a >> b >> c.
func (t *Task) SetDownstream(others ...*Task) *Task {
	last := t
	for _, o := range others {
		t.dag.addEdge(t.id, o.id)
		last = o
	}
	return last
}

// SetUpstream adds edges each of others -> t.
func (t *Task) SetUpstream(others ...*Task) *Task {
	for _, o := range others {
		t.dag.addEdge(o.id, t.id)
	}
	return t
}

// Chain links tasks in sequence.
func Chain(tasks ...*Task) {
	for i := 0; i+1 < len(tasks); i++ {
		tasks[i].SetDownstream(tasks[i+1])
	}
}

func (d *DAG) addEdge(from, to string) {
	for _, existing := range d.downstream[from] {
		if existing == to {
			return
		}
	}
	d.downstream[from] = append(d.downstream[from], to)
	d.upstream[to] = append(d.upstream[to], from)
}

func (d *DAG) Task(id string) (*Task, bool) {
	t, ok := d.tasks[id]
	return t, ok
}

// Tasks returns all tasks in declaration order.
func (d *DAG) Tasks() []*Task {
	out := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.tasks[id])
	}
	return out
}

func (d *DAG) TaskIDs() []string {
	return append([]string(nil), d.order...)
}

func (d *DAG) Upstream(taskID string) []string {
	return append([]string(nil), d.upstream[taskID]...)
}

func (d *DAG) Downstream(taskID string) []string {
	return append([]string(nil), d.downstream[taskID]...)
}

// Edges returns every from -> to pair in declaration order of the source task.
func (d *DAG) Edges() [][2]string {
	var edges [][2]string
	for _, from := range d.order {
		for _, to := range d.downstream[from] {
			edges = append(edges, [2]string{from, to})
		}
	}
	return edges
}

// Graph builds the task graph, failing on unknown tasks or cycles.
func (d *DAG) Graph() (*godag.DAG[*Task], error) {
	g := godag.NewDAG[*Task]()
	for _, id := range d.order {
		if _, err := g.AddVertex(d.tasks[id]); err != nil {
			return nil, fmt.Errorf("dag %s: add task %s: %w", d.ID, id, err)
		}
	}
	for _, e := range d.Edges() {
		if _, ok := d.tasks[e[1]]; !ok {
			return nil, fmt.Errorf("dag %s: edge %s -> %s references unknown task", d.ID, e[0], e[1])
		}
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("dag %s: edge %s -> %s: %w", d.ID, e[0], e[1], err)
		}
	}
	return g, nil
}

// TopologicalOrder returns tasks so that every task follows all of its
// upstream tasks. Ties keep declaration order.
func (d *DAG) TopologicalOrder() ([]*Task, error) {
	g, err := d.Graph()
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(d.order))
	out := make([]*Task, 0, len(d.order))
	for len(out) < len(d.order) {
		progressed := false
		for _, id := range d.order {
			if done[id] {
				continue
			}
			parents, err := g.GetParents(id)
			if err != nil {
				return nil, fmt.Errorf("dag %s: parents of %s: %w", d.ID, id, err)
			}
			ready := true
			for parentID := range parents {
				if !done[parentID] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				out = append(out, d.tasks[id])
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("dag %s: task graph contains a cycle", d.ID)
		}
	}
	return out, nil
}
