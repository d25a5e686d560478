// Package graph provides a dependency graph for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/ccc/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a task depends on a name not present in the run.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrSelfDependency indicates a task lists itself as a dependency.
	ErrSelfDependency = errors.New("task depends on itself")
	// ErrDuplicateTask indicates two tasks share a name.
	ErrDuplicateTask = errors.New("duplicate task name")
)

// DefaultEstimatedMinutes is used for tasks that carry no estimate.
const DefaultEstimatedMinutes = 30

// Batch is a set of task names that may run concurrently.
type Batch []string

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "must complete before" relationships.
// The graph is immutable once built.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task name to the task itself.
	nodes map[string]*models.Task
	// edges maps task name to the names of tasks it depends on.
	edges map[string][]string
	// order is the declaration order of the tasks.
	order []string
	// position maps task name to its index in order.
	position map[string]int
	logger   *zap.Logger
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Task),
		edges:    make(map[string][]string),
		position: make(map[string]int),
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the debug logger.
func (g *DependencyGraph) SetLogger(logger *zap.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// FromTasks builds a graph in one step.
func FromTasks(tasks []*models.Task) (*DependencyGraph, error) {
	g := New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	return g, nil
}

// Build constructs the dependency graph from a slice of tasks.
// Returns a *models.ConfigurationError if a dependency references an unknown
// task, a task depends on itself, or a cycle is detected.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("building graph", zap.Int("tasks", len(tasks)))

	// First pass: register all tasks as nodes.
	for i, task := range tasks {
		if _, exists := g.nodes[task.Name]; exists {
			return &models.ConfigurationError{
				Reason: fmt.Sprintf("task %s declared twice", task.Name),
				Tasks:  []string{task.Name},
				Err:    ErrDuplicateTask,
			}
		}
		g.nodes[task.Name] = task
		g.edges[task.Name] = nil
		g.order = append(g.order, task.Name)
		g.position[task.Name] = i
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if dep == task.Name {
				return &models.ConfigurationError{
					Reason: fmt.Sprintf("task %s depends on itself", task.Name),
					Tasks:  []string{task.Name},
					Err:    ErrSelfDependency,
				}
			}
			if _, exists := g.nodes[dep]; !exists {
				return &models.ConfigurationError{
					Reason: fmt.Sprintf("task %s depends on unknown task %s", task.Name, dep),
					Tasks:  []string{task.Name, dep},
					Err:    ErrUnknownDependency,
				}
			}
			g.edges[task.Name] = append(g.edges[task.Name], dep)
		}
	}

	if cycle := g.findCycleLocked(); cycle != nil {
		return &models.ConfigurationError{
			Reason: "dependency cycle can never resolve",
			Tasks:  cycle,
			Err:    ErrCycleDetected,
		}
	}

	g.logger.Debug("graph built", zap.Int("nodes", len(g.nodes)))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked returns the names on the first cycle found, or nil.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) findCycleLocked() []string {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = 1
		stack = append(stack, name)

		for _, dep := range g.edges[name] {
			switch colors[dep] {
			case 1:
				// Back edge: the cycle is the stack from dep onwards.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle = append([]string(nil), stack[i:]...)
						break
					}
				}
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = 2
		return false
	}

	for _, name := range g.order {
		if colors[name] == 0 && visit(name) {
			return cycle
		}
	}
	return nil
}

// Plan returns the execution batches using Kahn's algorithm. Every task in
// batch i has all of its dependencies in batches 0..i-1, tasks within a batch
// are independent, and every task appears exactly once. Batch members are
// ordered by priority (highest first), then declaration order.
func (g *DependencyGraph) Plan() ([]Batch, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, name := range g.order {
		inDegree[name] = len(g.edges[name])
		for _, dep := range g.edges[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	var batches []Batch
	placed := 0
	for len(ready) > 0 {
		g.sortBatchLocked(ready)
		batch := Batch(ready)
		batches = append(batches, batch)
		placed += len(batch)

		var next []string
		for _, name := range batch {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed != len(g.nodes) {
		var stuck []string
		for _, name := range g.order {
			if inDegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, &models.ConfigurationError{
			Reason: "dependency cycle can never resolve",
			Tasks:  stuck,
			Err:    ErrCycleDetected,
		}
	}

	g.logger.Debug("plan computed", zap.Int("batches", len(batches)))
	return batches, nil
}

// SequentialPlan returns the same schedule as Plan with one task per batch,
// each original batch flattened in declaration order.
func (g *DependencyGraph) SequentialPlan() ([]Batch, error) {
	batches, err := g.Plan()
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var flat []Batch
	for _, batch := range batches {
		names := append([]string(nil), batch...)
		sort.SliceStable(names, func(i, j int) bool {
			return g.position[names[i]] < g.position[names[j]]
		})
		for _, name := range names {
			flat = append(flat, Batch{name})
		}
	}
	return flat, nil
}

func (g *DependencyGraph) sortBatchLocked(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := g.nodes[names[i]].Priority, g.nodes[names[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return g.position[names[i]] < g.position[names[j]]
	})
}

// TopologicalSort returns task names in an order where all dependencies
// come before the tasks that depend on them.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	batches, err := g.Plan()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, batch := range batches {
		result = append(result, batch...)
	}
	return result, nil
}

// GetTask returns the task for a given name, or nil if not found.
func (g *DependencyGraph) GetTask(name string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[name]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Names returns task names in declaration order.
func (g *DependencyGraph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Dependencies returns the names of tasks that the given task depends on.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[name]...)
}

// Dependents returns the names of tasks that directly depend on the given
// task, in declaration order.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(name)
}

func (g *DependencyGraph) dependentsLocked(name string) []string {
	var dependents []string
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			if dep == name {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every task that depends on the given task
// directly or indirectly, in declaration order.
func (g *DependencyGraph) TransitiveDependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range g.dependentsLocked(current) {
			if !seen[dependent] {
				seen[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	var result []string
	for _, id := range g.order {
		if seen[id] {
			result = append(result, id)
		}
	}
	return result
}
