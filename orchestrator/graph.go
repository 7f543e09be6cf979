// Package orchestrator sequences dependent column-generation tasks: it
// orders requested columns by their dependency graph and chains execution
// through callback-carried orchestration data.
package orchestrator

import (
	"fmt"
	"sort"
	"sync"
)

// Graph orders columns by dependency. All methods are safe for concurrent
// use.
type Graph struct {
	mu         sync.Mutex
	columns    map[string]bool
	inDegree   map[string]int
	dependents map[string][]string
}

// NewGraph builds a graph over the given columns. deps maps a column to the
// columns it depends on; every dependency must itself be in columns. Cycles
// are rejected.
func NewGraph(columns []string, deps map[string][]string) (*Graph, error) {
	g := &Graph{
		columns:    make(map[string]bool, len(columns)),
		inDegree:   make(map[string]int, len(columns)),
		dependents: make(map[string][]string),
	}

	for _, name := range columns {
		g.columns[name] = true
		g.inDegree[name] = 0
	}

	for _, name := range columns {
		for _, dep := range deps[name] {
			if !g.columns[dep] {
				return nil, fmt.Errorf("column %s depends on %s, which is not in the request", name, dep)
			}
			g.inDegree[name]++
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycles runs Kahn's algorithm over a scratch copy of the in-degrees.
func (g *Graph) detectCycles() error {
	tempDegree := make(map[string]int, len(g.inDegree))
	for name, deg := range g.inDegree {
		tempDegree[name] = deg
	}

	var queue []string
	for name, deg := range tempDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++

		for _, dep := range g.dependents[name] {
			tempDegree[dep]--
			if tempDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(g.columns) {
		return fmt.Errorf("circular dependency detected: %d columns could not be ordered", len(g.columns)-processed)
	}
	return nil
}

// Order returns the columns in topological order. Ties break
// lexicographically so the order is deterministic for a given request.
func (g *Graph) Order() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	tempDegree := make(map[string]int, len(g.inDegree))
	for name, deg := range g.inDegree {
		tempDegree[name] = deg
	}

	var queue []string
	for name, deg := range tempDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.columns))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		var unblocked []string
		for _, dep := range g.dependents[name] {
			tempDegree[dep]--
			if tempDegree[dep] == 0 {
				unblocked = append(unblocked, dep)
			}
		}
		sort.Strings(unblocked)
		queue = append(queue, unblocked...)
	}
	return order
}
