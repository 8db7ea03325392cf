package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"taskforge/internal/node"
	"taskforge/internal/promise"
	"taskforge/internal/step"
)

// NodeSpec declares one node's place in a LocalScheduler's graph: its
// identity, its computation, and the names of nodes whose Results it
// depends on. Task registration producing a []NodeSpec is out of scope
// per spec.md §1 — goalfile and other hosts build these.
type NodeSpec struct {
	Name      string
	Node      node.Node
	DependsOn []string
}

// GraphError reports a structural defect in a set of NodeSpecs, detected
// at construction time rather than mid-schedule.
type GraphError struct {
	Msg string
}

func (e *GraphError) Error() string { return "invalid node graph: " + e.Msg }

// Graph is an immutable, validated dependency graph over NodeSpecs.
// Validation rejects duplicate names, edges to unknown names, self-loops,
// and cycles, following the teacher's Kahn's-algorithm-plus-deterministic
// witness-DFS approach.
type Graph struct {
	specs    map[string]NodeSpec
	order    []string // canonical order: depth asc, then name asc
	outgoing map[string][]string
	incoming map[string][]string
	depth    map[string]int
}

// NewGraph validates specs and builds a Graph.
func NewGraph(specs []NodeSpec) (*Graph, error) {
	byName := make(map[string]NodeSpec, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, &GraphError{Msg: "node name is required"}
		}
		if _, exists := byName[s.Name]; exists {
			return nil, &GraphError{Msg: fmt.Sprintf("duplicate node name: %q", s.Name)}
		}
		byName[s.Name] = s
	}

	outgoing := make(map[string][]string, len(specs))
	incoming := make(map[string][]string, len(specs))
	indeg := make(map[string]int, len(specs))
	for _, s := range specs {
		indeg[s.Name] = 0
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &GraphError{Msg: fmt.Sprintf("node %q depends on unknown node %q", s.Name, dep)}
			}
			if dep == s.Name {
				return nil, &GraphError{Msg: fmt.Sprintf("self-loop: %q", s.Name)}
			}
			outgoing[dep] = append(outgoing[dep], s.Name)
			incoming[s.Name] = append(incoming[s.Name], dep)
			indeg[s.Name]++
		}
	}
	for k := range outgoing {
		sort.Strings(outgoing[k])
	}
	for k := range incoming {
		sort.Strings(incoming[k])
	}

	order, ok := topoOrder(byName, outgoing, indeg)
	if !ok {
		return nil, &GraphError{Msg: "cycle: " + cycleWitness(byName, outgoing)}
	}

	depth := computeDepth(order, incoming)

	sort.Slice(order, func(i, j int) bool {
		if depth[order[i]] != depth[order[j]] {
			return depth[order[i]] < depth[order[j]]
		}
		return order[i] < order[j]
	})

	return &Graph{specs: byName, order: order, outgoing: outgoing, incoming: incoming, depth: depth}, nil
}

type stringMinHeap []string

func (h stringMinHeap) Len() int            { return len(h) }
func (h stringMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h stringMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stringMinHeap) Push(x any)         { *h = append(*h, x.(string)) }
func (h *stringMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a deterministic (lexicographic)
// ready-set tie-break, grounded on the teacher's min-heap-by-canonical-index
// approach.
func topoOrder(byName map[string]NodeSpec, outgoing map[string][]string, indeg map[string]int) ([]string, bool) {
	remaining := make(map[string]int, len(indeg))
	for k, v := range indeg {
		remaining[k] = v
	}

	ready := &stringMinHeap{}
	heap.Init(ready)
	for name, d := range remaining {
		if d == 0 {
			heap.Push(ready, name)
		}
	}

	out := make([]string, 0, len(byName))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		out = append(out, n)
		for _, m := range outgoing[n] {
			remaining[m]--
			if remaining[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out, len(out) == len(byName)
}

// cycleWitness performs a deterministic DFS to extract one cycle path for
// error reporting, mirroring the teacher's findCycleDeterministic.
func cycleWitness(byName map[string]NodeSpec, outgoing map[string][]string) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	color := make(map[string]int, len(names))
	parent := make(map[string]string, len(names))
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				cur := u
				for cur != "" && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range names {
		if color[n] != white {
			continue
		}
		if dfs(n) {
			break
		}
	}
	if len(cycle) == 0 {
		return "(unknown)"
	}
	out := make([]string, len(cycle))
	for i, n := range cycle {
		out[len(cycle)-1-i] = n
	}
	result := out[0]
	for _, n := range out[1:] {
		result += " -> " + n
	}
	return result
}

func computeDepth(order []string, incoming map[string][]string) map[string]int {
	depth := make(map[string]int, len(order))
	for _, u := range order {
		max := 0
		for _, p := range incoming[u] {
			if depth[p]+1 > max {
				max = depth[p] + 1
			}
		}
		depth[u] = max
	}
	return depth
}

// ancestors returns roots and every transitive dependency of roots.
func (g *Graph) ancestors(roots []string) (map[string]struct{}, error) {
	closure := make(map[string]struct{})
	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := g.specs[name]; !ok {
			return &GraphError{Msg: fmt.Sprintf("unknown root node %q", name)}
		}
		if _, seen := closure[name]; seen {
			return nil
		}
		closure[name] = struct{}{}
		for _, dep := range g.specs[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return closure, nil
}

// LocalScheduler is the deterministic, in-process oracle Scheduler
// implementation: spec.md §4.5 names LocalSerialEngine's pairing with a
// simple scheduler as "the oracle implementation for tests".
type LocalScheduler struct {
	graph   *Graph
	builder node.Builder

	lastPromises map[string]*promise.Promise
}

// NewLocalScheduler builds a LocalScheduler over graph, whose node.Builder
// is builder.
func NewLocalScheduler(graph *Graph, builder node.Builder) *LocalScheduler {
	return &LocalScheduler{graph: graph, builder: builder}
}

// NodeBuilder implements Scheduler.
func (s *LocalScheduler) NodeBuilder() node.Builder { return s.builder }

// RootEntries implements Scheduler. It must be called with the same
// Request passed to the most recently started Schedule call.
func (s *LocalScheduler) RootEntries(req Request) map[string]*promise.Promise {
	out := make(map[string]*promise.Promise, len(req.RootNames))
	for _, name := range req.RootNames {
		out[name] = s.lastPromises[name]
	}
	return out
}

// Schedule implements Scheduler.
func (s *LocalScheduler) Schedule(req Request) (Batches, error) {
	closure, err := s.graph.ancestors(req.RootNames)
	if err != nil {
		return nil, err
	}

	promises := make(map[string]*promise.Promise, len(closure))
	for name := range closure {
		promises[name] = promise.New()
	}
	s.lastPromises = promises

	pending := make(map[string]struct{}, len(closure))
	for name := range closure {
		pending[name] = struct{}{}
	}

	return &localBatches{
		graph:     s.graph,
		pending:   pending,
		promises:  promises,
		remaining: len(closure),
	}, nil
}

// localBatches is the stateful, pull-based iterator Schedule returns. Each
// call to Next recomputes the ready set the way the teacher's
// GetReadyTasks recomputes readiness fresh from graph + state every time,
// rather than maintaining incremental bookkeeping.
type localBatches struct {
	graph     *Graph
	pending   map[string]struct{}
	promises  map[string]*promise.Promise
	remaining int
}

func (b *localBatches) Next() ([]Entry, bool) {
	if b.remaining == 0 {
		return nil, false
	}

	type ready struct {
		name  string
		entry Entry
	}
	var readyList []ready

	for _, name := range b.graph.order {
		if _, ok := b.pending[name]; !ok {
			continue
		}
		spec := b.graph.specs[name]
		deps := make([]node.Result, 0, len(spec.DependsOn))
		blocked := false
		for _, dep := range spec.DependsOn {
			dp := b.promises[dep]
			if dp == nil || !dp.Resolved() {
				blocked = true
				break
			}
			res, err := dp.Get(context.Background())
			if err != nil {
				// A failed dependency never becomes ready; the engine
				// aborts the run on the first such error observed via
				// its own await_one, so this node simply stalls.
				blocked = true
				break
			}
			deps = append(deps, res)
		}
		if blocked {
			continue
		}
		st := step.New(spec.Node, deps)
		readyList = append(readyList, ready{name: name, entry: Entry{Step: st, Promise: b.promises[name]}})
	}

	batch := make([]Entry, 0, len(readyList))
	for _, r := range readyList {
		delete(b.pending, r.name)
		b.remaining--
		batch = append(batch, r.entry)
	}
	return batch, true
}
