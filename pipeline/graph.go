package pipeline

import (
	"fmt"

	"github.com/hydrokb/resolver/catalog"
)

// Edge is a producer -> consumer dependency between two components
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Graph is the dependency graph of one candidate group. Vertex i is the
// i-th distinct component of the group; successor lists are kept in vertex order.
type Graph struct {
	ids   []string
	succ  [][]int
	pred  [][]int
	index map[string]int
}

// BuildGraph adds an edge A -> B whenever an output of A is a required or
// optional input of B. Self-pairs are skipped. Before A's edges are added,
// overrides matching A remove the successors they name.
func BuildGraph(componentIDs []string, metas map[string]catalog.ComponentMeta, overrides []catalog.EdgeOverride) (*Graph, error) {
	g := &Graph{index: make(map[string]int, len(componentIDs))}
	for _, id := range componentIDs {
		if _, dup := g.index[id]; dup {
			continue
		}
		if _, ok := metas[id]; !ok {
			return nil, fmt.Errorf("component %s: %w", id, catalog.ErrNotFound)
		}
		g.index[id] = len(g.ids)
		g.ids = append(g.ids, id)
	}
	g.succ = make([][]int, len(g.ids))
	g.pred = make([][]int, len(g.ids))

	for a, from := range g.ids {
		outputs := toSet(metas[from].Outputs)
		for b, to := range g.ids {
			if a == b || suppressed(overrides, from, to) {
				continue
			}
			if consumes(metas[to], outputs) {
				g.succ[a] = append(g.succ[a], b)
				g.pred[b] = append(g.pred[b], a)
			}
		}
	}
	return g, nil
}

func suppressed(overrides []catalog.EdgeOverride, from, to string) bool {
	for _, o := range overrides {
		if o.Matches(from, to) {
			return true
		}
	}
	return false
}

func consumes(meta catalog.ComponentMeta, outputs map[string]struct{}) bool {
	for _, list := range [][]string{meta.Inputs, meta.OptionalInputs} {
		for _, in := range list {
			if _, ok := outputs[in]; ok {
				return true
			}
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// Components returns the vertices in group order
func (g *Graph) Components() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Edges returns every edge, grouped by producer in vertex order
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for a, succ := range g.succ {
		for _, b := range succ {
			edges = append(edges, Edge{From: g.ids[a], To: g.ids[b]})
		}
	}
	return edges
}

// HasEdge reports whether from -> to is an edge
func (g *Graph) HasEdge(from, to string) bool {
	a, ok := g.index[from]
	if !ok {
		return false
	}
	b, ok := g.index[to]
	if !ok {
		return false
	}
	for _, s := range g.succ[a] {
		if s == b {
			return true
		}
	}
	return false
}

// Sort orders the components with Kahn's algorithm. The queue is FIFO and
// seeded in vertex order, so the result is deterministic. A cycle yields
// *CyclicDependencyError.
func (g *Graph) Sort() ([]string, error) {
	n := len(g.ids)
	indegree := make([]int, n)
	for b := range g.pred {
		indegree[b] = len(g.pred[b])
	}

	queue := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if indegree[v] == 0 {
			queue = append(queue, v)
		}
	}

	order := make([]string, 0, n)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, g.ids[v])
		for _, s := range g.succ[v] {
			indegree[s]--
			if indegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) < n {
		return nil, g.cycleError(indegree)
	}
	return order, nil
}

// cycleError walks residual predecessors from the first unordered vertex
// until a vertex repeats. Every residual vertex has a residual predecessor,
// so the walk always closes.
func (g *Graph) cycleError(indegree []int) *CyclicDependencyError {
	err := &CyclicDependencyError{}
	start := -1
	for v, d := range indegree {
		if d > 0 {
			err.Unordered = append(err.Unordered, g.ids[v])
			if start < 0 {
				start = v
			}
		}
	}

	seen := make(map[int]int)
	var path []int
	v := start
	for {
		if pos, ok := seen[v]; ok {
			path = path[pos:]
			break
		}
		seen[v] = len(path)
		path = append(path, v)
		for _, p := range g.pred[v] {
			if indegree[p] > 0 {
				v = p
				break
			}
		}
	}

	// path runs against the edges; reverse it and rotate to the lowest vertex
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	low := 0
	for i := range path {
		if path[i] < path[low] {
			low = i
		}
	}
	for i := range path {
		err.Cycle = append(err.Cycle, g.ids[path[(low+i)%len(path)]])
	}
	err.Cycle = append(err.Cycle, err.Cycle[0])
	return err
}
