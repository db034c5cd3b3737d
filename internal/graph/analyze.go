package graph

import (
	"fmt"
	"sort"
)

// Default cluster thresholds used by Statistics.
const (
	DefaultClusterMinSize      = 3
	DefaultClusterMinCoherence = 0.5
)

// TraverseQuery selects nodes. With a Start, the graph walks
// depth-first outward; without one, the filters run as a global scan.
type TraverseQuery struct {
	Start string
	// MaxDepth bounds the walk; 0 or less means unbounded.
	MaxDepth int
	// NodeKind keeps only matching nodes in the result. Traversal
	// still passes through non-matching nodes so a filter cannot cut
	// reachability.
	NodeKind NodeKind
	// EdgeKind restricts which edges the walk may follow.
	EdgeKind EdgeKind
	// MinWeight restricts followed edges; on a global scan it applies
	// to node weight instead.
	MinWeight float64
}

// Traverse runs q and returns matching nodes in deterministic order:
// visit order for a walk, id order for a global scan.
func (g *Graph) Traverse(q TraverseQuery) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if q.Start == "" {
		var out []*Node
		for _, id := range g.sortedNodeIDs() {
			n := g.nodes[id]
			if q.NodeKind != "" && n.Kind != q.NodeKind {
				continue
			}
			if n.Weight < q.MinWeight {
				continue
			}
			out = append(out, copyNode(n))
		}
		return out, nil
	}

	if _, ok := g.nodes[q.Start]; !ok {
		return nil, fmt.Errorf("traverse from %s: %w", q.Start, ErrUnknownNode)
	}

	visited := map[string]bool{}
	var out []*Node
	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := g.nodes[id]
		if q.NodeKind == "" || n.Kind == q.NodeKind {
			out = append(out, copyNode(n))
		}
		if q.MaxDepth > 0 && depth >= q.MaxDepth {
			return
		}
		for _, nb := range g.neighborsLocked(id) {
			if q.EdgeKind != "" && nb.edge.Kind != q.EdgeKind {
				continue
			}
			if nb.edge.Weight < q.MinWeight {
				continue
			}
			walk(nb.node, depth+1)
		}
	}
	walk(q.Start, 0)
	return out, nil
}

// FindPath returns the shortest path from source to target by edge
// count, or nil when target is unreachable. FindPath(a, a) is [a].
func (g *Graph) FindPath(source, target string) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[source]; !ok {
		return nil, fmt.Errorf("path from %s: %w", source, ErrUnknownNode)
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, fmt.Errorf("path to %s: %w", target, ErrUnknownNode)
	}
	if source == target {
		return []*Node{copyNode(g.nodes[source])}, nil
	}

	prev := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, nb := range g.neighborsLocked(id) {
			if _, seen := prev[nb.node]; seen {
				continue
			}
			prev[nb.node] = id
			if nb.node == target {
				return g.assemblePathLocked(prev, source, target), nil
			}
			queue = append(queue, nb.node)
		}
	}
	return nil, nil
}

func (g *Graph) assemblePathLocked(prev map[string]string, source, target string) []*Node {
	var ids []string
	for id := target; id != ""; id = prev[id] {
		ids = append(ids, id)
		if id == source {
			break
		}
	}
	out := make([]*Node, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, copyNode(g.nodes[ids[i]]))
	}
	return out
}

// Centrality is the node's degree divided by the maximum degree in
// the graph. Self-loops never count, and a graph with no edges gives
// every node centrality 0.
func (g *Graph) Centrality(id string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return 0, fmt.Errorf("centrality of %s: %w", id, ErrUnknownNode)
	}
	degrees := g.degreesLocked()
	max := 0
	for _, d := range degrees {
		if d > max {
			max = d
		}
	}
	if max == 0 {
		return 0, nil
	}
	return float64(degrees[id]) / float64(max), nil
}

// degreesLocked counts incident non-self-loop edges per node. A
// bidirectional edge still counts once per endpoint.
func (g *Graph) degreesLocked() map[string]int {
	degrees := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		degrees[id] = 0
	}
	for _, e := range g.edges {
		if e.From == e.To {
			continue
		}
		degrees[e.From]++
		degrees[e.To]++
	}
	return degrees
}

// Cluster is a coherent node group found by DetectClusters.
type Cluster struct {
	Nodes     []string `json:"nodes"`
	Size      int      `json:"size"`
	Coherence float64  `json:"coherence"`
}

// DetectClusters grows a candidate cluster from each unvisited node
// by BFS over edges with weight >= minCoherence (followed in either
// direction), then keeps clusters meeting both the size and the
// coherence threshold, where coherence = (edge density + mean edge
// weight) / 2 over the grown node set.
func (g *Graph) DetectClusters(minSize int, minCoherence float64) []Cluster {
	g.mu.RLock()
	defer g.mu.RUnlock()

	undirected := g.undirectedAdjacencyLocked(minCoherence)
	visited := map[string]bool{}
	var clusters []Cluster
	for _, start := range g.sortedNodeIDs() {
		if visited[start] {
			continue
		}
		members := g.growLocked(start, undirected, visited)
		if len(members) < minSize {
			continue
		}
		coherence := g.coherenceLocked(members)
		if coherence < minCoherence {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, Cluster{
			Nodes:     members,
			Size:      len(members),
			Coherence: coherence,
		})
	}
	return clusters
}

// undirectedAdjacencyLocked maps node id to the sorted neighbor ids
// reachable over any edge with weight >= minWeight, ignoring
// direction.
func (g *Graph) undirectedAdjacencyLocked(minWeight float64) map[string][]string {
	adj := make(map[string][]string)
	for _, eid := range g.sortedEdgeIDs() {
		e := g.edges[eid]
		if e.Weight < minWeight || e.From == e.To {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

func (g *Graph) growLocked(start string, adj map[string][]string, visited map[string]bool) []string {
	visited[start] = true
	members := []string{start}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			members = append(members, next)
			queue = append(queue, next)
		}
	}
	return members
}

// coherenceLocked scores a node set: (edge density + mean edge
// weight) / 2 over the edges whose endpoints both lie in the set.
func (g *Graph) coherenceLocked(members []string) float64 {
	if len(members) < 2 {
		return 0
	}
	inSet := make(map[string]bool, len(members))
	for _, id := range members {
		inSet[id] = true
	}
	edgeCount := 0
	weightSum := 0.0
	for _, e := range g.edges {
		if e.From == e.To || !inSet[e.From] || !inSet[e.To] {
			continue
		}
		edgeCount++
		weightSum += e.Weight
	}
	if edgeCount == 0 {
		return 0
	}
	n := float64(len(members))
	maxPossible := n * (n - 1) / 2
	density := float64(edgeCount) / maxPossible
	if density > 1 {
		density = 1
	}
	meanWeight := weightSum / float64(edgeCount)
	return (density + meanWeight) / 2
}

// Stats summarizes the graph.
type Stats struct {
	Nodes      int     `json:"nodes"`
	Edges      int     `json:"edges"`
	Clusters   int     `json:"clusters"`
	AvgDegree  float64 `json:"avg_degree"`
	Density    float64 `json:"density"`
	Components int     `json:"components"`
}

// Statistics computes graph-wide counts. Density uses the directed
// maximum n*(n-1); components treat every edge as undirected.
func (g *Graph) Statistics() Stats {
	clusters := g.DetectClusters(DefaultClusterMinSize, DefaultClusterMinCoherence)

	g.mu.RLock()
	defer g.mu.RUnlock()

	st := Stats{
		Nodes:    len(g.nodes),
		Edges:    len(g.edges),
		Clusters: len(clusters),
	}
	if st.Nodes == 0 {
		return st
	}

	degrees := g.degreesLocked()
	total := 0
	for _, d := range degrees {
		total += d
	}
	st.AvgDegree = float64(total) / float64(st.Nodes)
	if st.Nodes > 1 {
		st.Density = float64(st.Edges) / float64(st.Nodes*(st.Nodes-1))
	}

	adj := g.undirectedAdjacencyLocked(0)
	visited := map[string]bool{}
	for _, id := range g.sortedNodeIDs() {
		if visited[id] {
			continue
		}
		g.growLocked(id, adj, visited)
		st.Components++
	}
	return st
}
