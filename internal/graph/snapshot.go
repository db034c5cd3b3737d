package graph

import (
	"encoding/json"
	"fmt"
)

// snapshotDoc is the persisted shape: plain node and edge lists,
// sorted by id so encoding is deterministic.
type snapshotDoc struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Encode serializes the graph.
func (g *Graph) Encode() ([]byte, error) {
	doc := snapshotDoc{Nodes: g.Nodes(), Edges: g.Edges()}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode graph: %w", err)
	}
	return data, nil
}

// Decode rebuilds a graph from an Encode document. Edges whose
// endpoints are missing fail with ErrUnknownNode rather than loading
// a dangling reference.
func Decode(data []byte, opts Options) (*Graph, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	g := New(opts)
	for _, n := range doc.Nodes {
		if n.ID == "" || !ValidNodeKinds[n.Kind] {
			return nil, fmt.Errorf("decode graph: invalid node %q kind %q", n.ID, n.Kind)
		}
		g.nodes[n.ID] = copyNode(n)
	}
	for _, e := range doc.Edges {
		if !validEdgeKinds[e.Kind] {
			return nil, fmt.Errorf("decode graph: invalid edge kind %q", e.Kind)
		}
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("decode graph edge %s from %s: %w", e.ID, e.From, ErrUnknownNode)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("decode graph edge %s to %s: %w", e.ID, e.To, ErrUnknownNode)
		}
		cp := *e
		g.edges[e.ID] = &cp
		g.out[e.From] = append(g.out[e.From], e.ID)
		if e.Bidirectional && e.From != e.To {
			g.out[e.To] = append(g.out[e.To], e.ID)
		}
	}
	return g, nil
}
