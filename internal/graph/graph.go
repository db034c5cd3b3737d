// Package graph maintains the typed relationship graph over memory
// nodes and derived concepts. Nodes and edges reference each other by
// id only; the graph object owns all resolution.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/resonance/internal/keyword"
	"github.com/rcliao/resonance/internal/model"
)

// Error kinds callers branch on with errors.Is.
var (
	ErrUnknownNode = errors.New("unknown node")
	ErrUnknownEdge = errors.New("unknown edge")
)

// NodeKind classifies a node.
type NodeKind string

const (
	NodeMemory  NodeKind = "memory"
	NodeConcept NodeKind = "concept"
	NodeEntity  NodeKind = "entity"
	NodePattern NodeKind = "pattern"
)

// ValidNodeKinds is the closed set of node kinds.
var ValidNodeKinds = map[NodeKind]bool{
	NodeMemory:  true,
	NodeConcept: true,
	NodeEntity:  true,
	NodePattern: true,
}

// EdgeKind classifies a relationship.
type EdgeKind string

const (
	EdgeResonates   EdgeKind = "resonates"
	EdgeContradicts EdgeKind = "contradicts"
	EdgeReinforces  EdgeKind = "reinforces"
	EdgeEvolves     EdgeKind = "evolves"
	EdgeReferences  EdgeKind = "references"
)

var validEdgeKinds = map[EdgeKind]bool{
	EdgeResonates:   true,
	EdgeContradicts: true,
	EdgeReinforces:  true,
	EdgeEvolves:     true,
	EdgeReferences:  true,
}

// Edge weights used by AddMemoryNode.
const (
	harmonicEdgeWeight = 0.8
	conceptEdgeWeight  = 0.5
)

// Concept extraction keeps a tighter bound than envelope auto-tagging.
const (
	conceptMaxKeywords = 3
	conceptMinLength   = 4
)

// memoryLabelLimit bounds how much content a memory node's label
// carries.
const memoryLabelLimit = 64

// Node is one vertex. Memory nodes use their envelope's id; concept
// nodes use "concept:<label>" so repeated extraction converges on the
// same node.
type Node struct {
	ID        string    `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Label     string    `json:"label"`
	Weight    float64   `json:"weight"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Edge is a directed relationship. Bidirectional edges traverse both
// ways but still count once.
type Edge struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Kind          EdgeKind  `json:"kind"`
	Weight        float64   `json:"weight"`
	Bidirectional bool      `json:"bidirectional,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Options configures a graph.
type Options struct {
	// Clock supplies node and edge timestamps. Defaults to time.Now in
	// UTC.
	Clock func() time.Time
}

// Graph is the owned adjacency structure. Mutation is serialized by
// the write lock; reads may run concurrently.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge
	// out lists, per node, the ids of edges leaving it, including the
	// reverse direction of bidirectional edges.
	out   map[string][]string
	clock func() time.Time
}

// New creates an empty graph.
func New(opts Options) *Graph {
	g := &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
		out:   make(map[string][]string),
		clock: opts.Clock,
	}
	if g.clock == nil {
		g.clock = func() time.Time { return time.Now().UTC() }
	}
	return g
}

// AddNode creates a node and returns its id. Concept nodes get the
// deterministic "concept:<label>" id and re-adding one updates the
// existing node instead of duplicating it.
func (g *Graph) AddNode(kind NodeKind, label string, weight float64, emb []float32) (string, error) {
	if !ValidNodeKinds[kind] {
		return "", fmt.Errorf("add node: unknown kind %q", kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	id := model.NewID(g.clock())
	if kind == NodeConcept {
		id = ConceptID(label)
		if existing, ok := g.nodes[id]; ok {
			existing.Weight = weight
			return id, nil
		}
	}
	g.addNodeLocked(id, kind, label, weight, emb)
	return id, nil
}

func (g *Graph) addNodeLocked(id string, kind NodeKind, label string, weight float64, emb []float32) {
	g.nodes[id] = &Node{
		ID:        id,
		Kind:      kind,
		Label:     label,
		Weight:    weight,
		Embedding: append([]float32(nil), emb...),
		CreatedAt: g.clock(),
	}
}

// ConceptID is the deterministic node id for a concept label.
func ConceptID(label string) string {
	return "concept:" + label
}

// AddEdge links two existing nodes. The kind must come from the
// closed set and the weight is clamped to [0,1].
func (g *Graph) AddEdge(from, to string, kind EdgeKind, weight float64, bidirectional bool) (string, error) {
	if !validEdgeKinds[kind] {
		return "", fmt.Errorf("add edge: unknown kind %q", kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(from, to, kind, weight, bidirectional)
}

func (g *Graph) addEdgeLocked(from, to string, kind EdgeKind, weight float64, bidirectional bool) (string, error) {
	if _, ok := g.nodes[from]; !ok {
		return "", fmt.Errorf("add edge from %s: %w", from, ErrUnknownNode)
	}
	if _, ok := g.nodes[to]; !ok {
		return "", fmt.Errorf("add edge to %s: %w", to, ErrUnknownNode)
	}
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	id := model.NewID(g.clock())
	g.edges[id] = &Edge{
		ID:            id,
		From:          from,
		To:            to,
		Kind:          kind,
		Weight:        weight,
		Bidirectional: bidirectional,
		CreatedAt:     g.clock(),
	}
	g.out[from] = append(g.out[from], id)
	if bidirectional && from != to {
		g.out[to] = append(g.out[to], id)
	}
	return id, nil
}

// AddMemoryNode registers an envelope as a memory node, adds
// resonates edges to the harmonic neighbors already present in the
// graph, and links references edges to concept nodes extracted from
// the content, creating concepts as needed. Re-adding an envelope id
// refreshes the node in place.
func (g *Graph) AddMemoryNode(env *model.Envelope) (string, error) {
	if env == nil || env.ID == "" {
		return "", errors.New("add memory node: envelope has no id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	weight := env.Resonance
	if weight <= 0 {
		weight = 1
	}
	var emb []float32
	if env.Embedding != nil {
		emb = env.Embedding.Vector
	}
	if existing, ok := g.nodes[env.ID]; ok {
		existing.Label = memoryLabel(env.Content)
		existing.Weight = weight
		existing.Embedding = append([]float32(nil), emb...)
	} else {
		g.addNodeLocked(env.ID, NodeMemory, memoryLabel(env.Content), weight, emb)
	}

	for _, h := range env.Harmonics {
		if _, ok := g.nodes[h]; !ok {
			continue
		}
		if h == env.ID || g.hasEdgeLocked(env.ID, h, EdgeResonates) {
			continue
		}
		if _, err := g.addEdgeLocked(env.ID, h, EdgeResonates, harmonicEdgeWeight, true); err != nil {
			return "", err
		}
	}

	concepts := keyword.Extract(env.Content, keyword.Options{
		MaxKeywords: conceptMaxKeywords,
		MinLength:   conceptMinLength,
	})
	for _, c := range concepts {
		cid := ConceptID(c)
		if _, ok := g.nodes[cid]; !ok {
			g.addNodeLocked(cid, NodeConcept, c, 1, nil)
		}
		if g.hasEdgeLocked(env.ID, cid, EdgeReferences) {
			continue
		}
		if _, err := g.addEdgeLocked(env.ID, cid, EdgeReferences, conceptEdgeWeight, false); err != nil {
			return "", err
		}
	}
	return env.ID, nil
}

func (g *Graph) hasEdgeLocked(from, to string, kind EdgeKind) bool {
	for _, eid := range g.out[from] {
		e := g.edges[eid]
		if e.Kind != kind {
			continue
		}
		if (e.From == from && e.To == to) || (e.Bidirectional && e.From == to && e.To == from) {
			return true
		}
	}
	return false
}

func memoryLabel(content string) string {
	runes := []rune(content)
	if len(runes) > memoryLabelLimit {
		return string(runes[:memoryLabelLimit])
	}
	return content
}

// Node returns a copy of the node.
func (g *Graph) Node(id string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	return copyNode(n), nil
}

// Edge returns a copy of the edge.
func (g *Graph) Edge(id string) (*Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", id, ErrUnknownEdge)
	}
	cp := *e
	return &cp, nil
}

// Neighbor pairs a node one hop away with the edge that reaches it.
type Neighbor struct {
	Node *Node `json:"node"`
	Edge *Edge `json:"edge"`
}

// Neighbors returns copies of the nodes adjacent to id with their
// connecting edges, sorted by neighbor id then edge id.
func (g *Graph) Neighbors(id string) ([]Neighbor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	var out []Neighbor
	for _, nb := range g.neighborsLocked(id) {
		ec := *nb.edge
		out = append(out, Neighbor{Node: copyNode(g.nodes[nb.node]), Edge: &ec})
	}
	return out, nil
}

// SetNodeWeight updates a node's weight in place.
func (g *Graph) SetNodeWeight(id string, weight float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	n.Weight = weight
	return nil
}

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, ErrUnknownEdge)
	}
	delete(g.edges, id)
	g.out[e.From] = removeID(g.out[e.From], id)
	if e.Bidirectional && e.From != e.To {
		g.out[e.To] = removeID(g.out[e.To], id)
	}
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	for eid, e := range g.edges {
		if e.From != id && e.To != id {
			continue
		}
		delete(g.edges, eid)
		g.out[e.From] = removeID(g.out[e.From], eid)
		if e.Bidirectional && e.From != e.To {
			g.out[e.To] = removeID(g.out[e.To], eid)
		}
	}
	delete(g.nodes, id)
	delete(g.out, id)
	return nil
}

// NodeCount reports how many nodes the graph holds.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount reports how many edges the graph holds.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Nodes returns copies of all nodes sorted by id.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, id := range g.sortedNodeIDs() {
		out = append(out, copyNode(g.nodes[id]))
	}
	return out
}

// Edges returns copies of all edges sorted by id.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Edge, 0, len(g.edges))
	for _, id := range g.sortedEdgeIDs() {
		cp := *g.edges[id]
		out = append(out, &cp)
	}
	return out
}

// sortedNodeIDs keeps iteration deterministic. Caller holds a lock.
func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) sortedEdgeIDs() []string {
	ids := make([]string, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// neighborsLocked returns (node, edge) pairs reachable one hop from
// id, sorted by neighbor id then edge id.
func (g *Graph) neighborsLocked(id string) []neighbor {
	var out []neighbor
	for _, eid := range g.out[id] {
		e := g.edges[eid]
		next := e.To
		if next == id && e.Bidirectional {
			next = e.From
		}
		out = append(out, neighbor{node: next, edge: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].node != out[j].node {
			return out[i].node < out[j].node
		}
		return out[i].edge.ID < out[j].edge.ID
	})
	return out
}

type neighbor struct {
	node string
	edge *Edge
}

func copyNode(n *Node) *Node {
	cp := *n
	cp.Embedding = append([]float32(nil), n.Embedding...)
	return &cp
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
