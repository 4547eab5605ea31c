// Package network holds the agents of a simulation and the ties between them.
//
// Ties live in a gonum weighted graph, undirected unless the network was
// built directed. Every enumeration (agents, neighbors, ties) is returned in
// ascending id order so a seeded run visits agents in the same sequence no
// matter how the underlying maps are laid out.
package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// FeatureKind distinguishes discrete labels from bounded real values.
type FeatureKind string

const (
	Categorical FeatureKind = "categorical"
	Continuous  FeatureKind = "continuous"
)

// Feature describes one attribute every agent carries.
type Feature struct {
	Name string      `json:"name" yaml:"name"`
	Kind FeatureKind `json:"kind" yaml:"kind"`

	// Traits is the number of labels a categorical feature may take.
	Traits int `json:"traits,omitempty" yaml:"traits,omitempty"`

	// Min and Max bound a continuous feature.
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Range returns the width of the feature's value range. Categorical
// features report 1 since their distance is a match/mismatch.
func (f Feature) Range() float64 {
	if f.Kind == Categorical {
		return 1
	}
	return f.Max - f.Min
}

// Clip bounds v to the feature range.
func (f Feature) Clip(v float64) float64 {
	if f.Kind != Continuous {
		return v
	}
	if v < f.Min {
		return f.Min
	}
	if v > f.Max {
		return f.Max
	}
	return v
}

// Schema is the ordered list of features shared by all agents of a network.
type Schema []Feature

// Index returns the position of the named feature, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the feature names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Subset resolves feature names to schema indices. An empty list selects
// every feature.
func (s Schema) Subset(names []string) ([]int, error) {
	if len(names) == 0 {
		all := make([]int, len(s))
		for i := range s {
			all[i] = i
		}
		return all, nil
	}
	idx := make([]int, 0, len(names))
	for _, n := range names {
		i := s.Index(n)
		if i < 0 {
			return nil, fmt.Errorf("unknown feature %q (have %s)", n, strings.Join(s.Names(), ", "))
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// Validate checks that names are unique and ranges are usable.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return errors.New("feature name is empty")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case Categorical:
			if f.Traits < 1 {
				return fmt.Errorf("feature %q: traits must be positive, got %d", f.Name, f.Traits)
			}
		case Continuous:
			if !(f.Max > f.Min) {
				return fmt.Errorf("feature %q: max %v must exceed min %v", f.Name, f.Max, f.Min)
			}
		default:
			return fmt.Errorf("feature %q: unknown kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

// Agent is one node of the network together with its feature values.
// Categorical values are stored as integral trait labels.
type Agent struct {
	ID       int64     `json:"id"`
	Features []float64 `json:"features"`

	// Stubbornness in [0,1] dampens how far the agent moves when influenced.
	Stubbornness float64 `json:"stubbornness,omitempty"`
}

// Feature returns the value of the named feature.
func (a *Agent) Feature(schema Schema, name string) (float64, bool) {
	i := schema.Index(name)
	if i < 0 || i >= len(a.Features) {
		return 0, false
	}
	return a.Features[i], true
}

// Tie is a connection between two agents. For undirected networks From is
// always the lower id.
type Tie struct {
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Weight float64 `json:"weight"`
}

// ErrSelfTie is returned when a tie would connect an agent to itself.
var ErrSelfTie = errors.New("self tie")

type tieGraph interface {
	graph.Weighted
	graph.NodeAdder
	graph.WeightedEdgeAdder
	graph.EdgeRemover
}

// Network is the mutable state a single simulation run owns.
type Network struct {
	schema   Schema
	directed bool
	g        tieGraph
	agents   map[int64]*Agent
	ids      []int64
}

// New creates an empty network for agents sharing schema.
func New(schema Schema, directed bool) *Network {
	n := &Network{
		schema:   append(Schema(nil), schema...),
		directed: directed,
		agents:   make(map[int64]*Agent),
	}
	if directed {
		n.g = simple.NewWeightedDirectedGraph(0, 0)
	} else {
		n.g = simple.NewWeightedUndirectedGraph(0, 0)
	}
	return n
}

// Schema returns the feature schema.
func (n *Network) Schema() Schema { return n.schema }

// SetSchema replaces the schema and resizes every agent's feature vector.
// Initializers call it before assigning values.
func (n *Network) SetSchema(schema Schema) {
	n.schema = append(Schema(nil), schema...)
	for _, a := range n.agents {
		if len(a.Features) != len(schema) {
			a.Features = make([]float64, len(schema))
		}
	}
}

// Directed reports whether ties are one-way.
func (n *Network) Directed() bool { return n.directed }

// Len returns the number of agents.
func (n *Network) Len() int { return len(n.ids) }

// AddAgent inserts an agent with a fresh feature vector sized to the schema.
func (n *Network) AddAgent(id int64) (*Agent, error) {
	if _, ok := n.agents[id]; ok {
		return nil, fmt.Errorf("agent %d already exists", id)
	}
	a := &Agent{ID: id, Features: make([]float64, len(n.schema))}
	n.g.AddNode(simple.Node(id))
	n.agents[id] = a
	i := sort.Search(len(n.ids), func(i int) bool { return n.ids[i] >= id })
	n.ids = append(n.ids, 0)
	copy(n.ids[i+1:], n.ids[i:])
	n.ids[i] = id
	return a, nil
}

// Agent returns the agent with the given id, or nil.
func (n *Network) Agent(id int64) *Agent { return n.agents[id] }

// IDs returns agent ids in ascending order. The slice must not be modified.
func (n *Network) IDs() []int64 { return n.ids }

// Agents returns agents in id order.
func (n *Network) Agents() []*Agent {
	out := make([]*Agent, len(n.ids))
	for i, id := range n.ids {
		out[i] = n.agents[id]
	}
	return out
}

// AddTie connects u and v. Re-adding an existing tie updates its weight.
func (n *Network) AddTie(u, v int64, weight float64) error {
	if u == v {
		return fmt.Errorf("tie %d-%d: %w", u, v, ErrSelfTie)
	}
	if n.agents[u] == nil || n.agents[v] == nil {
		return fmt.Errorf("tie %d-%d: unknown agent", u, v)
	}
	n.g.SetWeightedEdge(n.g.NewWeightedEdge(simple.Node(u), simple.Node(v), weight))
	return nil
}

// RemoveTie deletes the tie between u and v if present.
func (n *Network) RemoveTie(u, v int64) {
	n.g.RemoveEdge(u, v)
}

// HasTie reports whether u is tied to v (u->v when directed).
func (n *Network) HasTie(u, v int64) bool {
	if n.directed {
		return n.g.(graph.Directed).HasEdgeFromTo(u, v)
	}
	return n.g.HasEdgeBetween(u, v)
}

// Weight returns the weight of the u-v tie.
func (n *Network) Weight(u, v int64) (float64, bool) {
	if !n.HasTie(u, v) {
		return 0, false
	}
	return n.g.Weight(u, v)
}

// Neighbors returns the agents u points to, all adjacent agents when
// undirected, in ascending id order.
func (n *Network) Neighbors(u int64) []int64 {
	if n.agents[u] == nil {
		return nil
	}
	return sortedIDs(n.g.From(u))
}

// Predecessors returns agents with a tie into u. For undirected networks it
// equals Neighbors.
func (n *Network) Predecessors(u int64) []int64 {
	if n.agents[u] == nil {
		return nil
	}
	if n.directed {
		return sortedIDs(n.g.(graph.Directed).To(u))
	}
	return sortedIDs(n.g.From(u))
}

// Degree returns the number of neighbors of u.
func (n *Network) Degree(u int64) int {
	if n.agents[u] == nil {
		return 0
	}
	return n.g.From(u).Len()
}

// Ties enumerates every tie once, sorted by (From, To).
func (n *Network) Ties() []Tie {
	var ties []Tie
	for _, u := range n.ids {
		for _, v := range n.Neighbors(u) {
			if !n.directed && v < u {
				continue
			}
			w, _ := n.g.Weight(u, v)
			ties = append(ties, Tie{From: u, To: v, Weight: w})
		}
	}
	return ties
}

// TieCount returns the number of ties.
func (n *Network) TieCount() int {
	count := 0
	for _, u := range n.ids {
		count += n.g.From(u).Len()
	}
	if !n.directed {
		count /= 2
	}
	return count
}

// Components returns the weakly connected components, each sorted by id,
// ordered by their smallest member.
func (n *Network) Components() [][]int64 {
	var ug graph.Undirected
	if n.directed {
		ug = graph.Undirect{G: n.g.(graph.Directed)}
	} else {
		ug = n.g.(graph.Undirected)
	}
	return sortComponents(topo.ConnectedComponents(ug))
}

// Connected reports whether every agent can reach every other agent,
// ignoring tie direction. Networks with fewer than two agents are connected.
func (n *Network) Connected() bool {
	if len(n.ids) < 2 {
		return true
	}
	return len(n.Components()) == 1
}

// Snapshot is a copy of all feature values in agent id order.
type Snapshot [][]float64

// Snapshot copies the current feature state.
func (n *Network) Snapshot() Snapshot {
	s := make(Snapshot, len(n.ids))
	for i, id := range n.ids {
		s[i] = append([]float64(nil), n.agents[id].Features...)
	}
	return s
}

// Equal reports whether two snapshots hold identical values.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if len(s[i]) != len(o[i]) {
			return false
		}
		for j := range s[i] {
			if s[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// Change returns the summed absolute difference between two snapshots of
// the same network.
func (s Snapshot) Change(o Snapshot) float64 {
	total := 0.0
	for i := range s {
		if i >= len(o) {
			break
		}
		for j := range s[i] {
			if j >= len(o[i]) {
				break
			}
			d := s[i][j] - o[i][j]
			if d < 0 {
				d = -d
			}
			total += d
		}
	}
	return total
}

func sortedIDs(it graph.Nodes) []int64 {
	ids := make([]int64, 0, it.Len())
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortComponents(cc [][]graph.Node) [][]int64 {
	out := make([][]int64, 0, len(cc))
	for _, c := range cc {
		ids := make([]int64, len(c))
		for i, nd := range c {
			ids[i] = nd.ID()
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
