package network

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/nvandessel/defsim/internal/params"
)

// ErrUnknownGenerator is returned for an unrecognized topology name.
var ErrUnknownGenerator = errors.New("unknown network generator")

// GeneratorConfig holds the parameters shared by all topologies.
type GeneratorConfig struct {
	NumAgents    int  `param:"num_agents"`
	Directed     bool `param:"directed"`
	NumNeighbors int  `param:"num_neighbors"`

	// Neighborhood selects "von_neumann" or "moore" for grids.
	Neighborhood string `param:"neighborhood"`

	TieProbability    float64 `param:"tie_probability"`
	RewireProbability float64 `param:"rewire_probability"`

	// Ties lists explicit [from, to] pairs for the edge_list topology.
	Ties [][]int64 `param:"ties"`
}

// DefaultGeneratorConfig mirrors a 7x7 torus population.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		NumAgents:         49,
		NumNeighbors:      2,
		Neighborhood:      "von_neumann",
		TieProbability:    0.1,
		RewireProbability: 0.1,
	}
}

// Generate builds an agent population connected by the named topology:
// ring, grid, complete, random, small_world or edge_list. Agents receive
// ids 0..num_agents-1 and an empty schema; an initializer assigns features.
func Generate(name string, p map[string]any, rng *rand.Rand) (*Network, error) {
	cfg := DefaultGeneratorConfig()
	if err := params.Decode(p, &cfg); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	if cfg.NumAgents < 0 {
		return nil, fmt.Errorf("network %s: num_agents must be non-negative, got %d", name, cfg.NumAgents)
	}

	n := New(nil, cfg.Directed)
	for i := 0; i < cfg.NumAgents; i++ {
		if _, err := n.AddAgent(int64(i)); err != nil {
			return nil, err
		}
	}

	var err error
	switch name {
	case "ring":
		err = ringLattice(n, cfg.NumNeighbors)
	case "small_world":
		if err = ringLattice(n, cfg.NumNeighbors); err == nil {
			err = rewire(n, cfg.RewireProbability, rng)
		}
	case "grid":
		err = torus(n, cfg.Neighborhood)
	case "complete":
		err = complete(n)
	case "random":
		err = erdosRenyi(n, cfg.TieProbability, rng)
	case "edge_list":
		for _, pair := range cfg.Ties {
			if len(pair) != 2 {
				return nil, fmt.Errorf("network edge_list: tie %v must have two ends", pair)
			}
			if err = n.AddTie(pair[0], pair[1], 1); err != nil {
				break
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
	}
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	return n, nil
}

// tie adds u-v, and v-u as well when the network is directed so that the
// symmetric topologies stay symmetric.
func tie(n *Network, u, v int64) error {
	if u == v || n.HasTie(u, v) {
		return nil
	}
	if err := n.AddTie(u, v, 1); err != nil {
		return err
	}
	if n.directed {
		return n.AddTie(v, u, 1)
	}
	return nil
}

func ringLattice(n *Network, k int) error {
	if k%2 != 0 || k < 0 {
		return fmt.Errorf("num_neighbors must be even and non-negative, got %d", k)
	}
	size := int64(n.Len())
	if size > 0 && int64(k) >= size {
		return fmt.Errorf("num_neighbors %d must be below num_agents %d", k, size)
	}
	for i := int64(0); i < size; i++ {
		for j := int64(1); j <= int64(k/2); j++ {
			if err := tie(n, i, (i+j)%size); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewire moves the far end of each lattice tie to a random agent with
// probability p, skipping moves that would duplicate a tie.
func rewire(n *Network, p float64, rng *rand.Rand) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("rewire_probability must be in [0,1], got %v", p)
	}
	size := n.Len()
	for _, t := range n.Ties() {
		if rng.Float64() >= p {
			continue
		}
		w := int64(rng.Intn(size))
		if w == t.From || n.HasTie(t.From, w) {
			continue
		}
		n.RemoveTie(t.From, t.To)
		if n.directed {
			n.RemoveTie(t.To, t.From)
		}
		if err := tie(n, t.From, w); err != nil {
			return err
		}
	}
	return nil
}

func torus(n *Network, neighborhood string) error {
	side := int(math.Round(math.Sqrt(float64(n.Len()))))
	if side*side != n.Len() {
		return fmt.Errorf("grid needs a square num_agents, got %d", n.Len())
	}
	var offsets [][2]int
	switch neighborhood {
	case "", "von_neumann":
		offsets = [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}
	case "moore":
		offsets = [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	default:
		return fmt.Errorf("unknown neighborhood %q", neighborhood)
	}
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			u := int64(r*side + c)
			for _, o := range offsets {
				rr := (r + o[0] + side) % side
				cc := (c + o[1] + side) % side
				if err := tie(n, u, int64(rr*side+cc)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func complete(n *Network) error {
	ids := n.IDs()
	for i, u := range ids {
		for _, v := range ids[i+1:] {
			if err := tie(n, u, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func erdosRenyi(n *Network, p float64, rng *rand.Rand) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("tie_probability must be in [0,1], got %v", p)
	}
	ids := n.IDs()
	for i, u := range ids {
		for _, v := range ids[i+1:] {
			if rng.Float64() < p {
				if err := tie(n, u, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
