package selector

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
)

// Mode is the communication regime of an interaction.
type Mode string

const (
	// OneToOne pairs the focal agent with a single neighbor.
	OneToOne Mode = "one_to_one"
	// OneToMany broadcasts the focal agent to all its neighbors.
	OneToMany Mode = "one_to_many"
	// ManyToOne makes the focal agent the target of all its neighbors.
	ManyToOne Mode = "many_to_one"
)

// ErrUnknownMode is returned for an unrecognized communication regime.
var ErrUnknownMode = errors.New("unknown communication regime")

// ParseMode accepts both the underscore and the dashed spelling.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "one_to_one", "one-to-one", "":
		return OneToOne, nil
	case "one_to_many", "one-to-many":
		return OneToMany, nil
	case "many_to_one", "many-to-one":
		return ManyToOne, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// NeighborSelector returns the interaction partners of a focal agent. An
// agent without ties yields an empty selection.
type NeighborSelector interface {
	Select(net *network.Network, focal int64, mode Mode, rng *rand.Rand) []int64
}

// NewNeighbor returns the named neighbor selector: random or similar.
func NewNeighbor(name string, p map[string]any, calc dissimilarity.Calculator, features []string) (NeighborSelector, error) {
	switch name {
	case "random", "":
		if err := params.Decode(p, &struct{}{}); err != nil {
			return nil, fmt.Errorf("neighbor selector %s: %w", name, err)
		}
		return RandomNeighbor{}, nil
	case "similar":
		s := &SimilarNeighbor{ConfidenceLevel: 0.5, calc: calc, features: features}
		if err := params.Decode(p, s); err != nil {
			return nil, fmt.Errorf("neighbor selector %s: %w", name, err)
		}
		if s.ConfidenceLevel < 0 || s.ConfidenceLevel > 1 {
			return nil, fmt.Errorf("neighbor selector %s: confidence_level must be in [0,1], got %v", name, s.ConfidenceLevel)
		}
		if calc == nil {
			return nil, fmt.Errorf("neighbor selector %s: needs a dissimilarity measure", name)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: neighbor %q", ErrUnknownSelector, name)
	}
}

// RandomNeighbor picks one tie uniformly for one_to_one and every tie
// otherwise.
type RandomNeighbor struct{}

func (RandomNeighbor) Select(net *network.Network, focal int64, mode Mode, rng *rand.Rand) []int64 {
	return pick(partners(net, focal, mode), mode, rng)
}

// SimilarNeighbor only considers neighbors closer than ConfidenceLevel.
type SimilarNeighbor struct {
	ConfidenceLevel float64 `param:"confidence_level"`

	calc     dissimilarity.Calculator
	features []string
}

func (s *SimilarNeighbor) Select(net *network.Network, focal int64, mode Mode, rng *rand.Rand) []int64 {
	subset, err := net.Schema().Subset(s.features)
	if err != nil {
		return nil
	}
	var near []int64
	for _, v := range partners(net, focal, mode) {
		if dissimilarity.Between(net, s.calc, focal, v, subset) < s.ConfidenceLevel {
			near = append(near, v)
		}
	}
	return pick(near, mode, rng)
}

// partners lists the agents tied to focal in the direction influence
// flows: successors when focal is the source, predecessors when it is the
// target. On an undirected network both are the neighbors.
func partners(net *network.Network, focal int64, mode Mode) []int64 {
	if mode == ManyToOne {
		return net.Predecessors(focal)
	}
	return net.Neighbors(focal)
}

func pick(candidates []int64, mode Mode, rng *rand.Rand) []int64 {
	if len(candidates) == 0 {
		return nil
	}
	if mode == OneToOne {
		return []int64{candidates[rng.Intn(len(candidates))]}
	}
	return candidates
}
