package modifier

import (
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
)

// DissimilarityTies lets the focal agent drop ties to neighbors that have
// grown too different and form a tie with a non-neighbor that is similar
// enough.
type DissimilarityTies struct {
	Schedule `param:",squash"`

	DropThreshold   float64 `param:"drop_threshold"`
	DropProbability float64 `param:"drop_probability"`
	AddThreshold    float64 `param:"add_threshold"`
	AddProbability  float64 `param:"add_probability"`
}

func (m *DissimilarityTies) validate() error {
	for name, v := range map[string]float64{
		"drop_threshold":   m.DropThreshold,
		"drop_probability": m.DropProbability,
		"add_threshold":    m.AddThreshold,
		"add_probability":  m.AddProbability,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	return nil
}

func (*DissimilarityTies) Name() string { return "dissimilarity_ties" }

func (m *DissimilarityTies) Modify(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (int, error) {
	subset, err := net.Schema().Subset(m.Features)
	if err != nil {
		return 0, fmt.Errorf("dissimilarity_ties: %w", err)
	}
	changed := 0
	for _, v := range neighbors {
		if dissimilarity.Between(net, calc, focal, v, subset) < m.DropThreshold {
			continue
		}
		if rng.Float64() >= m.DropProbability {
			continue
		}
		u, w := focal, v
		if !net.HasTie(u, w) {
			u, w = v, focal
		}
		if removeTie(net, u, w, m.AllowDisconnect) {
			changed++
		}
	}

	var similar []int64
	for _, v := range nonNeighbors(net, focal) {
		if dissimilarity.Between(net, calc, focal, v, subset) <= m.AddThreshold {
			similar = append(similar, v)
		}
	}
	if len(similar) > 0 && rng.Float64() < m.AddProbability {
		if err := net.AddTie(focal, similar[rng.Intn(len(similar))], 1); err != nil {
			return changed, fmt.Errorf("dissimilarity_ties: %w", err)
		}
		changed++
	}
	return changed, nil
}

// NewTies ties the focal agent to a random non-neighbor with a fixed
// probability.
type NewTies struct {
	Schedule `param:",squash"`

	Probability float64 `param:"new_ties_probability"`
}

func (*NewTies) Name() string { return "new_ties" }

func (m *NewTies) Modify(net *network.Network, focal int64, _ []int64, _ dissimilarity.Calculator, rng *rand.Rand) (int, error) {
	if rng.Float64() >= m.Probability {
		return 0, nil
	}
	candidates := nonNeighbors(net, focal)
	if len(candidates) == 0 {
		return 0, nil
	}
	if err := net.AddTie(focal, candidates[rng.Intn(len(candidates))], 1); err != nil {
		return 0, fmt.Errorf("new_ties: %w", err)
	}
	return 1, nil
}
