package influence

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
	"github.com/nvandessel/defsim/internal/selector"
)

// Gate orders for the bounded confidence check.
const (
	GateBeforeDraw = "before_draw"
	GateAfterDraw  = "after_draw"
)

// SimilarityAdoption copies one differing feature from source to target
// with a probability that grows with their similarity (Axelrod-style
// homophily and assimilation).
type SimilarityAdoption struct {
	Common `param:",squash"`

	// Homophily shapes the success curve; 1 makes it 1 - dissimilarity.
	Homophily float64 `param:"homophily"`

	// BoundedConfidence blocks interaction when dissimilarity exceeds it.
	// Zero disables the gate.
	BoundedConfidence float64 `param:"bounded_confidence"`

	// GateOrder is "before_draw" (the default) or "after_draw". After the
	// draw, blocked pairs still consume a random number.
	GateOrder string `param:"gate_order"`

	mode selector.Mode
}

func newSimilarityAdoption(mode selector.Mode, p map[string]any) (*SimilarityAdoption, error) {
	op := &SimilarityAdoption{Homophily: 1, GateOrder: GateBeforeDraw, mode: mode}
	if err := params.Decode(p, op); err != nil {
		return nil, err
	}
	if op.Homophily < 0 {
		return nil, fmt.Errorf("homophily must be non-negative, got %v", op.Homophily)
	}
	if err := inUnit("bounded_confidence", op.BoundedConfidence); err != nil {
		return nil, err
	}
	if op.GateOrder != GateBeforeDraw && op.GateOrder != GateAfterDraw {
		return nil, fmt.Errorf("gate_order must be %q or %q, got %q", GateBeforeDraw, GateAfterDraw, op.GateOrder)
	}
	return op, nil
}

func (*SimilarityAdoption) Name() string { return "similarity_adoption" }

// Probability returns the chance that agents at dissimilarity d interact.
func (op *SimilarityAdoption) Probability(d float64) float64 {
	h := op.Homophily
	scale := math.Pow(0.5, 1-h)
	if d >= 0.5 {
		return scale * math.Pow(1-d, h)
	}
	return 1 - scale*math.Pow(d, h)
}

// blocked reports whether the bounded confidence gate rejects d.
func (op *SimilarityAdoption) blocked(d float64) bool {
	return op.BoundedConfidence > 0 && d > op.BoundedConfidence
}

// interacts runs the gate and the success draw in the configured order.
func (op *SimilarityAdoption) interacts(d float64, rng *rand.Rand) bool {
	if op.GateOrder == GateBeforeDraw && op.blocked(d) {
		return false
	}
	ok := rng.Float64() < op.Probability(d)
	if op.GateOrder == GateAfterDraw && op.blocked(d) {
		return false
	}
	return ok
}

func (op *SimilarityAdoption) Apply(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (bool, error) {
	if len(neighbors) == 0 {
		return false, nil
	}
	subset, err := op.subset(net)
	if err != nil {
		return false, fmt.Errorf("similarity_adoption: %w", err)
	}
	if op.mode == selector.ManyToOne {
		return op.adoptFromMany(net, focal, neighbors, calc, subset, rng), nil
	}

	source := net.Agent(focal)
	success := false
	for _, id := range neighbors {
		d := measure(net, calc, focal, id, subset)
		if d == 0 {
			continue
		}
		if !op.interacts(d, rng) {
			continue
		}
		target := net.Agent(id)
		diff := differing(source, target, subset)
		if len(diff) == 0 {
			continue
		}
		f := diff[rng.Intn(len(diff))]
		target.Features[f] = source.Features[f]
		success = true
	}
	return success, nil
}

// adoptFromMany lets the focal agent take, on one feature where it differs
// from a successful neighbor, the value most common among those neighbors.
func (op *SimilarityAdoption) adoptFromMany(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, subset []int, rng *rand.Rand) bool {
	target := net.Agent(focal)
	var sources []*network.Agent
	for _, id := range neighbors {
		d := measure(net, calc, focal, id, subset)
		if d == 0 {
			continue
		}
		if op.interacts(d, rng) {
			sources = append(sources, net.Agent(id))
		}
	}
	if len(sources) == 0 {
		return false
	}

	var candidates []int
	for _, f := range subset {
		for _, s := range sources {
			if s.Features[f] != target.Features[f] {
				candidates = append(candidates, f)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return false
	}
	f := candidates[rng.Intn(len(candidates))]

	counts := make(map[float64]int)
	for _, s := range sources {
		counts[s.Features[f]]++
	}
	best, bestCount := 0.0, -1
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	if best == target.Features[f] {
		return false
	}
	target.Features[f] = best
	return true
}

// differing lists the subset features on which a and b disagree, in
// schema order.
func differing(a, b *network.Agent, subset []int) []int {
	var out []int
	for _, f := range subset {
		if a.Features[f] != b.Features[f] {
			out = append(out, f)
		}
	}
	return out
}
