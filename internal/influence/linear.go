package influence

import (
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
	"github.com/nvandessel/defsim/internal/selector"
)

// WeightedLinear moves continuous features toward, or away from, the
// source by a magnitude that depends on dissimilarity:
//
//	m = base_influence * smoothing * w(d) * (1 - stubbornness)
//	w(d) = 1 - d/threshold   (threshold > 0), else 1
//
// Below the threshold influence attracts, above it repels.
type WeightedLinear struct {
	Common `param:",squash"`
	TwoWay `param:",squash"`

	BaseInfluence float64 `param:"base_influence"`
	Smoothing     float64 `param:"smoothing"`
	Threshold     float64 `param:"threshold"`

	// Stubbornness overrides every agent's own value when set.
	Stubbornness *float64 `param:"stubbornness"`

	mode selector.Mode
}

func newWeightedLinear(mode selector.Mode, p map[string]any) (*WeightedLinear, error) {
	op := &WeightedLinear{BaseInfluence: 0.5, Smoothing: 1, mode: mode}
	if err := params.Decode(p, op); err != nil {
		return nil, err
	}
	if err := op.check(mode); err != nil {
		return nil, err
	}
	if op.BaseInfluence < 0 {
		return nil, fmt.Errorf("base_influence must be non-negative, got %v", op.BaseInfluence)
	}
	if op.Smoothing < 0 {
		return nil, fmt.Errorf("smoothing must be non-negative, got %v", op.Smoothing)
	}
	if op.Threshold < 0 {
		return nil, fmt.Errorf("threshold must be non-negative, got %v", op.Threshold)
	}
	if op.Stubbornness != nil {
		if err := inUnit("stubbornness", *op.Stubbornness); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func (*WeightedLinear) Name() string { return "weighted_linear" }

// Magnitude returns the signed influence a target with the given
// stubbornness experiences at dissimilarity d.
func (op *WeightedLinear) Magnitude(d, stubbornness float64) float64 {
	if op.Stubbornness != nil {
		stubbornness = *op.Stubbornness
	}
	w := 1.0
	if op.Threshold > 0 {
		w = 1 - d/op.Threshold
	}
	return op.BaseInfluence * op.Smoothing * w * (1 - stubbornness)
}

func (op *WeightedLinear) Apply(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (bool, error) {
	if len(neighbors) == 0 {
		return false, nil
	}
	subset, err := op.subset(net)
	if err != nil {
		return false, fmt.Errorf("weighted_linear: %w", err)
	}
	schema := net.Schema()
	if err := requireContinuous(schema, subset); err != nil {
		return false, fmt.Errorf("weighted_linear: %w", err)
	}

	if op.mode == selector.ManyToOne {
		return op.fromMany(net, focal, neighbors, calc, subset), nil
	}

	source := net.Agent(focal)
	success := false
	for _, id := range neighbors {
		target := net.Agent(id)
		d := measure(net, calc, focal, id, subset)
		mt := op.Magnitude(d, target.Stubbornness)
		var ms float64
		if op.BiDirectional {
			ms = op.Magnitude(d, source.Stubbornness)
		}
		if mt == 0 && ms == 0 {
			continue
		}
		success = true
		for _, f := range subset {
			s, t := source.Features[f], target.Features[f]
			target.Features[f] = schema[f].Clip(t + mt*(s-t))
			if op.BiDirectional {
				source.Features[f] = schema[f].Clip(s + ms*(t-s))
			}
		}
	}
	return success, nil
}

// fromMany shifts the focal agent by the mean of every neighbor's pull.
func (op *WeightedLinear) fromMany(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, subset []int) bool {
	target := net.Agent(focal)
	schema := net.Schema()
	shift := make([]float64, len(subset))
	success := false
	for _, id := range neighbors {
		source := net.Agent(id)
		m := op.Magnitude(measure(net, calc, focal, id, subset), target.Stubbornness)
		if m != 0 {
			success = true
		}
		for k, f := range subset {
			shift[k] += m * (source.Features[f] - target.Features[f])
		}
	}
	if !success {
		return false
	}
	for k, f := range subset {
		target.Features[f] = schema[f].Clip(target.Features[f] + shift[k]/float64(len(neighbors)))
	}
	return true
}
