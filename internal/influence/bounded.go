package influence

import (
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
	"github.com/nvandessel/defsim/internal/selector"
)

// BoundedConfidence is the Deffuant model: agents closer than
// ConfidenceLevel move one randomly chosen feature toward each other by
// ConvergenceRate of their difference.
type BoundedConfidence struct {
	Common `param:",squash"`
	TwoWay `param:",squash"`

	ConfidenceLevel float64 `param:"confidence_level"`
	ConvergenceRate float64 `param:"convergence_rate"`

	mode selector.Mode
}

func newBoundedConfidence(mode selector.Mode, p map[string]any) (*BoundedConfidence, error) {
	op := &BoundedConfidence{ConfidenceLevel: 0.8, ConvergenceRate: 0.5, mode: mode}
	if err := params.Decode(p, op); err != nil {
		return nil, err
	}
	if err := op.check(mode); err != nil {
		return nil, err
	}
	if err := inUnit("confidence_level", op.ConfidenceLevel); err != nil {
		return nil, err
	}
	if err := inUnit("convergence_rate", op.ConvergenceRate); err != nil {
		return nil, err
	}
	return op, nil
}

func (*BoundedConfidence) Name() string { return "bounded_confidence" }

func (op *BoundedConfidence) Apply(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (bool, error) {
	if len(neighbors) == 0 {
		return false, nil
	}
	subset, err := op.subset(net)
	if err != nil {
		return false, fmt.Errorf("bounded_confidence: %w", err)
	}
	schema := net.Schema()
	if err := requireContinuous(schema, subset); err != nil {
		return false, fmt.Errorf("bounded_confidence: %w", err)
	}
	if len(subset) == 0 {
		return false, nil
	}
	f := subset[rng.Intn(len(subset))]
	focalAgent := net.Agent(focal)

	if op.mode == selector.ManyToOne {
		sum, count := 0.0, 0
		for _, id := range neighbors {
			if measure(net, calc, focal, id, subset) < op.ConfidenceLevel {
				sum += net.Agent(id).Features[f]
				count++
			}
		}
		if count == 0 {
			return false, nil
		}
		x := focalAgent.Features[f]
		focalAgent.Features[f] = schema[f].Clip(x + op.ConvergenceRate*(sum/float64(count)-x))
		return true, nil
	}

	success := false
	for _, id := range neighbors {
		if measure(net, calc, focal, id, subset) >= op.ConfidenceLevel {
			continue
		}
		success = true
		target := net.Agent(id)
		diff := target.Features[f] - focalAgent.Features[f]
		target.Features[f] = schema[f].Clip(target.Features[f] - op.ConvergenceRate*diff)
		if op.BiDirectional {
			focalAgent.Features[f] = schema[f].Clip(focalAgent.Features[f] + op.ConvergenceRate*diff)
		}
	}
	return success, nil
}

// Persuasion turns the source's position into an argument at one pole of
// the feature range, drawn with probability proportional to how close the
// source sits to that pole, and moves the target toward the argument.
type Persuasion struct {
	Common `param:",squash"`
	TwoWay `param:",squash"`

	ConfidenceLevel float64 `param:"confidence_level"`
	ConvergenceRate float64 `param:"convergence_rate"`

	mode selector.Mode
}

func newPersuasion(mode selector.Mode, p map[string]any) (*Persuasion, error) {
	op := &Persuasion{ConfidenceLevel: 1, ConvergenceRate: 0.5, mode: mode}
	if err := params.Decode(p, op); err != nil {
		return nil, err
	}
	if err := op.check(mode); err != nil {
		return nil, err
	}
	if err := inUnit("confidence_level", op.ConfidenceLevel); err != nil {
		return nil, err
	}
	if err := inUnit("convergence_rate", op.ConvergenceRate); err != nil {
		return nil, err
	}
	return op, nil
}

func (*Persuasion) Name() string { return "persuasion" }

// argument draws the pole a holder of position x argues for.
func argument(feat network.Feature, x float64, rng *rand.Rand) float64 {
	share := (x - feat.Min) / feat.Range()
	if rng.Float64() < share {
		return feat.Max
	}
	return feat.Min
}

// within reports whether two agents are close enough to interact. A
// confidence level of 1 admits every pair.
func (op *Persuasion) within(d float64) bool {
	return op.ConfidenceLevel >= 1 || d < op.ConfidenceLevel
}

func (op *Persuasion) Apply(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (bool, error) {
	if len(neighbors) == 0 {
		return false, nil
	}
	subset, err := op.subset(net)
	if err != nil {
		return false, fmt.Errorf("persuasion: %w", err)
	}
	schema := net.Schema()
	if err := requireContinuous(schema, subset); err != nil {
		return false, fmt.Errorf("persuasion: %w", err)
	}
	if len(subset) == 0 {
		return false, nil
	}
	f := subset[rng.Intn(len(subset))]
	feat := schema[f]
	focalAgent := net.Agent(focal)

	if op.mode == selector.ManyToOne {
		sum, count := 0.0, 0
		for _, id := range neighbors {
			if op.within(measure(net, calc, focal, id, subset)) {
				sum += net.Agent(id).Features[f]
				count++
			}
		}
		if count == 0 {
			return false, nil
		}
		arg := argument(feat, sum/float64(count), rng)
		x := focalAgent.Features[f]
		focalAgent.Features[f] = feat.Clip(x + op.ConvergenceRate*(arg-x))
		return true, nil
	}

	success := false
	for _, id := range neighbors {
		if !op.within(measure(net, calc, focal, id, subset)) {
			continue
		}
		success = true
		target := net.Agent(id)
		before := target.Features[f]
		arg := argument(feat, focalAgent.Features[f], rng)
		target.Features[f] = feat.Clip(before + op.ConvergenceRate*(arg-before))
		if op.BiDirectional {
			back := argument(feat, before, rng)
			x := focalAgent.Features[f]
			focalAgent.Features[f] = feat.Clip(x + op.ConvergenceRate*(back-x))
		}
	}
	return success, nil
}
