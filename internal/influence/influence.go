// Package influence implements the operators that change agent features
// when agents interact.
package influence

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/selector"
)

var (
	// ErrUnknownOperator is returned for an unrecognized influence function.
	ErrUnknownOperator = errors.New("unknown influence function")

	// ErrRegimeMismatch is returned when an operator option is not valid
	// under the configured communication regime.
	ErrRegimeMismatch = errors.New("option not valid for communication regime")

	// ErrFeatureKind is returned when an operator meets a feature type it
	// cannot move, e.g. a categorical feature under a continuous model.
	ErrFeatureKind = errors.New("unsupported feature kind")
)

// Operator mutates agent features for one interaction. In one_to_one and
// one_to_many regimes the focal agent is the source and neighbors are
// targets; in many_to_one the neighbors jointly influence the focal agent.
// Apply reports whether an influence event took place; empty neighbor
// lists and identical agents are no-ops, never errors.
type Operator interface {
	Apply(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (bool, error)
	Name() string
}

// Names lists the registered influence functions.
func Names() []string {
	return []string{"similarity_adoption", "weighted_linear", "bounded_confidence", "persuasion"}
}

// New builds the named operator for the given regime from a parameter map.
func New(name string, mode selector.Mode, p map[string]any) (Operator, error) {
	var (
		op  Operator
		err error
	)
	switch name {
	case "similarity_adoption", "similarity-adoption", "axelrod":
		op, err = newSimilarityAdoption(mode, p)
	case "weighted_linear", "weighted-linear":
		op, err = newWeightedLinear(mode, p)
	case "bounded_confidence", "bounded-confidence":
		op, err = newBoundedConfidence(mode, p)
	case "persuasion":
		op, err = newPersuasion(mode, p)
	default:
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownOperator, name, strings.Join(Names(), ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("influence %s: %w", name, err)
	}
	return op, nil
}

// Common carries the options every operator accepts.
type Common struct {
	// Features restricts influence, and the dissimilarity driving it, to
	// the named features. Empty means all.
	Features []string `param:"features"`
}

func (c Common) subset(net *network.Network) ([]int, error) {
	return net.Schema().Subset(c.Features)
}

// TwoWay holds the bi_directional switch of the continuous models.
type TwoWay struct {
	BiDirectional bool `param:"bi_directional"`
}

func (w TwoWay) check(mode selector.Mode) error {
	if w.BiDirectional && mode != selector.OneToOne {
		return fmt.Errorf("bi_directional with %s: %w", mode, ErrRegimeMismatch)
	}
	return nil
}

// measure returns the dissimilarity of u and v over subset.
func measure(net *network.Network, calc dissimilarity.Calculator, u, v int64, subset []int) float64 {
	return dissimilarity.Between(net, calc, u, v, subset)
}

func requireContinuous(schema network.Schema, subset []int) error {
	for _, i := range subset {
		if schema[i].Kind != network.Continuous {
			return fmt.Errorf("feature %q is %s: %w", schema[i].Name, schema[i].Kind, ErrFeatureKind)
		}
	}
	return nil
}

func inUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, v)
	}
	return nil
}

// Compatible reports whether op can move the features of schema it is
// configured for, so a mismatch surfaces before the first tick.
func Compatible(op Operator, schema network.Schema) error {
	var c Common
	switch v := op.(type) {
	case *SimilarityAdoption:
		_, err := schema.Subset(v.Features)
		return err
	case *WeightedLinear:
		c = v.Common
	case *BoundedConfidence:
		c = v.Common
	case *Persuasion:
		c = v.Common
	default:
		return nil
	}
	subset, err := schema.Subset(c.Features)
	if err != nil {
		return err
	}
	if err := requireContinuous(schema, subset); err != nil {
		return fmt.Errorf("influence %s: %w", op.Name(), err)
	}
	return nil
}
