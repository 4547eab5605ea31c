// Package selector picks the agents that act in a tick and their
// interaction partners.
package selector

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
)

var (
	// ErrEmptyNetwork is a fatal configuration error: there is nobody to select.
	ErrEmptyNetwork = errors.New("network has no agents")

	// ErrUnknownSelector is returned for an unrecognized selector name.
	ErrUnknownSelector = errors.New("unknown selector")
)

// FocalSelector returns the agents that act in the current tick. previous
// holds the selection of the prior tick, nil on the first tick.
type FocalSelector interface {
	Select(net *network.Network, previous []int64, rng *rand.Rand) ([]int64, error)
}

// NewFocal returns the named focal selector: random, list or sweep.
func NewFocal(name string, p map[string]any) (FocalSelector, error) {
	switch name {
	case "random", "":
		s := &RandomFocal{AgentsPerTick: 1}
		if err := params.Decode(p, s); err != nil {
			return nil, fmt.Errorf("focal selector %s: %w", name, err)
		}
		if s.AgentsPerTick < 1 {
			return nil, fmt.Errorf("focal selector %s: agents_per_tick must be positive, got %d", name, s.AgentsPerTick)
		}
		return s, nil
	case "list":
		s := &ListFocal{}
		if err := params.Decode(p, s); err != nil {
			return nil, fmt.Errorf("focal selector %s: %w", name, err)
		}
		return s, nil
	case "sweep":
		if err := params.Decode(p, &struct{}{}); err != nil {
			return nil, fmt.Errorf("focal selector %s: %w", name, err)
		}
		return Sweep{}, nil
	default:
		return nil, fmt.Errorf("%w: focal %q", ErrUnknownSelector, name)
	}
}

// RandomFocal draws agents uniformly with replacement.
type RandomFocal struct {
	AgentsPerTick int `param:"agents_per_tick"`
}

func (s *RandomFocal) Select(net *network.Network, _ []int64, rng *rand.Rand) ([]int64, error) {
	ids := net.IDs()
	if len(ids) == 0 {
		return nil, ErrEmptyNetwork
	}
	k := s.AgentsPerTick
	if k < 1 {
		k = 1
	}
	out := make([]int64, k)
	for i := range out {
		out[i] = ids[rng.Intn(len(ids))]
	}
	return out, nil
}

// ListFocal walks a predetermined order, wrapping around at the end. With
// no order configured it walks agents by id.
type ListFocal struct {
	Order []int64 `param:"order"`

	pos int
}

func (s *ListFocal) Select(net *network.Network, _ []int64, _ *rand.Rand) ([]int64, error) {
	if net.Len() == 0 {
		return nil, ErrEmptyNetwork
	}
	order := s.Order
	if len(order) == 0 {
		order = net.IDs()
	}
	id := order[s.pos%len(order)]
	s.pos++
	if net.Agent(id) == nil {
		return nil, fmt.Errorf("focal list names unknown agent %d", id)
	}
	return []int64{id}, nil
}

// Sweep lets every agent act once per tick in a fresh random order.
type Sweep struct{}

func (Sweep) Select(net *network.Network, _ []int64, rng *rand.Rand) ([]int64, error) {
	ids := net.IDs()
	if len(ids) == 0 {
		return nil, ErrEmptyNetwork
	}
	out := append([]int64(nil), ids...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}
