// Package modifier evolves the tie structure of a network during a run.
package modifier

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
)

// ErrUnknownModifier is returned for an unrecognized modifier name.
var ErrUnknownModifier = errors.New("unknown network modifier")

// Modifier changes ties after an influence step. It returns the number of
// tie changes it made.
type Modifier interface {
	Modify(net *network.Network, focal int64, neighbors []int64, calc dissimilarity.Calculator, rng *rand.Rand) (int, error)
	Name() string
}

// Schedule holds the options every modifier shares.
type Schedule struct {
	// Every runs the modifier only on ticks divisible by it.
	Every int `param:"every"`

	// AllowDisconnect permits removals that split the network.
	AllowDisconnect bool `param:"allow_disconnect"`

	// Features selects the features dissimilarity is measured on.
	Features []string `param:"features"`
}

// Due reports whether the modifier runs on tick.
func (s Schedule) Due(tick int) bool {
	return s.Every <= 1 || tick%s.Every == 0
}

// New builds the named modifier: maslov_sneppen, dissimilarity_ties or
// new_ties. An empty name or "none" yields a nil Modifier.
func New(name string, p map[string]any) (Modifier, Schedule, error) {
	var (
		m   Modifier
		err error
	)
	switch name {
	case "", "none":
		if err := params.Decode(p, &struct{}{}); err != nil {
			return nil, Schedule{}, fmt.Errorf("modifier none: %w", err)
		}
		return nil, Schedule{Every: 1}, nil
	case "maslov_sneppen":
		ms := &MaslovSneppen{Schedule: Schedule{Every: 1}, RewiringProp: 0.1, MaxAttempts: 100}
		err = params.Decode(p, ms)
		if err == nil {
			err = ms.validate()
		}
		m = ms
	case "dissimilarity_ties":
		dt := &DissimilarityTies{Schedule: Schedule{Every: 1}, DropThreshold: 1, DropProbability: 0.5, AddThreshold: 0, AddProbability: 0.5}
		err = params.Decode(p, dt)
		if err == nil {
			err = dt.validate()
		}
		m = dt
	case "new_ties":
		nt := &NewTies{Schedule: Schedule{Every: 1}, Probability: 0.1}
		err = params.Decode(p, nt)
		if err == nil && (nt.Probability < 0 || nt.Probability > 1) {
			err = fmt.Errorf("new_ties_probability must be in [0,1], got %v", nt.Probability)
		}
		m = nt
	default:
		return nil, Schedule{}, fmt.Errorf("%w: %q", ErrUnknownModifier, name)
	}
	if err != nil {
		return nil, Schedule{}, fmt.Errorf("modifier %s: %w", name, err)
	}
	return m, scheduleOf(m), nil
}

func scheduleOf(m Modifier) Schedule {
	switch v := m.(type) {
	case *MaslovSneppen:
		return v.Schedule
	case *DissimilarityTies:
		return v.Schedule
	case *NewTies:
		return v.Schedule
	}
	return Schedule{Every: 1}
}

// removeTie drops u-v and puts it back if the network would split, unless
// disconnecting is allowed. It reports whether the tie is gone.
func removeTie(net *network.Network, u, v int64, allowDisconnect bool) bool {
	w, ok := net.Weight(u, v)
	if !ok {
		return false
	}
	net.RemoveTie(u, v)
	if allowDisconnect || net.Connected() {
		return true
	}
	_ = net.AddTie(u, v, w)
	return false
}

// nonNeighbors lists agents focal has no tie to, excluding focal.
func nonNeighbors(net *network.Network, focal int64) []int64 {
	var out []int64
	for _, id := range net.IDs() {
		if id != focal && !net.HasTie(focal, id) {
			out = append(out, id)
		}
	}
	return out
}
