// Package stopping decides when a simulation run ends.
package stopping

import (
	"errors"
	"fmt"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/params"
)

// State is the outcome of a stop check.
type State int

const (
	Running State = iota
	Converged
	Exhausted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultMaxIterations is the iteration budget when none is configured.
const DefaultMaxIterations = 100000

// ErrUnknownCondition is returned for an unrecognized stop condition.
var ErrUnknownCondition = errors.New("unknown stop condition")

// Condition is checked after every tick. tick counts completed ticks.
// Implementations keep whatever history they need between checks and
// must be used by a single run only.
type Condition interface {
	Check(tick int, net *network.Network, calc dissimilarity.Calculator) State
	Name() string
}

// Budget wraps a convergence check with the iteration limit that always
// applies. It reports Exhausted once tick reaches MaxIterations without
// convergence.
type Budget struct {
	Condition     Condition
	MaxIterations int
}

// Start primes the wrapped condition with the initial network and reports
// the state before the first tick: a zero budget ends the run immediately.
func (b *Budget) Start(net *network.Network) State {
	if p, ok := b.Condition.(interface{ Prime(*network.Network) }); ok {
		p.Prime(net)
	}
	if b.MaxIterations <= 0 {
		return Exhausted
	}
	return Running
}

// Check evaluates the wrapped condition, then the budget.
func (b *Budget) Check(tick int, net *network.Network, calc dissimilarity.Calculator) State {
	if b.Condition != nil {
		if s := b.Condition.Check(tick, net, calc); s == Converged {
			return Converged
		}
	}
	if tick >= b.MaxIterations {
		return Exhausted
	}
	return Running
}

// New builds the named condition: strict_convergence,
// distance_convergence, pragmatic_convergence or max_iterations. features restricts the
// dissimilarity checks; empty means all.
func New(name string, p map[string]any, features []string) (Condition, error) {
	switch name {
	case "strict_convergence", "strict":
		c := &Strict{StepSize: 1, features: features}
		if err := params.Decode(p, c); err != nil {
			return nil, fmt.Errorf("stop condition %s: %w", name, err)
		}
		if c.StepSize < 1 {
			return nil, fmt.Errorf("stop condition %s: step_size must be positive, got %d", name, c.StepSize)
		}
		return c, nil
	case "distance_convergence", "distance":
		c := &Distance{Maximum: 1, StepSize: 1, features: features}
		if err := params.Decode(p, c); err != nil {
			return nil, fmt.Errorf("stop condition %s: %w", name, err)
		}
		if c.StepSize < 1 {
			return nil, fmt.Errorf("stop condition %s: step_size must be positive, got %d", name, c.StepSize)
		}
		if c.Minimum < 0 || c.Maximum > 1 || c.Minimum >= c.Maximum {
			return nil, fmt.Errorf("stop condition %s: need 0 <= minimum < maximum <= 1, got %v and %v", name, c.Minimum, c.Maximum)
		}
		return c, nil
	case "pragmatic_convergence", "pragmatic":
		c := &Pragmatic{Window: 100, Patience: 1}
		if err := params.Decode(p, c); err != nil {
			return nil, fmt.Errorf("stop condition %s: %w", name, err)
		}
		if c.Window < 1 || c.Patience < 1 {
			return nil, fmt.Errorf("stop condition %s: window and patience must be positive", name)
		}
		if c.Epsilon < 0 {
			return nil, fmt.Errorf("stop condition %s: epsilon must be non-negative, got %v", name, c.Epsilon)
		}
		return c, nil
	case "max_iterations", "exhaustion", "":
		if err := params.Decode(p, &struct{}{}); err != nil {
			return nil, fmt.Errorf("stop condition %s: %w", name, err)
		}
		return Never{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, name)
	}
}

// Strict converges once every tie joins agents with zero dissimilarity.
type Strict struct {
	// StepSize spaces out the checks, which cost one pass over all ties.
	StepSize int `param:"step_size"`

	features []string
}

func (*Strict) Name() string { return "strict_convergence" }

func (c *Strict) Check(tick int, net *network.Network, calc dissimilarity.Calculator) State {
	if c.StepSize > 1 && tick%c.StepSize != 0 {
		return Running
	}
	subset, err := net.Schema().Subset(c.features)
	if err != nil {
		return Running
	}
	for _, t := range net.Ties() {
		if dissimilarity.Between(net, calc, t.From, t.To, subset) != 0 {
			return Running
		}
	}
	return Converged
}

// Distance converges once no tie lies strictly between Minimum and Maximum
// dissimilarity, so no pair can influence each other any more. With the
// defaults it also ends runs frozen into regions whose bordering ties sit
// at dissimilarity 1, which strict convergence never reports.
type Distance struct {
	Minimum  float64 `param:"minimum"`
	Maximum  float64 `param:"maximum"`
	StepSize int     `param:"step_size"`

	features []string
}

func (*Distance) Name() string { return "distance_convergence" }

func (c *Distance) Check(tick int, net *network.Network, calc dissimilarity.Calculator) State {
	if c.StepSize > 1 && tick%c.StepSize != 0 {
		return Running
	}
	subset, err := net.Schema().Subset(c.features)
	if err != nil {
		return Running
	}
	for _, t := range net.Ties() {
		d := dissimilarity.Between(net, calc, t.From, t.To, subset)
		if d > c.Minimum && d < c.Maximum {
			return Running
		}
	}
	return Converged
}

// Pragmatic converges once the summed absolute attribute change over each
// window of ticks stays at or below Epsilon for Patience checks in a row.
type Pragmatic struct {
	Window   int     `param:"window"`
	Epsilon  float64 `param:"epsilon"`
	Patience int     `param:"patience"`

	last   network.Snapshot
	streak int
}

func (*Pragmatic) Name() string { return "pragmatic_convergence" }

func (c *Pragmatic) Check(tick int, net *network.Network, _ dissimilarity.Calculator) State {
	if c.last == nil {
		c.last = net.Snapshot()
		return Running
	}
	if tick%c.Window != 0 {
		return Running
	}
	now := net.Snapshot()
	change := now.Change(c.last)
	c.last = now
	if change <= c.Epsilon {
		c.streak++
	} else {
		c.streak = 0
	}
	if c.streak >= c.Patience {
		return Converged
	}
	return Running
}

// Prime records the starting state so the first window is measured from
// tick 0 rather than from the first check.
func (c *Pragmatic) Prime(net *network.Network) {
	c.last = net.Snapshot()
	c.streak = 0
}

// Never leaves termination to the iteration budget.
type Never struct{}

func (Never) Name() string { return "max_iterations" }

func (Never) Check(int, *network.Network, dissimilarity.Calculator) State { return Running }
