package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/influence"
	"github.com/nvandessel/defsim/internal/logging"
	"github.com/nvandessel/defsim/internal/measures"
	"github.com/nvandessel/defsim/internal/modifier"
	"github.com/nvandessel/defsim/internal/network"
	"github.com/nvandessel/defsim/internal/selector"
	"github.com/nvandessel/defsim/internal/stopping"
)

// Sample is the feature state of the network at one tick.
type Sample struct {
	Tick     int               `json:"tick"`
	State    network.Snapshot  `json:"state"`
	Measures measures.Measures `json:"measures"`
}

// Result is the outcome of a finished run.
type Result struct {
	// Ticks is the number of completed ticks.
	Ticks int `json:"ticks"`

	Converged bool `json:"converged"`
	Exhausted bool `json:"exhausted"`

	// SuccessfulInfluence counts influence calls that changed state.
	SuccessfulInfluence int `json:"successful_influence"`

	// TieChanges counts ties added, removed or rewired by the modifier.
	TieChanges int `json:"tie_changes"`

	// History holds every sample in full mode and only the final one in
	// final mode.
	History []Sample `json:"history"`

	Final    network.Snapshot  `json:"final"`
	Measures measures.Measures `json:"measures"`

	// Network is the network as it stands after the last tick.
	Network *network.Network `json:"-"`
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the operational logger. Ticks are logged at trace level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvents sets the sink for per-influence events.
func WithEvents(el *logging.EventLogger) Option {
	return func(s *Simulation) { s.events = el }
}

// Simulation is one run. It is not safe for concurrent use; run several
// Simulations side by side instead.
type Simulation struct {
	cfg  Config
	rng  *rand.Rand
	net  *network.Network
	calc dissimilarity.Calculator
	mode selector.Mode

	subset    []int
	focal     selector.FocalSelector
	neighbors selector.NeighborSelector
	influence influence.Operator
	modifier  modifier.Modifier
	schedule  modifier.Schedule
	budget    *stopping.Budget
	output    measures.Thresholds

	tick     int
	previous []int64

	logger *slog.Logger
	events *logging.EventLogger
}

// New generates the network and attributes described by cfg and builds
// every strategy. All randomness, from network generation on, comes from
// one source seeded with seed.
func New(cfg Config, seed int64, opts ...Option) (*Simulation, error) {
	rng := rand.New(rand.NewSource(seed))
	net, err := network.Generate(cfg.Network, cfg.NetworkParameters, rng)
	if err != nil {
		return nil, err
	}
	if err := network.Initialize(cfg.AttributesInitializer, cfg.AttributesParameters, net, rng); err != nil {
		return nil, err
	}
	return build(cfg, net, rng, opts)
}

// NewFromNetwork runs on an already initialized network, which the
// Simulation takes ownership of. cfg.Network and cfg.AttributesInitializer
// are ignored.
func NewFromNetwork(cfg Config, net *network.Network, seed int64, opts ...Option) (*Simulation, error) {
	if net == nil {
		return nil, selector.ErrEmptyNetwork
	}
	if err := net.Schema().Validate(); err != nil {
		return nil, err
	}
	return build(cfg, net, rand.New(rand.NewSource(seed)), opts)
}

func build(cfg Config, net *network.Network, rng *rand.Rand, opts []Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net.Len() == 0 {
		return nil, selector.ErrEmptyNetwork
	}
	s := &Simulation{cfg: cfg, rng: rng, net: net, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.mode, err = selector.ParseMode(cfg.CommunicationRegime); err != nil {
		return nil, err
	}
	if s.calc, err = dissimilarity.New(measureName(cfg.DissimilarityMeasure, net.Schema())); err != nil {
		return nil, err
	}
	features := influencedFeatures(cfg.InfluenceParameters)
	if s.subset, err = net.Schema().Subset(features); err != nil {
		return nil, fmt.Errorf("influence features: %w", err)
	}
	if s.focal, err = selector.NewFocal(cfg.FocalSelector, cfg.FocalParameters); err != nil {
		return nil, err
	}
	if s.neighbors, err = selector.NewNeighbor(cfg.NeighborSelector, cfg.NeighborParameters, s.calc, features); err != nil {
		return nil, err
	}
	if s.influence, err = influence.New(cfg.InfluenceFunction, s.mode, cfg.InfluenceParameters); err != nil {
		return nil, err
	}
	if err := influence.Compatible(s.influence, net.Schema()); err != nil {
		return nil, err
	}
	if s.modifier, s.schedule, err = modifier.New(cfg.NetworkModifier, cfg.ModifierParameters); err != nil {
		return nil, err
	}
	if s.output, err = measures.NewThresholds(cfg.OutputParameters); err != nil {
		return nil, err
	}
	cond, err := stopping.New(cfg.StopCondition, cfg.StopParameters, features)
	if err != nil {
		return nil, err
	}
	s.budget = &stopping.Budget{Condition: cond, MaxIterations: cfg.MaxIterations}
	return s, nil
}

// measureName picks euclidean for continuous schemas when no measure is
// configured.
func measureName(name string, schema network.Schema) string {
	if name != "" {
		return name
	}
	for _, f := range schema {
		if f.Kind == network.Continuous {
			return "euclidean"
		}
	}
	return "hamming"
}

// Network returns the network the run mutates.
func (s *Simulation) Network() *network.Network { return s.net }

// Config returns the configuration the run was built from.
func (s *Simulation) Config() Config { return s.cfg }

// Calculator returns the dissimilarity measure in use.
func (s *Simulation) Calculator() dissimilarity.Calculator { return s.calc }

// Subset returns the schema indices of the influenced features.
func (s *Simulation) Subset() []int { return s.subset }

// Run executes ticks until the stop condition converges or the iteration
// budget runs out. The context is checked between ticks; a cancelled run
// returns ctx.Err() and no result. Run is meant to be called once.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	res := &Result{Network: s.net}
	full := s.cfg.History == HistoryFull

	state := s.budget.Start(s.net)
	if full || state != stopping.Running {
		res.History = append(res.History, s.sample(s.tick))
	}

	for state == stopping.Running {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.advance(res); err != nil {
			return nil, err
		}

		state = s.budget.Check(s.tick, s.net, s.calc)
		if s.logger.Enabled(ctx, logging.LevelTrace) {
			s.logger.Log(ctx, logging.LevelTrace, "tick", "tick", s.tick, "focal", s.previous, "state", state.String())
		}
		if full && s.cfg.SampleInterval > 0 && s.tick%s.cfg.SampleInterval == 0 && state == stopping.Running {
			res.History = append(res.History, s.sample(s.tick))
		}
	}

	res.Ticks = s.tick
	res.Converged = state == stopping.Converged
	res.Exhausted = state == stopping.Exhausted
	last := s.sample(s.tick)
	if n := len(res.History); n == 0 || res.History[n-1].Tick != s.tick {
		if full {
			res.History = append(res.History, last)
		} else {
			res.History = []Sample{last}
		}
	}
	res.Final = last.State
	res.Measures = last.Measures

	s.logger.Debug("run finished",
		"ticks", res.Ticks,
		"converged", res.Converged,
		"exhausted", res.Exhausted,
		"successful_influence", res.SuccessfulInfluence,
		"regions", res.Measures.Regions)
	return res, nil
}

// Tick advances the run by one tick without consulting the stop condition
// or sampling. The runtime estimator times it.
func (s *Simulation) Tick() error {
	return s.advance(&Result{})
}

// advance selects focal agents and runs one step for each.
func (s *Simulation) advance(res *Result) error {
	next := s.tick + 1
	focal, err := s.focal.Select(s.net, s.previous, s.rng)
	if err != nil {
		return fmt.Errorf("tick %d: %w", next, err)
	}
	for _, f := range focal {
		if err := s.step(next, f, res); err != nil {
			return fmt.Errorf("tick %d: %w", next, err)
		}
	}
	s.previous = focal
	s.tick = next
	return nil
}

// step runs neighbor selection, influence and the modifier for one focal
// agent.
func (s *Simulation) step(tick int, focal int64, res *Result) error {
	neighbors := s.neighbors.Select(s.net, focal, s.mode, s.rng)
	ok, err := s.influence.Apply(s.net, focal, neighbors, s.calc, s.rng)
	if err != nil {
		return err
	}
	if ok {
		res.SuccessfulInfluence++
		s.events.Log(map[string]any{
			"event":     "influence",
			"tick":      tick,
			"focal":     focal,
			"neighbors": neighbors,
			"operator":  s.influence.Name(),
		})
	}
	if s.modifier != nil && s.schedule.Due(tick) {
		changed, err := s.modifier.Modify(s.net, focal, neighbors, s.calc, s.rng)
		if err != nil {
			return err
		}
		res.TieChanges += changed
	}
	return nil
}

func (s *Simulation) sample(tick int) Sample {
	return Sample{
		Tick:     tick,
		State:    s.net.Snapshot(),
		Measures: measures.Compute(s.net, s.calc, s.subset, s.output),
	}
}
