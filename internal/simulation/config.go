package simulation

import (
	"fmt"

	"github.com/nvandessel/defsim/internal/dissimilarity"
	"github.com/nvandessel/defsim/internal/influence"
	"github.com/nvandessel/defsim/internal/measures"
	"github.com/nvandessel/defsim/internal/modifier"
	"github.com/nvandessel/defsim/internal/params"
	"github.com/nvandessel/defsim/internal/selector"
	"github.com/nvandessel/defsim/internal/stopping"
)

// History modes.
const (
	HistoryFull  = "full"
	HistoryFinal = "final"
)

// Config is one fully resolved combination of simulation settings. The
// param tags match the dimension names of an experiment space.
type Config struct {
	Network           string         `param:"network" yaml:"network" json:"network"`
	NetworkParameters map[string]any `param:"network_parameters" yaml:"network_parameters,omitempty" json:"network_parameters,omitempty"`

	AttributesInitializer string         `param:"attributes_initializer" yaml:"attributes_initializer" json:"attributes_initializer"`
	AttributesParameters  map[string]any `param:"attributes_parameters" yaml:"attributes_parameters,omitempty" json:"attributes_parameters,omitempty"`

	FocalSelector   string         `param:"focal_agent_selector" yaml:"focal_agent_selector" json:"focal_agent_selector"`
	FocalParameters map[string]any `param:"focal_parameters" yaml:"focal_parameters,omitempty" json:"focal_parameters,omitempty"`

	NeighborSelector   string         `param:"neighbor_selector" yaml:"neighbor_selector" json:"neighbor_selector"`
	NeighborParameters map[string]any `param:"neighbor_parameters" yaml:"neighbor_parameters,omitempty" json:"neighbor_parameters,omitempty"`

	CommunicationRegime  string `param:"communication_regime" yaml:"communication_regime" json:"communication_regime"`
	DissimilarityMeasure string `param:"dissimilarity_measure" yaml:"dissimilarity_measure,omitempty" json:"dissimilarity_measure,omitempty"`

	InfluenceFunction   string         `param:"influence_function" yaml:"influence_function" json:"influence_function"`
	InfluenceParameters map[string]any `param:"influence_parameters" yaml:"influence_parameters,omitempty" json:"influence_parameters,omitempty"`

	NetworkModifier    string         `param:"network_modifier" yaml:"network_modifier,omitempty" json:"network_modifier,omitempty"`
	ModifierParameters map[string]any `param:"modifier_parameters" yaml:"modifier_parameters,omitempty" json:"modifier_parameters,omitempty"`

	StopCondition  string         `param:"stop_condition" yaml:"stop_condition" json:"stop_condition"`
	StopParameters map[string]any `param:"stop_parameters" yaml:"stop_parameters,omitempty" json:"stop_parameters,omitempty"`

	// OutputParameters holds zones_threshold and cluster_threshold.
	OutputParameters map[string]any `param:"output_parameters" yaml:"output_parameters,omitempty" json:"output_parameters,omitempty"`

	MaxIterations  int    `param:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	SampleInterval int    `param:"sample_interval" yaml:"sample_interval" json:"sample_interval"`
	History        string `param:"history" yaml:"history" json:"history"`
}

// DefaultConfig returns the classic Axelrod setup: 49 agents on a torus,
// five categorical features with three traits each, random focal and
// neighbor selection and similarity adoption until strict convergence.
func DefaultConfig() Config {
	return Config{
		Network:               "grid",
		AttributesInitializer: "random_categorical",
		FocalSelector:         "random",
		NeighborSelector:      "random",
		CommunicationRegime:   "one_to_one",
		InfluenceFunction:     "similarity_adoption",
		StopCondition:         "strict_convergence",
		MaxIterations:         stopping.DefaultMaxIterations,
		SampleInterval:        0,
		History:               HistoryFinal,
	}
}

// ConfigFromValues overlays an expanded parameter mapping on the defaults.
func ConfigFromValues(values map[string]any) (Config, error) {
	cfg := DefaultConfig()
	if err := params.Decode(values, &cfg); err != nil {
		return Config{}, fmt.Errorf("simulation config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that do not need an operator to be built.
func (c Config) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be non-negative, got %d", params.ErrInvalidParameter, c.MaxIterations)
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("%w: sample_interval must be non-negative, got %d", params.ErrInvalidParameter, c.SampleInterval)
	}
	switch c.History {
	case HistoryFull, HistoryFinal, "":
	default:
		return fmt.Errorf("%w: history must be %q or %q, got %q", params.ErrInvalidParameter, HistoryFull, HistoryFinal, c.History)
	}
	return nil
}

// Check builds every strategy cfg names without generating a network, so
// unknown names, unknown parameters and regime mismatches surface before
// any run starts. Checks that need the feature schema wait for New.
func Check(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := selector.ParseMode(cfg.CommunicationRegime)
	if err != nil {
		return err
	}
	calc, err := dissimilarity.New(cfg.DissimilarityMeasure)
	if err != nil {
		return err
	}
	features := influencedFeatures(cfg.InfluenceParameters)
	if _, err := selector.NewFocal(cfg.FocalSelector, cfg.FocalParameters); err != nil {
		return err
	}
	if _, err := selector.NewNeighbor(cfg.NeighborSelector, cfg.NeighborParameters, calc, features); err != nil {
		return err
	}
	if _, err := influence.New(cfg.InfluenceFunction, mode, cfg.InfluenceParameters); err != nil {
		return err
	}
	if _, _, err := modifier.New(cfg.NetworkModifier, cfg.ModifierParameters); err != nil {
		return err
	}
	if _, err := measures.NewThresholds(cfg.OutputParameters); err != nil {
		return err
	}
	_, err = stopping.New(cfg.StopCondition, cfg.StopParameters, features)
	return err
}

// influencedFeatures reads the "features" list shared by the influence
// parameters, which also scopes stop checks and the similar neighbor
// selector. Nil means all features.
func influencedFeatures(p map[string]any) []string {
	switch v := p["features"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
