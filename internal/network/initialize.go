package network

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/nvandessel/defsim/internal/params"
)

// ErrUnknownInitializer is returned for an unrecognized attribute initializer.
var ErrUnknownInitializer = errors.New("unknown attribute initializer")

// InitializerConfig holds the parameters of every attribute initializer.
type InitializerConfig struct {
	NumFeatures int     `param:"num_features"`
	NumTraits   int     `param:"num_traits"`
	Min         float64 `param:"min"`
	Max         float64 `param:"max"`
	Correlation float64 `param:"correlation"`

	// Kind and Features drive the explicit initializer: one value list per
	// feature name, ordered by agent id.
	Kind     string               `param:"kind"`
	Traits   int                  `param:"traits"`
	Features map[string][]float64 `param:"features"`
	Order    []string             `param:"order"`

	Stubbornness       float64   `param:"stubbornness"`
	StubbornnessValues []float64 `param:"stubbornness_values"`
}

// FeatureName formats the default name of the i-th (zero based) feature.
func FeatureName(i int) string {
	return fmt.Sprintf("f%02d", i+1)
}

// Initialize assigns a schema and feature values to every agent of n using
// the named initializer: random_categorical, random_continuous,
// correlated_continuous or explicit.
func Initialize(name string, p map[string]any, n *Network, rng *rand.Rand) error {
	cfg := InitializerConfig{Max: 1}
	switch name {
	case "random_categorical":
		cfg.NumFeatures, cfg.NumTraits = 5, 3
	case "random_continuous":
		cfg.NumFeatures = 1
	case "correlated_continuous":
		cfg.NumFeatures = 2
	case "explicit":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownInitializer, name)
	}
	if err := params.Decode(p, &cfg); err != nil {
		return fmt.Errorf("attributes %s: %w", name, err)
	}
	if cfg.NumFeatures < 0 {
		return fmt.Errorf("attributes %s: num_features must be non-negative", name)
	}

	var err error
	switch name {
	case "random_categorical":
		err = randomCategorical(n, cfg, rng)
	case "random_continuous":
		err = randomContinuous(n, cfg, rng)
	case "correlated_continuous":
		err = correlatedContinuous(n, cfg, rng)
	case "explicit":
		err = explicit(n, cfg)
	}
	if err != nil {
		return fmt.Errorf("attributes %s: %w", name, err)
	}
	if err := n.Schema().Validate(); err != nil {
		return fmt.Errorf("attributes %s: %w", name, err)
	}
	return assignStubbornness(n, cfg)
}

func randomCategorical(n *Network, cfg InitializerConfig, rng *rand.Rand) error {
	if cfg.NumTraits < 1 {
		return fmt.Errorf("num_traits must be positive, got %d", cfg.NumTraits)
	}
	schema := make(Schema, cfg.NumFeatures)
	for i := range schema {
		schema[i] = Feature{Name: FeatureName(i), Kind: Categorical, Traits: cfg.NumTraits}
	}
	n.SetSchema(schema)
	for _, a := range n.Agents() {
		for i := range schema {
			a.Features[i] = float64(rng.Intn(cfg.NumTraits))
		}
	}
	return nil
}

func continuousSchema(cfg InitializerConfig) (Schema, error) {
	if !(cfg.Max > cfg.Min) {
		return nil, fmt.Errorf("max %v must exceed min %v", cfg.Max, cfg.Min)
	}
	schema := make(Schema, cfg.NumFeatures)
	for i := range schema {
		schema[i] = Feature{Name: FeatureName(i), Kind: Continuous, Min: cfg.Min, Max: cfg.Max}
	}
	return schema, nil
}

func randomContinuous(n *Network, cfg InitializerConfig, rng *rand.Rand) error {
	schema, err := continuousSchema(cfg)
	if err != nil {
		return err
	}
	n.SetSchema(schema)
	for _, a := range n.Agents() {
		for i := range schema {
			a.Features[i] = cfg.Min + rng.Float64()*(cfg.Max-cfg.Min)
		}
	}
	return nil
}

// correlatedContinuous draws f01 uniformly and derives every later feature
// from it: corr*f01 + (1-|corr|)*noise, with negative correlation mirroring
// f01 within the range.
func correlatedContinuous(n *Network, cfg InitializerConfig, rng *rand.Rand) error {
	if cfg.Correlation < -1 || cfg.Correlation > 1 {
		return fmt.Errorf("correlation must be in [-1,1], got %v", cfg.Correlation)
	}
	schema, err := continuousSchema(cfg)
	if err != nil {
		return err
	}
	n.SetSchema(schema)
	width := cfg.Max - cfg.Min
	for _, a := range n.Agents() {
		if len(schema) == 0 {
			continue
		}
		base := rng.Float64()
		a.Features[0] = cfg.Min + base*width
		for i := 1; i < len(schema); i++ {
			anchor := base
			corr := cfg.Correlation
			if corr < 0 {
				anchor = 1 - base
				corr = -corr
			}
			v := corr*anchor + (1-corr)*rng.Float64()
			a.Features[i] = schema[i].Clip(cfg.Min + v*width)
		}
	}
	return nil
}

func explicit(n *Network, cfg InitializerConfig) error {
	kind := FeatureKind(cfg.Kind)
	if kind == "" {
		kind = Continuous
	}
	order := cfg.Order
	if len(order) == 0 {
		order = sortedKeys(cfg.Features)
	}
	schema := make(Schema, len(order))
	for i, name := range order {
		values, ok := cfg.Features[name]
		if !ok {
			return fmt.Errorf("feature %q has no values", name)
		}
		if len(values) != n.Len() {
			return fmt.Errorf("feature %q has %d values for %d agents", name, len(values), n.Len())
		}
		f := Feature{Name: name, Kind: kind}
		if kind == Categorical {
			f.Traits = cfg.Traits
			if f.Traits == 0 {
				for _, v := range values {
					if int(v)+1 > f.Traits {
						f.Traits = int(v) + 1
					}
				}
			}
		} else {
			f.Min, f.Max = cfg.Min, cfg.Max
		}
		schema[i] = f
	}
	n.SetSchema(schema)
	for j, a := range n.Agents() {
		for i, name := range order {
			a.Features[i] = cfg.Features[name][j]
		}
	}
	return nil
}

func assignStubbornness(n *Network, cfg InitializerConfig) error {
	if len(cfg.StubbornnessValues) > 0 && len(cfg.StubbornnessValues) != n.Len() {
		return fmt.Errorf("stubbornness_values has %d entries for %d agents", len(cfg.StubbornnessValues), n.Len())
	}
	for i, a := range n.Agents() {
		s := cfg.Stubbornness
		if len(cfg.StubbornnessValues) > 0 {
			s = cfg.StubbornnessValues[i]
		}
		if s < 0 || s > 1 {
			return fmt.Errorf("stubbornness must be in [0,1], got %v", s)
		}
		a.Stubbornness = s
	}
	return nil
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
