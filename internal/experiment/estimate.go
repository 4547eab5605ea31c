package experiment

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/defsim/internal/simulation"
	"github.com/nvandessel/defsim/internal/stopping"
)

// DefaultSampleSteps is how many ticks each sampled run is timed over.
const DefaultSampleSteps = 10

// Estimate is a single-core runtime projection for a list of sets.
type Estimate struct {
	Runs        int           `json:"runs"`
	SampledRuns int           `json:"sampled_runs"`
	SampleSteps int           `json:"sample_steps"`
	MeanSetup   time.Duration `json:"mean_setup"`
	MeanStep    time.Duration `json:"mean_step"`

	// Total assumes every run goes to its max_iterations.
	Total time.Duration `json:"total"`

	// Warnings flag sets whose stop condition makes the projection an
	// upper bound.
	Warnings []string `json:"warnings,omitempty"`
}

// Wall divides Total across workers.
func (e Estimate) Wall(workers int) time.Duration {
	if workers < 1 {
		workers = 1
	}
	return e.Total / time.Duration(workers)
}

// EstimateRuntime builds sampleRuns of the sets (spread evenly over the
// list), times setup and sampleSteps ticks of each, then extrapolates
// mean(setup) + mean(step)*max_iterations over every set. sampleRuns <= 0
// samples every set.
func EstimateRuntime(ctx context.Context, sets []ParameterSet, sampleRuns, sampleSteps int) (Estimate, error) {
	if len(sets) == 0 {
		return Estimate{}, errors.New("estimate: no parameter sets")
	}
	if sampleRuns <= 0 || sampleRuns > len(sets) {
		sampleRuns = len(sets)
	}
	if sampleSteps <= 0 {
		sampleSteps = DefaultSampleSteps
	}
	est := Estimate{Runs: len(sets), SampleSteps: sampleSteps}

	var setupTotal, stepTotal time.Duration
	for i := 0; i < sampleRuns; i++ {
		if err := ctx.Err(); err != nil {
			return Estimate{}, err
		}
		set := sets[i*len(sets)/sampleRuns]
		cfg, err := set.Config()
		if err != nil {
			continue
		}

		start := time.Now()
		sim, err := simulation.New(cfg, set.Seed)
		if err != nil {
			continue
		}
		setupTotal += time.Since(start)

		start = time.Now()
		for s := 0; s < sampleSteps; s++ {
			if err := sim.Tick(); err != nil {
				return Estimate{}, err
			}
		}
		stepTotal += time.Since(start) / time.Duration(sampleSteps)
		est.SampledRuns++
	}
	if est.SampledRuns == 0 {
		return Estimate{}, errors.New("estimate: no sampled set could be built")
	}
	est.MeanSetup = setupTotal / time.Duration(est.SampledRuns)
	est.MeanStep = stepTotal / time.Duration(est.SampledRuns)

	converging := 0
	for _, set := range sets {
		maxIter := stopping.DefaultMaxIterations
		if cfg, err := set.Config(); err == nil {
			maxIter = cfg.MaxIterations
			if cfg.StopCondition != "max_iterations" && cfg.StopCondition != "exhaustion" {
				converging++
			}
		}
		est.Total += est.MeanSetup + est.MeanStep*time.Duration(maxIter)
	}
	if converging > 0 {
		est.Warnings = append(est.Warnings,
			"runs with a convergence stop condition usually end before max_iterations; the estimate is an upper bound")
	}
	return est, nil
}
