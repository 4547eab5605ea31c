package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/nvandessel/defsim/internal/logging"
	"github.com/nvandessel/defsim/internal/metrics"
	"github.com/nvandessel/defsim/internal/simulation"
)

// Execution modes.
const (
	Serial   = "serial"
	Parallel = "parallel"
)

// ErrPanic marks a failure recovered from a panic during a run.
var ErrPanic = errors.New("run panicked")

// Runner executes parameter sets. The zero value runs serially.
type Runner struct {
	// Mode is Serial or Parallel.
	Mode string

	// NumWorkers caps the worker pool in parallel mode. Zero or -1 uses
	// every CPU.
	NumWorkers int

	// ChunkSize is how many parameter sets a worker runs before handing
	// back results. Zero means one.
	ChunkSize int

	Logger  *slog.Logger
	Events  *logging.EventLogger
	Metrics *metrics.Metrics
}

// Workers resolves NumWorkers against the machine.
func (r *Runner) Workers() int {
	if r.NumWorkers <= 0 {
		return runtime.NumCPU()
	}
	return r.NumWorkers
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes every set and returns the sorted rows and failures. A
// failing set never stops its siblings; only context cancellation aborts
// the whole run.
func (r *Runner) Run(ctx context.Context, sets []ParameterSet) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch r.Mode {
	case Serial, "":
		res, err = r.runSerial(ctx, sets)
	case Parallel:
		res, err = r.runParallel(ctx, sets)
	default:
		return nil, fmt.Errorf("unknown execution mode %q", r.Mode)
	}
	if err != nil {
		return nil, err
	}
	res.Sort()
	r.logger().Info("experiment finished",
		"sets", len(sets),
		"rows", len(res.Rows),
		"failures", len(res.Failures))
	return res, nil
}

func (r *Runner) runSerial(ctx context.Context, sets []ParameterSet) (*Result, error) {
	res := &Result{}
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, f := r.RunSet(ctx, set)
		if f != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failures = append(res.Failures, *f)
			continue
		}
		res.Rows = append(res.Rows, rows...)
	}
	return res, nil
}

// Chunks splits sets into consecutive slices of at most size elements.
func Chunks(sets []ParameterSet, size int) [][]ParameterSet {
	if size < 1 {
		size = 1
	}
	var out [][]ParameterSet
	for start := 0; start < len(sets); start += size {
		end := start + size
		if end > len(sets) {
			end = len(sets)
		}
		out = append(out, sets[start:end])
	}
	return out
}

func (r *Runner) runParallel(ctx context.Context, sets []ParameterSet) (*Result, error) {
	chunks := Chunks(sets, r.ChunkSize)
	workerCount := r.Workers()
	if workerCount > len(chunks) {
		workerCount = len(chunks)
	}

	jobs := make(chan []ParameterSet)
	results := make(chan *Result, len(chunks))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				out := &Result{}
				for _, set := range chunk {
					if ctx.Err() != nil {
						break
					}
					rows, f := r.RunSet(ctx, set)
					if f != nil {
						out.Failures = append(out.Failures, *f)
						continue
					}
					out.Rows = append(out.Rows, rows...)
				}
				results <- out
			}
		}()
	}

	r.logger().Debug("worker pool started", "workers", workerCount, "chunks", len(chunks))
	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)

	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{}
	for out := range results {
		res.Merge(out)
	}
	return res, nil
}

// RunSet runs one parameter set and converts it to rows. A problem at any
// stage comes back as a Failure; a panic inside the run is recovered and
// reported at the run stage so one set cannot take down a worker.
func (r *Runner) RunSet(ctx context.Context, set ParameterSet) (rows []Row, f *Failure) {
	defer func() {
		if p := recover(); p != nil {
			rows, f = nil, r.fail(set, StageRun, fmt.Errorf("%w: %v", ErrPanic, p))
		}
	}()

	cfg, err := set.Config()
	if err != nil {
		return nil, r.fail(set, StageConfig, err)
	}

	events := r.Events.With(map[string]any{"parameter_set_id": set.ID, "repetition": set.Repetition})
	start := time.Now()
	sim, err := simulation.New(cfg, set.Seed,
		simulation.WithLogger(r.logger().With("set", set.Key())),
		simulation.WithEvents(events))
	if err != nil {
		return nil, r.fail(set, StageSetup, err)
	}
	out, err := sim.Run(ctx)
	if err != nil {
		return nil, r.fail(set, StageRun, err)
	}
	r.Metrics.ObserveRun(out.Converged, out.Ticks, time.Since(start))
	return Rows(set, out), nil
}

func (r *Runner) fail(set ParameterSet, stage string, err error) *Failure {
	r.Metrics.ObserveFailure(stage)
	r.logger().Warn("parameter set failed", "set", set.Key(), "stage", stage, "error", err)
	f := failure(set, stage, err)
	return &f
}
