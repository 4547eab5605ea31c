package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/defsim/internal/experiment"
)

// Source hands out chunks and takes back their results. *Queue is the
// production Source.
type Source interface {
	Next(ctx context.Context) (*Chunk, error)
	Requeue(ctx context.Context, c *Chunk) error
	Complete(ctx context.Context, c *Chunk, res *experiment.Result) error
}

// Worker pulls chunks from a Source and runs them.
type Worker struct {
	Source Source
	Runner *experiment.Runner
	Logger *slog.Logger

	// Drain makes Serve return once the source is empty instead of
	// polling for more work.
	Drain bool

	// Idle is the pause between polls of an empty source. Zero means one
	// second.
	Idle time.Duration
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Serve processes chunks until ctx is cancelled or, with Drain, the
// source runs dry. It returns the number of chunks completed. A chunk cut
// short by cancellation is requeued.
func (w *Worker) Serve(ctx context.Context) (int, error) {
	idle := w.Idle
	if idle <= 0 {
		idle = time.Second
	}
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		c, err := w.Source.Next(ctx)
		if errors.Is(err, ErrNoWork) {
			if w.Drain {
				return done, nil
			}
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			case <-time.After(idle):
			}
			continue
		}
		if err != nil {
			return done, fmt.Errorf("fetching chunk: %w", err)
		}
		if err := w.Process(ctx, c); err != nil {
			return done, err
		}
		done++
	}
}

// Process runs one chunk and reports its result.
func (w *Worker) Process(ctx context.Context, c *Chunk) error {
	log := w.logger().With("chunk", c.Key())
	log.Info("chunk started", "sets", len(c.Sets))

	res, err := w.Runner.Run(ctx, c.Sets)
	if err != nil {
		// Requeue with a fresh context; ctx is usually the one cancelled.
		if rqErr := w.Source.Requeue(context.WithoutCancel(ctx), c); rqErr != nil {
			log.Error("requeue failed", "error", rqErr)
		}
		return fmt.Errorf("running chunk %s: %w", c.Key(), err)
	}
	if err := w.Source.Complete(ctx, c, res); err != nil {
		return err
	}
	log.Info("chunk completed", "rows", len(res.Rows), "failures", len(res.Failures))
	return nil
}
