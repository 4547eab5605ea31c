package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/defsim/internal/config"
	"github.com/nvandessel/defsim/internal/experiment"
	"github.com/nvandessel/defsim/internal/logging"
	"github.com/nvandessel/defsim/internal/metrics"
	"github.com/nvandessel/defsim/internal/params"
	"github.com/nvandessel/defsim/internal/store"
)

// app bundles what every command needs once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	events  *logging.EventLogger
	metrics *metrics.Metrics
	out     io.Writer
	jsonOut bool
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	a := &app{
		cfg:     cfg,
		logger:  logging.NewLoggerFormat(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
		metrics: metrics.New(),
		out:     cmd.OutOrStdout(),
		jsonOut: jsonOut,
	}
	if cfg.Logging.Level != "info" {
		dir := cfg.Logging.Dir
		if dir == "" {
			global, err := store.GlobalPath()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(global, "logs")
		}
		a.events = logging.NewEventLogger(dir, cfg.Logging.Level)
	}
	return a, nil
}

func (a *app) Close() {
	a.events.Close()
}

func (a *app) runner(cmd *cobra.Command) *experiment.Runner {
	r := &experiment.Runner{
		Mode:       a.cfg.Execution.Mode,
		NumWorkers: a.cfg.Workers(),
		ChunkSize:  a.cfg.Execution.ChunkSize,
		Logger:     a.logger,
		Events:     a.events,
		Metrics:    a.metrics,
	}
	if cmd.Flags().Lookup("mode") != nil && cmd.Flags().Changed("mode") {
		r.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Lookup("cores") != nil && cmd.Flags().Changed("cores") {
		cores, _ := cmd.Flags().GetInt("cores")
		if cores < 0 {
			cores = 0
		}
		r.NumWorkers = cores
	}
	return r
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openStore opens the configured results database, or path when set.
func (a *app) openStore(path string) (*store.Store, error) {
	if path == "" {
		path = a.cfg.Store.Path
	}
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

// serveMetrics exposes Prometheus metrics on addr until ctx ends. An empty
// addr disables it.
func (a *app) serveMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// signalContext is cancelled on the first shutdown signal.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals()...)
}

// addSpaceFlags registers the flags that shape the parameter space.
func addSpaceFlags(cmd *cobra.Command) {
	cmd.Flags().String("space", "", "YAML file with the parameter space (replaces the config's experiment block)")
	cmd.Flags().StringArray("set", nil, "Override a dimension, e.g. --set network=grid or --set influence_parameters.base_influence=[0.1,0.2]")
	cmd.Flags().Int64("seed", 0, "Experiment seed (default from config)")
	cmd.Flags().Int("repetitions", 0, "Repetitions per combination (default from config)")
}

// expand assembles the parameter space from config, --space and
// --set, then expands it.
func (a *app) expand(cmd *cobra.Command) (experiment.Space, []experiment.ParameterSet, []experiment.Failure, error) {
	space := experiment.Space(params.Merge(a.cfg.Experiment, nil))

	if path, _ := cmd.Flags().GetString("space"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading space file: %w", err)
		}
		space = experiment.Space{}
		if err := yaml.Unmarshal(data, &space); err != nil {
			return nil, nil, nil, fmt.Errorf("parsing space file: %w", err)
		}
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	for _, s := range sets {
		if err := applySet(space, s); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := space.Validate(); err != nil {
		return nil, nil, nil, err
	}

	seed := a.cfg.Execution.Seed
	if cmd.Flags().Changed("seed") {
		seed, _ = cmd.Flags().GetInt64("seed")
	}
	reps := a.cfg.Execution.Repetitions
	if cmd.Flags().Changed("repetitions") {
		reps, _ = cmd.Flags().GetInt("repetitions")
	}

	psets, failures := experiment.Expand(space, reps, seed)
	a.logger.Debug("space expanded",
		"combinations", space.Size(),
		"repetitions", reps,
		"sets", len(psets),
		"failures", len(failures))
	return space, psets, failures, nil
}

// applySet parses "dimension=value" or "dimension.parameter=value". The
// value is YAML, so lists and numbers keep their type.
func applySet(space experiment.Space, s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("invalid --set %q: want key=value", s)
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("invalid --set %q: %w", s, err)
	}

	dim, param, nested := strings.Cut(key, ".")
	if !nested {
		space[dim] = value
		return nil
	}
	m, _ := space[dim].(map[string]any)
	space[dim] = params.Merge(m, map[string]any{param: value})
	return nil
}
