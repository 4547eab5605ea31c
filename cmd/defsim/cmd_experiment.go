package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/experiment"
	"github.com/nvandessel/defsim/internal/store"
)

func newExperimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Expand a parameter space and run every parameter set",
		Long: `Expand the parameter space (the config's experiment block, --space and
--set overrides) times the repetitions, run every set locally and save the
rows to the results database.

Examples:
  defsim experiment --repetitions 10
  defsim experiment --set network=[ring,grid] --mode parallel --cores 4
  defsim experiment --out results.csv --no-store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			space, sets, failures, err := a.expand(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			metricsAddr := a.cfg.MetricsAddr
			if cmd.Flags().Changed("metrics-addr") {
				metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
			}
			if err := a.serveMetrics(ctx, metricsAddr); err != nil {
				return err
			}

			start := time.Now()
			res, err := a.runner(cmd).Run(ctx, sets)
			if err != nil {
				return err
			}
			res.Failures = append(res.Failures, failures...)
			res.Sort()

			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				id = uuid.NewString()
			}
			if err := a.saveResult(ctx, cmd, id, space, res); err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := writeResultFile(out, res); err != nil {
					return err
				}
			}

			summary := map[string]any{
				"experiment_id": id,
				"sets":          len(sets) + len(failures),
				"rows":          len(res.Rows),
				"failures":      len(res.Failures),
				"elapsed":       time.Since(start).Round(time.Millisecond).String(),
			}
			if a.jsonOut {
				return a.printJSON(summary)
			}
			fmt.Fprintf(a.out, "Experiment %s: %d sets, %d rows, %d failures in %s\n",
				id, summary["sets"], len(res.Rows), len(res.Failures), summary["elapsed"])
			for _, f := range res.Failures {
				fmt.Fprintf(a.out, "  failed %s/%d at %s: %s\n", f.ParameterSetID, f.Repetition, f.Stage, f.Error)
			}
			return nil
		},
	}
	addSpaceFlags(cmd)
	addRunnerFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

func addRunnerFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "Execution mode: serial or parallel (default from config)")
	cmd.Flags().Int("cores", 0, "Worker count in parallel mode, -1 for every CPU (default from config)")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "Experiment id in the results database (default: random)")
	cmd.Flags().String("store", "", "Results database path (default from config)")
	cmd.Flags().Bool("no-store", false, "Do not save to the results database")
	cmd.Flags().String("out", "", "Also write rows to a .csv or .json file")
}

// saveResult stores res unless --no-store is set.
func (a *app) saveResult(ctx context.Context, cmd *cobra.Command, id string, space experiment.Space, res *experiment.Result) error {
	if noStore, _ := cmd.Flags().GetBool("no-store"); noStore {
		return nil
	}
	path, _ := cmd.Flags().GetString("store")
	st, err := a.openStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	if space != nil {
		seed := a.cfg.Execution.Seed
		if cmd.Flags().Changed("seed") {
			seed, _ = cmd.Flags().GetInt64("seed")
		}
		reps := a.cfg.Execution.Repetitions
		if cmd.Flags().Changed("repetitions") {
			reps, _ = cmd.Flags().GetInt("repetitions")
		}
		if err := st.SaveExperiment(ctx, store.Experiment{
			ID: id, Seed: seed, Repetitions: reps, Space: space,
		}); err != nil {
			return err
		}
	}
	if err := st.SaveResult(ctx, id, res); err != nil {
		return err
	}
	a.logger.Info("results saved", "experiment", id, "store", st.Path())
	return nil
}

// writeResultFile writes rows as CSV, or the whole result as JSON, by
// file extension.
func writeResultFile(path string, res *experiment.Result) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".json" {
		return fmt.Errorf("unsupported output format %q (use .csv or .json)", filepath.Ext(path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if ext == ".csv" {
		err = store.WriteCSV(f, res.Rows)
	} else {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(res)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
