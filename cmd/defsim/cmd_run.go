package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/simulation"
	"github.com/nvandessel/defsim/internal/visualization"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation",
		Long: `Run one simulation of a parameter space that expands to exactly one
combination, and print its outcome.

Examples:
  defsim run --set network=ring --set network_parameters.num_agents=20
  defsim run --set influence_function=weighted_linear \
             --set attributes_initializer=random_continuous --dot final.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, sets, failures, err := a.expand(cmd)
			if err != nil {
				return err
			}
			if len(failures) > 0 {
				return fmt.Errorf("invalid parameter set: %s", failures[0].Error)
			}
			if len(sets) == 0 {
				return errors.New("the parameter space is empty")
			}
			if len(sets) > 1 && sets[0].ID != sets[len(sets)-1].ID {
				return fmt.Errorf("run needs a single combination, the space has %d sets; use 'defsim experiment'", len(sets))
			}
			set := sets[0]

			cfg, err := set.Config()
			if err != nil {
				return err
			}
			sim, err := simulation.New(cfg, set.Seed,
				simulation.WithLogger(a.logger),
				simulation.WithEvents(a.events.With(map[string]any{"parameter_set_id": set.ID})))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			res, err := sim.Run(ctx)
			if err != nil {
				return err
			}

			if dotPath, _ := cmd.Flags().GetString("dot"); dotPath != "" {
				dot := visualization.RenderDOT(sim.Network(), sim.Calculator(), sim.Subset())
				if err := os.WriteFile(dotPath, []byte(dot), 0600); err != nil {
					return fmt.Errorf("writing %s: %w", dotPath, err)
				}
			}

			if a.jsonOut {
				return a.printJSON(map[string]any{
					"parameter_set_id": set.ID,
					"seed":             set.Seed,
					"result":           res,
				})
			}
			printRunSummary(a, set.ID, set.Seed, res)
			return nil
		},
	}
	addSpaceFlags(cmd)
	cmd.Flags().String("dot", "", "Write the final network as Graphviz DOT to this file")
	return cmd
}

func printRunSummary(a *app, id string, seed int64, res *simulation.Result) {
	outcome := "exhausted"
	if res.Converged {
		outcome = "converged"
	}
	fmt.Fprintf(a.out, "Parameter set: %s (seed %d)\n", id, seed)
	fmt.Fprintf(a.out, "Outcome:       %s after %d ticks\n", outcome, res.Ticks)
	fmt.Fprintf(a.out, "Influence:     %d successful\n", res.SuccessfulInfluence)
	if res.TieChanges > 0 {
		fmt.Fprintf(a.out, "Tie changes:   %d\n", res.TieChanges)
	}

	flat := res.Measures.Flatten()
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.out, "\nMeasures:")
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-24s %g\n", name, flat[name])
	}
}
