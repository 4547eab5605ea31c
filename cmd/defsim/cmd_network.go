package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/simulation"
	"github.com/nvandessel/defsim/internal/visualization"
)

func newNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Render the network of one parameter combination",
		Long: `Build the network for a single combination and render it as Graphviz DOT
or JSON. Nodes are coloured by cultural region; ties are styled by the
dissimilarity of their endpoints.

Examples:
  defsim network --set network=grid | dot -Tsvg > grid.svg
  defsim network --run --format json --out final.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			name, _ := cmd.Flags().GetString("format")
			format := visualization.Format(name)
			if format != visualization.FormatDOT && format != visualization.FormatJSON {
				return fmt.Errorf("unknown format %q (use %s or %s)", format, visualization.FormatDOT, visualization.FormatJSON)
			}

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
			set := sets[0]
			cfg, err := set.Config()
			if err != nil {
				return err
			}
			sim, err := simulation.New(cfg, set.Seed, simulation.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if run, _ := cmd.Flags().GetBool("run"); run {
				ctx, cancel := signalContext(cmd.Context())
				defer cancel()
				if _, err := sim.Run(ctx); err != nil {
					return err
				}
			}

			var data []byte
			if format == visualization.FormatJSON {
				data, err = json.MarshalIndent(visualization.RenderJSON(sim.Network(), sim.Calculator(), sim.Subset()), "", "  ")
				if err != nil {
					return err
				}
				data = append(data, '\n')
			} else {
				data = []byte(visualization.RenderDOT(sim.Network(), sim.Calculator(), sim.Subset()))
			}

			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := os.WriteFile(out, data, 0600); err != nil {
					return fmt.Errorf("writing %s: %w", out, err)
				}
				fmt.Fprintf(a.out, "Wrote %s network for %s to %s\n", format, set.ID, out)
				return nil
			}
			_, err = a.out.Write(data)
			return err
		},
	}
	addSpaceFlags(cmd)
	cmd.Flags().String("format", string(visualization.FormatDOT), "Output format: dot or json")
	cmd.Flags().String("out", "", "Write to this file instead of stdout")
	cmd.Flags().Bool("run", false, "Run the simulation first and render the final state")
	return cmd
}
