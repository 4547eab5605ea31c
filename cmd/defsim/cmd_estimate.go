package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/experiment"
)

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate how long an experiment will take",
		Long: `Build and time a sample of the parameter sets, then extrapolate to the
whole experiment assuming every run goes to max_iterations.`,
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
			sampleRuns, _ := cmd.Flags().GetInt("sample-runs")
			sampleSteps, _ := cmd.Flags().GetInt("sample-steps")

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			est, err := experiment.EstimateRuntime(ctx, sets, sampleRuns, sampleSteps)
			if err != nil {
				return err
			}
			workers := a.runner(cmd).Workers()
			if a.runner(cmd).Mode == experiment.Serial {
				workers = 1
			}

			if a.jsonOut {
				return a.printJSON(map[string]any{
					"estimate": est,
					"workers":  workers,
					"wall":     est.Wall(workers).String(),
					"invalid":  len(failures),
				})
			}
			fmt.Fprintf(a.out, "Runs:          %d (%d sampled, %d ticks each)\n", est.Runs, est.SampledRuns, est.SampleSteps)
			if len(failures) > 0 {
				fmt.Fprintf(a.out, "Invalid sets:  %d (not counted)\n", len(failures))
			}
			fmt.Fprintf(a.out, "Mean setup:    %s\n", est.MeanSetup)
			fmt.Fprintf(a.out, "Mean tick:     %s\n", est.MeanStep)
			fmt.Fprintf(a.out, "Single core:   %s\n", est.Total)
			fmt.Fprintf(a.out, "Wall (%d):     %s\n", workers, est.Wall(workers))
			for _, w := range est.Warnings {
				fmt.Fprintf(a.out, "Warning: %s\n", w)
			}
			return nil
		},
	}
	addSpaceFlags(cmd)
	addRunnerFlags(cmd)
	cmd.Flags().Int("sample-runs", 10, "Number of parameter sets to time")
	cmd.Flags().Int("sample-steps", experiment.DefaultSampleSteps, "Ticks to time per sampled set")
	return cmd
}
