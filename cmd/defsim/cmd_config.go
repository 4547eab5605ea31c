package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or check the effective configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (defaults, files, environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := *a.cfg
			cfg.Batch.Redis.Password = cfg.Batch.Redis.RedactedPassword()
			if a.jsonOut {
				return a.printJSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the experiment space",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Experiment.Validate(); err != nil {
				return err
			}
			sets, failures := 0, 0
			if len(a.cfg.Experiment) > 0 {
				_, s, f, err := a.expand(cmd)
				if err != nil {
					return err
				}
				sets, failures = len(s), len(f)
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{
					"valid":        failures == 0,
					"combinations": a.cfg.Experiment.Size(),
					"sets":         sets,
					"invalid":      failures,
				})
			}
			fmt.Fprintf(a.out, "Config OK: %d combinations, %d runnable sets", a.cfg.Experiment.Size(), sets)
			if failures > 0 {
				fmt.Fprintf(a.out, ", %d invalid", failures)
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
}
