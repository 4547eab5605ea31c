package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/store"
)

func newResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect the results database",
	}
	cmd.PersistentFlags().String("store", "", "Results database path (default from config)")
	cmd.AddCommand(newResultsListCmd(), newResultsExportCmd(), newResultsDeleteCmd())
	return cmd
}

func (a *app) resultsStore(cmd *cobra.Command) (*store.Store, error) {
	path, _ := cmd.Flags().GetString("store")
	return a.openStore(path)
}

func newResultsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.resultsStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			exps, err := st.Experiments(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"experiments": exps, "count": len(exps)})
			}
			if len(exps) == 0 {
				fmt.Fprintln(a.out, "No experiments stored.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSEED\tREPS\tROWS\tFAILURES")
			for _, e := range exps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
					e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.Seed, e.Repetitions, e.Rows, e.Failures)
			}
			return tw.Flush()
		},
	}
}

func newResultsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <experiment-id>",
		Short: "Write the rows of an experiment as CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.resultsStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := writeResultFile(out, res); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Exported %d rows of %s to %s\n", len(res.Rows), args[0], out)
				return nil
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			return store.WriteCSV(a.out, res.Rows)
		},
	}
	cmd.Flags().String("out", "", "Write to a .csv or .json file instead of stdout")
	return cmd
}

func newResultsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <experiment-id>",
		Short: "Delete an experiment with its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.resultsStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteExperiment(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no experiment %q in %s", args[0], st.Path())
				}
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"deleted": args[0]})
			}
			fmt.Fprintf(a.out, "Deleted experiment %s\n", args[0])
			return nil
		},
	}
}
