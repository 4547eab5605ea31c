package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/defsim/internal/batch"
	"github.com/nvandessel/defsim/internal/experiment"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run experiments on external schedulers or a Redis queue",
		Long: `Split an experiment into chunks and move them through files (for HPC
schedulers) or a Redis queue (for long-running workers).

File workflow:
  defsim batch export --dir chunks/          # one file per chunk
  defsim batch run chunks/chunk-<id>-0000.dsb --dir rows/
  defsim batch import --dir rows/ --batch <id>

Queue workflow:
  defsim batch submit                       # prints the batch id
  defsim batch work                         # on every worker machine
  defsim batch collect --batch <id>`,
	}

	cmd.AddCommand(
		newBatchExportCmd(),
		newBatchRunCmd(),
		newBatchImportCmd(),
		newBatchSubmitCmd(),
		newBatchWorkCmd(),
		newBatchStatusCmd(),
		newBatchCollectCmd(),
	)
	return cmd
}

func chunkSize(a *app, cmd *cobra.Command) int {
	if cmd.Flags().Changed("chunk-size") {
		n, _ := cmd.Flags().GetInt("chunk-size")
		return n
	}
	return a.cfg.Batch.ChunkSize
}

func (a *app) queue() *batch.Queue {
	r := a.cfg.Batch.Redis
	return batch.NewQueue(r.Addr, r.Password, r.DB,
		batch.WithPrefix(r.Prefix),
		batch.WithTTL(r.TTL),
		batch.WithWait(r.Wait),
		batch.WithClaimTimeout(r.ClaimTimeout))
}

func newBatchExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the parameter sets as chunk files",
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
			if len(sets) == 0 {
				return errors.New("no valid parameter sets to export")
			}
			dir, _ := cmd.Flags().GetString("dir")
			chunks := batch.Split(sets, chunkSize(a, cmd))
			paths := make([]string, len(chunks))
			for i := range chunks {
				paths[i] = batch.ChunkPath(dir, &chunks[i])
				if err := batch.WriteChunk(paths[i], &chunks[i]); err != nil {
					return fmt.Errorf("writing chunk %d: %w", i, err)
				}
			}
			a.logger.Info("chunks exported", "batch", chunks[0].BatchID, "chunks", len(chunks), "dir", dir)

			// Sets that failed to expand never reach a chunk; their rows
			// file lets import record them with the rest of the batch.
			invalidPath := ""
			if len(failures) > 0 {
				rowsDir, _ := cmd.Flags().GetString("rows-dir")
				invalidPath = batch.RowsPath(rowsDir, chunks[0].BatchID, batch.InvalidIndex)
				cr := &batch.ChunkResult{
					BatchID: chunks[0].BatchID,
					Index:   batch.InvalidIndex,
					Result:  &experiment.Result{Failures: failures},
				}
				if err := batch.WriteRows(invalidPath, cr); err != nil {
					return fmt.Errorf("writing invalid sets: %w", err)
				}
			}

			if a.jsonOut {
				return a.printJSON(map[string]any{
					"batch_id":     chunks[0].BatchID,
					"chunks":       paths,
					"sets":         len(sets),
					"invalid":      failures,
					"invalid_file": invalidPath,
				})
			}
			fmt.Fprintf(a.out, "Batch %s: %d sets in %d chunks under %s\n", chunks[0].BatchID, len(sets), len(chunks), dir)
			if len(failures) > 0 {
				fmt.Fprintf(a.out, "%d invalid sets recorded in %s\n", len(failures), invalidPath)
			}
			return nil
		},
	}
	addSpaceFlags(cmd)
	cmd.Flags().String("dir", "chunks", "Directory for the chunk files")
	cmd.Flags().String("rows-dir", "rows", "Directory for the rows file of invalid sets")
	cmd.Flags().Int("chunk-size", 0, "Parameter sets per chunk (default from config)")
	return cmd
}

func newBatchRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <chunk-file>",
		Short: "Run one chunk file and write its rows file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := batch.ReadChunk(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			res, err := a.runner(cmd).Run(ctx, c.Sets)
			if err != nil {
				return err
			}

			dir, _ := cmd.Flags().GetString("dir")
			path := batch.RowsPath(dir, c.BatchID, c.Index)
			if err := batch.WriteRows(path, &batch.ChunkResult{BatchID: c.BatchID, Index: c.Index, Result: res}); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"rows_file": path, "rows": len(res.Rows), "failures": len(res.Failures)})
			}
			fmt.Fprintf(a.out, "Chunk %s: %d rows, %d failures -> %s\n", c.Key(), len(res.Rows), len(res.Failures), path)
			return nil
		},
	}
	addRunnerFlags(cmd)
	cmd.Flags().String("dir", "rows", "Directory for the rows file")
	return cmd
}

func newBatchImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge rows files of a batch and save them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dir, _ := cmd.Flags().GetString("dir")
			batchID, _ := cmd.Flags().GetString("batch")
			chunkDir, _ := cmd.Flags().GetString("chunks")
			if chunkDir == "" {
				chunkDir = dir
			}
			res, files, total, err := importRows(dir, chunkDir, batchID)
			if err != nil {
				return err
			}
			if files == 0 {
				return fmt.Errorf("no rows files for batch %q in %s", batchID, dir)
			}
			if total > 0 && files < total {
				a.logger.Warn("batch incomplete", "batch", batchID, "files", files, "chunks", total)
			}

			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				id = batchID
			}
			if err := a.saveResult(cmd.Context(), cmd, id, nil, res); err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := writeResultFile(out, res); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"experiment_id": id, "files": files, "rows": len(res.Rows), "failures": len(res.Failures)})
			}
			fmt.Fprintf(a.out, "Imported %d files: %d rows, %d failures into %s\n", files, len(res.Rows), len(res.Failures), id)
			return nil
		},
	}
	cmd.Flags().String("dir", "rows", "Directory holding the rows files")
	cmd.Flags().String("batch", "", "Batch id (default: every batch in the directory)")
	cmd.Flags().String("chunks", "", "Directory holding the chunk files, to detect missing rows (default --dir)")
	addOutputFlags(cmd)
	return cmd
}

// importRows reads every rows file of batchID (any batch when empty) in
// dir, including the invalid-sets file written by export. The file count
// covers chunk results only. total is the chunk count of the batch, read
// from a chunk file in chunkDir, or 0 when none is found.
func importRows(dir, chunkDir, batchID string) (*experiment.Result, int, int, error) {
	pattern := "rows-*.dsb"
	if batchID != "" {
		pattern = "rows-" + batchID + "-*.dsb"
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, 0, 0, err
	}
	sort.Strings(paths)

	res := &experiment.Result{}
	files, total := 0, 0
	for _, p := range paths {
		cr, err := batch.ReadRows(p)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		res.Merge(cr.Result)
		if cr.Index != batch.InvalidIndex {
			files++
		}
		if batchID != "" && total == 0 {
			total = chunkTotal(chunkDir, cr.BatchID)
		}
	}
	res.Sort()
	return res, files, total, nil
}

func chunkTotal(dir, batchID string) int {
	chunks, _ := filepath.Glob(filepath.Join(dir, "chunk-"+batchID+"-*.dsb"))
	if len(chunks) == 0 {
		return 0
	}
	c, err := batch.ReadChunk(chunks[0])
	if err != nil {
		return 0
	}
	return c.Total
}

func newBatchSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue the parameter sets on Redis",
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
			if len(sets) == 0 {
				return errors.New("no valid parameter sets to submit")
			}
			chunks := batch.Split(sets, chunkSize(a, cmd))

			q := a.queue()
			defer q.Close()
			if err := q.Submit(cmd.Context(), chunks); err != nil {
				return err
			}
			a.logger.Info("batch submitted", "batch", chunks[0].BatchID, "chunks", len(chunks), "redis", a.cfg.Batch.Redis)

			if a.jsonOut {
				return a.printJSON(map[string]any{"batch_id": chunks[0].BatchID, "chunks": len(chunks), "sets": len(sets), "invalid": len(failures)})
			}
			fmt.Fprintln(a.out, chunks[0].BatchID)
			return nil
		},
	}
	addSpaceFlags(cmd)
	cmd.Flags().Int("chunk-size", 0, "Parameter sets per chunk (default from config)")
	return cmd
}

func newBatchWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run queued chunks until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			metricsAddr := a.cfg.MetricsAddr
			if cmd.Flags().Changed("metrics-addr") {
				metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
			}
			if err := a.serveMetrics(ctx, metricsAddr); err != nil {
				return err
			}

			q := a.queue()
			defer q.Close()
			if err := q.Ping(ctx); err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}

			drain, _ := cmd.Flags().GetBool("drain")
			w := &batch.Worker{Source: q, Runner: a.runner(cmd), Logger: a.logger, Drain: drain}
			done, err := w.Serve(ctx)
			a.logger.Info("worker stopped", "chunks", done)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	addRunnerFlags(cmd)
	cmd.Flags().Bool("drain", false, "Exit once the queue is empty")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func newBatchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many chunks of a batch have completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			batchID, _ := cmd.Flags().GetString("batch")
			q := a.queue()
			defer q.Close()
			status, err := q.Status(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(status)
			}
			fmt.Fprintf(a.out, "Batch %s: %d of %d chunks completed\n", status.BatchID, status.Completed, status.Total)
			return nil
		},
	}
	cmd.Flags().String("batch", "", "Batch id")
	cmd.MarkFlagRequired("batch")
	return cmd
}

func newBatchCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Gather the results of a queued batch and save them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			batchID, _ := cmd.Flags().GetString("batch")
			wait, _ := cmd.Flags().GetDuration("wait")
			partial, _ := cmd.Flags().GetBool("partial")

			q := a.queue()
			defer q.Close()

			deadline := time.Now().Add(wait)
			var res *experiment.Result
			for {
				res, err = q.Collect(ctx, batchID)
				if err == nil || !errors.Is(err, batch.ErrIncomplete) || time.Now().After(deadline) {
					break
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(2 * time.Second):
				}
			}
			if errors.Is(err, batch.ErrIncomplete) && partial {
				a.logger.Warn("saving partial batch", "batch", batchID, "error", err)
				err = nil
			}
			if err != nil {
				return err
			}

			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				id = batchID
			}
			if err := a.saveResult(ctx, cmd, id, nil, res); err != nil {
				return err
			}
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				if err := writeResultFile(out, res); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return a.printJSON(map[string]any{"experiment_id": id, "rows": len(res.Rows), "failures": len(res.Failures)})
			}
			fmt.Fprintf(a.out, "Collected batch %s: %d rows, %d failures\n", batchID, len(res.Rows), len(res.Failures))
			return nil
		},
	}
	cmd.Flags().String("batch", "", "Batch id")
	cmd.MarkFlagRequired("batch")
	cmd.Flags().Duration("wait", 0, "Keep polling this long for missing chunks")
	cmd.Flags().Bool("partial", false, "Save what has arrived even if chunks are missing")
	addOutputFlags(cmd)
	return cmd
}
