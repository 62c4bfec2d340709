// Package main provides the CLI entry point for freelistbench, which
// measures how bbolt's per-commit freelist sync affects write throughput
// and latency.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/freelistbench/harness"
	"github.com/weiihann/freelistbench/report"
	"github.com/weiihann/freelistbench/store"
	"github.com/weiihann/freelistbench/workload"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	root := newRootCmd(logger, level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("benchmark failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}

	stop()
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:   "freelistbench",
		Short: "Benchmark bbolt write performance with and without freelist sync",
		Long: `Freelistbench fills two bbolt databases to the same size, then times
single-record write transactions against each: one store commits without
persisting its freelist, the other persists it on every commit. It reports
throughput, latency and the cost of reopening each store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger, level))

	return root
}

func newRunCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fill both stores and run the write benchmark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			if cfg.Verbose {
				level.Set(slog.LevelDebug)
			}

			return runBenchmark(cmd.Context(), logger, cfg, cmd.OutOrStdout())
		},
	}

	registerFlags(cmd.Flags())

	return cmd
}

// storeConfig is one side of the comparison.
type storeConfig struct {
	label        string
	file         string
	syncFreelist bool
}

// storeConfigs is compared in order: the first entry is reported as
// "N.NNx faster than" the second.
var storeConfigs = []storeConfig{
	{
		label:        "freelist-sync(off)",
		file:         "benchmark_freelist_nosync.db",
		syncFreelist: false,
	},
	{
		label:        "freelist-sync(on)",
		file:         "benchmark_freelist_sync.db",
		syncFreelist: true,
	},
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
	out io.Writer,
) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	gen := workload.NewGenerator(cfg.Seed)

	logger.InfoContext(ctx, "starting benchmark",
		slog.Uint64("target_size_gb", cfg.TargetSizeGB),
		slog.Int("value_size", cfg.ValueSize),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("writes", cfg.Writes),
		slog.Int("batches", cfg.Batches),
		slog.String("db_dir", cfg.DBDir),
		slog.Int64("seed", gen.Seed()),
	)

	if !cfg.OutputJSON {
		report.Banner(out, "BBOLT WRITE PERFORMANCE BENCHMARK\n"+
			"Comparing freelist sync off vs on")
	}

	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	opts := store.Options{
		MmapSize: cfg.CacheSizeMB << 20,
		Timeout:  time.Second,
	}

	results := make([]harness.Result, len(storeConfigs))
	runners := make([]*harness.Runner, len(storeConfigs))

	for i, sc := range storeConfigs {
		path := filepath.Join(cfg.DBDir, sc.file)
		results[i] = harness.Result{
			Label:        sc.label,
			Path:         path,
			SyncFreelist: sc.syncFreelist,
		}
		runners[i] = harness.NewRunner(
			sc.label, path, sc.syncFreelist, gen, opts, logger,
		)
	}

	// Step 1: Remove databases left by a previous run.
	for _, r := range results {
		removeStale(ctx, logger, r.Path)
	}

	// Step 2: Fill every store the same way, so only the benchmark phase
	// differs between them.
	for i := range results {
		fill, err := harness.Fill(ctx, logger, results[i].Path,
			harness.FillConfig{
				TargetBytes: cfg.targetBytes(),
				ValueSize:   cfg.ValueSize,
				BatchSize:   cfg.BatchSize,
			}, gen, opts)
		if err != nil {
			return fmt.Errorf("fill %s: %w", results[i].Label, err)
		}

		results[i].Fill = *fill
	}

	// Step 3: Time individual writes.
	nextKeys := make([]uint64, len(results))

	for i, runner := range runners {
		durations, err := runner.RunWrites(ctx, harness.WriteConfig{
			StartKey:  results[i].Fill.NextKey,
			Writes:    cfg.Writes,
			ValueSize: cfg.ValueSize,
		})
		if err != nil {
			return fmt.Errorf("benchmark %s: %w", runner.Label, err)
		}

		stats, err := harness.Summarize(durations)
		if err != nil {
			return fmt.Errorf("summarize %s: %w", runner.Label, err)
		}

		results[i].Writes = stats
		nextKeys[i] = results[i].Fill.NextKey + uint64(cfg.Writes)
	}

	// Step 4: Time batch writes (optional).
	if cfg.Batches > 0 {
		for i, runner := range runners {
			durations, err := runner.RunBatchWrites(ctx, harness.BatchConfig{
				StartKey:  nextKeys[i],
				Batches:   cfg.Batches,
				BatchSize: cfg.BatchTxnSize,
				ValueSize: cfg.ValueSize,
			})
			if err != nil {
				return fmt.Errorf("batch benchmark %s: %w", runner.Label, err)
			}

			stats, err := harness.Summarize(durations)
			if err != nil {
				return fmt.Errorf("summarize %s: %w", runner.Label, err)
			}

			results[i].Batches = &stats
			results[i].BatchSize = cfg.BatchTxnSize
		}
	}

	// Step 5: Time a fresh open, which rebuilds an unsynced freelist, and
	// check that no benchmark write landed on an existing key.
	if !cfg.SkipReopen {
		for i, runner := range runners {
			reopen, err := runner.MeasureReopen(ctx)
			if err != nil {
				return fmt.Errorf("reopen %s: %w", runner.Label, err)
			}

			results[i].ReopenTime = reopen.Elapsed
			results[i].Records = reopen.Records

			want := results[i].Fill.Records + uint64(cfg.Writes) +
				uint64(cfg.Batches)*uint64(cfg.BatchTxnSize)
			if uint64(reopen.Records) != want {
				logger.WarnContext(ctx, "unexpected record count",
					slog.String("db", runner.Label),
					slog.Int("records", reopen.Records),
					slog.Uint64("expected", want),
				)
			}
		}
	}

	for i := range results {
		size, err := store.FileSize(results[i].Path)
		if err != nil {
			logger.WarnContext(ctx, "failed to measure db size",
				slog.String("path", results[i].Path),
				slog.String("error", err.Error()),
			)
		}

		results[i].DBSizeBytes = size
	}

	// Step 6: Generate report.
	if cfg.OutputJSON {
		if err := report.GenerateJSON(out, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(out, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}

		report.Banner(out, "BENCHMARK COMPLETE")
		fmt.Fprintln(out, "\nDatabase files preserved for inspection:")

		for _, r := range results {
			fmt.Fprintf(out, "  - %s\n", r.Path)
		}
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

// removeStale deletes a database file from an earlier run. Failure is
// logged and does not stop the run.
func removeStale(ctx context.Context, logger *slog.Logger, path string) {
	err := os.Remove(path)

	switch {
	case err == nil:
		logger.InfoContext(ctx, "removed existing database",
			slog.String("path", path))
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.WarnContext(ctx, "could not remove database",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
