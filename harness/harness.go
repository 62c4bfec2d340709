package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/freelistbench/store"
	"github.com/weiihann/freelistbench/workload"
)

const (
	writeProgressEvery = 1000
	batchProgressEvery = 100
)

// WriteConfig holds parameters for an individual-write benchmark.
type WriteConfig struct {
	StartKey  uint64
	Writes    int
	ValueSize int
}

// BatchConfig holds parameters for a batch-write benchmark.
type BatchConfig struct {
	StartKey  uint64
	Batches   int
	BatchSize int
	ValueSize int
}

// Runner times write transactions against one store with a fixed freelist
// mode.
type Runner struct {
	Label        string
	Path         string
	SyncFreelist bool
	Options      store.Options
	Logger       *slog.Logger

	gen *workload.Generator
}

// NewRunner creates a Runner for the store at path. Every transaction it
// commits uses syncFreelist.
func NewRunner(
	label, path string,
	syncFreelist bool,
	gen *workload.Generator,
	opts store.Options,
	logger *slog.Logger,
) *Runner {
	opts.SyncFreelist = syncFreelist

	return &Runner{
		Label:        label,
		Path:         path,
		SyncFreelist: syncFreelist,
		Options:      opts,
		Logger:       logger.With(slog.String("db", label)),
		gen:          gen,
	}
}

// RunWrites commits cfg.Writes single-record transactions and returns one
// duration per transaction. Value generation is not timed.
func (r *Runner) RunWrites(
	ctx context.Context, cfg WriteConfig,
) ([]time.Duration, error) {
	if cfg.Writes <= 0 || cfg.ValueSize <= 0 {
		return nil, fmt.Errorf("%w: %d writes of %d bytes",
			ErrInvalidConfig, cfg.Writes, cfg.ValueSize)
	}

	r.Logger.InfoContext(ctx, "benchmarking writes",
		slog.String("path", r.Path),
		slog.Bool("sync_freelist", r.SyncFreelist),
		slog.Int("writes", cfg.Writes),
	)

	return r.timeCommits(ctx, BatchConfig{
		StartKey:  cfg.StartKey,
		Batches:   cfg.Writes,
		BatchSize: 1,
		ValueSize: cfg.ValueSize,
	}, writeProgressEvery, "write progress")
}

// RunBatchWrites commits cfg.Batches transactions of cfg.BatchSize records
// each and returns one duration per commit.
func (r *Runner) RunBatchWrites(
	ctx context.Context, cfg BatchConfig,
) ([]time.Duration, error) {
	if cfg.Batches <= 0 || cfg.BatchSize <= 0 || cfg.ValueSize <= 0 {
		return nil, fmt.Errorf("%w: %d batches of %d x %d bytes",
			ErrInvalidConfig, cfg.Batches, cfg.BatchSize, cfg.ValueSize)
	}

	r.Logger.InfoContext(ctx, "benchmarking batch writes",
		slog.String("path", r.Path),
		slog.Bool("sync_freelist", r.SyncFreelist),
		slog.Int("batches", cfg.Batches),
		slog.Int("batch_size", cfg.BatchSize),
	)

	return r.timeCommits(ctx, cfg, batchProgressEvery, "batch progress")
}

// timeCommits opens the store and commits cfg.Batches transactions under
// sequential keys, timing each from begin to commit. Values are generated
// before the clock starts.
func (r *Runner) timeCommits(
	ctx context.Context, cfg BatchConfig, progressEvery int, progressMsg string,
) (durations []time.Duration, err error) {
	db, err := store.Open(r.Path, r.Options)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			durations, err = nil, cerr
		}
	}()

	durations = make([]time.Duration, 0, cfg.Batches)
	key := cfg.StartKey
	values := make([][]byte, cfg.BatchSize)

	for i := 0; i < cfg.Batches; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for j := range values {
			values[j] = r.gen.Value(cfg.ValueSize)
		}

		start := time.Now()

		if err := insertBatch(db, key, values, r.SyncFreelist); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}

		durations = append(durations, time.Since(start))
		key += uint64(cfg.BatchSize)

		if (i+1)%progressEvery == 0 {
			r.Logger.InfoContext(ctx, progressMsg,
				slog.Int("completed", i+1),
				slog.Int("total", cfg.Batches),
			)
		}
	}

	return durations, nil
}

// ReopenResult describes a fresh open of a benchmarked store.
type ReopenResult struct {
	Elapsed   time.Duration
	FreePages int
	Records   int
}

// MeasureReopen opens the store, counts its records and closes it. Elapsed
// covers only the open. For a store whose last commits skipped the freelist
// it includes rebuilding the freelist from a full page scan.
func (r *Runner) MeasureReopen(ctx context.Context) (res ReopenResult, err error) {
	opts := r.Options
	opts.OnOpen = func(rep store.OpenReport) {
		res.Elapsed = rep.Elapsed
		res.FreePages = rep.FreePages
	}

	db, err := store.Open(r.Path, opts)
	if err != nil {
		return ReopenResult{}, err
	}

	records, err := db.Records()
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ReopenResult{}, err
	}

	res.Records = records

	r.Logger.InfoContext(ctx, "reopened store",
		slog.Duration("open_time", res.Elapsed),
		slog.Int("free_pages", res.FreePages),
		slog.Int("records", res.Records),
	)

	return res, nil
}
