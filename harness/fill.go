package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/weiihann/freelistbench/store"
	"github.com/weiihann/freelistbench/workload"
)

const fillProgressEvery = 100

// ErrInvalidConfig is returned for configurations that cannot run.
var ErrInvalidConfig = errors.New("invalid config")

// FillConfig holds parameters for a fill phase.
type FillConfig struct {
	TargetBytes uint64
	ValueSize   int
	BatchSize   int
	StartKey    uint64
}

func (c FillConfig) validate() error {
	if c.ValueSize <= 0 {
		return fmt.Errorf("%w: value size %d", ErrInvalidConfig, c.ValueSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}

	return nil
}

// Fill writes batches of sequentially keyed random values to the store at
// path until at least cfg.TargetBytes of values have been written. The
// returned NextKey is the first key the fill did not use.
func Fill(
	ctx context.Context,
	logger *slog.Logger,
	path string,
	cfg FillConfig,
	gen *workload.Generator,
	opts store.Options,
) (res *FillResult, err error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger = logger.With(slog.String("db", path))

	opts.OnOpen = func(r store.OpenReport) {
		logger.InfoContext(ctx, "store opened",
			slog.Duration("open_time", r.Elapsed),
			slog.Int("free_pages", r.FreePages),
			slog.Int("pending_pages", r.PendingPages),
		)
	}

	db, err := store.Open(path, opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			res, err = nil, cerr
		}
	}()

	logger.InfoContext(ctx, "filling database",
		slog.String("target", humanize.IBytes(cfg.TargetBytes)),
		slog.Uint64("planned_records", workload.RecordsForTarget(
			cfg.TargetBytes, cfg.ValueSize, cfg.BatchSize)),
	)

	var (
		start   = time.Now()
		key     = cfg.StartKey
		written uint64
		batches uint64
		values  = make([][]byte, cfg.BatchSize)
	)

	for written < cfg.TargetBytes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i := range values {
			values[i] = gen.Value(cfg.ValueSize)
		}

		if err := insertBatch(db, key, values, opts.SyncFreelist); err != nil {
			return nil, fmt.Errorf("fill batch %d: %w", batches, err)
		}

		key += uint64(cfg.BatchSize)
		written += uint64(cfg.BatchSize) * uint64(cfg.ValueSize)
		batches++

		if batches%fillProgressEvery == 0 {
			size, _ := store.FileSize(path)
			logger.InfoContext(ctx, "fill progress",
				slog.String("written", humanize.IBytes(written)),
				slog.String("db_size", humanize.IBytes(size)),
				slog.Uint64("records", key-cfg.StartKey),
				slog.Duration("elapsed", time.Since(start)),
			)
		}
	}

	size, _ := store.FileSize(path)

	res = &FillResult{
		NextKey:      key,
		Records:      key - cfg.StartKey,
		Batches:      batches,
		BytesWritten: written,
		FileSize:     size,
		Elapsed:      time.Since(start),
	}

	logger.InfoContext(ctx, "database filled",
		slog.String("db_size", humanize.IBytes(res.FileSize)),
		slog.Uint64("records", res.Records),
		slog.Duration("elapsed", res.Elapsed),
	)

	return res, nil
}

// insertBatch writes values under consecutive keys starting at firstKey in
// one transaction.
func insertBatch(
	db *store.DB, firstKey uint64, values [][]byte, syncFreelist bool,
) error {
	txn, err := db.BeginWrite()
	if err != nil {
		return err
	}

	txn.SetSyncFreelist(syncFreelist)

	for i, v := range values {
		if err := txn.Insert(workload.Key(firstKey+uint64(i)), v); err != nil {
			txn.Rollback()

			return err
		}
	}

	return txn.Commit()
}
