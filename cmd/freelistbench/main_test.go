package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/freelistbench/harness"
)

func testConfig(t *testing.T) runConfig {
	t.Helper()

	return runConfig{
		ValueSize:           256,
		BatchSize:           10,
		Writes:              40,
		BatchTxnSize:        5,
		DBDir:               t.TempDir(),
		CacheSizeMB:         4,
		Seed:                42,
		targetBytesOverride: 8 << 10,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunBenchmarkText(t *testing.T) {
	cfg := testConfig(t)
	cfg.Batches = 3

	var out bytes.Buffer
	require.NoError(t, runBenchmark(context.Background(), discardLogger(), cfg, &out))

	output := out.String()
	assert.Contains(t, output, "BBOLT WRITE PERFORMANCE BENCHMARK")
	assert.Contains(t, output, "Individual Writes - freelist-sync(off)")
	assert.Contains(t, output, "Individual Writes - freelist-sync(on)")
	assert.Contains(t, output, "faster than freelist-sync(on)")
	assert.Contains(t, output, "Batch Writes (5 per txn)")
	assert.Contains(t, output, "Database files preserved for inspection")

	for _, sc := range storeConfigs {
		_, err := os.Stat(filepath.Join(cfg.DBDir, sc.file))
		assert.NoError(t, err, "%s should be left on disk", sc.file)
	}
}

func TestRunBenchmarkJSON(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputJSON = true

	var out bytes.Buffer
	require.NoError(t, runBenchmark(context.Background(), discardLogger(), cfg, &out))

	var results []harness.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, len(storeConfigs))

	for i, r := range results {
		assert.Equal(t, storeConfigs[i].label, r.Label)
		assert.Equal(t, storeConfigs[i].syncFreelist, r.SyncFreelist)
		assert.Equal(t, 40, r.Writes.Count)
		assert.LessOrEqual(t, r.Writes.Min, r.Writes.Avg)
		assert.LessOrEqual(t, r.Writes.Avg, r.Writes.Max)
		assert.Positive(t, r.ReopenTime)
		assert.NotZero(t, r.DBSizeBytes)
		assert.Nil(t, r.Batches)
		assert.Equal(t, uint64(40), r.Fill.Records)
		assert.Equal(t, 40+40, r.Records)
	}
}

func TestRunBenchmarkRecordCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputJSON = true
	cfg.Batches = 3

	var out bytes.Buffer
	require.NoError(t, runBenchmark(context.Background(), discardLogger(), cfg, &out))

	var results []harness.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, len(storeConfigs))

	for _, r := range results {
		require.NotNil(t, r.Batches)
		assert.Equal(t, cfg.Batches, r.Batches.Count)
		assert.Positive(t, r.Fill.Records)

		want := int(r.Fill.Records) + cfg.Writes + cfg.Batches*cfg.BatchTxnSize
		assert.Equal(t, want, r.Records, r.Label)
	}
}

func TestRunBenchmarkRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.targetBytesOverride = 0

	var out bytes.Buffer
	err := runBenchmark(context.Background(), discardLogger(), cfg, &out)
	require.Error(t, err)
	assert.Empty(t, out.String())

	entries, err := os.ReadDir(cfg.DBDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunBenchmarkReplacesStaleFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputJSON = true
	cfg.SkipReopen = true

	stale := filepath.Join(cfg.DBDir, storeConfigs[0].file)
	require.NoError(t, os.WriteFile(stale, []byte("not a bolt file"), 0o600))

	var out bytes.Buffer
	require.NoError(t, runBenchmark(context.Background(), discardLogger(), cfg, &out))

	var results []harness.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	assert.Zero(t, results[0].ReopenTime)
}

func TestRunBenchmarkCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runBenchmark(ctx, discardLogger(), testConfig(t), &out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCommandRejectsBadFlags(t *testing.T) {
	root := newRootCmd(discardLogger(), new(slog.LevelVar))
	root.SetArgs([]string{"run", "--writes", "0", "--db-dir", t.TempDir()})
	root.SetOut(io.Discard)

	assert.Error(t, root.Execute())
}

func TestRemoveStale(t *testing.T) {
	t.Run("missing file is silent", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		removeStale(context.Background(), logger,
			filepath.Join(t.TempDir(), "missing.db"))
		assert.Empty(t, buf.String())
	})

	t.Run("removal failure warns", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		dir := filepath.Join(t.TempDir(), "busy.db")
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "child"), nil, 0o600))

		removeStale(context.Background(), logger, dir)

		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "could not remove database")
		_, err := os.Stat(dir)
		assert.NoError(t, err)
	})
}
