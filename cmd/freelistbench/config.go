package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	flag "github.com/spf13/pflag"
)

const envPrefix = "FREELISTBENCH_"

type runConfig struct {
	TargetSizeGB uint64 `koanf:"target-size-gb"`
	ValueSize    int    `koanf:"value-size"`
	BatchSize    int    `koanf:"batch-size"`
	Writes       int    `koanf:"writes"`
	Batches      int    `koanf:"batches"`
	BatchTxnSize int    `koanf:"batch-txn-size"`
	DBDir        string `koanf:"db-dir"`
	CacheSizeMB  int    `koanf:"cache-size-mb"`
	Seed         int64  `koanf:"seed"`
	SkipReopen   bool   `koanf:"skip-reopen"`
	OutputJSON   bool   `koanf:"json"`
	Verbose      bool   `koanf:"verbose"`

	// targetBytesOverride replaces TargetSizeGB when non-zero.
	targetBytesOverride uint64
}

// maxTargetSizeGB is the largest size whose byte count fits in a uint64.
const maxTargetSizeGB = math.MaxUint64 >> 30

// registerFlags defines the run flags. Their defaults are the lowest
// configuration layer.
func registerFlags(f *flag.FlagSet) {
	f.String("config", "",
		"Path to a TOML config file")
	f.Uint64("target-size-gb", 10,
		"Target database size in GiB for the fill phase")
	f.Int("value-size", 4096,
		"Size in bytes of each random value")
	f.Int("batch-size", 1000,
		"Inserts per transaction during the fill phase")
	f.Int("writes", 10000,
		"Number of single-record write transactions to time per store")
	f.Int("batches", 0,
		"Number of batch transactions to time per store (0 = skip)")
	f.Int("batch-txn-size", 100,
		"Inserts per transaction in the batch benchmark")
	f.String("db-dir", ".",
		"Directory holding the benchmark database files")
	f.Int("cache-size-mb", 1024,
		"Initial mmap size in MiB for each store")
	f.Int64("seed", 0,
		"Random seed (0 = use current time)")
	f.Bool("skip-reopen", false,
		"Skip timing a fresh open of each store after the benchmark")
	f.Bool("json", false,
		"Output results as JSON instead of text")
	f.Bool("verbose", false,
		"Enable debug logging")
}

// loadConfig merges, from lowest to highest precedence: flag defaults, the
// --config file, FREELISTBENCH_* environment variables and explicitly set
// flags.
func loadConfig(f *flag.FlagSet) (runConfig, error) {
	ko := koanf.New(".")

	cfgPath, err := f.GetString("config")
	if err != nil {
		return runConfig{}, err
	}

	if cfgPath != "" {
		if err := ko.Load(file.Provider(cfgPath), toml.Parser()); err != nil {
			return runConfig{}, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	err = ko.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", "-")
	}), nil)
	if err != nil {
		return runConfig{}, fmt.Errorf("load env: %w", err)
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return runConfig{}, fmt.Errorf("load flags: %w", err)
	}

	var cfg runConfig
	if err := ko.Unmarshal("", &cfg); err != nil {
		return runConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c runConfig) validate() error {
	switch {
	case c.TargetSizeGB == 0 && c.targetBytesOverride == 0:
		return fmt.Errorf("target-size-gb must be positive")
	case c.TargetSizeGB > maxTargetSizeGB:
		return fmt.Errorf("target-size-gb must be at most %d, got %d",
			uint64(maxTargetSizeGB), c.TargetSizeGB)
	case c.ValueSize <= 0:
		return fmt.Errorf("value-size must be positive, got %d", c.ValueSize)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch-size must be positive, got %d", c.BatchSize)
	case c.Writes <= 0:
		return fmt.Errorf("writes must be positive, got %d", c.Writes)
	case c.Batches < 0:
		return fmt.Errorf("batches must not be negative, got %d", c.Batches)
	case c.Batches > 0 && c.BatchTxnSize <= 0:
		return fmt.Errorf("batch-txn-size must be positive, got %d",
			c.BatchTxnSize)
	case c.CacheSizeMB <= 0:
		return fmt.Errorf("cache-size-mb must be positive, got %d",
			c.CacheSizeMB)
	case c.DBDir == "":
		return fmt.Errorf("db-dir must not be empty")
	}

	return nil
}

func (c runConfig) targetBytes() uint64 {
	if c.targetBytesOverride > 0 {
		return c.targetBytesOverride
	}

	return c.TargetSizeGB << 30
}
