// Package report formats benchmark results and compares store
// configurations.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/weiihann/freelistbench/harness"
)

const ruleWidth = 60

var (
	heavyRule = strings.Repeat("█", ruleWidth)
	statsRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

// Comparison relates the stats of configuration A to configuration B.
type Comparison struct {
	// Speedup is A's throughput divided by B's.
	Speedup float64
	// LatencyDiffMicros is B's average latency minus A's.
	LatencyDiffMicros int64
}

// Compare computes the comparison of a against b.
func Compare(a, b harness.Stats) Comparison {
	var speedup float64
	if b.WritesPerSecond > 0 {
		speedup = a.WritesPerSecond / b.WritesPerSecond
	}

	return Comparison{
		Speedup:           speedup,
		LatencyDiffMicros: b.Avg.Microseconds() - a.Avg.Microseconds(),
	}
}

// Banner writes a heading framed by heavy rules.
func Banner(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, heavyRule)
}

// PrintStats writes one stats block under caption.
func PrintStats(w io.Writer, caption string, s harness.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, statsRule)
	fmt.Fprintln(w, caption)
	fmt.Fprintln(w, statsRule)
	fmt.Fprintf(w, "Samples:             %d\n", s.Count)
	fmt.Fprintf(w, "Total duration:      %s\n", s.Total)
	fmt.Fprintf(w, "Average write time:  %s\n", s.Avg)
	fmt.Fprintf(w, "Min write time:      %s\n", s.Min)
	fmt.Fprintf(w, "Max write time:      %s\n", s.Max)
	fmt.Fprintf(w, "p50 / p95 / p99:     %s / %s / %s\n", s.P50, s.P95, s.P99)
	fmt.Fprintf(w, "Writes per second:   %.2f\n", s.WritesPerSecond)
	fmt.Fprintln(w, statsRule)
}

// PrintComparison writes the comparison of a against b. unit names what one
// sample is, e.g. "write" or "batch commit".
func PrintComparison(
	w io.Writer, title, labelA, labelB, unit string, a, b harness.Stats,
) {
	c := Compare(a, b)

	fmt.Fprintln(w)
	fmt.Fprintln(w, lightRule)
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "%s is %.2fx faster than %s\n", labelA, c.Speedup, labelB)
	fmt.Fprintf(w, "Latency difference: %d µs per %s\n", c.LatencyDiffMicros, unit)
	fmt.Fprintln(w, lightRule)
}

// Generate writes the full text report for results. When there are exactly
// two results the first is compared against the second.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	Banner(w, "BENCHMARK RESULTS SUMMARY")

	for _, r := range results {
		PrintStats(w, "Individual Writes - "+r.Label, r.Writes)
	}

	for _, r := range results {
		if r.Batches != nil {
			PrintStats(w, fmt.Sprintf("Batch Writes (%d per txn) - %s",
				r.BatchSize, r.Label), *r.Batches)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Store | Sync Freelist | Records | Fill Time "+
		"| DB Size | Reopen |")
	fmt.Fprintln(w, "|-------|---------------|---------|-----------"+
		"|---------|--------|")

	for _, r := range results {
		fmt.Fprintf(w, "| %s | %t | %s | %s | %s | %s |\n",
			r.Label,
			r.SyncFreelist,
			humanize.Comma(int64(r.Fill.Records)),
			formatDuration(r.Fill.Elapsed),
			formatBytes(r.DBSizeBytes),
			formatDuration(r.ReopenTime),
		)
	}

	if len(results) == 2 {
		a, b := results[0], results[1]

		PrintComparison(w, "Individual Write Performance Comparison",
			a.Label, b.Label, "write", a.Writes, b.Writes)

		if a.Batches != nil && b.Batches != nil {
			PrintComparison(w, "Batch Write Performance Comparison",
				a.Label, b.Label, "batch commit", *a.Batches, *b.Batches)
		}
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}

	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	return humanize.IBytes(b)
}
