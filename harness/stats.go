package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	sigFigs    = 3
	minLatency = time.Microsecond
	maxLatency = time.Minute
)

// ErrNoSamples is returned when summarizing an empty duration sequence.
var ErrNoSamples = errors.New("no duration samples")

// Stats aggregates a sequence of per-transaction durations.
type Stats struct {
	Count           int           `json:"count"`
	Total           time.Duration `json:"total_ns"`
	Avg             time.Duration `json:"avg_ns"`
	Min             time.Duration `json:"min_ns"`
	Max             time.Duration `json:"max_ns"`
	P50             time.Duration `json:"p50_ns"`
	P95             time.Duration `json:"p95_ns"`
	P99             time.Duration `json:"p99_ns"`
	WritesPerSecond float64       `json:"writes_per_second"`
}

// Summarize reduces durations to Stats. Avg is Total divided by the sample
// count. WritesPerSecond is zero when Total is zero.
func Summarize(durations []time.Duration) (Stats, error) {
	if len(durations) == 0 {
		return Stats{}, ErrNoSamples
	}

	hist := hdrhistogram.New(
		minLatency.Nanoseconds(), maxLatency.Nanoseconds(), sigFigs,
	)

	s := Stats{
		Count: len(durations),
		Min:   durations[0],
		Max:   durations[0],
	}

	for _, d := range durations {
		s.Total += d
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)

		// Out-of-range values would be dropped, so clamp them.
		v := min(max(d, minLatency), maxLatency)
		if err := hist.RecordValue(v.Nanoseconds()); err != nil {
			return Stats{}, fmt.Errorf("record %s: %w", d, err)
		}
	}

	s.Avg = s.Total / time.Duration(s.Count)

	if s.Total > 0 {
		s.WritesPerSecond = float64(s.Count) / s.Total.Seconds()
	}

	s.P50 = s.quantile(hist, 50)
	s.P95 = s.quantile(hist, 95)
	s.P99 = s.quantile(hist, 99)

	return s, nil
}

// quantile reads q from the histogram and bounds it by the exact extremes,
// since histogram buckets report their upper edge.
func (s Stats) quantile(hist *hdrhistogram.Histogram, q float64) time.Duration {
	v := time.Duration(hist.ValueAtQuantile(q))

	return min(max(v, s.Min), s.Max)
}
