// Package metrics keeps per-action-type latency histograms for an execution.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/orchestration-engine/pkg/controlsurface"
)

const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(time.Hour / time.Microsecond)
	sigFigs          = 3
)

type series struct {
	hist      *hdrhistogram.Histogram
	successes int64
	failures  int64
}

// LatencyRecorder aggregates action durations by key (usually the action type).
type LatencyRecorder struct {
	mu     sync.Mutex
	series map[string]*series
	total  *hdrhistogram.Histogram
}

// NewLatencyRecorder creates an empty recorder.
func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{
		series: make(map[string]*series),
		total:  hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs),
	}
}

// Record adds one observation. Durations are clamped to the histogram range.
func (r *LatencyRecorder) Record(key string, d time.Duration, success bool) {
	v := d.Microseconds()
	if v < minLatencyMicros {
		v = minLatencyMicros
	}
	if v > maxLatencyMicros {
		v = maxLatencyMicros
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[key]
	if !ok {
		s = &series{hist: hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs)}
		r.series[key] = s
	}
	_ = s.hist.RecordValue(v)
	_ = r.total.RecordValue(v)
	if success {
		s.successes++
	} else {
		s.failures++
	}
}

// Summary returns the statistics for one key, or nil if nothing was recorded.
func (r *LatencyRecorder) Summary(key string) *controlsurface.LatencySummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[key]
	if !ok {
		return nil
	}
	return summarize(s.hist)
}

// Overall returns statistics across every key, or nil if empty.
func (r *LatencyRecorder) Overall() *controlsurface.LatencySummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total.TotalCount() == 0 {
		return nil
	}
	return summarize(r.total)
}

// Counts returns success and failure counts for a key.
func (r *LatencyRecorder) Counts(key string) (successes, failures int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[key]; ok {
		return s.successes, s.failures
	}
	return 0, 0
}

// Keys returns the recorded keys sorted.
func (r *LatencyRecorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func summarize(h *hdrhistogram.Histogram) *controlsurface.LatencySummary {
	ms := func(micros int64) float64 { return float64(micros) / 1000 }
	return &controlsurface.LatencySummary{
		Count: h.TotalCount(),
		MinMs: ms(h.Min()),
		MaxMs: ms(h.Max()),
		AvgMs: h.Mean() / 1000,
		P50Ms: ms(h.ValueAtQuantile(50)),
		P90Ms: ms(h.ValueAtQuantile(90)),
		P99Ms: ms(h.ValueAtQuantile(99)),
	}
}
