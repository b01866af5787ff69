// metrics.go - Metrics collection for the pickup daemon.

package main

import (
	"sort"
	"sync"
	"time"
)

// Metric names.
const (
	MetricRegistrationCount     = "registration_count"
	MetricPickupCount           = "pickup_count"
	MetricReclaimCount          = "reclaim_count"
	MetricRejectedProofCount    = "rejected_proof_count"
	MetricErrorCount            = "error_count"
	MetricProofVerificationTime = "proof_verification_seconds"
	MetricRequestDuration       = "http_request_seconds"
)

// MetricsCollector keeps counters and duration histograms behind one mutex.
type MetricsCollector struct {
	mu         sync.RWMutex
	started    time.Time
	counters   map[string]int64
	histograms map[string][]float64
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		started:    time.Now(),
		counters:   make(map[string]int64),
		histograms: make(map[string][]float64),
	}
}

// Inc increments a counter.
func (mc *MetricsCollector) Inc(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[name]++
}

// Observe records a duration into a histogram, keeping the last 1000 samples.
func (mc *MetricsCollector) Observe(name string, d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	samples := append(mc.histograms[name], d.Seconds())
	if len(samples) > 1000 {
		samples = samples[len(samples)-1000:]
	}
	mc.histograms[name] = samples
}

// HistogramSummary aggregates one histogram.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// Snapshot is the JSON shape served at /metrics.
type Snapshot struct {
	UptimeSeconds float64                     `json:"uptime_seconds"`
	Counters      map[string]int64            `json:"counters"`
	Histograms    map[string]HistogramSummary `json:"histograms"`
}

// Snapshot returns a consistent copy of all metrics.
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s := Snapshot{
		UptimeSeconds: time.Since(mc.started).Seconds(),
		Counters:      make(map[string]int64, len(mc.counters)),
		Histograms:    make(map[string]HistogramSummary, len(mc.histograms)),
	}
	for name, v := range mc.counters {
		s.Counters[name] = v
	}
	for name, samples := range mc.histograms {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		s.Histograms[name] = HistogramSummary{
			Count: len(sorted),
			Min:   sorted[0],
			Max:   sorted[len(sorted)-1],
			Avg:   sum / float64(len(sorted)),
		}
	}
	return s
}
