// Package metrics reduces execution records into run statistics, tracks live
// in-flight metrics with HDR histograms and exports Prometheus telemetry.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/wesleyorama2/vuload/internal/performance"
)

// NoResultsSummary is the summary of a run that collected no records.
const NoResultsSummary = "No results collected"

// Result is the immutable outcome of one load test run.
type Result struct {
	TotalRequests      int64 `json:"totalRequests"`
	SuccessfulRequests int64 `json:"successfulRequests"`
	FailedRequests     int64 `json:"failedRequests"`

	AverageLatencyMs float64 `json:"averageLatencyMs"`
	MinLatencyMs     int64   `json:"minLatencyMs"`
	MaxLatencyMs     int64   `json:"maxLatencyMs"`
	P50              int64   `json:"p50"`
	P90              int64   `json:"p90"`
	P95              int64   `json:"p95"`
	P99              int64   `json:"p99"`

	RequestsPerSecond float64 `json:"requestsPerSecond"`
	ErrorRatePercent  float64 `json:"errorRatePercent"`

	// WallClockMs is the run duration the throughput was computed over.
	WallClockMs int64 `json:"wallClockMs"`

	// Dropped counts records that arrived after collection was sealed.
	Dropped int64 `json:"dropped,omitempty"`

	Summary string `json:"summary"`
}

// Aggregate computes run statistics over records collected during
// wallClockMs milliseconds.
//
// Latency statistics cover every record that carries a latency, whether the
// call succeeded or not. Percentiles use the nearest-rank method on the
// sorted latencies. records is not modified, and calling Aggregate twice on
// the same records yields identical results.
func Aggregate(records []performance.ExecutionRecord, wallClockMs int64) *Result {
	if len(records) == 0 {
		return &Result{WallClockMs: wallClockMs, Summary: NoResultsSummary}
	}

	res := &Result{
		TotalRequests: int64(len(records)),
		WallClockMs:   wallClockMs,
	}

	latencies := make([]int64, 0, len(records))
	var sum int64
	for _, rec := range records {
		if rec.Success {
			res.SuccessfulRequests++
		}
		if rec.HasLatency {
			latencies = append(latencies, rec.LatencyMs)
			sum += rec.LatencyMs
		}
	}
	res.FailedRequests = res.TotalRequests - res.SuccessfulRequests

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		res.AverageLatencyMs = float64(sum) / float64(len(latencies))
		res.MinLatencyMs = latencies[0]
		res.MaxLatencyMs = latencies[len(latencies)-1]
		res.P50 = Percentile(latencies, 50)
		res.P90 = Percentile(latencies, 90)
		res.P95 = Percentile(latencies, 95)
		res.P99 = Percentile(latencies, 99)
	}

	if wallClockMs > 0 {
		res.RequestsPerSecond = float64(res.TotalRequests) / (float64(wallClockMs) / 1000)
	}
	res.ErrorRatePercent = float64(res.FailedRequests) / float64(res.TotalRequests) * 100

	res.Summary = res.format()
	return res
}

// Percentile returns the nearest-rank p-th percentile of sorted, which must
// be in ascending order. It returns 0 for an empty slice.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	index := int(math.Ceil(p/100*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

func (r *Result) format() string {
	return fmt.Sprintf(
		"Total: %d, Success: %d, Failed: %d, Avg: %.2fms, Min: %dms, Max: %dms, "+
			"P50: %dms, P90: %dms, P95: %dms, P99: %dms, RPS: %.2f, Error Rate: %.2f%%",
		r.TotalRequests, r.SuccessfulRequests, r.FailedRequests,
		r.AverageLatencyMs, r.MinLatencyMs, r.MaxLatencyMs,
		r.P50, r.P90, r.P95, r.P99,
		r.RequestsPerSecond, r.ErrorRatePercent)
}

// WithSummary returns a copy of r with its summary replaced.
func (r *Result) WithSummary(summary string) *Result {
	cp := *r
	cp.Summary = summary
	return &cp
}
