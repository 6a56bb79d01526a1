package models

import (
	"fmt"
	"strings"
	"time"
)

// Dialect identifies the server-side protocol variant a test run speaks.
type Dialect int

const (
	DialectSingleFile Dialect = iota
	DialectLibreSpeed
	DialectCloudflare
)

// String returns the canonical config name of the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectSingleFile:
		return "singlefile"
	case DialectLibreSpeed:
		return "librespeed"
	case DialectCloudflare:
		return "cloudflare"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a config string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singlefile", "single-file", "file":
		return DialectSingleFile, nil
	case "librespeed":
		return DialectLibreSpeed, nil
	case "cloudflare":
		return DialectCloudflare, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// Phase is one measurement phase of a test run.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
	PhaseLatency  Phase = "latency"
)

// SpeedStats is the aggregate result of one download or upload phase.
// All speed fields are in bits per second. Recomputed from Samples on
// demand, never mutated in place.
type SpeedStats struct {
	Min        float64       `json:"min_bps"`
	Avg        float64       `json:"avg_bps"`
	Max        float64       `json:"max_bps"`
	StdDev     float64       `json:"stddev_bps"`
	Error      float64       `json:"relative_error"`
	TotalBytes int64         `json:"total_bytes"`
	Duration   time.Duration `json:"duration"`
	Samples    []float64     `json:"samples,omitempty"`
}

// LatencyStats aggregates one protocol's successful probe round trips,
// in microseconds. All-zero means the protocol was unmeasurable.
type LatencyStats struct {
	Min float64 `json:"min_us"`
	Avg float64 `json:"avg_us"`
	Max float64 `json:"max_us"`
}

// LatencyResult groups per-protocol latency statistics.
type LatencyResult struct {
	ICMP LatencyStats `json:"icmp"`
	TCP  LatencyStats `json:"tcp"`
	HTTP LatencyStats `json:"http"`
}

// NetworkMetrics is the ephemeral per-round view of recent throughput
// behavior used by the thread sizer. Recomputed every round.
type NetworkMetrics struct {
	Stability  float64 `json:"stability"`  // 0..1, higher = more consistent
	Congestion float64 `json:"congestion"` // 0..1, higher = degrading
	Trend      float64 `json:"trend"`      // signed fractional delta
	Variance   float64 `json:"variance"`   // normalized variance of recent samples
}
