// Package transfer implements the download and upload workers: one
// worker's share of data transfer against a chosen URL, with adaptive
// chunk sizing, windowed progress reporting and retry on transient
// failure. Cancellation is graceful: a cancelled worker reports the
// average speed it achieved so far instead of an error.
package transfer

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Alice39s/aqua-speed/internal/metrics"
)

// ProgressFunc receives live (speed in bits/s, cumulative bytes)
// updates. Display only; it must not influence the measurement.
type ProgressFunc func(speedBps float64, totalBytes int64)

// Result is one worker's outcome for a single transfer.
type Result struct {
	SpeedBps float64
	Bytes    int64
}

const (
	// SampleInterval is the cadence of window samples inside workers.
	SampleInterval = 200 * time.Millisecond

	// workerWindowEntries bounds the per-worker speed window.
	workerWindowEntries = 5

	// Chunk sizing targets an ideal chunk that takes ~100ms to move at
	// the currently observed speed, scaled by a fixed factor.
	idealChunkTime    = 100 * time.Millisecond
	chunkAdjustFactor = 1.5
	minChunkSize      = 32 << 10
	maxDownloadChunk  = 2 << 20

	// Upload payload budgets per dialect.
	libreChunkSize  = 1 << 20
	libreChunkCount = 8
	cfMinChunk      = 256 << 10
	cfMaxChunk      = 4 << 20
	cfUploadBudget  = 8 * cfMaxChunk

	// Transient failures retry the whole transfer with fixed backoff.
	maxAttempts = 3
	retryDelay  = time.Second

	// The final figure blends the whole-transfer average with the last
	// instantaneous speed; the average's weight grows with duration.
	maxBlendWeight   = 0.7
	blendRampSeconds = 10.0
)

// adaptiveChunk proposes the next chunk size from the observed speed:
// faster transfers get bigger chunks (fewer reports), slower ones
// smaller, clamped to [min, max].
func adaptiveChunk(speedBps float64, min, max int) int {
	if speedBps <= 0 {
		return min
	}
	ideal := speedBps / 8 * idealChunkTime.Seconds()
	target := int(ideal * chunkAdjustFactor)
	if target < min {
		return min
	}
	if target > max {
		return max
	}
	return target
}

// blendFinalSpeed combines the whole-transfer average with the last
// instantaneous window speed. Longer transfers weight the average more,
// capped at maxBlendWeight.
func blendFinalSpeed(instantBps, avgBps float64, elapsed time.Duration) float64 {
	if instantBps <= 0 {
		return avgBps
	}
	w := elapsed.Seconds() / blendRampSeconds
	if w > maxBlendWeight {
		w = maxBlendWeight
	}
	return w*avgBps + (1-w)*instantBps
}

// averageBps is the plain whole-transfer average speed.
func averageBps(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) * 8 / secs
}

// displayWindow is the retention period of the reporter's speed window.
// The displayed speed is averaged over this span so the progress line
// does not jitter with individual reads.
const displayWindow = 5 * time.Second

// reporter throttles progress callbacks to the configured cadence and
// smooths the displayed speed over a time-bounded window. Display only;
// the measurement path never reads it.
type reporter struct {
	fn      ProgressFunc
	limiter *rate.Limiter
	window  *metrics.SlidingWindow
}

func newReporter(fn ProgressFunc, interval time.Duration) *reporter {
	if interval <= 0 {
		interval = SampleInterval
	}
	return &reporter{
		fn:      fn,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		window:  metrics.NewTimeWindow(displayWindow),
	}
}

func (r *reporter) report(speedBps float64, totalBytes int64) {
	if r.fn == nil {
		return
	}
	r.window.Push(time.Now(), totalBytes)
	if !r.limiter.Allow() {
		return
	}
	display := r.window.Speed()
	if display <= 0 {
		display = speedBps
	}
	r.fn(display, totalBytes)
}
