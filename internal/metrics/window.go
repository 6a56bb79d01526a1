package metrics

import (
	"sync"
	"time"
)

// windowEntry is one (timestamp, cumulative bytes) observation.
type windowEntry struct {
	ts    time.Time
	bytes int64
}

// SlidingWindow turns a stream of cumulative byte counts into an
// instantaneous bits-per-second estimate over a bounded recent window.
// The window is either count-bounded (transfer workers keep the last N
// observations) or time-bounded (progress display discards entries older
// than the retention period). Updates are O(1) amortized.
type SlidingWindow struct {
	mu         sync.Mutex
	entries    []windowEntry
	maxEntries int           // 0 = no count bound
	maxAge     time.Duration // 0 = no age bound
}

// NewCountWindow returns a window keeping the last n observations.
func NewCountWindow(n int) *SlidingWindow {
	return &SlidingWindow{maxEntries: n}
}

// NewTimeWindow returns a window discarding observations older than d.
func NewTimeWindow(d time.Duration) *SlidingWindow {
	return &SlidingWindow{maxAge: d}
}

// Push records a new observation and evicts entries outside the
// retention policy.
func (w *SlidingWindow) Push(ts time.Time, totalBytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{ts: ts, bytes: totalBytes})

	if w.maxEntries > 0 && len(w.entries) > w.maxEntries {
		w.entries = w.entries[len(w.entries)-w.maxEntries:]
	}
	if w.maxAge > 0 {
		cutoff := ts.Add(-w.maxAge)
		i := 0
		for i < len(w.entries)-1 && w.entries[i].ts.Before(cutoff) {
			i++
		}
		w.entries = w.entries[i:]
	}
}

// Speed returns the instantaneous speed in bits per second across the
// current window, or 0 if fewer than two observations are held.
func (w *SlidingWindow) Speed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) < 2 {
		return 0
	}

	first := w.entries[0]
	last := w.entries[len(w.entries)-1]

	seconds := last.ts.Sub(first.ts).Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) * 8 / seconds
}

// Len returns the number of observations currently held.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Reset drops all observations.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = w.entries[:0]
}
