// Package tester drives a download or upload phase to a statistically
// stable result: it resolves the endpoint, probes availability, fans out
// adaptive rounds of concurrent transfer workers and stops once the
// relative error converges or the wall-clock budget runs out.
package tester

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Alice39s/aqua-speed/internal/config"
	"github.com/Alice39s/aqua-speed/internal/endpoint"
	"github.com/Alice39s/aqua-speed/internal/metrics"
	"github.com/Alice39s/aqua-speed/internal/transfer"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

// interRoundDelay spaces sampling rounds so the endpoint is not hammered.
const interRoundDelay = 500 * time.Millisecond

// workerFunc is one worker's share of a round. Injected so tests can
// substitute synthetic workers.
type workerFunc func(ctx context.Context, url, referrer string) (transfer.Result, error)

// SpeedTester is the concurrency controller for one measurement phase.
type SpeedTester struct {
	cfg      *config.Config
	phase    models.Phase
	log      zerolog.Logger
	client   *http.Client
	strategy endpoint.Strategy
	prober   *endpoint.Prober

	worker     workerFunc
	onProgress transfer.ProgressFunc
	roundDelay time.Duration

	// currentSpeed is the shared last-writer-wins cell behind
	// CurrentSpeed. Informational only, never part of the result.
	currentSpeed atomic.Uint64
}

// New builds a phase controller from a validated config.
func New(cfg *config.Config, phase models.Phase, log zerolog.Logger) *SpeedTester {
	client := &http.Client{Timeout: cfg.Timeout}

	t := &SpeedTester{
		cfg:        cfg,
		phase:      phase,
		log:        log,
		client:     client,
		strategy:   endpoint.ForDialect(cfg.Dialect(), cfg.ServerURL()),
		prober:     endpoint.NewProber(client, log, cfg.AcceptAnyStatus),
		roundDelay: interRoundDelay,
	}

	progress := t.recordProgress
	switch phase {
	case models.PhaseUpload:
		up := &transfer.Uploader{
			Client:           client,
			Log:              log,
			Dialect:          cfg.Dialect(),
			OnProgress:       progress,
			ProgressInterval: cfg.ProgressInterval,
		}
		t.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
			return up.Run(ctx, url, referrer)
		}
	default:
		down := &transfer.Downloader{
			Client:           client,
			Log:              log,
			OnProgress:       progress,
			ProgressInterval: cfg.ProgressInterval,
		}
		t.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
			return down.Run(ctx, url, referrer)
		}
	}
	return t
}

// SetProgress installs a display-only progress callback invoked at
// roughly the configured progress interval during the phase.
func (t *SpeedTester) SetProgress(fn transfer.ProgressFunc) { t.onProgress = fn }

// CurrentSpeed returns the most recently reported live speed in bits/s.
func (t *SpeedTester) CurrentSpeed() float64 {
	return math.Float64frombits(t.currentSpeed.Load())
}

func (t *SpeedTester) recordProgress(speedBps float64, totalBytes int64) {
	t.currentSpeed.Store(math.Float64bits(speedBps))
	if t.onProgress != nil {
		t.onProgress(speedBps, totalBytes)
	}
}

// Measure runs the phase to completion: Resolving -> Probing ->
// Sampling until converged, timed out or failed. In-flight workers are
// always cancelled before returning, success path included.
func (t *SpeedTester) Measure(ctx context.Context) (models.SpeedStats, error) {
	log := t.log.With().
		Str("phase", string(t.phase)).
		Str("run_id", uuid.NewString()).
		Logger()

	cand, err := t.strategy.Candidate(t.phase)
	if err != nil {
		return models.SpeedStats{}, fmt.Errorf("%s: %w", t.phase, err)
	}

	if !t.prober.Check(ctx, cand.URL, cand.Referrer, t.phase) {
		log.Warn().Str("url", cand.URL).Msg("primary endpoint unreachable, trying fallbacks")
		if !t.advance(ctx, cand, log) {
			return models.SpeedStats{}, fmt.Errorf("%s: %w", t.phase, endpoint.ErrNoAvailableEndpoint)
		}
	}
	log.Info().Str("url", cand.URL).Int("threads", t.cfg.Threads).Msg("measurement started")

	start := time.Now()

	// The deadline cuts off in-flight workers at the wall-clock
	// ceiling; cancelled workers still contribute partial averages.
	phaseCtx, cancel := context.WithDeadline(ctx, start.Add(t.cfg.MaxTestTime))
	defer cancel()

	sizer := newThreadSizer(t.cfg.Threads)
	active := sizer.clamp(t.cfg.Threads)
	samples := make([]float64, 0, 32)
	var totalBytes int64

	for round := 1; ; round++ {
		elapsed := time.Since(start)
		if elapsed >= t.cfg.MaxTestTime {
			log.Info().Int("rounds", round-1).Msg("wall-clock budget reached")
			break
		}

		st := metrics.CalculateStats(samples)
		if elapsed >= t.cfg.MinTestTime && len(samples) >= t.cfg.MinSamples && st.Error <= t.cfg.TargetError {
			log.Info().Int("rounds", round-1).Float64("error", st.Error).Msg("converged")
			break
		}

		active = sizer.next(samples, active, st, t.cfg.TargetError)

		roundBps, roundBytes, roundErr := t.runRound(phaseCtx, cand, active)
		totalBytes += roundBytes
		if roundErr != nil {
			if phaseCtx.Err() != nil {
				log.Info().Int("rounds", round-1).Msg("wall-clock budget reached mid-round")
				break
			}
			log.Warn().Err(roundErr).Str("url", cand.URL).Msg("round failed")
			if !t.advance(ctx, cand, log) {
				return models.SpeedStats{}, fmt.Errorf("%s: %w", t.phase, roundErr)
			}
			// The failed round contributes no sample.
			continue
		}

		samples = append(samples, roundBps)
		log.Debug().
			Int("round", round).
			Int("threads", active).
			Float64("round_bps", roundBps).
			Float64("error", st.Error).
			Msg("round complete")

		if !t.pause(ctx) {
			break
		}
	}

	final := metrics.CalculateStats(samples)
	final.TotalBytes = totalBytes
	final.Duration = time.Since(start)
	return final, nil
}

// runRound fans out exactly threads concurrent worker invocations and
// joins them; the round sample is the sum of all worker speeds. The
// sample slice is only touched by the controller after this join.
func (t *SpeedTester) runRound(ctx context.Context, cand *endpoint.Candidate, threads int) (float64, int64, error) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan transfer.Result, threads)
	errs := make(chan error, threads)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := t.worker(roundCtx, cand.URL, cand.Referrer)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	var sum float64
	var bytes int64
	n := 0
	for r := range results {
		sum += r.SpeedBps
		bytes += r.Bytes
		n++
	}
	if n == 0 {
		return 0, bytes, fmt.Errorf("all %d workers failed: %w", threads, <-errs)
	}
	return sum, bytes, nil
}

// advance probes fallback candidates in order until one is reachable.
func (t *SpeedTester) advance(ctx context.Context, cand *endpoint.Candidate, log zerolog.Logger) bool {
	for {
		next, ok := cand.Advance()
		if !ok {
			return false
		}
		if t.prober.Check(ctx, next, cand.Referrer, t.phase) {
			log.Info().Str("url", next).Msg("switched to fallback endpoint")
			return true
		}
		log.Warn().Str("url", next).Msg("fallback endpoint unreachable")
	}
}

// pause waits the inter-round delay, returning false when the phase
// context ends first.
func (t *SpeedTester) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(t.roundDelay):
		return true
	}
}
