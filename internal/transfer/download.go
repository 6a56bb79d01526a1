package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alice39s/aqua-speed/internal/metrics"
	"github.com/Alice39s/aqua-speed/internal/retry"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Downloader performs one worker's share of a download phase.
type Downloader struct {
	Client     *http.Client
	Log        zerolog.Logger
	OnProgress ProgressFunc

	// ProgressInterval throttles OnProgress; defaults to SampleInterval.
	ProgressInterval time.Duration
}

// Run opens a streamed GET and reads the body to completion, adapting
// the read chunk size to observed throughput. Transient failures retry
// the whole transfer; cancellation yields the partial average speed.
func (d *Downloader) Run(ctx context.Context, rawURL, referrer string) (Result, error) {
	rep := newReporter(d.OnProgress, d.ProgressInterval)

	var res Result
	err := retry.Policy{MaxAttempts: maxAttempts, Delay: retryDelay}.Do(ctx, func(ctx context.Context) error {
		r, err := d.attempt(ctx, rawURL, referrer, rep)
		if err != nil {
			d.Log.Warn().Err(err).Str("url", rawURL).Msg("download attempt failed")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("download worker: %w", err)
	}
	return res, nil
}

func (d *Downloader) attempt(ctx context.Context, rawURL, referrer string, rep *reporter) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		if partial, ok := cancelled(ctx, err); ok {
			return partial, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	window := metrics.NewCountWindow(workerWindowEntries)
	start := time.Now()
	window.Push(start, 0)

	buf := make([]byte, maxDownloadChunk)
	chunk := minChunkSize
	var total int64
	var instant float64
	lastSample := start

	for {
		n, readErr := resp.Body.Read(buf[:chunk])
		if n > 0 {
			total += int64(n)
		}

		now := time.Now()
		if now.Sub(lastSample) >= SampleInterval {
			window.Push(now, total)
			if s := window.Speed(); s > 0 {
				instant = s
				chunk = adaptiveChunk(s, minChunkSize, maxDownloadChunk)
			}
			rep.report(instant, total)
			lastSample = now
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// A cancelled worker contributes its partial average
			// rather than failing the round.
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return Result{SpeedBps: averageBps(total, time.Since(start)), Bytes: total}, nil
			}
			return Result{}, readErr
		}
	}

	elapsed := time.Since(start)
	avg := averageBps(total, elapsed)
	return Result{SpeedBps: blendFinalSpeed(instant, avg, elapsed), Bytes: total}, nil
}

// cancelled maps a request error caused by context cancellation to a
// zero-progress graceful result.
func cancelled(ctx context.Context, err error) (Result, bool) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return Result{}, true
	}
	return Result{}, false
}
