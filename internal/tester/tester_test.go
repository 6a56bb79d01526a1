package tester

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alice39s/aqua-speed/internal/config"
	"github.com/Alice39s/aqua-speed/internal/endpoint"
	"github.com/Alice39s/aqua-speed/internal/transfer"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

func testConfig(t *testing.T, server, dialect string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server = server
	cfg.Type = dialect
	cfg.Threads = 1
	cfg.MinTestTime = 10 * time.Millisecond
	cfg.MaxTestTime = 10 * time.Second
	cfg.MinSamples = 3
	cfg.TargetError = 0.1
	if dialect == "singlefile" {
		cfg.NoUpload = true
	}
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	return cfg
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMeasureConvergesOnStableSamples(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")

	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		return transfer.Result{SpeedBps: 1e6, Bytes: 1000}, nil
	}

	start := time.Now()
	stats, err := st.Measure(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(stats.Samples), cfg.MinSamples)
	assert.InDelta(t, 1e6, stats.Avg, 1)
	assert.LessOrEqual(t, stats.Error, cfg.TargetError)
	assert.Less(t, time.Since(start), cfg.MaxTestTime, "identical samples must converge early")
	assert.Greater(t, stats.TotalBytes, int64(0))
}

func TestMeasureStopsAtWallClockCeiling(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")
	cfg.MaxTestTime = 400 * time.Millisecond
	cfg.TargetError = 0.0001 // unreachable with oscillating samples

	var flip int64
	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		if atomic.AddInt64(&flip, 1)%2 == 0 {
			return transfer.Result{SpeedBps: 9e6, Bytes: 100}, nil
		}
		return transfer.Result{SpeedBps: 1e6, Bytes: 100}, nil
	}

	start := time.Now()
	stats, err := st.Measure(context.Background())
	require.NoError(t, err, "hitting the time ceiling is success, not failure")

	assert.Less(t, time.Since(start), cfg.MaxTestTime+2*time.Second)
	assert.NotEmpty(t, stats.Samples)
	assert.Greater(t, stats.Error, cfg.TargetError)
}

func TestMeasureCutsOffInFlightRoundAtCeiling(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")
	cfg.MaxTestTime = 300 * time.Millisecond
	cfg.TargetError = 0.0001 // keep sampling until the ceiling

	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		// A slow worker: without the phase deadline it would hold the
		// round open for 3s.
		select {
		case <-ctx.Done():
			return transfer.Result{SpeedBps: 1e6, Bytes: 100}, nil
		case <-time.After(3 * time.Second):
			return transfer.Result{SpeedBps: 1e6, Bytes: 100}, nil
		}
	}

	start := time.Now()
	stats, err := st.Measure(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second,
		"in-flight workers must be cancelled at the wall-clock ceiling")
	assert.NotEmpty(t, stats.Samples, "the cut-off round still contributes its partial average")
}

func TestMeasureAllEndpointsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(t, url, "cloudflare")
	st := New(cfg, models.PhaseDownload, zerolog.Nop())

	_, err := st.Measure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, endpoint.ErrNoAvailableEndpoint)
	assert.Contains(t, err.Error(), "download")
}

func TestMeasureAdvancesToFallbackOnRoundFailure(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "librespeed")

	var sawFallback atomic.Bool
	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		if strings.Contains(url, "/backend/") {
			return transfer.Result{}, errors.New("primary endpoint broke mid-test")
		}
		sawFallback.Store(true)
		return transfer.Result{SpeedBps: 2e6, Bytes: 500}, nil
	}

	stats, err := st.Measure(context.Background())
	require.NoError(t, err)
	assert.True(t, sawFallback.Load(), "controller should have switched to a fallback URL")
	assert.InDelta(t, 2e6, stats.Avg, 1)
}

func TestMeasureRoundFailureWithoutFallbacksFails(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")

	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		return transfer.Result{}, fmt.Errorf("transfer broke")
	}

	_, err := st.Measure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download")
}

func TestMeasureCancellationYieldsPartialResult(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")
	cfg.MinSamples = 1000 // never converges on its own

	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	st.roundDelay = 5 * time.Millisecond
	st.worker = func(ctx context.Context, url, referrer string) (transfer.Result, error) {
		return transfer.Result{SpeedBps: 1e6, Bytes: 100}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	stats, err := st.Measure(ctx)
	require.NoError(t, err, "external cancellation is a graceful stop")
	assert.NotEmpty(t, stats.Samples)
}

func TestCurrentSpeedCell(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "cloudflare")

	st := New(cfg, models.PhaseDownload, zerolog.Nop())
	assert.Zero(t, st.CurrentSpeed())

	var reported []float64
	st.SetProgress(func(speedBps float64, totalBytes int64) {
		reported = append(reported, speedBps)
	})
	st.recordProgress(42.5, 100)

	assert.Equal(t, 42.5, st.CurrentSpeed())
	require.Len(t, reported, 1)
	assert.Equal(t, 42.5, reported[0])
}

func TestMeasureUploadRejectedForSingleFile(t *testing.T) {
	srv := okServer(t)
	cfg := testConfig(t, srv.URL, "singlefile")

	st := New(cfg, models.PhaseUpload, zerolog.Nop())
	_, err := st.Measure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, endpoint.ErrUploadUnsupported)
}
