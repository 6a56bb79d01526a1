// Package latency measures per-protocol round-trip time against the
// test server: ICMP echo, raw TCP connect and an HTTP probe that tries
// HTTP/2 first and falls back to HTTP/1.1 when the transport cannot
// speak it. A failed probe contributes a -1 sentinel and never aborts
// the round.
package latency

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/Alice39s/aqua-speed/internal/metrics"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

const (
	defaultRounds   = 5
	interRoundDelay = 500 * time.Millisecond
	probeTimeout    = 2 * time.Second

	// failedSample marks a probe that errored or timed out. Excluded
	// from aggregation.
	failedSample = -1
)

// probeFunc runs one probe and returns the round trip in microseconds.
type probeFunc func(ctx context.Context) (float64, error)

// Prober runs all three protocol probes concurrently across several
// rounds and aggregates each protocol's successful samples.
type Prober struct {
	Rounds  int
	Timeout time.Duration
	Log     zerolog.Logger

	h1Client *http.Client
	h2Client *http.Client

	// Injectable probes; tests substitute synthetic ones.
	icmpProbe func(ctx context.Context, host string) (float64, error)
	tcpProbe  func(ctx context.Context, address string) (float64, error)
	httpProbe func(ctx context.Context, rawURL string) (float64, error)
}

// New returns a prober with default round count and timeouts.
func New(log zerolog.Logger) *Prober {
	p := &Prober{
		Rounds:  defaultRounds,
		Timeout: probeTimeout,
		Log:     log,
		h1Client: &http.Client{
			Timeout:   probeTimeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		h2Client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http2.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
	p.icmpProbe = func(ctx context.Context, host string) (float64, error) {
		return icmpEchoProbe(ctx, host, p.Timeout)
	}
	p.tcpProbe = func(ctx context.Context, address string) (float64, error) {
		return tcpConnectProbe(ctx, address, p.Timeout)
	}
	p.httpProbe = p.httpLatencyProbe
	return p
}

// Measure probes the server behind rawURL. Individual probe failures
// degrade that protocol's aggregate; only a malformed URL is an error.
func (p *Prober) Measure(ctx context.Context, rawURL string) (models.LatencyResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return models.LatencyResult{}, fmt.Errorf("latency: invalid target URL %q", rawURL)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	address := fmt.Sprintf("%s:%s", host, port)

	rounds := p.Rounds
	if rounds <= 0 {
		rounds = defaultRounds
	}

	icmpSamples := make([]float64, 0, rounds)
	tcpSamples := make([]float64, 0, rounds)
	httpSamples := make([]float64, 0, rounds)

	for round := 0; round < rounds; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return p.aggregate(icmpSamples, tcpSamples, httpSamples), nil
			case <-time.After(interRoundDelay):
			}
		}

		var icmpV, tcpV, httpV float64
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			icmpV = p.runOne(ctx, "icmp", func(ctx context.Context) (float64, error) {
				return p.icmpProbe(ctx, host)
			})
		}()
		go func() {
			defer wg.Done()
			tcpV = p.runOne(ctx, "tcp", func(ctx context.Context) (float64, error) {
				return p.tcpProbe(ctx, address)
			})
		}()
		go func() {
			defer wg.Done()
			httpV = p.runOne(ctx, "http", func(ctx context.Context) (float64, error) {
				return p.httpProbe(ctx, rawURL)
			})
		}()
		wg.Wait()

		icmpSamples = append(icmpSamples, icmpV)
		tcpSamples = append(tcpSamples, tcpV)
		httpSamples = append(httpSamples, httpV)
	}

	return p.aggregate(icmpSamples, tcpSamples, httpSamples), nil
}

func (p *Prober) runOne(ctx context.Context, name string, probe probeFunc) float64 {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	v, err := probe(ctx)
	if err != nil {
		p.Log.Debug().Err(err).Str("protocol", name).Msg("latency probe failed")
		return failedSample
	}
	return v
}

func (p *Prober) aggregate(icmpSamples, tcpSamples, httpSamples []float64) models.LatencyResult {
	return models.LatencyResult{
		ICMP: toLatencyStats(icmpSamples),
		TCP:  toLatencyStats(tcpSamples),
		HTTP: toLatencyStats(httpSamples),
	}
}

// toLatencyStats aggregates successful samples; -1 sentinels are
// filtered out. An all-failed protocol yields zeros.
func toLatencyStats(samples []float64) models.LatencyStats {
	st := metrics.CalculateStats(samples)
	return models.LatencyStats{Min: st.Min, Avg: st.Avg, Max: st.Max}
}
