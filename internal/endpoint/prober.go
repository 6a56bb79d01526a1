package endpoint

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// probeTimeout bounds one availability check.
const probeTimeout = 5 * time.Second

// Prober decides whether a candidate URL is usable by issuing a single
// abortable request and discarding the body as soon as the status line
// arrives. Reachability is the goal, not content.
type Prober struct {
	Client *http.Client
	Log    zerolog.Logger

	// AcceptAnyStatus keeps the relaxed availability gate: any response,
	// 4xx included, counts as available. When false, 2xx/3xx is required.
	AcceptAnyStatus bool
}

// NewProber returns a prober using the given client, or a default one.
func NewProber(client *http.Client, log zerolog.Logger, acceptAnyStatus bool) *Prober {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Prober{Client: client, Log: log, AcceptAnyStatus: acceptAnyStatus}
}

// Check probes one candidate URL for the given phase. Download checks
// use GET, upload checks POST a small placeholder body. Network-level
// failure means unavailable; any HTTP response means available under the
// relaxed policy. Safe to call repeatedly.
func (p *Prober) Check(ctx context.Context, rawURL, referrer string, phase models.Phase) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	method := http.MethodGet
	var body *strings.Reader
	if phase == models.PhaseUpload {
		method = http.MethodPost
		body = strings.NewReader("ping")
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, nil)
	}
	if err != nil {
		p.Log.Debug().Err(err).Str("url", rawURL).Msg("probe request build failed")
		return false
	}
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		p.Log.Debug().Err(err).Str("url", rawURL).Msg("probe failed")
		return false
	}
	// Abort immediately; the status line is all we needed.
	resp.Body.Close()

	if p.AcceptAnyStatus {
		return true
	}
	ok := resp.StatusCode < 400
	if !ok {
		p.Log.Debug().Int("status", resp.StatusCode).Str("url", rawURL).Msg("probe rejected by status policy")
	}
	return ok
}
