package endpoint

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// ErrUploadUnsupported is returned when a dialect has no upload endpoint.
var ErrUploadUnsupported = errors.New("upload is not supported for this dialect")

// ErrNoAvailableEndpoint means the primary candidate and every fallback
// failed the availability probe.
var ErrNoAvailableEndpoint = errors.New("all candidate URLs unavailable")

// Candidate is the resolved target for one measurement phase: a primary
// URL plus an ordered list of fallbacks. The cursor only moves forward;
// an exhausted fallback is never revisited.
type Candidate struct {
	URL       string
	Referrer  string
	Fallbacks []string
	cursor    int
}

// Advance moves to the next fallback URL and returns it. ok is false
// once all fallbacks are exhausted.
func (c *Candidate) Advance() (next string, ok bool) {
	if c.cursor >= len(c.Fallbacks) {
		return "", false
	}
	next = c.Fallbacks[c.cursor]
	c.cursor++
	c.URL = next
	return next, true
}

// Remaining reports how many fallback URLs have not been tried yet.
func (c *Candidate) Remaining() int {
	return len(c.Fallbacks) - c.cursor
}

// Strategy resolves phase-specific candidate URLs for one server dialect.
// Resolution is a pure mapping; no network I/O happens here.
type Strategy interface {
	Name() string
	Candidate(phase models.Phase) (*Candidate, error)
}

// ForDialect returns the strategy for a dialect rooted at base.
func ForDialect(d models.Dialect, base *url.URL) Strategy {
	switch d {
	case models.DialectLibreSpeed:
		return &libreSpeedStrategy{base: base}
	case models.DialectCloudflare:
		return &cloudflareStrategy{base: base}
	default:
		return &singleFileStrategy{base: base}
	}
}

// singleFileStrategy tests against a plain file URL. Download only.
type singleFileStrategy struct {
	base *url.URL
}

func (s *singleFileStrategy) Name() string { return models.DialectSingleFile.String() }

func (s *singleFileStrategy) Candidate(phase models.Phase) (*Candidate, error) {
	if phase == models.PhaseUpload {
		return nil, ErrUploadUnsupported
	}
	return &Candidate{URL: s.base.String()}, nil
}

// libreSpeedStrategy speaks the LibreSpeed backend layout. The primary
// endpoint lives under /backend; older deployments serve the same
// scripts under /speed or at the site root, tried in that order.
type libreSpeedStrategy struct {
	base *url.URL
}

func (s *libreSpeedStrategy) Name() string { return models.DialectLibreSpeed.String() }

func (s *libreSpeedStrategy) Candidate(phase models.Phase) (*Candidate, error) {
	var script, query string
	switch phase {
	case models.PhaseDownload:
		script = "garbage.php"
		query = fmt.Sprintf("ckSize=100&r=%s", randToken())
	case models.PhaseUpload:
		script = "empty.php"
		query = fmt.Sprintf("r=%s", randToken())
	default:
		return nil, fmt.Errorf("no endpoint for phase %q", phase)
	}

	origin := originOf(s.base)
	return &Candidate{
		URL:      fmt.Sprintf("%s/backend/%s?%s", origin, script, query),
		Referrer: fmt.Sprintf("%s/speedtest_worker.js?r=%s", origin, randToken()),
		Fallbacks: []string{
			fmt.Sprintf("%s/speed/%s?%s", origin, script, query),
			fmt.Sprintf("%s/%s?%s", origin, script, query),
		},
	}, nil
}

// cloudflareStrategy speaks the speed.cloudflare.com edge tester API.
type cloudflareStrategy struct {
	base *url.URL
}

const cloudflareReferrer = "https://speed.cloudflare.com/"

// cloudflareDownloadBytes is the per-request payload requested from __down.
const cloudflareDownloadBytes = 10000000

func (s *cloudflareStrategy) Name() string { return models.DialectCloudflare.String() }

func (s *cloudflareStrategy) Candidate(phase models.Phase) (*Candidate, error) {
	origin := originOf(s.base)
	switch phase {
	case models.PhaseDownload:
		return &Candidate{
			URL:      fmt.Sprintf("%s/__down?bytes=%d&measId=%s", origin, cloudflareDownloadBytes, randMeasID()),
			Referrer: cloudflareReferrer,
		}, nil
	case models.PhaseUpload:
		return &Candidate{
			URL:      fmt.Sprintf("%s/__up?r=0&measId=%s", origin, randMeasID()),
			Referrer: cloudflareReferrer,
		}, nil
	default:
		return nil, fmt.Errorf("no endpoint for phase %q", phase)
	}
}

func originOf(u *url.URL) string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// randMeasID produces the 17-digit decimal measurement id the Cloudflare
// tester expects.
func randMeasID() string {
	id := make([]byte, 17)
	id[0] = byte('1' + rand.Intn(9))
	for i := 1; i < len(id); i++ {
		id[i] = byte('0' + rand.Intn(10))
	}
	return string(id)
}

// randToken is a cache-busting query value.
func randToken() string {
	return fmt.Sprintf("%d", rand.Int63())
}
