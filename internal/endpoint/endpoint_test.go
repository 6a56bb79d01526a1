package endpoint

import (
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSingleFileDownload(t *testing.T) {
	s := ForDialect(models.DialectSingleFile, mustParse(t, "https://x.test/file.bin"))

	c, err := s.Candidate(models.PhaseDownload)
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/file.bin", c.URL)
	assert.Empty(t, c.Referrer)
	assert.Empty(t, c.Fallbacks)
}

func TestSingleFileUploadRejected(t *testing.T) {
	s := ForDialect(models.DialectSingleFile, mustParse(t, "https://x.test/file.bin"))

	_, err := s.Candidate(models.PhaseUpload)
	assert.ErrorIs(t, err, ErrUploadUnsupported)
}

func TestLibreSpeedDownload(t *testing.T) {
	s := ForDialect(models.DialectLibreSpeed, mustParse(t, "https://x.test"))

	c, err := s.Candidate(models.PhaseDownload)
	require.NoError(t, err)

	assert.Contains(t, c.URL, "https://x.test/backend/garbage.php")
	assert.Contains(t, c.URL, "ckSize=100")
	assert.Contains(t, c.URL, "r=")
	assert.Contains(t, c.Referrer, "speedtest_worker.js")

	require.Len(t, c.Fallbacks, 2)
	assert.Contains(t, c.Fallbacks[0], "https://x.test/speed/garbage.php")
	assert.Contains(t, c.Fallbacks[1], "https://x.test/garbage.php")
}

func TestLibreSpeedUpload(t *testing.T) {
	s := ForDialect(models.DialectLibreSpeed, mustParse(t, "https://x.test"))

	c, err := s.Candidate(models.PhaseUpload)
	require.NoError(t, err)
	assert.Contains(t, c.URL, "/backend/empty.php")
	require.Len(t, c.Fallbacks, 2)
}

func TestCloudflareCandidates(t *testing.T) {
	s := ForDialect(models.DialectCloudflare, mustParse(t, "https://speed.cloudflare.com"))
	measID := regexp.MustCompile(`measId=\d{17}(&|$)`)

	down, err := s.Candidate(models.PhaseDownload)
	require.NoError(t, err)
	assert.Contains(t, down.URL, "/__down?bytes=10000000&measId=")
	assert.Regexp(t, measID, down.URL)
	assert.Equal(t, "https://speed.cloudflare.com/", down.Referrer)
	assert.Empty(t, down.Fallbacks)

	up, err := s.Candidate(models.PhaseUpload)
	require.NoError(t, err)
	assert.Contains(t, up.URL, "/__up?r=0&measId=")
	assert.Regexp(t, measID, up.URL)
}

func TestCandidateAdvance(t *testing.T) {
	c := &Candidate{URL: "a", Fallbacks: []string{"b", "c"}}

	assert.Equal(t, 2, c.Remaining())

	next, ok := c.Advance()
	require.True(t, ok)
	assert.Equal(t, "b", next)
	assert.Equal(t, "b", c.URL)

	next, ok = c.Advance()
	require.True(t, ok)
	assert.Equal(t, "c", next)

	_, ok = c.Advance()
	assert.False(t, ok)
	assert.Zero(t, c.Remaining())
}

func TestRandMeasID(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := randMeasID()
		assert.Len(t, id, 17)
		assert.False(t, strings.HasPrefix(id, "0"))
	}
}
