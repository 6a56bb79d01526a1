package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alice39s/aqua-speed/internal/endpoint"
	"github.com/Alice39s/aqua-speed/internal/metrics"
	"github.com/Alice39s/aqua-speed/internal/retry"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

// Uploader performs one worker's share of an upload phase. The payload
// shape is dialect-specific: LibreSpeed takes multipart form chunks,
// Cloudflare raw repeated-character text.
type Uploader struct {
	Client     *http.Client
	Log        zerolog.Logger
	Dialect    models.Dialect
	OnProgress ProgressFunc

	ProgressInterval time.Duration
}

// Run posts payload chunks until the dialect's total-size budget is
// sent. Same retry, cancellation and progress contract as the
// download worker.
func (u *Uploader) Run(ctx context.Context, rawURL, referrer string) (Result, error) {
	if u.Dialect == models.DialectSingleFile {
		return Result{}, fmt.Errorf("upload worker: %w", endpoint.ErrUploadUnsupported)
	}

	rep := newReporter(u.OnProgress, u.ProgressInterval)

	var res Result
	err := retry.Policy{MaxAttempts: maxAttempts, Delay: retryDelay}.Do(ctx, func(ctx context.Context) error {
		r, err := u.attempt(ctx, rawURL, referrer, rep)
		if err != nil {
			u.Log.Warn().Err(err).Str("url", rawURL).Msg("upload attempt failed")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload worker: %w", err)
	}
	return res, nil
}

func (u *Uploader) attempt(ctx context.Context, rawURL, referrer string, rep *reporter) (Result, error) {
	window := metrics.NewCountWindow(workerWindowEntries)
	start := time.Now()
	window.Push(start, 0)

	var total int64
	var instant float64
	lastSample := start
	chunk := cfMinChunk

	var libreBody []byte
	var libreContentType string
	if u.Dialect == models.DialectLibreSpeed {
		var err error
		libreBody, libreContentType, err = multipartBlob(libreChunkSize)
		if err != nil {
			return Result{}, err
		}
	}

	for sent := 0; u.budgetRemains(sent, total); sent++ {
		var body []byte
		var contentType string
		switch u.Dialect {
		case models.DialectLibreSpeed:
			body, contentType = libreBody, libreContentType
		default:
			body, contentType = zeroFill(chunk), "text/plain;charset=UTF-8"
		}

		if err := u.post(ctx, rawURL, referrer, body, contentType); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return Result{SpeedBps: averageBps(total, time.Since(start)), Bytes: total}, nil
			}
			return Result{}, err
		}
		total += int64(len(body))

		now := time.Now()
		if now.Sub(lastSample) >= SampleInterval {
			window.Push(now, total)
			if s := window.Speed(); s > 0 {
				instant = s
				chunk = adaptiveChunk(s, cfMinChunk, cfMaxChunk)
			}
			rep.report(instant, total)
			lastSample = now
		}
	}

	elapsed := time.Since(start)
	avg := averageBps(total, elapsed)
	return Result{SpeedBps: blendFinalSpeed(instant, avg, elapsed), Bytes: total}, nil
}

// budgetRemains reports whether the dialect's fixed total-size budget
// still has room: LibreSpeed counts chunks, Cloudflare bytes.
func (u *Uploader) budgetRemains(chunksSent int, bytesSent int64) bool {
	if u.Dialect == models.DialectLibreSpeed {
		return chunksSent < libreChunkCount
	}
	return bytesSent < cfUploadBudget
}

func (u *Uploader) post(ctx context.Context, rawURL, referrer string, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// multipartBlob builds the LibreSpeed upload body: a zero-filled blob in
// form field "file".
func multipartBlob(size int) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "speedtest_blob")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(make([]byte, size)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// zeroFill is the Cloudflare upload payload: ASCII '0' repeated.
func zeroFill(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = '0'
	}
	return b
}
