// Package results collects the outcome of one test run and exports it
// in machine- or human-readable form.
package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alice39s/aqua-speed/pkg/models"
)

// Format represents an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatText Format = "txt"
)

// Run is the exported record of one complete test run.
type Run struct {
	ID         string                `json:"id"`
	Server     string                `json:"server"`
	Type       string                `json:"type"`
	Threads    int                   `json:"threads"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at,omitempty"`
	Latency    *models.LatencyResult `json:"latency,omitempty"`
	Download   *models.SpeedStats    `json:"download,omitempty"`
	Upload     *models.SpeedStats    `json:"upload,omitempty"`
}

// Recorder accumulates phase results as the run progresses. Safe for
// concurrent use.
type Recorder struct {
	mu  sync.Mutex
	run Run
}

// NewRecorder starts a record for a run against the given server.
func NewRecorder(server, testType string, threads int) *Recorder {
	return &Recorder{
		run: Run{
			ID:        uuid.NewString(),
			Server:    server,
			Type:      testType,
			Threads:   threads,
			StartedAt: time.Now(),
		},
	}
}

// SetLatency records the latency phase outcome.
func (r *Recorder) SetLatency(result models.LatencyResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run.Latency = &result
}

// SetSpeed records a transfer phase outcome.
func (r *Recorder) SetSpeed(phase models.Phase, stats models.SpeedStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch phase {
	case models.PhaseDownload:
		r.run.Download = &stats
	case models.PhaseUpload:
		r.run.Upload = &stats
	default:
		return fmt.Errorf("results: unknown phase %q", phase)
	}
	return nil
}

// Run finalizes and returns a copy of the record.
func (r *Recorder) Run() Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run.FinishedAt.IsZero() {
		r.run.FinishedAt = time.Now()
	}
	return r.run
}

// Save writes the record to path, inferring the format from the file
// extension (.json, .csv, anything else is plain text).
func (r *Recorder) Save(path string) error {
	format := FormatText
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".csv":
		format = FormatCSV
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	if err := r.Export(f, format); err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	return nil
}

// Export writes the record to w in the requested format.
func (r *Recorder) Export(w io.Writer, format Format) error {
	run := r.Run()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case FormatCSV:
		return exportCSV(w, run)
	case FormatText:
		return exportText(w, run)
	default:
		return fmt.Errorf("results: unsupported format %q", format)
	}
}

func exportCSV(w io.Writer, run Run) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"metric", "min", "avg", "max", "error", "bytes", "duration"}); err != nil {
		return err
	}

	writeSpeed := func(name string, st *models.SpeedStats) error {
		if st == nil {
			return nil
		}
		return cw.Write([]string{
			name,
			formatFloat(st.Min),
			formatFloat(st.Avg),
			formatFloat(st.Max),
			formatFloat(st.Error),
			strconv.FormatInt(st.TotalBytes, 10),
			st.Duration.String(),
		})
	}
	writeLatency := func(name string, st models.LatencyStats) error {
		if st.Avg <= 0 {
			return nil
		}
		return cw.Write([]string{
			name,
			formatFloat(st.Min),
			formatFloat(st.Avg),
			formatFloat(st.Max),
			"", "", "",
		})
	}

	if err := writeSpeed("download_bps", run.Download); err != nil {
		return err
	}
	if err := writeSpeed("upload_bps", run.Upload); err != nil {
		return err
	}
	if run.Latency != nil {
		for _, row := range []struct {
			name string
			st   models.LatencyStats
		}{
			{"latency_icmp_us", run.Latency.ICMP},
			{"latency_tcp_us", run.Latency.TCP},
			{"latency_http_us", run.Latency.HTTP},
		} {
			if err := writeLatency(row.name, row.st); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportText(w io.Writer, run Run) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Speed test %s\n", run.ID)
	fmt.Fprintf(&b, "Server:  %s (%s, %d threads)\n", run.Server, run.Type, run.Threads)
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.Format(time.RFC3339))

	if run.Latency != nil {
		fmt.Fprintf(&b, "Latency:\n")
		for _, row := range []struct {
			name string
			st   models.LatencyStats
		}{
			{"ICMP", run.Latency.ICMP},
			{"TCP", run.Latency.TCP},
			{"HTTP", run.Latency.HTTP},
		} {
			if row.st.Avg <= 0 {
				fmt.Fprintf(&b, "  %-5s unavailable\n", row.name)
				continue
			}
			fmt.Fprintf(&b, "  %-5s %.2f ms avg (%.2f .. %.2f)\n",
				row.name, row.st.Avg/1000, row.st.Min/1000, row.st.Max/1000)
		}
	}

	writeSpeed := func(name string, st *models.SpeedStats) {
		if st == nil {
			return
		}
		fmt.Fprintf(&b, "%s: %.2f Mbps (%.2f .. %.2f, error %.1f%%, %d bytes, %s)\n",
			name, st.Avg/1e6, st.Min/1e6, st.Max/1e6, st.Error*100,
			st.TotalBytes, st.Duration.Round(time.Millisecond))
	}
	writeSpeed("Download", run.Download)
	writeSpeed("Upload", run.Upload)

	_, err := io.WriteString(w, b.String())
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
