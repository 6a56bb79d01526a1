package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alice39s/aqua-speed/internal/config"
	"github.com/Alice39s/aqua-speed/internal/latency"
	"github.com/Alice39s/aqua-speed/internal/results"
	"github.com/Alice39s/aqua-speed/internal/tester"
	"github.com/Alice39s/aqua-speed/pkg/models"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		server     = flag.String("server", "", "test server base URL (overrides config)")
		testType   = flag.String("type", "", "server dialect: singlefile, librespeed, cloudflare")
		threads    = flag.Int("threads", 0, "number of concurrent transfer threads")
		timeout    = flag.Duration("timeout", 0, "per-request timeout")
		noUpload   = flag.Bool("no-upload", false, "skip the upload phase")
		noLatency  = flag.Bool("no-latency", false, "skip the latency phase")
		output     = flag.String("output", "", "write results to file (.json, .csv or plain text)")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	log := newLogger(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	applyFlags(cfg, *server, *testType, *threads, *timeout, *noUpload)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !*verbose {
		log = levelFrom(log, cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("server", cfg.Server).
		Str("type", cfg.Type).
		Int("threads", cfg.Threads).
		Msg("starting speed test")

	recorder := results.NewRecorder(cfg.Server, cfg.Type, cfg.Threads)

	if !*noLatency {
		runLatency(ctx, cfg, log, recorder)
	}

	runTransfer(ctx, cfg, log, recorder, models.PhaseDownload)
	if !cfg.NoUpload {
		runTransfer(ctx, cfg, log, recorder, models.PhaseUpload)
	}

	if *output != "" {
		if err := recorder.Save(*output); err != nil {
			log.Error().Err(err).Str("path", *output).Msg("failed to save results")
		} else {
			log.Info().Str("path", *output).Msg("results saved")
		}
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func levelFrom(log zerolog.Logger, name string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return log
	}
	return log.Level(lvl)
}

func applyFlags(cfg *config.Config, server, testType string, threads int, timeout time.Duration, noUpload bool) {
	if server != "" {
		cfg.Server = server
	}
	if testType != "" {
		cfg.Type = testType
	}
	if threads > 0 {
		cfg.Threads = threads
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if noUpload {
		cfg.NoUpload = true
	}
}

func runLatency(ctx context.Context, cfg *config.Config, log zerolog.Logger, recorder *results.Recorder) {
	prober := latency.New(log)
	result, err := prober.Measure(ctx, cfg.Server)
	if err != nil {
		log.Error().Err(err).Msg("latency measurement failed")
		return
	}
	recorder.SetLatency(result)

	fmt.Println("Latency:")
	printLatency("ICMP", result.ICMP)
	printLatency("TCP", result.TCP)
	printLatency("HTTP", result.HTTP)
}

func printLatency(name string, st models.LatencyStats) {
	if st.Avg <= 0 {
		fmt.Printf("  %-5s unavailable\n", name)
		return
	}
	fmt.Printf("  %-5s min %.2f ms / avg %.2f ms / max %.2f ms\n",
		name, st.Min/1000, st.Avg/1000, st.Max/1000)
}

func runTransfer(ctx context.Context, cfg *config.Config, log zerolog.Logger, recorder *results.Recorder, phase models.Phase) {
	t := tester.New(cfg, phase, log)
	t.SetProgress(func(speedBps float64, totalBytes int64) {
		fmt.Printf("\r%s: %8.2f Mbps (%s)", phase, speedBps/1e6, formatBytes(totalBytes))
	})

	stats, err := t.Measure(ctx)
	fmt.Println()
	if err != nil {
		log.Error().Err(err).Str("phase", string(phase)).Msg("measurement failed")
		return
	}
	if err := recorder.SetSpeed(phase, stats); err != nil {
		log.Warn().Err(err).Msg("failed to record phase result")
	}

	fmt.Printf("%s: %.2f Mbps (min %.2f / max %.2f, error %.1f%%, %s in %s)\n",
		phase,
		stats.Avg/1e6, stats.Min/1e6, stats.Max/1e6,
		stats.Error*100,
		formatBytes(stats.TotalBytes),
		stats.Duration.Round(100*time.Millisecond))
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
