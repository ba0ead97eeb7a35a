// Command dispatcherd runs the Dispatcher: it watches an input directory,
// expands ready files into JobRecords, and submits them to the broker queue
// a workerd fleet is listening on (spec.md §4.5-§4.7).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boolpae/vrstt-dispatch/internal/admission"
	"github.com/boolpae/vrstt-dispatch/internal/auth"
	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/config"
	"github.com/boolpae/vrstt-dispatch/internal/dispatch"
	"github.com/boolpae/vrstt-dispatch/internal/fetch"
	"github.com/boolpae/vrstt-dispatch/internal/index"
	"github.com/boolpae/vrstt-dispatch/internal/logging"
	"github.com/boolpae/vrstt-dispatch/internal/metrics"
	"github.com/boolpae/vrstt-dispatch/internal/watch"
)

var configPath string
var logLevel string
var metricsAddr string

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.vrstt/config.yaml)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
}

var rootCmd = &cobra.Command{
	Use:   "dispatcherd",
	Short: "Watch an input directory and dispatch recordings to the STT broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	log := logging.New("dispatcherd", logging.Options{Level: logLevel})

	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving default config path: %w", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	w, err := watch.New(cfg.Inotify.InputPath, []string{"wav", "list"}, log)
	if err != nil {
		return fmt.Errorf("starting watcher on %q: %w", cfg.Inotify.InputPath, err)
	}
	defer w.Close()

	parser, err := index.New(index.Type(cfg.Inotify.IndexType), cfg.Inotify.IndexFormat, log)
	if err != nil {
		return fmt.Errorf("compiling index_format: %w", err)
	}

	byteCeiling, err := parseByteCeiling(cfg.Inotify.FSThresholdYN, cfg.Inotify.FSThreshold)
	if err != nil {
		return fmt.Errorf("parsing fs_threshold: %w", err)
	}
	adm := admission.New(cfg.Inotify.MaximumJobs, byteCeiling)

	authCache := auth.New(cfg.API.URL, cfg.API.Service, cfg.API.Passwd, cfg.API.APIKey)
	// api.apikey, when set, bypasses login entirely (spec.md §6.5); otherwise
	// api.passwd drives the REST login call against api.url.
	brokerClient := broker.NewClient(fmt.Sprintf("%s:%d", cfg.API.URL, cfg.API.Port), log)
	defer brokerClient.Close()

	reg := metrics.NewRegistry()
	dispatchObs := metrics.NewDispatchObserver(reg)

	d := dispatch.New(w, parser, adm, fetch.New(), authCache, brokerClient, dispatch.Options{
		ByteCeilingActive: byteCeiling > 0,
		OutputRoot:      cfg.Inotify.OutputPath,
		DailyOutput:     cfg.Inotify.DailyOutput,
		UniqueOutput:    cfg.Inotify.UniqueOutput,
		DeleteOnSuccess: cfg.Inotify.DeleteOnSuccess,
		Preprocess:      cfg.Inotify.Preprocess,
		Postprocess:     cfg.Inotify.Postprocess,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("dispatcherd: metrics listener stopped")
		}
	}()

	go sampleInFlight(ctx, d, dispatchObs)

	log.WithField("input_path", cfg.Inotify.InputPath).Info("dispatcherd: starting")
	return d.Run(ctx)
}

// sampleInFlight polls the in-flight index into the dispatch gauges so
// /metrics reflects admitted-but-not-yet-completed work without requiring
// the dispatch package itself to take a metrics dependency.
func sampleInFlight(ctx context.Context, d *dispatch.Dispatcher, obs *metrics.DispatchObserver) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx := d.InFlight()
			obs.InFlight(idx.Len(), idx.TotalBytes())
		}
	}
}

// parseByteCeiling turns fs_threshold's human size string ("500MB") into a
// byte ceiling, or 0 (disabled) when fs_threshold_yn is false.
func parseByteCeiling(enabled bool, size string) (int64, error) {
	if !enabled || size == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, fmt.Errorf("fs_threshold %q: %w", size, err)
	}
	return int64(n), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
