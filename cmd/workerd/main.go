// Command workerd runs the WorkerRuntime: it registers the four named job
// handlers (spec.md §4.9) plus the realtime channel frame handler against
// the broker, and serves the telemetry control plane (spec.md §4.11)
// alongside a Prometheus /metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boolpae/vrstt-dispatch/internal/broker"
	"github.com/boolpae/vrstt-dispatch/internal/config"
	"github.com/boolpae/vrstt-dispatch/internal/controlplane"
	"github.com/boolpae/vrstt-dispatch/internal/engine"
	"github.com/boolpae/vrstt-dispatch/internal/fetch"
	"github.com/boolpae/vrstt-dispatch/internal/jobs"
	"github.com/boolpae/vrstt-dispatch/internal/logging"
	"github.com/boolpae/vrstt-dispatch/internal/metrics"
	"github.com/boolpae/vrstt-dispatch/internal/realtime"
)

var (
	configPath  string
	logLevel    string
	listenAddr  string
	controlAddr string
	metricsAddr string
	serverName  string
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.vrstt/config.yaml)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":7700", "address the broker Runtime listens on for dispatcherd sessions")
	rootCmd.Flags().StringVar(&controlAddr, "control-addr", ":8080", "address to serve the control plane on")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address to serve /metrics on")
	rootCmd.Flags().StringVar(&serverName, "server-name", "", "name reported in reply framing (default: hostname)")
}

var rootCmd = &cobra.Command{
	Use:   "workerd",
	Short: "Drain the broker queues and run typed STT job handlers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	log := logging.New("workerd", logging.Options{Level: logLevel})

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

	name := serverName
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		} else {
			name = "workerd"
		}
	}

	numDevices := cfg.STT.GPUNum
	if !cfg.STT.UseGPU {
		numDevices = 1
	}
	pool, err := engine.NewInstancePool(numDevices, cfg.STT.ModelPaths...)
	if err != nil {
		return fmt.Errorf("initializing engine instance pool: %w", err)
	}

	reg := metrics.NewRegistry()
	brokerObs := metrics.NewBrokerObserver(reg)
	realtimeObs := metrics.NewRealtimeObserver(reg)

	rt := broker.NewRuntime(listenAddr, log)

	batch := &jobs.BatchSTT{
		Pool:       pool,
		Fetcher:    fetch.New(),
		Decoder:    cfg.STT.Decoder,
		Separator:  cfg.STT.Separator,
		MiniBatch:  defaultInt(cfg.STT.MiniBatch, 128),
		FeatureDim: cfg.STT.MFCCSize,
		ServerName: name,
		Log:        log,
	}
	unsegmentOnly := &jobs.UnsegmentOnly{
		SyntaxThreshold: int(cfg.STT.UnsegmentPause),
		ServerName:      name,
		Log:             log,
	}
	unsegmentWithTime := &jobs.UnsegmentWithTime{
		Postprocessor: cfg.STT.Decoder,
		PauseLength:   cfg.STT.UnsegmentPause,
		ServerName:    name,
		Log:           log,
	}
	ssp := &jobs.SSP{
		Classifier: cfg.SSP.Util,
		ServerName: name,
		Log:        log,
	}

	rtManager, err := realtime.NewManager(pool, realtime.Options{
		ResetPeriod: firstNonZero(cfg.Realtime.ResetPeriod, cfg.STT.ResetPeriod),
		MiniBatch:   defaultInt(cfg.STT.MiniBatch, 128),
		FeatureDim:  cfg.STT.MFCCSize,
		Pooled:      cfg.Realtime.Pooled,
		PoolSize:    cfg.Realtime.StartNum,
	}, log)
	if err != nil {
		return fmt.Errorf("initializing realtime manager: %w", err)
	}

	sttConcurrency := workerCount(cfg.STT.Worker)
	if cfg.STT.UseGPU {
		sttConcurrency = jobs.ClampConcurrency(sttConcurrency, cfg.STT.GPUNum)
	}
	rt.RegisterHandler("vr_stt", sttConcurrency, countingHandler(brokerObs, "vr_stt", batch.Handle))
	rt.RegisterHandler("vr_text_only", workerCount(cfg.STT.Worker), countingHandler(brokerObs, "vr_text_only", unsegmentOnly.Handle))
	rt.RegisterHandler("vr_text", workerCount(cfg.STT.Worker), countingHandler(brokerObs, "vr_text", unsegmentWithTime.Handle))
	rt.RegisterHandler("vr_ssp", workerCount(cfg.STT.Worker), countingHandler(brokerObs, "vr_ssp", ssp.Handle))
	rt.RegisterHandler("vr_realtime", workerCount(cfg.Realtime.Worker), realtimeHandler(rtManager, realtimeObs, cfg.Spk.Enable, name))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	control := controlplane.NewServer(cfg.API.Service, cfg.API.Version, log)
	go func() {
		if err := http.ListenAndServe(controlAddr, control.Router()); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("workerd: control plane listener stopped")
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("workerd: metrics listener stopped")
		}
	}()

	go sampleRealtimeChannels(ctx, rtManager, realtimeObs)

	log.WithField("listen", listenAddr).Info("workerd: starting")
	return rt.Run(ctx)
}

// countingHandler wraps a jobs.Handler-shaped method into a broker.Handler
// that also records per-queue outcome counts, mirroring the "status token
// becomes a metric label" convention used throughout internal/metrics.
func countingHandler(obs *metrics.BrokerObserver, queue string, h func(context.Context, []byte) ([]byte, error)) broker.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		reply, err := h(ctx, payload)
		status := "error"
		if err == nil {
			status = broker.StatusOf(reply)
		}
		obs.Handled(queue, status)
		return reply, err
	}
}

// realtimeHandler adapts the Manager's per-frame contract to broker.Handler
// for the vr_realtime queue (spec.md §6.1). serverName is both the reply's
// server-name line and the speaker-separation header's spk_node.
func realtimeHandler(m *realtime.Manager, obs *metrics.RealtimeObserver, speakerSeparation bool, serverName string) broker.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		reply, err := m.HandleFrame(ctx, payload, speakerSeparation, serverName)
		if err != nil {
			return broker.FormatReply(broker.StatusDecodingFailed, serverName, -1, err.Error()), nil
		}
		obs.Channels(m.ChannelCount())
		return broker.FormatReply(broker.StatusSuccess, serverName, int64(len(reply)), string(reply)), nil
	}
}

func sampleRealtimeChannels(ctx context.Context, m *realtime.Manager, obs *metrics.RealtimeObserver) {
	obs.Channels(m.ChannelCount())
	<-ctx.Done()
}

// workerCount resolves a <queue>.worker config value to a concurrency
// bound, falling back to a sane default when unset (spec.md §4.8).
func workerCount(configured int) int {
	if configured <= 0 {
		return 4
	}
	return configured
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func firstNonZero(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
