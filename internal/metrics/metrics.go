// Package metrics exports process counters to Prometheus, grounded on
// floegence-flowersec/flowersec-go/observability/prom's registry +
// per-concern observer pattern (one observer struct per component, all
// metrics registered up front in its constructor).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler exposes reg over HTTP in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// DispatchObserver exports dispatcher pipeline metrics (C2/C7).
type DispatchObserver struct {
	inFlightGauge    prometheus.Gauge
	inFlightBytes    prometheus.Gauge
	submissionsTotal *prometheus.CounterVec
	admissionWait    prometheus.Histogram
}

// NewDispatchObserver registers dispatcher metrics on reg.
func NewDispatchObserver(reg *prometheus.Registry) *DispatchObserver {
	o := &DispatchObserver{
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrstt_inflight_records",
			Help: "Current number of in-flight JobRecords.",
		}),
		inFlightBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrstt_inflight_bytes",
			Help: "Current aggregate in-flight byte footprint.",
		}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrstt_submissions_total",
			Help: "Dispatcher submissions by terminal outcome.",
		}, []string{"outcome"}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vrstt_admission_wait_seconds",
			Help:    "Time a record spent waiting for admission.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(o.inFlightGauge, o.inFlightBytes, o.submissionsTotal, o.admissionWait)
	return o
}

func (o *DispatchObserver) InFlight(count int, bytes int64) {
	o.inFlightGauge.Set(float64(count))
	o.inFlightBytes.Set(float64(bytes))
}

func (o *DispatchObserver) Submission(outcome string) {
	o.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (o *DispatchObserver) AdmissionWait(d time.Duration) {
	o.admissionWait.Observe(d.Seconds())
}

// BrokerObserver exports BrokerClient/WorkerRuntime metrics (C3/C8).
type BrokerObserver struct {
	submitLatency *prometheus.HistogramVec
	handlerTotal  *prometheus.CounterVec
	reconnects    prometheus.Counter
}

// NewBrokerObserver registers broker metrics on reg.
func NewBrokerObserver(reg *prometheus.Registry) *BrokerObserver {
	o := &BrokerObserver{
		submitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vrstt_broker_submit_latency_seconds",
			Help:    "BrokerClient.Submit round-trip latency by queue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		handlerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrstt_broker_handler_total",
			Help: "WorkerRuntime handler invocations by queue and status.",
		}, []string{"queue", "status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrstt_broker_reconnects_total",
			Help: "Broker session reconnect attempts.",
		}),
	}
	reg.MustRegister(o.submitLatency, o.handlerTotal, o.reconnects)
	return o
}

func (o *BrokerObserver) Submit(queue string, d time.Duration) {
	o.submitLatency.WithLabelValues(queue).Observe(d.Seconds())
}

func (o *BrokerObserver) Handled(queue, status string) {
	o.handlerTotal.WithLabelValues(queue, status).Inc()
}

func (o *BrokerObserver) Reconnect() {
	o.reconnects.Inc()
}

// RealtimeObserver exports RealtimeChannels metrics (C10).
type RealtimeObserver struct {
	activeChannels prometheus.Gauge
	resetTotal     prometheus.Counter
	packetsTotal   *prometheus.CounterVec
}

// NewRealtimeObserver registers realtime metrics on reg.
func NewRealtimeObserver(reg *prometheus.Registry) *RealtimeObserver {
	o := &RealtimeObserver{
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vrstt_realtime_channels",
			Help: "Current number of open realtime channels.",
		}),
		resetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vrstt_realtime_resets_total",
			Help: "Reset-period-triggered segment finalizations.",
		}),
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vrstt_realtime_packets_total",
			Help: "Realtime packets processed by state.",
		}, []string{"state"}),
	}
	reg.MustRegister(o.activeChannels, o.resetTotal, o.packetsTotal)
	return o
}

func (o *RealtimeObserver) Channels(n int) {
	o.activeChannels.Set(float64(n))
}

func (o *RealtimeObserver) Reset() {
	o.resetTotal.Inc()
}

func (o *RealtimeObserver) Packet(state string) {
	o.packetsTotal.WithLabelValues(state).Inc()
}
