// Package metrics exposes the worker's counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Alarm kinds used as the "kind" label.
const (
	KindLoss    = "loss"
	KindClosing = "closing"
)

// Session results used as the "result" label.
const (
	ResultFinalized = "finalized"
	ResultFailed    = "failed"
	ResultRejected  = "rejected"
)

// Metrics holds all application metrics
type Metrics struct {
	FramesProcessed prometheus.Counter
	TracksCreated   prometheus.Counter
	Snapshots       prometheus.Counter
	Alarms          *prometheus.CounterVec
	NotifyFailures  prometheus.Counter
	JournalFailures prometheus.Counter
	Sessions        *prometheus.CounterVec
	FrameSeconds    prometheus.Histogram

	// ActiveSessions is exported through a GaugeFunc.
	ActiveSessions atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traywatch_frames_processed_total",
			Help: "Total frames run through a tracking session",
		}),
		TracksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traywatch_tracks_created_total",
			Help: "Total trays registered",
		}),
		Snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traywatch_snapshots_total",
			Help: "Total snapshots captured on a confirmed count increase",
		}),
		Alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traywatch_alarms_total",
			Help: "Alarms emitted by kind",
		}, []string{"kind"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traywatch_notify_failures_total",
			Help: "Webhook deliveries that failed",
		}),
		JournalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traywatch_journal_failures_total",
			Help: "Journal appends that failed",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traywatch_sessions_total",
			Help: "Video sessions by result",
		}, []string{"result"}),
		FrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traywatch_frame_seconds",
			Help:    "Wall time spent on one frame, detection included",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.TracksCreated,
		m.Snapshots,
		m.Alarms,
		m.NotifyFailures,
		m.JournalFailures,
		m.Sessions,
		m.FrameSeconds,
	)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "traywatch_active_sessions",
			Help: "Sessions currently processing a video",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))

	return m
}

// ObserveFrame records one processed frame.
func (m *Metrics) ObserveFrame(d time.Duration, created, captured int) {
	m.FramesProcessed.Inc()
	m.FrameSeconds.Observe(d.Seconds())
	m.TracksCreated.Add(float64(created))
	m.Snapshots.Add(float64(captured))
}

// AlarmEmitted counts one alarm.
func (m *Metrics) AlarmEmitted(closing bool) {
	if closing {
		m.Alarms.WithLabelValues(KindClosing).Inc()
		return
	}
	m.Alarms.WithLabelValues(KindLoss).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
