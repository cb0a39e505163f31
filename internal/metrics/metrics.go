package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SpeakRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_speak_requests_total",
			Help: "Total number of speak requests by outcome",
		},
		[]string{"outcome"},
	)

	EstimatedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lipsync_estimated_duration_seconds",
			Help:    "Estimated utterance duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	TimelineUnits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lipsync_timeline_units",
			Help:    "Articulation units per timeline",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		},
	)

	ActiveTimelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lipsync_active_timelines",
			Help: "Timelines currently playing",
		},
	)

	BackendKind = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lipsync_backend",
			Help: "Resolved actuation backend (1 for the active kind)",
		},
		[]string{"kind"},
	)

	RigErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_rig_errors_total",
			Help: "Rig access errors by kind",
		},
		[]string{"kind"},
	)

	SpeechEngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lipsync_speech_engine_seconds",
			Help: "Wall time of speech engine utterances",
		},
		[]string{"engine", "status"},
	)

	CommandsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_commands_total",
			Help: "Commands received by source and type",
		},
		[]string{"source", "type"},
	)

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipsync_config_reloads_total",
			Help: "Config and articulation table reloads by status",
		},
		[]string{"status"},
	)
)

// SetBackend marks kind as the only active backend.
func SetBackend(kind string) {
	BackendKind.Reset()
	BackendKind.WithLabelValues(kind).Set(1)
}
