package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "novatranscribe",
	Subsystem: "http",
	Name:      "request_seconds",
	Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 15, 60, 300, 900},
}, []string{"route", "method", "status"})

var Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "novatranscribe",
	Subsystem: "transcribe",
	Name:      "requests_total",
}, []string{"model", "outcome"})

var TranscriptionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "novatranscribe",
	Subsystem: "transcribe",
	Name:      "duration_seconds",
	Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
}, []string{"model"})

var TranscriptionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "novatranscribe",
	Subsystem: "transcribe",
	Name:      "in_flight",
})

var AudioSecondsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "novatranscribe",
	Subsystem: "transcribe",
	Name:      "audio_seconds_total",
})

const (
	OutcomeOK          = "ok"
	OutcomeSilent      = "silent"
	OutcomeModelError  = "model_error"
	OutcomeEngineError = "engine_error"
	OutcomeError       = "error"
)
