// Package metrics registers the call engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcall_calls_active",
		Help: "Currently active call sessions",
	})

	CallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachcall_calls_total",
		Help: "Total calls started",
	})

	// Turns counts user turns by outcome: discarded, empty, duplicate,
	// dispatched.
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcall_turns_total",
		Help: "User turns by outcome",
	}, []string{"outcome"})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachcall_barge_ins_total",
		Help: "AI playback interrupted by the user",
	})

	StaleReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachcall_stale_replies_total",
		Help: "Coach replies discarded because a newer turn superseded them",
	})

	PlaybackItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcall_playback_items_total",
		Help: "Playback items by result",
	}, []string{"result"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coachcall_stage_duration_seconds",
		Help:    "Per-stage backend latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcall_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	NoiseFloor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcall_vad_noise_floor",
		Help: "Latest adaptive noise floor",
	})
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
