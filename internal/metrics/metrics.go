package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airshed_purpleair_api_calls_total",
			Help: "Total PurpleAir API calls",
		},
		[]string{"sensor", "endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airshed_purpleair_api_latency_seconds",
			Help:    "PurpleAir API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sensor", "endpoint"},
	)

	ReportsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airshed_reports_stored_total",
			Help: "Total canonical sensor reports stored per backend",
		},
		[]string{"backend"},
	)

	OfflineSensors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airshed_offline_sensors",
			Help: "Sensors past the staleness threshold in the last poll cycle",
		},
	)

	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airshed_poll_cycles_total",
			Help: "Total liveness poll cycles by result",
		},
		[]string{"result"},
	)
)
