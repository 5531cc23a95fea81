package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PowerAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climapower_power_api_calls_total",
			Help: "Total NASA POWER API calls",
		},
		[]string{"station", "result"},
	)

	PowerAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "climapower_power_api_latency_seconds",
			Help:    "POWER API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"station"},
	)

	StationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climapower_stations_processed_total",
			Help: "Stations processed per run, by outcome",
		},
		[]string{"state", "outcome"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climapower_rows_written_total",
			Help: "Daily observation rows written to station files",
		},
		[]string{"station"},
	)
)
