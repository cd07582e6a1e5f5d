package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seshat_generations_total",
			Help: "Worker generations by dispatch mode and outcome.",
		},
		[]string{"mode", "status"},
	)
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seshat_generation_duration_seconds",
			Help:    "Wall time of one worker generation, including CMS writes.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"mode"},
	)
	syncChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seshat_schedule_sync_changes_total",
			Help: "Schedule changes applied by sync, by action.",
		},
		[]string{"action"},
	)
)
