package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_processed_total",
			Help: "Total number of tasks handled successfully, by queue.",
		},
		[]string{"queue"},
	)

	tasksRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_retried_total",
			Help: "Total number of failed attempts scheduled for retry, by queue.",
		},
		[]string{"queue"},
	)

	tasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_failed_total",
			Help: "Total number of tasks moved to the dead-letter list, by queue and reason.",
		},
		[]string{"queue", "reason"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_task_duration_seconds",
			Help:    "Handler duration per attempt, by queue.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"queue"},
	)

	renderTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_render_triggers_total",
		Help: "Total number of render tasks emitted by the readiness gate.",
	})

	videosFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_videos_finished_total",
			Help: "Total number of videos reaching a terminal status, by status.",
		},
		[]string{"status"},
	)
)
