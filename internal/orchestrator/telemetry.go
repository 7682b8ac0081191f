package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cashout.orchestrator")

var (
	// stageTotal counts stage outcomes by phase and result.
	stageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashout_stage_total",
		Help: "Cash-out stage outcomes by phase and result",
	}, []string{"phase", "result"})

	// stageDuration tracks how long each stage took.
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashout_stage_duration_seconds",
		Help:    "Cash-out stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 13), // 50ms to ~3.4min
	}, []string{"phase"})

	// pipelinesTotal counts attempts by path and outcome.
	pipelinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashout_pipelines_total",
		Help: "Cash-out attempts by path and outcome",
	}, []string{"path", "outcome"})

	// jitterDelay tracks drawn jitter delays.
	jitterDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashout_jitter_delay_seconds",
		Help:    "Drawn jitter delay between swap and shield",
		Buckets: prometheus.LinearBuckets(0, 15, 9), // 0s to 120s
	})
)

// Outcome labels for pipelinesTotal.
const (
	outcomeStarted   = "started"
	outcomeAwaiting  = "awaiting_fiat"
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)
