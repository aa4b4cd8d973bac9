package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's instrumentation.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec
	RunsFinished  *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	AudienceRows  prometheus.Histogram
	AudienceBuild *prometheus.CounterVec

	SendsAttempted *prometheus.CounterVec
	SendRetries    prometheus.Counter
	TokenWait      prometheus.Histogram
	RecipientsDone *prometheus.CounterVec

	CollisionChecks *prometheus.CounterVec
	SuppressionHits prometheus.Counter
	EventsIngested  *prometheus.CounterVec
}

// New creates and registers all engine metrics under the given namespace.
func New(namespace string) *Metrics {
	return newWith(promauto.With(prometheus.DefaultRegisterer), namespace)
}

// NewUnregistered creates metrics on a private registry, for tests that
// construct the engine more than once per process.
func NewUnregistered(namespace string) *Metrics {
	return newWith(promauto.With(prometheus.NewRegistry()), namespace)
}

func newWith(factory promauto.Factory, namespace string) *Metrics {
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Campaign runs picked up for execution",
		}, []string{"campaign_id"}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Campaign runs reaching a terminal status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run pickup to terminal status",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		AudienceRows: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audience_rows",
			Help:      "Recipients persisted per audience build",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 6),
		}),
		AudienceBuild: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audience_builds_total",
			Help:      "Audience build attempts by outcome",
		}, []string{"outcome"}),

		SendsAttempted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_attempted_total",
			Help:      "Transport send calls by outcome",
		}, []string{"outcome"}),
		SendRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Retried transport calls",
		}),
		TokenWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate limit token",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15},
		}),
		RecipientsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipients_terminal_total",
			Help:      "Recipients reaching a terminal status",
		}, []string{"status"}),

		CollisionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collision_checks_total",
			Help:      "Collision resolver decisions",
		}, []string{"decision"}),
		SuppressionHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppression_hits_total",
			Help:      "Recipients skipped by the suppression index",
		}),
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_events_total",
			Help:      "Delivery events ingested by type",
		}, []string{"type"}),
	}
}
