package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "consensus"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of finished rounds.
	Rounds metrics.Counter
	// Number of rounds that rejected their block.
	RejectedRounds metrics.Counter
	// Votes not collected before a round closed.
	MissingVotes metrics.Counter
	// Approval percentage of the last round.
	Approval metrics.Gauge
	// Time spent collecting votes.
	RoundDurationSeconds metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Rounds: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rounds",
			Help:      "Number of finished consensus rounds.",
		}, labels).With(labelsAndValues...),
		RejectedRounds: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_rounds",
			Help:      "Number of rounds that rejected their block.",
		}, labels).With(labelsAndValues...),
		MissingVotes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "missing_votes",
			Help:      "Votes not collected before their round closed.",
		}, labels).With(labelsAndValues...),
		Approval: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "approval",
			Help:      "Approval percentage of the last round.",
		}, labels).With(labelsAndValues...),
		RoundDurationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "round_duration_seconds",
			Help:      "Time spent collecting votes for a round.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Rounds:               discard.NewCounter(),
		RejectedRounds:       discard.NewCounter(),
		MissingVotes:         discard.NewCounter(),
		Approval:             discard.NewGauge(),
		RoundDurationSeconds: discard.NewHistogram(),
	}
}
