package rollout

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/rz/pkg/metrics"
)

var (
	deployDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "rz",
		Subsystem: "deploy",
		Name:      "duration_seconds",
		Help:      "Duration of a deploy, including health checks and any rollback, in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{fluxmetrics.LabelSuccess})

	rollbacksTotal = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "rz",
		Name:      "rollbacks_total",
		Help:      "Number of deployments rolled back.",
	}, []string{fluxmetrics.LabelSuccess})
)
