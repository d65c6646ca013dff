package apply

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/rz/pkg/metrics"
)

var (
	applyObjects = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "rz",
		Subsystem: "apply",
		Name:      "objects_total",
		Help:      "Number of objects applied, by kind and action.",
	}, []string{fluxmetrics.LabelKind, fluxmetrics.LabelAction})

	applyDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "rz",
		Subsystem: "apply",
		Name:      "duration_seconds",
		Help:      "Duration of applying a set of objects, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{fluxmetrics.LabelSuccess})
)
