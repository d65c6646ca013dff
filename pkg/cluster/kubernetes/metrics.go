package kubernetes

import (
	"fmt"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/rz/pkg/metrics"
)

var (
	requestsTotal = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "rz",
		Subsystem: "kubernetes",
		Name:      "requests_total",
		Help:      "Number of requests made to the Kubernetes API.",
	}, []string{fluxmetrics.LabelVerb, fluxmetrics.LabelKind, fluxmetrics.LabelSuccess})
)

func countRequest(verb, kind string, err error) {
	requestsTotal.With(
		fluxmetrics.LabelVerb, verb,
		fluxmetrics.LabelKind, kind,
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Add(1)
}
