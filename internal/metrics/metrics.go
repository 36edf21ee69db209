// Package metrics holds the Prometheus collectors shared by the stores.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for FetchTotal
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeCached  = "cached"
)

// Collectors groups every metric the datastore emits
type Collectors struct {
	FetchTotal    *prometheus.CounterVec
	FetchInFlight *prometheus.GaugeVec
	FetchDuration *prometheus.HistogramVec
}

// New creates unregistered collectors
func New() *Collectors {
	return &Collectors{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitekit",
			Name:      "fetch_total",
			Help:      "Completed fetch actions by operation and outcome.",
		}, []string{"op", "outcome"}),
		FetchInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sitekit",
			Name:      "fetch_in_flight",
			Help:      "Fetch actions currently waiting on the network.",
		}, []string{"op"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sitekit",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent in the network step of a fetch action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Register adds the collectors to reg. When another set is already
// registered, c switches to the existing collectors so several stores can
// share one registry.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	total, err := register(reg, c.FetchTotal)
	if err != nil {
		return err
	}
	inFlight, err := register(reg, c.FetchInFlight)
	if err != nil {
		return err
	}
	duration, err := register(reg, c.FetchDuration)
	if err != nil {
		return err
	}
	c.FetchTotal, c.FetchInFlight, c.FetchDuration = total, inFlight, duration
	return nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return col, err
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return col, err
		}
		return existing, nil
	}
	return col, nil
}
