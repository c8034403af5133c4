// PrometheusObserver exposes mocked call counts and delays as Prometheus collectors
// Collectors are registered on a caller-supplied registerer, never the global default
package mockcall

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver records call outcomes and delays per site.
type PrometheusObserver struct {
	calls    *prometheus.CounterVec
	delay    *prometheus.HistogramVec
	duration *prometheus.HistogramVec
}

// NewPrometheusObserver creates the collectors under namespace and registers them on reg.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of completed mocked calls",
			},
			[]string{"site", "outcome"},
		),
		delay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_delay_seconds",
				Help:      "Simulated delay applied to mocked calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"site"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Wall time from dispatch to completion of mocked calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"site"},
		),
	}

	for _, c := range []prometheus.Collector{o.calls, o.delay, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return o, nil
}

// Observe records the completed call.
func (o *PrometheusObserver) Observe(info CallInfo) {
	o.calls.WithLabelValues(info.Site, outcomeOf(info)).Inc()
	o.delay.WithLabelValues(info.Site).Observe(info.Delay.Seconds())
	o.duration.WithLabelValues(info.Site).Observe(info.Duration.Seconds())
}
