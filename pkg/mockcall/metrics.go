// MetricObserver derives call count, delay, and failure metrics from completed calls
// Uses the OTel Metrics API to record measurements with site and outcome attributes
package mockcall

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricObserver records derived metrics for each observed call.
type MetricObserver struct {
	delay    metric.Float64Histogram
	calls    metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetricObserver creates a MetricObserver backed by the given MeterProvider.
func NewMetricObserver(mp metric.MeterProvider) (*MetricObserver, error) {
	meter := mp.Meter("callmock")

	delay, err := meter.Float64Histogram("callmock.call.delay",
		metric.WithUnit("ms"),
		metric.WithDescription("Simulated delay of mocked calls in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter("callmock.call.count",
		metric.WithDescription("Number of completed mocked calls"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("callmock.call.failures",
		metric.WithDescription("Number of mocked calls that failed or were canceled"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricObserver{
		delay:    delay,
		calls:    calls,
		failures: failures,
	}, nil
}

// Observe records metrics derived from the completed call.
func (m *MetricObserver) Observe(info CallInfo) {
	attrs := metric.WithAttributes(
		attribute.String("callmock.site", info.Site),
		attribute.String("callmock.outcome", outcomeOf(info)),
	)
	m.calls.Add(context.Background(), 1, attrs)
	m.delay.Record(context.Background(), float64(info.Delay)/float64(time.Millisecond), attrs)
	if info.Err != nil {
		m.failures.Add(context.Background(), 1, attrs)
	}
}

// outcomeOf classifies a call as canceled, failed, or by its status code.
func outcomeOf(info CallInfo) string {
	switch {
	case info.Canceled:
		return "canceled"
	case info.Err != nil:
		return "failed"
	default:
		return strconv.Itoa(info.Code)
	}
}
