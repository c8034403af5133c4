package mockcall

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatherCounters returns calls_total values keyed by "site/outcome".
func gatherCounters(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[labels["site"]+"/"+labels["outcome"]] = m.GetCounter().GetValue()
		}
	}
	return out
}

func TestPrometheusObserverCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg, "callmock")
	require.NoError(t, err)

	obs.Observe(CallInfo{Site: "users", Code: 200, Delay: 10 * time.Millisecond})
	obs.Observe(CallInfo{Site: "users", Code: 200, Delay: 20 * time.Millisecond})
	obs.Observe(CallInfo{Site: "users", Err: errors.New("x")})

	assert.Equal(t, map[string]float64{
		"users/200":    2,
		"users/failed": 1,
	}, gatherCounters(t, reg, "callmock_calls_total"))
}

func TestPrometheusObserverDelayHistogram(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg, "callmock")
	require.NoError(t, err)

	obs.Observe(CallInfo{Site: "users", Code: 200, Delay: 250 * time.Millisecond})

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "callmock_call_delay_seconds" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), h.GetSampleCount())
		assert.InDelta(t, 0.25, h.GetSampleSum(), 0.001)
		found = true
	}
	assert.True(t, found, "delay histogram should be registered")
}

func TestPrometheusObserverDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver(reg, "callmock")
	require.NoError(t, err)
	_, err = NewPrometheusObserver(reg, "callmock")
	assert.Error(t, err)
}
