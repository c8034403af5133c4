// Tests for LogObserver that derives log records from failed and slow calls.
// Uses an in-memory log exporter to capture and verify emitted records.
package mockcall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) get() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

func newTestLogObserver(t *testing.T, slowThreshold time.Duration) (*LogObserver, *memoryLogExporter) {
	t.Helper()
	exporter := &memoryLogExporter{}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
	)
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return NewLogObserver(lp, slowThreshold), exporter
}

func TestLogObserverFailedCall(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(CallInfo{Site: "users", CallID: "c1", Err: errors.New("backend unavailable")})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
	assert.Contains(t, records[0].Body().AsString(), "users")
	assert.Contains(t, records[0].Body().AsString(), "backend unavailable")
}

func TestLogObserverSlowCall(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 100*time.Millisecond)
	obs.Observe(CallInfo{Site: "orders", Code: 200, Duration: 200 * time.Millisecond})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityWarn, records[0].Severity())
	assert.Contains(t, records[0].Body().AsString(), "orders")
	assert.Contains(t, records[0].Body().AsString(), "200ms")
}

func TestLogObserverBothFailedAndSlow(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 50*time.Millisecond)
	obs.Observe(CallInfo{Site: "svc", Err: errors.New("x"), Duration: 100 * time.Millisecond})

	records := exporter.get()
	require.Len(t, records, 2)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
	assert.Equal(t, otellog.SeverityWarn, records[1].Severity())
}

func TestLogObserverQuietCalls(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, time.Second)
	obs.Observe(CallInfo{Site: "svc", Code: 200, Duration: time.Millisecond})
	obs.Observe(CallInfo{Site: "svc", Err: ErrCanceled, Canceled: true})
	obs.Observe(CallInfo{Site: "svc", Code: 500, Duration: time.Millisecond})

	assert.Empty(t, exporter.get())
}

func TestLogObserverAttributes(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(CallInfo{Site: "users", CallID: "call-7", Err: errors.New("x")})

	records := exporter.get()
	require.Len(t, records, 1)

	attrs := map[string]string{}
	records[0].WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	assert.Equal(t, "users", attrs["callmock.site"])
	assert.Equal(t, "call-7", attrs["callmock.call_id"])
}

func TestLogObserverCallDetails(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 100*time.Millisecond)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	obs.Observe(CallInfo{
		Site:     "orders",
		CallID:   "call-9",
		Mode:     modeEnqueue,
		Start:    start,
		Delay:    150 * time.Millisecond,
		Duration: 180 * time.Millisecond,
		Code:     503,
	})

	records := exporter.get()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, start.Add(180*time.Millisecond), rec.Timestamp())
	body := rec.Body().AsString()
	assert.Contains(t, body, "slow enqueue call to orders")
	assert.Contains(t, body, "simulated delay 150ms")
	assert.Contains(t, body, "status 503")

	attrs := map[string]otellog.Value{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	assert.Equal(t, "enqueue", attrs["callmock.mode"].AsString())
	assert.Equal(t, int64(150), attrs["callmock.delay_ms"].AsInt64())
	assert.Equal(t, int64(180), attrs["callmock.duration_ms"].AsInt64())
	assert.Equal(t, int64(503), attrs["http.response.status_code"].AsInt64())
}

func TestLogObserverFailureCarriesErrorMessage(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(CallInfo{Site: "users", Mode: modeExecute, Err: ErrPanic})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Body().AsString(), "execute call to users failed")

	var message string
	records[0].WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == "error.message" {
			message = kv.Value.AsString()
		}
		return true
	})
	assert.Equal(t, ErrPanic.Error(), message)
	assert.True(t, records[0].Timestamp().IsZero())
}
