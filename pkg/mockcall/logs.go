// LogObserver derives log records from failed and slow mocked calls
// Failures log at ERROR and calls slower than a threshold log at WARN
package mockcall

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
)

// LogObserver emits log records for notable calls.
type LogObserver struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewLogObserver creates a LogObserver that emits logs via the given LoggerProvider.
// A slowThreshold of 0 disables slow call detection.
func NewLogObserver(lp log.LoggerProvider, slowThreshold time.Duration) *LogObserver {
	return &LogObserver{
		logger:        lp.Logger("callmock"),
		slowThreshold: slowThreshold,
	}
}

// Observe emits one record for a failed call and one for a call that exceeded the
// slow threshold. Canceled calls and mocked error responses are expected outcomes.
func (l *LogObserver) Observe(info CallInfo) {
	failed := info.Err != nil && !info.Canceled
	slow := l.slowThreshold > 0 && info.Duration > l.slowThreshold
	if !failed && !slow {
		return
	}

	attrs := callLogAttributes(info)
	if failed {
		l.emit(info, log.SeverityError, "ERROR",
			fmt.Sprintf("%s call to %s failed after %s: %v", info.Mode, info.Site, info.Duration, info.Err),
			append(attrs, log.String("error.message", info.Err.Error())))
	}
	if slow {
		msg := fmt.Sprintf("slow %s call to %s: %s (threshold %s, simulated delay %s)",
			info.Mode, info.Site, info.Duration, l.slowThreshold, info.Delay)
		if info.Code != 0 {
			msg += fmt.Sprintf(", status %d", info.Code)
		}
		l.emit(info, log.SeverityWarn, "WARN", msg, attrs)
	}
}

func (l *LogObserver) emit(info CallInfo, sev log.Severity, text, body string, attrs []log.KeyValue) {
	var rec log.Record
	if !info.Start.IsZero() {
		rec.SetTimestamp(info.Start.Add(info.Duration))
	}
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)
	rec.SetBody(log.StringValue(body))
	rec.AddAttributes(attrs...)
	l.logger.Emit(context.Background(), rec)
}

func callLogAttributes(info CallInfo) []log.KeyValue {
	attrs := []log.KeyValue{
		log.String("callmock.site", info.Site),
		log.String("callmock.call_id", info.CallID),
		log.String("callmock.mode", info.Mode),
		log.Int64("callmock.delay_ms", info.Delay.Milliseconds()),
		log.Int64("callmock.duration_ms", info.Duration.Milliseconds()),
	}
	if info.Code != 0 {
		attrs = append(attrs, log.Int("http.response.status_code", info.Code))
	}
	return attrs
}
