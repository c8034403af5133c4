// CallObserver interface for deriving signals (metrics, logs) from completed mock calls
// Observers receive call metadata after each call finishes, successfully or not
package mockcall

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	modeExecute   = "execute"
	modeEnqueue   = "enqueue"
	modeTransport = "transport"
)

// CallInfo holds call metadata for signal derivation.
// Code is zero when the call failed before a response was produced.
type CallInfo struct {
	Site     string
	CallID   string
	Mode     string
	Start    time.Time
	Delay    time.Duration
	Duration time.Duration
	Code     int
	Err      error
	Canceled bool
}

// IsError reports whether the call failed or produced a non-2xx response.
func (i CallInfo) IsError() bool {
	return i.Err != nil || (i.Code != 0 && !isSuccessful(i.Code))
}

// CallObserver receives call metadata after each call completes. A panicking
// observer is logged and skipped; the call still completes.
type CallObserver interface {
	Observe(info CallInfo)
}

// callEnv is the per-site context shared by every call handle of that site.
type callEnv struct {
	site       string
	background Executor
	callbacks  Executor
	tracer     trace.Tracer
	logger     zerolog.Logger
	observers  []CallObserver
}

type callRecord struct {
	env   *callEnv
	id    string
	mode  string
	start time.Time
	delay time.Duration
	span  trace.Span
}

func (e *callEnv) begin(parent context.Context, id, mode string) *callRecord {
	_, span := e.tracer.Start(parent, "callmock.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("callmock.site", e.site),
			attribute.String("callmock.call_id", id),
			attribute.String("callmock.mode", mode),
		),
	)
	e.logger.Debug().Str("site", e.site).Str("call_id", id).Str("mode", mode).Msg("call started")
	return &callRecord{env: e, id: id, mode: mode, start: time.Now(), span: span}
}

func (r *callRecord) end(code int, err error) {
	info := CallInfo{
		Site:     r.env.site,
		CallID:   r.id,
		Mode:     r.mode,
		Start:    r.start,
		Delay:    r.delay,
		Duration: time.Since(r.start),
		Code:     code,
		Err:      err,
		Canceled: errors.Is(err, ErrCanceled),
	}

	r.span.SetAttributes(attribute.Int64("callmock.delay_ms", r.delay.Milliseconds()))
	if code != 0 {
		r.span.SetAttributes(attribute.Int("http.response.status_code", code))
	}
	switch {
	case info.Canceled:
		r.span.SetAttributes(attribute.Bool("callmock.canceled", true))
	case err != nil:
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()

	ev := r.env.logger.Debug()
	if err != nil && !info.Canceled {
		ev = r.env.logger.Warn().Err(err)
	}
	ev.Str("site", info.Site).
		Str("call_id", info.CallID).
		Int("code", code).
		Dur("delay", info.Delay).
		Bool("canceled", info.Canceled).
		Msg("call finished")

	for _, o := range r.env.observers {
		r.notify(o, info)
	}
}

func (r *callRecord) notify(o CallObserver, info CallInfo) {
	defer func() {
		if p := recover(); p != nil {
			r.env.logger.Error().
				Str("site", info.Site).
				Str("call_id", info.CallID).
				Interface("panic", p).
				Msg("observer panicked")
		}
	}()
	o.Observe(info)
}
