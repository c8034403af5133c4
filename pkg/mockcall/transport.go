// HTTP-level mocking: an http.RoundTripper that answers routed requests from the engine
// Unrouted or disabled routes fall through to the real transport
package mockcall

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

// RoundTrip calls f.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Interceptor wraps the step that turns a mocked request into its response.
type Interceptor func(next http.RoundTripper) http.RoundTripper

// Transport serves requests whose "METHOD /path" matches a site route.
// Provider sites served through a Transport receive the *http.Request as their only
// argument, so their Params should be []reflect.Type{reflect.TypeFor[*http.Request]()}.
type Transport struct {
	engine       *Engine
	fallback     http.RoundTripper
	interceptors []Interceptor
}

// NewTransport returns a transport backed by e. A nil fallback rejects unrouted requests.
func NewTransport(e *Engine, fallback http.RoundTripper, interceptors ...Interceptor) *Transport {
	return &Transport{engine: e, fallback: fallback, interceptors: interceptors}
}

// RoundTrip implements http.RoundTripper. The behavior delay honours the request context.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	site, ok := t.engine.routes[req.Method+" "+req.URL.Path]
	if !ok {
		return t.passThrough(req, "")
	}
	cfg, enabled, err := t.engine.Resolve(site)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return t.passThrough(req, site)
	}

	env := t.engine.env(site)
	id := req.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}
	rec := env.begin(req.Context(), id, modeTransport)
	resp, err := t.serve(req, cfg, rec)
	rec.end(codeOf(resp), err)
	return resp, err
}

func (t *Transport) passThrough(req *http.Request, site string) (*http.Response, error) {
	if t.fallback == nil {
		if site == "" {
			return nil, fmt.Errorf("%s %s: no route: %w", req.Method, req.URL.Path, ErrNotMocked)
		}
		return nil, fmt.Errorf("site %q: %w", site, ErrNotMocked)
	}
	return t.fallback.RoundTrip(req)
}

func (t *Transport) serve(req *http.Request, cfg *MethodConfig, rec *callRecord) (*http.Response, error) {
	ctx := req.Context()
	if ctx.Err() != nil {
		return nil, ErrCanceled
	}

	delay := cfg.Behavior.Delay()
	rec.delay = delay
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ErrCanceled
		case <-timer.C:
		}
	}

	var reply http.RoundTripper = RoundTripFunc(func(r *http.Request) (*http.Response, error) {
		params, err := cfg.Producer.Produce([]any{r})
		if err != nil {
			return nil, err
		}
		return openRawResponse(r, params)
	})
	for i := len(t.interceptors) - 1; i >= 0; i-- {
		reply = t.interceptors[i](reply)
	}

	if ctx.Err() != nil {
		return nil, ErrCanceled
	}
	resp, err := reply.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		_ = resp.Body.Close()
		return nil, ErrCanceled
	}
	return resp, nil
}

func codeOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
