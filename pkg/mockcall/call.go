// Call handles: the single-use request/response abstraction returned for every mocked invocation
// Fake calls hold a fixed outcome, deferred calls build one lazily, mock calls add delay and dispatch
package mockcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Call is a single-use request handle. Execute or Enqueue may be called once; a clone
// with fresh state can be obtained with Clone.
type Call[T any] interface {
	// Request returns the request this call stands for. It never triggers production.
	Request() *http.Request
	// Execute blocks until the response is available, the call is canceled, or ctx ends.
	Execute(ctx context.Context) (*Response[T], error)
	// Enqueue starts the call in the background and reports to cb exactly once.
	Enqueue(cb Callback[T]) error
	// Cancel marks the call canceled and interrupts an in-flight delay. Idempotent.
	Cancel()
	IsCanceled() bool
	IsExecuted() bool
	// Clone returns a new, unexecuted, uncanceled call for the same request.
	Clone() Call[T]
}

// Callback receives the outcome of an enqueued call.
type Callback[T any] interface {
	OnResponse(call Call[T], resp *Response[T])
	OnFailure(call Call[T], err error)
}

// CallbackFuncs adapts a pair of functions to the Callback interface. Nil fields are ignored.
type CallbackFuncs[T any] struct {
	Response func(call Call[T], resp *Response[T])
	Failure  func(call Call[T], err error)
}

// OnResponse calls f.Response.
func (f CallbackFuncs[T]) OnResponse(call Call[T], resp *Response[T]) {
	if f.Response != nil {
		f.Response(call, resp)
	}
}

// OnFailure calls f.Failure.
func (f CallbackFuncs[T]) OnFailure(call Call[T], err error) {
	if f.Failure != nil {
		f.Failure(call, err)
	}
}

var errNilCallback = errors.New("callback is nil")

func defaultRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost", http.NoBody)
	return req
}

// fakeCall completes immediately with a fixed response or error.
type fakeCall[T any] struct {
	req      *http.Request
	resp     *Response[T]
	err      error
	executed atomic.Bool
	canceled atomic.Bool
}

// Success returns a call that completes with resp.
func Success[T any](resp *Response[T]) Call[T] {
	req := defaultRequest()
	if resp != nil && resp.Raw != nil && resp.Raw.Request != nil {
		req = resp.Raw.Request
	}
	return &fakeCall[T]{req: req, resp: resp}
}

// Failure returns a call that fails with err.
func Failure[T any](err error) Call[T] {
	return &fakeCall[T]{req: defaultRequest(), err: err}
}

func (c *fakeCall[T]) Request() *http.Request { return c.req }

func (c *fakeCall[T]) Execute(context.Context) (*Response[T], error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	if c.canceled.Load() {
		return nil, ErrCanceled
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func (c *fakeCall[T]) Enqueue(cb Callback[T]) error {
	if cb == nil {
		return errNilCallback
	}
	if !c.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}
	switch {
	case c.canceled.Load():
		cb.OnFailure(c, ErrCanceled)
	case c.err != nil:
		cb.OnFailure(c, c.err)
	default:
		cb.OnResponse(c, c.resp)
	}
	return nil
}

func (c *fakeCall[T]) Cancel()          { c.canceled.Store(true) }
func (c *fakeCall[T]) IsCanceled() bool { return c.canceled.Load() }
func (c *fakeCall[T]) IsExecuted() bool { return c.executed.Load() }

func (c *fakeCall[T]) Clone() Call[T] {
	return &fakeCall[T]{req: c.req, resp: c.resp, err: c.err}
}

// deferredCall builds its delegate on first use and keeps it.
type deferredCall[T any] struct {
	produce func() (Call[T], error)

	mu       sync.Mutex
	delegate Call[T]
}

// Defer returns a call whose delegate is produced on first use. A production error or
// panic becomes a failing delegate.
func Defer[T any](produce func() (Call[T], error)) Call[T] {
	return &deferredCall[T]{produce: produce}
}

func (d *deferredCall[T]) get() Call[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delegate == nil {
		call, err := d.safeProduce()
		if err != nil {
			call = Failure[T](err)
		}
		d.delegate = call
	}
	return d.delegate
}

func (d *deferredCall[T]) safeProduce() (call Call[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			call, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	call, err = d.produce()
	if err == nil && call == nil {
		err = fmt.Errorf("%w: no call produced", ErrProduce)
	}
	return call, err
}

func (d *deferredCall[T]) Request() *http.Request { return d.get().Request() }

func (d *deferredCall[T]) Execute(ctx context.Context) (*Response[T], error) {
	return d.get().Execute(ctx)
}

func (d *deferredCall[T]) Enqueue(cb Callback[T]) error { return d.get().Enqueue(cb) }
func (d *deferredCall[T]) Cancel()                      { d.get().Cancel() }
func (d *deferredCall[T]) IsCanceled() bool             { return d.get().IsCanceled() }
func (d *deferredCall[T]) IsExecuted() bool             { return d.get().IsExecuted() }
func (d *deferredCall[T]) Clone() Call[T]               { return Defer(d.produce) }

// mockCall delays, then runs its delegate on the background executor.
type mockCall[T any] struct {
	env         *callEnv
	id          string
	req         *http.Request
	behavior    Behavior
	newDelegate func() Call[T]
	delegate    Call[T]

	executed atomic.Bool
	canceled atomic.Bool

	mu   sync.Mutex
	stop context.CancelFunc
}

type outcome[T any] struct {
	resp *Response[T]
	err  error
}

func newMockCall[T any](env *callEnv, req *http.Request, behavior Behavior, newDelegate func() Call[T]) *mockCall[T] {
	return &mockCall[T]{
		env:         env,
		id:          uuid.NewString(),
		req:         req,
		behavior:    behavior,
		newDelegate: newDelegate,
		delegate:    newDelegate(),
	}
}

// ID returns the unique call id used in logs, spans, and observer records.
func (c *mockCall[T]) ID() string { return c.id }

func (c *mockCall[T]) Request() *http.Request { return c.req }

func (c *mockCall[T]) Execute(ctx context.Context) (*Response[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan outcome[T], 1)
	err := c.start(ctx, modeExecute, func(resp *Response[T], err error) {
		done <- outcome[T]{resp: resp, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		// A result that is already computed still wins.
		select {
		case o := <-done:
			return o.resp, o.err
		default:
		}
		c.Cancel()
		return nil, ErrCanceled
	}
}

func (c *mockCall[T]) Enqueue(cb Callback[T]) error {
	if cb == nil {
		return errNilCallback
	}
	return c.start(context.Background(), modeEnqueue, func(resp *Response[T], err error) {
		if execErr := c.env.callbacks.Execute(func() { c.deliver(cb, resp, err) }); execErr != nil {
			c.env.logger.Error().Err(execErr).Str("call_id", c.id).Msg("callback executor rejected delivery")
		}
	})
}

func (c *mockCall[T]) deliver(cb Callback[T], resp *Response[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			c.env.logger.Error().Str("call_id", c.id).Interface("panic", r).Msg("callback panicked")
		}
	}()
	if err != nil {
		cb.OnFailure(c, err)
		return
	}
	cb.OnResponse(c, resp)
}

// start claims the call and submits the pipeline. finish is invoked exactly once
// unless submission itself fails.
func (c *mockCall[T]) start(parent context.Context, mode string, finish func(*Response[T], error)) error {
	if !c.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}

	ctx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
	if c.canceled.Load() {
		stop()
	}

	rec := c.env.begin(parent, c.id, mode)
	err := c.env.background.Execute(func() {
		defer stop()
		resp, err := c.run(ctx, rec)
		defer finish(resp, err)
		rec.end(resp.code(), err)
	})
	if err != nil {
		stop()
		rec.end(0, err)
		return fmt.Errorf("submitting call: %w", err)
	}
	return nil
}

func (c *mockCall[T]) run(ctx context.Context, rec *callRecord) (resp *Response[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if c.canceled.Load() {
		return nil, ErrCanceled
	}

	delay := c.behavior.Delay()
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

	if c.canceled.Load() {
		return nil, ErrCanceled
	}
	return c.delegate.Execute(ctx)
}

func (c *mockCall[T]) Cancel() {
	c.canceled.Store(true)
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *mockCall[T]) IsCanceled() bool { return c.canceled.Load() }
func (c *mockCall[T]) IsExecuted() bool { return c.executed.Load() }

func (c *mockCall[T]) Clone() Call[T] {
	return newMockCall(c.env, c.req.Clone(c.req.Context()), c.behavior, c.newDelegate)
}

// code returns the status code of r, or zero for a nil response.
func (r *Response[T]) code() int {
	if r == nil || r.Raw == nil {
		return 0
	}
	return r.Raw.StatusCode
}
