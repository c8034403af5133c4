// Property-based tests for the mock engine using pgregory.net/rapid
// Covers sequencing order, delay bounds, status classification, and exactly-once delivery
package mockcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// genVariants draws 1-6 distinct response variants.
func genVariants(t *rapid.T) []*ResponseVariant {
	n := rapid.IntRange(1, 6).Draw(t, "nVariants")
	out := make([]*ResponseVariant, n)
	for i := range out {
		out[i] = &ResponseVariant{Body: fmt.Sprintf("v%d", i)}
	}
	return out
}

func TestPropertySequentialOrder(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOfN(rapid.Int(), 1, 20).Draw(t, "items")
		calls := rapid.IntRange(1, 60).Draw(t, "calls")

		seq, err := NewSequencer(StrategySequential, items, nil)
		if err != nil {
			t.Fatalf("NewSequencer: %v", err)
		}
		for i := range calls {
			want := items[min(i, len(items)-1)]
			if got := seq.Next(); got != want {
				t.Fatalf("call %d: got %d, want %d", i, got, want)
			}
		}
	})
}

func TestPropertyCircularOrder(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOfN(rapid.String(), 1, 20).Draw(t, "items")
		calls := rapid.IntRange(1, 60).Draw(t, "calls")

		seq, err := NewSequencer(StrategyCircular, items, nil)
		if err != nil {
			t.Fatalf("NewSequencer: %v", err)
		}
		for i := range calls {
			if got := seq.Next(); got != items[i%len(items)] {
				t.Fatalf("call %d: got %q, want %q", i, got, items[i%len(items)])
			}
		}
	})
}

func TestPropertyRandomStaysInRange(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(t, "n")
		seed := rapid.Uint64().Draw(t, "seed")
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}
		seq, err := NewSequencer(StrategyRandom, items, NewRandomSource(seed))
		if err != nil {
			t.Fatalf("NewSequencer: %v", err)
		}
		for range 100 {
			if v := seq.Next(); v < 0 || v >= n {
				t.Fatalf("value %d out of range [0, %d)", v, n)
			}
		}
	})
}

func TestPropertyDelayBounds(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		mean := time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "mean"))
		dev := time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "dev"))
		seed := rapid.Uint64().Draw(t, "seed")

		b, err := NewBehavior(mean, dev, NewRandomSource(seed))
		if err != nil {
			t.Fatalf("NewBehavior: %v", err)
		}
		for range 50 {
			d := b.Delay()
			if d < 0 {
				t.Fatalf("negative delay %s", d)
			}
			if d < mean-dev || (dev > 0 && d >= mean+dev) || (dev == 0 && d != mean) {
				t.Fatalf("delay %s outside %s +/- %s", d, mean, dev)
			}
		}
	})
}

func TestPropertyStatusClassification(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		code := rapid.IntRange(100, 599).Draw(t, "code")
		params := paramsFromVariant(&ResponseVariant{Code: code, Body: "payload"}, PassThroughBodyFactory{})
		req, _ := http.NewRequest(http.MethodGet, "http://localhost/x", http.NoBody)

		resp, err := materialize(req, params, String)
		if err != nil {
			t.Fatalf("materialize: %v", err)
		}
		switch {
		case code < 200 || code >= 300:
			if resp.IsSuccessful() || resp.ErrorBody == nil || resp.Body != "" {
				t.Fatalf("code %d should expose only an error body", code)
			}
			_ = resp.ErrorBody.Close()
		case code == http.StatusNoContent || code == http.StatusResetContent:
			if resp.Body != "" || resp.ErrorBody != nil {
				t.Fatalf("code %d should carry no body", code)
			}
		default:
			if resp.Body != "payload" || resp.ErrorBody != nil {
				t.Fatalf("code %d should carry the converted body", code)
			}
		}
	})
}

func TestPropertyExactlyOneOutcome(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		variants := genVariants(t)
		cancelFirst := rapid.Bool().Draw(t, "cancelFirst")

		e, err := New(Options{
			Sites:           map[string]SiteConfig{"s": {Enabled: true, Circular: true, Responses: variants}},
			DefaultBehavior: NoDelay,
			Background:      GoExecutor{},
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer func() { _ = e.Close() }()

		site, err := Bind(e, "s", String)
		if err != nil {
			t.Fatalf("Bind: %v", err)
		}
		call, err := site.Call()
		if err != nil {
			t.Fatalf("Call: %v", err)
		}

		outcomes := make(chan error, 4)
		if cancelFirst {
			call.Cancel()
		}
		err = call.Enqueue(CallbackFuncs[string]{
			Response: func(Call[string], *Response[string]) { outcomes <- nil },
			Failure:  func(_ Call[string], err error) { outcomes <- err },
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		select {
		case err := <-outcomes:
			if cancelFirst && err == nil {
				t.Fatalf("canceled call delivered a response")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no outcome delivered")
		}
		select {
		case <-outcomes:
			t.Fatalf("second outcome delivered")
		case <-time.After(5 * time.Millisecond):
		}

		if _, err := call.Execute(context.Background()); !errors.Is(err, ErrAlreadyExecuted) {
			t.Fatalf("second execution: got %v", err)
		}
	})
}
