// Simulated network latency for mocked calls
// Supports the "1s +/- 500ms" DSL format with uniform sampling around the mean
package mockcall

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Defaults applied when neither the site nor the engine configures a behavior.
const (
	DefaultMean      = time.Second
	DefaultDeviation = 500 * time.Millisecond
)

// Behavior decides how long a mocked call waits before its response is produced.
type Behavior interface {
	Delay() time.Duration
}

// BehaviorFunc adapts a function to the Behavior interface.
type BehaviorFunc func() time.Duration

// Delay calls f.
func (f BehaviorFunc) Delay() time.Duration { return f() }

// UniformBehavior delays by a duration drawn uniformly from [mean-deviation, mean+deviation).
type UniformBehavior struct {
	mean      time.Duration
	deviation time.Duration
	rnd       RandomSource
}

// NewBehavior creates a UniformBehavior. A nil rnd selects DefaultRandom.
func NewBehavior(mean, deviation time.Duration, rnd RandomSource) (*UniformBehavior, error) {
	if mean < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeMean, mean)
	}
	if deviation < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeDeviation, deviation)
	}
	// 2*deviation and mean+deviation must both fit in a Duration.
	if deviation > math.MaxInt64/2 || mean > math.MaxInt64-deviation {
		return nil, fmt.Errorf("%w: %s +/- %s", ErrDelayRange, mean, deviation)
	}
	if rnd == nil {
		rnd = DefaultRandom()
	}
	return &UniformBehavior{mean: mean, deviation: deviation, rnd: rnd}, nil
}

// DefaultBehavior returns the 1s +/- 500ms behavior used when nothing else is configured.
func DefaultBehavior(rnd RandomSource) *UniformBehavior {
	b, _ := NewBehavior(DefaultMean, DefaultDeviation, rnd)
	return b
}

// NoDelay is a behavior that never sleeps.
var NoDelay Behavior = BehaviorFunc(func() time.Duration { return 0 })

// ParseBehavior parses a delay string.
// Supported formats:
//   - "1s +/- 500ms" (mean with deviation)
//   - "1s ± 500ms"   (unicode variant)
//   - "50ms"         (fixed delay, zero deviation)
func ParseBehavior(s string, rnd RandomSource) (*UniformBehavior, error) {
	mean, deviation, err := parseDelay(s)
	if err != nil {
		return nil, err
	}
	return NewBehavior(mean, deviation, rnd)
}

func parseDelay(s string) (time.Duration, time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("delay is required (e.g. '50ms', '1s +/- 200ms')")
	}

	var meanStr, devStr string
	if parts := strings.SplitN(s, "+/-", 2); len(parts) == 2 {
		meanStr = strings.TrimSpace(parts[0])
		devStr = strings.TrimSpace(parts[1])
	} else if parts := strings.SplitN(s, "±", 2); len(parts) == 2 {
		meanStr = strings.TrimSpace(parts[0])
		devStr = strings.TrimSpace(parts[1])
	} else {
		mean, err := time.ParseDuration(s)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid mean delay: %w", err)
		}
		return mean, 0, nil
	}

	mean, err := time.ParseDuration(meanStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid mean delay: %w", err)
	}
	deviation, err := time.ParseDuration(devStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid deviation: %w", err)
	}
	return mean, deviation, nil
}

// Mean returns the configured mean delay.
func (b *UniformBehavior) Mean() time.Duration { return b.mean }

// Deviation returns the configured deviation.
func (b *UniformBehavior) Deviation() time.Duration { return b.deviation }

// Delay samples a delay. A zero deviation returns the mean unchanged.
// Samples below zero (mean smaller than deviation) are clamped to zero.
func (b *UniformBehavior) Delay() time.Duration {
	if b.deviation == 0 {
		return b.mean
	}
	d := b.mean - b.deviation + time.Duration(b.rnd.Int64N(int64(2*b.deviation)))
	if d < 0 {
		return 0
	}
	return d
}

// String returns the behavior in DSL format.
func (b *UniformBehavior) String() string {
	if b.deviation == 0 {
		return b.mean.String()
	}
	return fmt.Sprintf("%s +/- %s", b.mean, b.deviation)
}
