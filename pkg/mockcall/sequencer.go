// Response sequencing strategies for static response lists
// Sequential clamps at the last element, circular wraps, random draws uniformly
package mockcall

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Strategy selects how a static response list is walked.
type Strategy int

const (
	StrategySequential Strategy = iota
	StrategyCircular
	StrategyRandom
)

func (s Strategy) String() string {
	switch s {
	case StrategySequential:
		return "sequential"
	case StrategyCircular:
		return "circular"
	case StrategyRandom:
		return "random"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name. The empty string means sequential.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return StrategySequential, nil
	case "circular":
		return StrategyCircular, nil
	case "random":
		return StrategyRandom, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q, supported: sequential, circular, random", s)
	}
}

// Sequencer yields the next element of a fixed, non-empty list on each call.
// Next is safe for concurrent use; concurrent callers observe distinct positions.
type Sequencer[T any] interface {
	Next() T
	Len() int
}

// NewSequencer builds a sequencer over a copy of items.
// rnd is only consulted by StrategyRandom; nil selects DefaultRandom.
func NewSequencer[T any](strategy Strategy, items []T, rnd RandomSource) (Sequencer[T], error) {
	if len(items) == 0 {
		return nil, ErrNoResponses
	}
	owned := make([]T, len(items))
	copy(owned, items)

	switch strategy {
	case StrategySequential:
		return &sequential[T]{items: owned}, nil
	case StrategyCircular:
		return &circular[T]{items: owned}, nil
	case StrategyRandom:
		if rnd == nil {
			rnd = DefaultRandom()
		}
		return &random[T]{items: owned, rnd: rnd}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %s", strategy)
	}
}

type sequential[T any] struct {
	items  []T
	cursor atomic.Uint64
}

func (s *sequential[T]) Next() T {
	last := uint64(len(s.items) - 1)
	// Stop advancing once exhausted so the cursor can never wrap.
	if s.cursor.Load() >= last {
		return s.items[last]
	}
	i := s.cursor.Add(1) - 1
	return s.items[min(i, last)]
}

func (s *sequential[T]) Len() int { return len(s.items) }

type circular[T any] struct {
	items  []T
	cursor atomic.Uint64
}

func (c *circular[T]) Next() T {
	i := c.cursor.Add(1) - 1
	return c.items[i%uint64(len(c.items))]
}

func (c *circular[T]) Len() int { return len(c.items) }

type random[T any] struct {
	items []T
	rnd   RandomSource
}

func (r *random[T]) Next() T {
	return r.items[r.rnd.IntN(len(r.items))]
}

func (r *random[T]) Len() int { return len(r.items) }
