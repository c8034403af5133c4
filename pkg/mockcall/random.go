// Random sources for response selection and delay sampling
// Seeded sources are mutex-guarded so one can be shared across call sites
package mockcall

import (
	"math/rand/v2"
	"sync"
)

// RandomSource supplies the uniform integers used by random sequencing and behaviors.
// Implementations must be safe for concurrent use.
type RandomSource interface {
	// Int64N returns a value in [0, n). n must be positive.
	Int64N(n int64) int64
	// IntN returns a value in [0, n). n must be positive.
	IntN(n int) int
}

// lockedRandom serialises access to a *rand.Rand, which is not goroutine-safe.
type lockedRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a deterministic source seeded with seed.
func NewRandomSource(seed uint64) RandomSource {
	return &lockedRandom{rng: rand.New(rand.NewPCG(seed, 0))} //nolint:gosec // mock data, not security-sensitive
}

func (r *lockedRandom) Int64N(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int64N(n)
}

func (r *lockedRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

type globalRandom struct{}

func (globalRandom) Int64N(n int64) int64 {
	return rand.Int64N(n) //nolint:gosec // mock data, not security-sensitive
}

func (globalRandom) IntN(n int) int {
	return rand.IntN(n) //nolint:gosec // mock data, not security-sensitive
}

// DefaultRandom returns the process-wide source backed by the math/rand/v2 top-level functions.
func DefaultRandom() RandomSource {
	return globalRandom{}
}
