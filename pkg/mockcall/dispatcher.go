// Executors that run the background pipeline and deliver callbacks
// WorkerPool is the default background executor: a named pond pool draining a FIFO queue
package mockcall

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// Executor runs tasks. Execute must not block on the task itself.
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func()) error

// Execute calls f.
func (f ExecutorFunc) Execute(task func()) error { return f(task) }

// SyncExecutor runs each task on the calling goroutine.
type SyncExecutor struct{}

// Execute runs task immediately.
func (SyncExecutor) Execute(task func()) error {
	task()
	return nil
}

// GoExecutor runs each task on a new goroutine.
type GoExecutor struct{}

// Execute starts task on its own goroutine.
func (GoExecutor) Execute(task func()) error {
	go task()
	return nil
}

var poolSeq atomic.Uint64

// WorkerPool runs tasks in submission order on at most a fixed number of goroutines.
// With one worker, delays of concurrently enqueued calls are served back to back.
type WorkerPool struct {
	name   string
	logger zerolog.Logger
	pool   pond.Pool
	closed atomic.Bool
}

// NewWorkerPool starts a pool with the given number of workers (minimum one).
// The queue is unbounded, so Execute never blocks.
func NewWorkerPool(workers int, logger zerolog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	name := fmt.Sprintf("callmock-%d", poolSeq.Add(1))
	return &WorkerPool{
		name:   name,
		logger: logger.With().Str("pool", name).Int("workers", workers).Logger(),
		pool:   pond.NewPool(workers),
	}
}

// Name returns the unique pool name used in logs.
func (p *WorkerPool) Name() string { return p.name }

// Execute queues task. It fails with ErrClosed after Close.
func (p *WorkerPool) Execute(task func()) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.pool.Go(func() { p.run(task) }); err != nil {
		if errors.Is(err, pond.ErrPoolStopped) {
			return ErrClosed
		}
		return fmt.Errorf("pool %s: %w", p.name, err)
	}
	return nil
}

// Close stops accepting tasks, lets queued tasks finish, and waits for the workers.
func (p *WorkerPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.pool.StopAndWait()
	return nil
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	task()
}
