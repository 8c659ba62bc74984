// Package workerpool implements a fixed-size task executor with graceful
// shutdown, the Go translation of the condition-variable thread pool the
// event pipeline is built on in the original implementation.
//
// A C++ thread pool blocks its workers on a condition variable guarding a
// task queue; the idiomatic Go equivalent is a buffered channel of tasks
// drained by a fixed number of goroutines. Lifecycle management (starting
// exactly W workers, waiting for all of them to notice shutdown and exit)
// is handled by an errgroup.Group instead of a hand-rolled sync.WaitGroup,
// following the same pattern chenzhangda16-web3-logpipe declares
// golang.org/x/sync for in its own worker/pipeline package.
package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Enqueue once the pool has been shut down.
var ErrStopped = errors.New("workerpool: enqueue on stopped pool")

// Pool is a fixed-size pool of worker goroutines draining a task queue.
type Pool struct {
	tasks    chan func()
	group    errgroup.Group
	stopping atomic.Bool
	closeOne sync.Once
}

// New starts a Pool with numWorkers goroutines (at least 1).
func New(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	p := &Pool{
		tasks: make(chan func(), 1),
	}
	for i := 0; i < numWorkers; i++ {
		p.group.Go(func() error {
			p.workerLoop()
			return nil
		})
	}
	return p
}

func (p *Pool) workerLoop() {
	for task := range p.tasks {
		p.runTask(task)
	}
}

// runTask invokes task, recovering from and discarding any panic so a
// misbehaving callback cannot take down a worker goroutine — the Go
// equivalent of the reference pool's catch-all "swallow exceptions to keep
// the pool alive" policy.
func (p *Pool) runTask(task func()) {
	defer func() { _ = recover() }()
	task()
}

// Enqueue submits task for execution by some worker goroutine. It returns
// ErrStopped once Shutdown has been called; the task is not run.
func (p *Pool) Enqueue(task func()) error {
	if p.stopping.Load() {
		return ErrStopped
	}
	// A task may still arrive concurrently with Shutdown closing the
	// channel; guard the send with recover so a "send on closed channel"
	// panic cannot escape.
	sent := false
	func() {
		defer func() {
			if recover() != nil {
				sent = false
			}
		}()
		p.tasks <- task
		sent = true
	}()
	if !sent {
		return ErrStopped
	}
	return nil
}

// Shutdown stops accepting new tasks, waits for the queue to drain, and
// joins every worker goroutine. It is idempotent.
func (p *Pool) Shutdown() {
	p.closeOne.Do(func() {
		p.stopping.Store(true)
		close(p.tasks)
	})
	_ = p.group.Wait()
}
