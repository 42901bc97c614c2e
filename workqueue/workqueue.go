// Package workqueue provides the reference "post a completion for later
// invocation" collaborator used to turn a may-suspend operation's eventual
// result into a callback invocation. The core never blocks a caller waiting
// for I/O; instead it arranges for a Func to be posted here and invoked
// later on a worker goroutine, well outside of any lock held by the
// operation that produced it.
//
// Production embedders of this module are free to supply their own Poster
// (e.g. one that hands off to a per-CPU scheduler run queue); Queue is the
// reference implementation used by this repo's own tests and benchmarks.
package workqueue

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// Func is a single-shot unit of completion work.
type Func func()

// Poster posts a completion callback for later invocation. Implementations
// must never invoke fn synchronously from within Post while the caller might
// be holding a lock in the same nesting order it was posted under.
type Poster interface {
	Post(fn Func)
}

// NewQueue creates a Queue with the given channel depth. Depth should be
// sized to the expected number of in-flight completions; Post blocks once
// the channel is full, applying backpressure to the producer.
func NewQueue(depth int) *Queue {
	return &Queue{
		ch: make(chan Func, depth),
	}
}

// Queue is a reference FIFO work queue drained by a fixed pool of worker
// goroutines started by Run.
type Queue struct {
	ch chan Func
}

// Post enqueues fn for later invocation on a worker goroutine.
func (q *Queue) Post(fn Func) {
	q.ch <- fn
}

// Close stops accepting further posts. Run's workers exit once the channel
// drains. Callers must ensure no Post is in flight concurrently with Close.
func (q *Queue) Close() {
	close(q.ch)
}

// Run drains the queue using numWorkers goroutines until ctx is cancelled or
// Close is called and the channel drains. Use a single worker when strict
// wall-clock delivery order of postings matters to a caller; completions
// posted by different producers (ManagedSpace, AddressSpace) are independent
// of each other once posted, so ordering across producers is not guaranteed
// with more than one worker.
func (q *Queue) Run(ctx context.Context, numWorkers int) error {
	log := logger.Get(ctx)
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i := range numWorkers {
			workerName := fmt.Sprintf("workqueue-%02d", i)
			spawn(workerName, parallel.Fail, func(ctx context.Context) error {
				log.Debug("workqueue worker started", zap.String("worker", workerName))
				defer log.Debug("workqueue worker stopped", zap.String("worker", workerName))
				for {
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case fn, ok := <-q.ch:
						if !ok {
							return errors.WithStack(ctx.Err())
						}
						fn()
					}
				}
			})
		}
		return nil
	})
}
