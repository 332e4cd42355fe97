package pipeline

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers is the shared pool that runs model calls for every participant in
// the process. ASR and MT are CPU-bound, so the pool is sized to the
// available parallelism by default.
type Workers struct {
	g *errgroup.Group
}

// NewWorkers creates a pool with at most n concurrent jobs. n <= 0 uses
// [runtime.GOMAXPROCS].
func NewWorkers(n int) *Workers {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	g := &errgroup.Group{}
	g.SetLimit(n)
	return &Workers{g: g}
}

// Go runs fn on the pool, waiting for a free slot. Callers on a latency
// sensitive path should use [Workers.TryGo] instead.
func (w *Workers) Go(fn func()) {
	w.g.Go(func() error {
		fn()
		return nil
	})
}

// TryGo runs fn if a slot is free and reports whether it was started. Used
// for interim transcripts, which are droppable by contract.
func (w *Workers) TryGo(fn func()) bool {
	return w.g.TryGo(func() error {
		fn()
		return nil
	})
}

// Wait blocks until all submitted jobs have finished.
func (w *Workers) Wait() {
	_ = w.g.Wait()
}
