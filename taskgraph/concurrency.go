package taskgraph

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedSemaphores hands out a process-wide *semaphore.Weighted per
// concurrency key, so every task declaring the same Decl.ConcurrencyKey
// (e.g. "mixdown") shares one limiter regardless of which run it belongs
// to.
type keyedSemaphores struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newKeyedSemaphores() *keyedSemaphores {
	return &keyedSemaphores{sems: make(map[string]*semaphore.Weighted)}
}

func (k *keyedSemaphores) acquire(ctx context.Context, key string, maxRuns int64) (release func(), err error) {
	if key == "" {
		return func() {}, nil
	}
	k.mu.Lock()
	sem, ok := k.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(maxRuns)
		k.sems[key] = sem
	}
	k.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
