package vlasov

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// parallelFor calls fn for every index in [0, n) on up to workers goroutines
// and waits for all of them. Each index is handled by exactly one worker.
// Workers stop picking up new indices after the first error, which is
// returned.
func parallelFor(ctx context.Context, n, workers int, fn func(i int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		stop     atomic.Bool
		firstErr error
		errMu    sync.Mutex
	)
	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		stop.Store(true)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				if err := ctx.Err(); err != nil {
					record(err)
					return
				}
				if err := fn(i); err != nil {
					record(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	return firstErr
}
