package scheduler

import (
	"context"
	"sync"
)

// runPool executes tasks with at most `workers` running concurrently and
// waits for all of them. Tasks already dispatched keep running after ctx is
// cancelled; no new ones start.
func runPool(ctx context.Context, workers int, tasks []func(ctx context.Context)) {
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(task func(ctx context.Context)) {
			defer wg.Done()
			defer func() { <-sem }()
			task(ctx)
		}(t)
	}

	wg.Wait()
}
