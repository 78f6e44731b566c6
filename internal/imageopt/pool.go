package imageopt

import (
	"context"
	"sync"
)

// Pool bounds concurrent CPU-heavy image work (classification, resize,
// JPEG encode) to a fixed number of in-flight jobs via a buffered-channel
// semaphore. Grounded on the teacher's dropped internal/llm/embeddings.go
// bounded-concurrency pattern, generalized from embedding requests to
// image jobs.
type Pool struct {
	sem chan struct{}
}

// NewPool constructs a Pool allowing at most size concurrent jobs. size
// <= 0 defaults to 4.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit blocks until a slot is free (or ctx is done), runs job, then
// releases the slot. The job's error (if any) is returned to the caller.
func (p *Pool) Submit(ctx context.Context, job func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return job()
}

// Job pairs an input with the function that produces a Result, used by
// SubmitAll to report per-item outcomes without one failure sinking the
// whole batch.
type Job[T, R any] struct {
	Input T
	Fn    func(T) (R, error)
}

// Result is one Job's outcome.
type Result[R any] struct {
	Value R
	Err   error
}

// SubmitAll runs every job through the pool concurrently and returns
// results in the same order as jobs, so a batch of N screenshots can be
// optimized in parallel while still respecting Pool's concurrency cap.
func SubmitAll[T, R any](ctx context.Context, p *Pool, jobs []Job[T, R]) []Result[R] {
	results := make([]Result[R], len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))

	for i, j := range jobs {
		i, j := i, j
		go func() {
			defer wg.Done()
			err := p.Submit(ctx, func() error {
				v, err := j.Fn(j.Input)
				results[i] = Result[R]{Value: v, Err: err}
				return err
			})
			if err != nil && results[i].Err == nil {
				results[i].Err = err
			}
		}()
	}

	wg.Wait()
	return results
}
