package runner

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// abortError marks a job failure that should stop the jobs not yet started.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps err so RunPool cancels the remaining jobs.
func Abort(err error) error {
	return &abortError{err: err}
}

// RunPool executes jobs with at most maxWorkers concurrently. Returns all errors.
// Jobs see a context that is cancelled once any job returns an Abort error.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, job := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := job(gctx)
			if err == nil {
				return nil
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			var abort *abortError
			if errors.As(err, &abort) {
				return err
			}
			return nil
		})
	}
	g.Wait()
	return errs
}
