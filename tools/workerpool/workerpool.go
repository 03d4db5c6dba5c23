/* workerpool runs a limited number of error returning jobs concurrently.
 *
 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package workerpool

import (
	"context"
	"fmt"
	"sync"
)

// MultiErr contains multiple errors.
type MultiErr []error

// Error returns a string representation of the multi error.
func (m MultiErr) Error() string {
	return fmt.Sprint([]error(m))
}

// Unwrap makes errors.Is and errors.As look at every contained error.
func (m MultiErr) Unwrap() []error {
	return []error(m)
}

// WorkerPool runs jobs concurrently, at most a fixed number at a time.
// The first failing job cancels the context of the pool.
type WorkerPool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tickets chan struct{}
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs MultiErr
}

// New returns a new worker pool derived from ctx. A concurrency <= 0 means no limit.
func New(ctx context.Context, concurrency int) *WorkerPool {
	w := &WorkerPool{}
	w.ctx, w.cancel = context.WithCancel(ctx)
	if concurrency > 0 {
		w.tickets = make(chan struct{}, concurrency)
	}
	return w
}

// Context returns the context jobs should watch. It is done when the parent is,
// or when any job has returned an error.
func (w *WorkerPool) Context() context.Context {
	return w.ctx
}

// Go runs the job, blocking until there is room for it in the pool.
// Jobs submitted after the pool context is done are not run.
func (w *WorkerPool) Go(job func() error) {
	if w.ctx.Err() != nil {
		return
	}
	if w.tickets != nil {
		select {
		case w.tickets <- struct{}{}:
		case <-w.ctx.Done():
			return
		}
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		err := job()
		if w.tickets != nil {
			<-w.tickets
		}
		if err != nil {
			w.mu.Lock()
			w.errs = append(w.errs, err)
			w.mu.Unlock()
			w.cancel()
		}
	}()
}

// Wait waits for all submitted jobs to finish and returns their errors, if any.
// If no job failed but the parent context was cancelled, its error is returned.
func (w *WorkerPool) Wait() error {
	w.wg.Wait()
	defer w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.errs) > 0 {
		return w.errs
	}
	return w.ctx.Err()
}
