// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs CPU kernels in parallel over ranges, with a soft limit on the number of goroutines.
package workerspool

import (
	"runtime"
	"sync"
)

type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of tasks running concurrently.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ParallelFor splits [0, n) in contiguous chunks of at least grainSize elements, and calls fn(start, end)
// for each chunk, in parallel. It returns once all chunks are done.
//
// Chunks are disjoint, so fn can write to per-element outputs without synchronization.
// If fn panics in any chunk, ParallelFor re-panics with the first panic value after all chunks finished.
func (w *Pool) ParallelFor(n, grainSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	grainSize = max(grainSize, 1)
	numChunks := (n + grainSize - 1) / grainSize
	if !w.IsUnlimited() {
		numChunks = min(numChunks, max(w.maxParallelism, 1))
	}
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks

	var (
		wg         sync.WaitGroup
		muPanic    sync.Mutex
		panicValue any
	)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					muPanic.Lock()
					if panicValue == nil {
						panicValue = r
					}
					muPanic.Unlock()
				}
			}()
			fn(start, end)
		})
	}
	wg.Wait()
	if panicValue != nil {
		panic(panicValue)
	}
}
