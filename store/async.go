// Copyright (C) 2025 Sitka Data (oss@sitkadata.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Async offloads Handler calls onto a bounded pool of goroutines so a
// caller in a cooperative-scheduling context does not stall on disk I/O.
// The contracts are identical to the synchronous API; ordering guarantees
// are unchanged (per-path serialization still comes from the Handler's
// lock registry, nothing else).
type Async struct {
	handler *Handler
	sem     chan struct{}
	wg      sync.WaitGroup
}

// ReadResult carries an asynchronous ReadJSON outcome.
type ReadResult struct {
	Value any
	OK    bool
}

// CSVResult carries an asynchronous ReadCSV outcome.
type CSVResult struct {
	Rows []map[string]string
	OK   bool
}

// NewAsync wraps handler with a pool of at most workers concurrent
// operations. workers <= 0 selects 4.
func NewAsync(handler *Handler, workers int) *Async {
	if workers <= 0 {
		workers = 4
	}
	return &Async{
		handler: handler,
		sem:     make(chan struct{}, workers),
	}
}

// WriteJSON runs Handler.WriteJSON on the pool. The returned channel
// receives exactly one value; false is delivered without an attempt when
// ctx is cancelled before a worker slot frees up.
func (a *Async) WriteJSON(ctx context.Context, value any, path string) <-chan bool {
	return a.submitBool(ctx, func() bool {
		return a.handler.WriteJSON(ctx, value, path)
	})
}

// WriteJSONLines runs Handler.WriteJSONLines on the pool.
func (a *Async) WriteJSONLines(ctx context.Context, records []any, path string) <-chan bool {
	return a.submitBool(ctx, func() bool {
		return a.handler.WriteJSONLines(ctx, records, path)
	})
}

// WriteCSV runs Handler.WriteCSV on the pool.
func (a *Async) WriteCSV(ctx context.Context, records []map[string]any, path string) <-chan bool {
	return a.submitBool(ctx, func() bool {
		return a.handler.WriteCSV(ctx, records, path)
	})
}

// ReadJSON runs Handler.ReadJSON on the pool.
func (a *Async) ReadJSON(ctx context.Context, path string) <-chan ReadResult {
	out := make(chan ReadResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if !a.acquire(ctx) {
			out <- ReadResult{}
			return
		}
		defer a.release()
		value, ok := a.handler.ReadJSON(ctx, path)
		out <- ReadResult{Value: value, OK: ok}
	}()
	return out
}

// ReadCSV runs Handler.ReadCSV on the pool.
func (a *Async) ReadCSV(ctx context.Context, path string) <-chan CSVResult {
	out := make(chan CSVResult, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if !a.acquire(ctx) {
			out <- CSVResult{}
			return
		}
		defer a.release()
		rows, ok := a.handler.ReadCSV(ctx, path)
		out <- CSVResult{Rows: rows, OK: ok}
	}()
	return out
}

// WriteJSONBatch writes every (path, value) pair concurrently, bounded by
// the pool size, and returns the number of successful writes. Paths are
// independent files; per-path serialization is unaffected.
func (a *Async) WriteJSONBatch(ctx context.Context, items map[string]any) int {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(a.sem))

	var mu sync.Mutex
	succeeded := 0
	for path, value := range items {
		path, value := path, value
		g.Go(func() error {
			if a.handler.WriteJSON(ctx, value, path) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return succeeded
}

// Wait blocks until every submitted operation has completed.
func (a *Async) Wait() {
	a.wg.Wait()
}

func (a *Async) submitBool(ctx context.Context, fn func() bool) <-chan bool {
	out := make(chan bool, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if !a.acquire(ctx) {
			out <- false
			return
		}
		defer a.release()
		out <- fn()
	}()
	return out
}

func (a *Async) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case a.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Async) release() {
	<-a.sem
}
