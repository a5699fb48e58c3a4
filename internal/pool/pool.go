// Package pool runs a function over a slice with bounded concurrency and
// collects one structured result per item.
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers 默认并发数
const DefaultWorkers = 48

// Result 单个任务的结果，Index 为输入下标
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// Clamp keeps n within the supported worker range.
func Clamp(n int) int {
	switch {
	case n <= 0:
		return DefaultWorkers
	case n < 32:
		return 32
	case n > 64:
		return 64
	}
	return n
}

// Map runs fn for every item with at most workers in flight. Results are
// returned in input order. A failing item never stops the others; a
// canceled ctx marks the items that have not started with ctx.Err().
// progress, if non-nil, is called once per finished item.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) (R, error), progress func()) []Result[T, R] {
	results := make([]Result[T, R], len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, item := range items {
		i, item := i, item
		results[i] = Result[T, R]{Index: i, Item: item}
		if err := gctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("panic: %v", r)
				}
				if progress != nil {
					progress()
				}
			}()
			results[i].Value, results[i].Err = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Errors returns the results that failed.
func Errors[T, R any](results []Result[T, R]) []Result[T, R] {
	var out []Result[T, R]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
