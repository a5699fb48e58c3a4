// Package keyedmutex coalesces concurrent calls per key: at most one call
// for a key is in flight, and every caller waiting on that key receives its
// result. Once the call settles the key is forgotten, so the next caller
// starts a fresh call.
package keyedmutex

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group 按 key 合并并发调用
type Group[T any] struct {
	sf       singleflight.Group
	inflight atomic.Int64
}

// Do runs fn once per key among concurrent callers. The shared call runs
// with the first caller's context; a caller whose own ctx ends stops
// waiting and gets ctx.Err() while the call keeps running for the others.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		g.inflight.Add(1)
		defer g.inflight.Add(-1)
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// InFlight 当前正在执行的调用数
func (g *Group[T]) InFlight() int {
	return int(g.inflight.Load())
}
