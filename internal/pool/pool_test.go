package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapOrderAndErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	var done atomic.Int32
	results := Map(context.Background(), 3, items, func(ctx context.Context, n int) (int, error) {
		if n == 4 {
			return 0, errors.New("four")
		}
		return n * n, nil
	}, func() { done.Add(1) })

	if len(results) != len(items) {
		t.Fatalf("len=%d, want=%d", len(results), len(items))
	}
	for i, r := range results {
		if r.Index != i || r.Item != items[i] {
			t.Fatalf("result %d out of order: %+v", i, r)
		}
		if r.Item == 4 {
			if r.Err == nil {
				t.Fatal("error for item 4 lost")
			}
			continue
		}
		if r.Err != nil || r.Value != r.Item*r.Item {
			t.Fatalf("item %d: value=%d err=%v", r.Item, r.Value, r.Err)
		}
	}
	if n := done.Load(); n != int32(len(items)) {
		t.Fatalf("progress calls=%d, want=%d", n, len(items))
	}
	if errs := Errors(results); len(errs) != 1 || errs[0].Item != 4 {
		t.Fatalf("Errors=%+v", errs)
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int32
	items := make([]int, 40)
	Map(context.Background(), 4, items, func(ctx context.Context, _ int) (struct{}, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		cur.Add(-1)
		return struct{}{}, nil
	}, nil)
	if p := peak.Load(); p > 4 {
		t.Fatalf("peak concurrency=%d, want<=4", p)
	}
}

func TestMapRecoversPanic(t *testing.T) {
	results := Map(context.Background(), 2, []string{"ok", "bad"}, func(ctx context.Context, s string) (string, error) {
		if s == "bad" {
			panic("bad item")
		}
		return s, nil
	}, nil)
	if results[0].Err != nil || results[1].Err == nil {
		t.Fatalf("results=%+v", results)
	}
}

func TestMapCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	results := Map(ctx, 2, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}, nil)
	if calls.Load() != 0 {
		t.Fatalf("fn ran %d times on a canceled context", calls.Load())
	}
	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", r.Err)
		}
	}
}

func TestClamp(t *testing.T) {
	cases := map[int]int{0: DefaultWorkers, -1: DefaultWorkers, 8: 32, 40: 40, 100: 64}
	for in, want := range cases {
		if got := Clamp(in); got != want {
			t.Fatalf("Clamp(%d)=%d, want=%d", in, got, want)
		}
	}
}
