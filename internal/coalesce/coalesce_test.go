package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrCreateCoalescesConcurrentCallers(t *testing.T) {
	g := New(16)
	ctx := context.Background()

	var produced int64
	release := make(chan struct{})

	const callers = 20
	results := make([]any, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
				atomic.AddInt64(&produced, 1)
				<-release
				return "value", nil
			})
		}(i)
	}

	// Let every caller reach the group before the production settles.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&produced); got != 1 {
		t.Fatalf("expected exactly one production, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "value" {
			t.Fatalf("caller %d: unexpected result: %v", i, results[i])
		}
	}
}

func TestGetOrCreateRetriesAfterFailure(t *testing.T) {
	g := New(16)
	ctx := context.Background()

	boom := errors.New("boom")
	if _, err := g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	calls := 0
	v, err := g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected second factory to run once, got %d", calls)
	}
	if v != 42 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestGetOrCreateReturnsSettledOutcome(t *testing.T) {
	g := New(16)
	ctx := context.Background()

	first, _ := g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
		return "settled", nil
	})
	second, err := g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
		t.Fatal("factory must not run on hit")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("hit returned error: %v", err)
	}
	if first != second {
		t.Fatalf("hit returned a different outcome: %v vs %v", first, second)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	g := New(2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if _, err := g.GetOrCreate(ctx, key, func(context.Context) (any, error) {
			return key, nil
		}); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	// Touch "a" so "b" is the LRU entry.
	if _, err := g.GetOrCreate(ctx, "a", func(context.Context) (any, error) {
		t.Fatal("unexpected production for a")
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := g.GetOrCreate(ctx, "c", func(context.Context) (any, error) {
		return "c", nil
	}); err != nil {
		t.Fatal(err)
	}

	if g.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", g.Len())
	}

	// "b" must produce again, "a" must not.
	bCalls := 0
	if _, err := g.GetOrCreate(ctx, "b", func(context.Context) (any, error) {
		bCalls++
		return "b2", nil
	}); err != nil {
		t.Fatal(err)
	}
	if bCalls != 1 {
		t.Fatalf("expected b to be evicted and re-produced, calls=%d", bCalls)
	}
}

func TestWaiterContextExpiryDoesNotCancelProduction(t *testing.T) {
	g := New(16)

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = g.GetOrCreate(context.Background(), "k", func(context.Context) (any, error) {
			close(started)
			<-release
			return "done", nil
		})
	}()
	<-started

	waiterCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.GetOrCreate(waiterCtx, "k", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded for the waiter, got %v", err)
	}

	close(release)

	// The production settled normally and is observable afterwards.
	v, err := g.GetOrCreate(context.Background(), "k", func(context.Context) (any, error) {
		t.Fatal("production must not rerun")
		return nil, nil
	})
	if err != nil || v != "done" {
		t.Fatalf("expected settled outcome, got %v, %v", v, err)
	}
}

func TestForget(t *testing.T) {
	g := New(16)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		calls := 0
		if _, err := g.GetOrCreate(ctx, "k", func(context.Context) (any, error) {
			calls++
			return fmt.Sprintf("v%d", i), nil
		}); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Fatalf("round %d: expected production, calls=%d", i, calls)
		}
		g.Forget("k")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty group, got %d", g.Len())
	}
}
