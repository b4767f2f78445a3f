package coalesce

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxEntries = 256

// entry is one keyed outcome. It is inserted before the production
// settles so that concurrent callers for the same key find it and wait
// instead of producing again.
type entry struct {
	key  string
	done chan struct{}
	val  any
	err  error
	elem *list.Element
}

// Group coalesces concurrent work by key: at most one production runs
// per key, and every caller for that key observes the identical
// outcome. Settled successful outcomes stay cached (LRU-bounded) until
// evicted; failed outcomes are removed so a later call retries.
type Group struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
}

// New creates a Group holding at most maxEntries outcomes.
// Non-positive maxEntries selects a default of 256.
func New(maxEntries int) *Group {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Group{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

// GetOrCreate returns the outcome recorded under key, producing it with
// produce on first call. Concurrent callers for the same key block until
// the single production settles. A caller whose ctx expires while
// waiting gets ctx.Err(), but the production itself keeps running for
// the callers still attached.
func (g *Group) GetOrCreate(ctx context.Context, key string, produce func(ctx context.Context) (any, error)) (any, error) {
	g.mu.Lock()
	if e, ok := g.entries[key]; ok {
		g.order.MoveToFront(e.elem)
		g.mu.Unlock()
		return g.wait(ctx, e)
	}

	e := &entry{
		key:  key,
		done: make(chan struct{}),
	}
	e.elem = g.order.PushFront(e)
	g.entries[key] = e
	g.evictLocked()
	g.mu.Unlock()

	// Production runs in the first caller's goroutine; waiters observe
	// the settled entry.
	val, err := produce(ctx)

	g.mu.Lock()
	e.val = val
	e.err = err
	if err != nil {
		// failed outcomes never poison the key
		g.removeLocked(e)
	}
	g.mu.Unlock()
	close(e.done)

	return val, err
}

// Len returns the number of entries currently tracked, settled or not.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Forget drops the entry for key, if any. In-flight productions still
// settle for their attached waiters.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		g.removeLocked(e)
	}
}

func (g *Group) wait(ctx context.Context, e *entry) (any, error) {
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evictLocked trims the least recently used entries down to capacity.
// Entries still producing are skipped; they are removed by their own
// settle path on failure or evicted once settled.
func (g *Group) evictLocked() {
	for len(g.entries) > g.maxEntries {
		elem := g.order.Back()
		for elem != nil {
			e := elem.Value.(*entry)
			if settled(e) {
				g.removeLocked(e)
				break
			}
			elem = elem.Prev()
		}
		if elem == nil {
			// everything in flight, nothing safe to evict
			return
		}
	}
}

func (g *Group) removeLocked(e *entry) {
	// The key may have been forgotten and re-inserted; only remove the
	// exact entry we hold.
	if cur, ok := g.entries[e.key]; ok && cur == e {
		delete(g.entries, e.key)
		g.order.Remove(e.elem)
	}
}

func settled(e *entry) bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
