package service

import (
	"context"
	"sync"
)

// Latest keeps only the newest in-flight query per key. Beginning a new query
// cancels the previous one; the finish func reports whether the caller's result
// is still the current one and may be applied.
type Latest struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]latestEntry
}

type latestEntry struct {
	gen    uint64
	cancel context.CancelFunc
}

func NewLatest() *Latest {
	return &Latest{current: make(map[string]latestEntry)}
}

// Begin registers a new generation for key. An empty key is never tracked.
func (l *Latest) Begin(ctx context.Context, key string) (context.Context, func() bool) {
	if key == "" {
		return ctx, func() bool { return true }
	}

	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if prev, ok := l.current[key]; ok {
		prev.cancel()
	}
	l.seq++
	gen := l.seq
	l.current[key] = latestEntry{gen: gen, cancel: cancel}
	l.mu.Unlock()

	return ctx, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		defer cancel()

		entry, ok := l.current[key]
		if !ok || entry.gen != gen {
			return false
		}
		delete(l.current, key)
		return true
	}
}

// InFlight returns the number of keys with a pending query.
func (l *Latest) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
