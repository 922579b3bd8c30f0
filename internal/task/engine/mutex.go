package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// namedMutex is a channel-based mutex so acquisition can honor a context.
type namedMutex struct {
	ch chan struct{}
}

func newNamedMutex() *namedMutex {
	m := &namedMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m *namedMutex) lock(ctx context.Context) error {
	// Fast path so an uncontended lock never loses to a cancelled context.
	select {
	case <-m.ch:
		return nil
	default:
	}
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (m *namedMutex) unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// Mutexes is a registry of named mutexes shared by the work of one pool.
// Mutexes are created on first use and kept for the registry's lifetime.
// The registry lock only guards creation, never acquisition.
type Mutexes struct {
	mu sync.Mutex
	m  map[string]*namedMutex
}

func NewMutexes() *Mutexes { return &Mutexes{m: make(map[string]*namedMutex)} }

func (r *Mutexes) get(name string) *namedMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]*namedMutex)
	}
	m := r.m[name]
	if m == nil {
		m = newNamedMutex()
		r.m[name] = m
	}
	return m
}

// Lock acquires the named mutexes in the given order (duplicates and blanks
// are ignored) and returns a func releasing them in reverse order. If ctx
// ends while waiting, whatever was taken is released and the cause returned.
func (r *Mutexes) Lock(ctx context.Context, names []string) (unlock func(), err error) {
	held := make([]*namedMutex, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].unlock()
		}
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		m := r.get(name)
		if err := m.lock(ctx); err != nil {
			release()
			return nil, err
		}
		held = append(held, m)
	}
	return release, nil
}

// Names returns the names of all mutexes created so far, sorted.
func (r *Mutexes) Names() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.m))
	for name := range r.m {
		out = append(out, name)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
