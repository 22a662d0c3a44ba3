// Package actor provides two small concurrency primitives: Future, the
// one-shot value network.Set.Watch resolves, and KeyRunner, which catch-up
// uses to keep a keyed set of background goroutines (one per missing
// position) that are started, restarted, or cancelled as the set of
// interesting keys changes. network.Broadcast and recover's polling loop
// use neither. KeyRunner is
// the same "one goroutine per active peer/position, torn down and
// restarted on change" shape the teacher library uses for vote/accept/
// replication runners, adapted here to use stdlib context.Context for
// cancellation instead of a custom deterministic-replay context.
package actor

import (
	"context"
	"sync"
)

// KeyRunner manages one background goroutine per distinct key derived from
// a set of values. Upsert reconciles the desired set: new keys get a
// goroutine started, removed keys get theirs cancelled, and keys whose
// value changed get their goroutine cancelled and restarted with the new
// value.
type KeyRunner[K comparable, V comparable] struct {
	getKey  func(V) K
	handler func(ctx context.Context, val V)

	mu      sync.Mutex
	wg      sync.WaitGroup
	running map[K]*runEntry[V]
}

type runEntry[V comparable] struct {
	val    V
	cancel context.CancelFunc
}

// New creates a KeyRunner. handler runs in its own goroutine per key and
// must return promptly when ctx is cancelled.
func New[K comparable, V comparable](getKey func(V) K, handler func(ctx context.Context, val V)) *KeyRunner[K, V] {
	return &KeyRunner[K, V]{
		getKey:  getKey,
		handler: handler,
		running: map[K]*runEntry[V]{},
	}
}

// Upsert reconciles the running set to exactly match values. Returns true
// if anything was started, restarted, or stopped.
func (r *KeyRunner[K, V]) Upsert(values []V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false

	wantSet := make(map[K]V, len(values))
	for _, v := range values {
		wantSet[r.getKey(v)] = v
	}

	for key, entry := range r.running {
		if _, ok := wantSet[key]; !ok {
			entry.cancel()
			delete(r.running, key)
			changed = true
		}
	}

	for key, val := range wantSet {
		entry, ok := r.running[key]
		if ok {
			if entry.val == val {
				continue
			}
			entry.cancel()
			changed = true
		}
		changed = true
		r.startLocked(key, val)
	}

	return changed
}

func (r *KeyRunner[K, V]) startLocked(key K, val V) {
	ctx, cancel := context.WithCancel(context.Background())
	r.running[key] = &runEntry[V]{val: val, cancel: cancel}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.handler(ctx, val)
	}()
}

// Shutdown cancels every running goroutine and waits for all of them to
// return.
func (r *KeyRunner[K, V]) Shutdown() {
	r.mu.Lock()
	for _, entry := range r.running {
		entry.cancel()
	}
	r.running = map[K]*runEntry[V]{}
	r.mu.Unlock()

	r.wg.Wait()
}

// Len reports how many keys currently have a running goroutine.
func (r *KeyRunner[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
