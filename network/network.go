// Package network maintains the current peer set for a replica's
// coordinator/recover/catch-up actors and offers a predicate wait ("size
// >= N", "= N", ...) plus a broadcast-and-collect primitive, per spec
// §4.3. It intentionally holds only peer addresses/handles — never
// back-pointers into a Replica's internals — so the Network/Coordinator/
// Replica reference cycle the design notes warn about cannot form.
package network

import (
	"sync"

	"github.com/replogio/replog/actor"
)

// PeerID identifies one member of the peer set.
type PeerID string

// Op is a comparison operator used by Watch.
type Op int

const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

func (op Op) check(size, n int) bool {
	switch op {
	case OpEQ:
		return size == n
	case OpNE:
		return size != n
	case OpLT:
		return size < n
	case OpLE:
		return size <= n
	case OpGT:
		return size > n
	case OpGE:
		return size >= n
	default:
		return false
	}
}

// Set owns a mutable set of peers, keyed by PeerID, plus any peer handle
// type P (typically an RPC client or an in-memory adapter implementing
// Peer).
type Set[P any] struct {
	mu       sync.Mutex
	peers    map[PeerID]P
	watchers []*watchEntry
}

type watchEntry struct {
	n      int
	op     Op
	future *actor.Future[int]
}

// NewSet returns an empty peer set.
func NewSet[P any]() *Set[P] {
	return &Set[P]{peers: map[PeerID]P{}}
}

// Add inserts or replaces the peer handle for id.
func (s *Set[P]) Add(id PeerID, peer P) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = peer
	s.checkWatchersLocked()
}

// Remove deletes id from the set, if present.
func (s *Set[P]) Remove(id PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
	s.checkWatchersLocked()
}

// Size returns the current peer count.
func (s *Set[P]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Snapshot returns a copy of the current peer map, safe to iterate
// without holding the Set's lock.
func (s *Set[P]) Snapshot() map[PeerID]P {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[PeerID]P, len(s.peers))
	for id, p := range s.peers {
		out[id] = p
	}
	return out
}

// Watch returns a Future that resolves with the peer count size as soon
// as size op n holds — immediately if it already holds, or on the next
// mutation that first satisfies it. Once resolved, a given Watch call's
// future never resolves again.
func (s *Set[P]) Watch(n int, op Op) *actor.Future[int] {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := actor.NewFuture[int]()
	if op.check(len(s.peers), n) {
		f.Resolve(len(s.peers))
		return f
	}

	s.watchers = append(s.watchers, &watchEntry{n: n, op: op, future: f})
	return f
}

func (s *Set[P]) checkWatchersLocked() {
	size := len(s.peers)
	remaining := s.watchers[:0]
	for _, w := range s.watchers {
		if w.op.check(size, w.n) {
			w.future.Resolve(size)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.watchers = remaining
}
