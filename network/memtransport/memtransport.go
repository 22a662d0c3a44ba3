// Package memtransport is the in-memory network.Peer implementation used
// by tests: it calls straight into a local network.Peer (typically a
// *replica.Replica) without any real I/O, optionally dropping calls to
// simulate partitions — mirroring the teacher's
// paxos/fake test-double pattern.
package memtransport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/replogio/replog/network"
	"github.com/replogio/replog/wire"
)

// ErrPartitioned is returned by a Peer whose link has been cut with
// SetPartitioned(true), simulating an unreachable replica.
var ErrPartitioned = errors.New("memtransport: peer partitioned")

// Peer adapts a local network.Peer so it can be dropped into a
// network.Set[Peer] and partitioned on demand during tests.
type Peer struct {
	target      network.Peer
	partitioned atomic.Bool
	dropLearned atomic.Bool

	mu             sync.Mutex
	droppedLearned []wire.LearnedMessage
}

var _ network.Peer = &Peer{}

// New wraps target for in-process delivery.
func New(target network.Peer) *Peer {
	return &Peer{target: target}
}

// SetPartitioned cuts or restores the simulated link.
func (p *Peer) SetPartitioned(v bool) {
	p.partitioned.Store(v)
}

// SetDropLearned drops only Learned calls while Promise and Write keep
// flowing, simulating a replica that accepts every round but never hears
// the follow-up notification (spec scenario 6, "fill with missing
// learned") without partitioning it outright.
func (p *Peer) SetDropLearned(v bool) {
	p.dropLearned.Store(v)
}

func (p *Peer) Promise(ctx context.Context, req wire.PromiseRequest) (wire.PromiseResponse, error) {
	if p.partitioned.Load() {
		return wire.PromiseResponse{}, ErrPartitioned
	}
	return p.target.Promise(ctx, req)
}

func (p *Peer) Write(ctx context.Context, req wire.WriteRequest) (wire.WriteResponse, error) {
	if p.partitioned.Load() {
		return wire.WriteResponse{}, ErrPartitioned
	}
	return p.target.Write(ctx, req)
}

func (p *Peer) Learned(ctx context.Context, msg wire.LearnedMessage) {
	if p.partitioned.Load() || p.dropLearned.Load() {
		p.mu.Lock()
		p.droppedLearned = append(p.droppedLearned, msg)
		p.mu.Unlock()
		return
	}
	p.target.Learned(ctx, msg)
}

func (p *Peer) Recover(ctx context.Context, req wire.RecoverRequest) (wire.RecoverResponse, error) {
	if p.partitioned.Load() {
		return wire.RecoverResponse{}, ErrPartitioned
	}
	return p.target.Recover(ctx, req)
}

// DroppedLearned returns every LearnedMessage that arrived while
// partitioned or while SetDropLearned(true) was in effect, for tests that
// want to assert on drops (e.g. "Fill with
// missing learned", spec scenario 6).
func (p *Peer) DroppedLearned() []wire.LearnedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.LearnedMessage, len(p.droppedLearned))
	copy(out, p.droppedLearned)
	return out
}
