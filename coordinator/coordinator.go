// Package coordinator implements the proposer side of the Multi-Paxos
// variant described in spec §4.4: election (Phase 1 across every position)
// followed by append/truncate (Phase 2 at the next position). It is
// grounded on the teacher's paxos/core.go CoreLogic (StartElection,
// GetVoteRequest, HandleVoteResponse) and paxos/runner.go NodeRunner
// shapes, renamed from the teacher's leader-election vocabulary
// (StateFollower/StateCandidate/StateLeader) to Promise/Write/elected, and
// rebuilt on this module's network.Broadcast instead of the teacher's
// per-runner goroutines.
package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/replogio/replog/clock"
	"github.com/replogio/replog/network"
	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/wire"
)

// ErrNotElected is returned by Append and Truncate when this coordinator
// does not currently hold election, either because it never won one or
// because a peer's rejection demoted it. A write that is cancelled through
// its context while waiting for a quorum also demotes the coordinator and
// returns this error. Callers must call Elect again.
var ErrNotElected = errors.New("coordinator: not elected")

// Coordinator is the proposer actor for one replica: it runs election and
// serializes all append/truncate proposals through a single in-process
// mutex, matching the "single owner, suspension only between public
// calls" shape the teacher uses for coreLogicImpl.
type Coordinator struct {
	self   *replica.Replica
	peers  *network.Set[network.Peer]
	quorum int
	clock  clock.Clock
	log    *zap.Logger

	mu              sync.Mutex
	proposal        wire.Proposal
	currentPosition wire.Position
	elected         bool
}

// New returns a Coordinator for self, proposing over peers (which must
// include self's own loopback Peer, since quorum is counted over the
// whole voting membership). quorum is the number of okay responses
// (inclusive of self) required to win a round.
func New(self *replica.Replica, peers *network.Set[network.Peer], quorum int, clk clock.Clock, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{self: self, peers: peers, quorum: quorum, clock: clk, log: log}
}

// Elected reports whether this coordinator currently holds election.
func (c *Coordinator) Elected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elected
}

// CurrentPosition returns the position of the last action this
// coordinator proposed (or, right after a successful election, the log
// end that election reported), regardless of whether it is still elected.
func (c *Coordinator) CurrentPosition() wire.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPosition
}

type electOutcome int

const (
	outcomeElected electOutcome = iota
	// outcomeRejected means a peer reported a higher proposal during the
	// Promise phase; the whole election round restarts with a bumped
	// proposal after a randomized backoff.
	outcomeRejected
	// outcomeQuorumFailed means the Promise phase or a hole-filling
	// Phase 2 exchange could not reach quorum; election gives up and
	// returns "not elected" to the caller, who may retry later.
	outcomeQuorumFailed
)

// Elect runs spec §4.4's election until it wins, the quorum is
// unreachable, or ctx is cancelled. On success it returns the log's
// current end position once any holes it found are filled (0, with a
// freshly written NOP, if the whole cluster had never persisted
// anything), and this coordinator is elected until a future Append or
// Truncate is rejected.
func (c *Coordinator) Elect(ctx context.Context) (wire.Position, bool) {
	for {
		if ctx.Err() != nil {
			return 0, false
		}

		pos, outcome := c.electOnce(ctx)
		switch outcome {
		case outcomeElected:
			return pos, true
		case outcomeQuorumFailed:
			return 0, false
		default:
			c.backoff(ctx)
		}
	}
}

func (c *Coordinator) electOnce(ctx context.Context) (wire.Position, electOutcome) {
	md, state := c.self.Status()

	c.mu.Lock()
	if c.proposal < md.Promised {
		c.proposal = md.Promised
	}
	c.proposal++
	proposal := c.proposal
	c.mu.Unlock()

	req := wire.PromiseRequest{Proposal: proposal, AfterSet: state.HasData, After: state.End}
	results := network.Broadcast(ctx, c.peers.Snapshot(), func(ctx context.Context, p network.Peer) (wire.PromiseResponse, error) {
		return p.Promise(ctx, req)
	})

	okayCount := 0
	haveMaxEnd := state.HasData
	maxEnd := state.End
	var maxRejected wire.Proposal
	rejected := false
	holes := map[wire.Position]wire.Action{}

	for r := range results {
		if r.Err != nil {
			continue
		}
		resp := r.Value
		if !resp.Okay {
			rejected = true
			if resp.Proposal > maxRejected {
				maxRejected = resp.Proposal
			}
			continue
		}
		okayCount++
		if resp.HasEnd && (!haveMaxEnd || resp.Position > maxEnd) {
			maxEnd = resp.Position
			haveMaxEnd = true
		}
		for _, a := range resp.Holes {
			if existing, ok := holes[a.Position]; !ok || wire.HigherPriority(a, existing) {
				holes[a.Position] = a
			}
		}
	}

	if rejected {
		c.mu.Lock()
		if maxRejected > c.proposal {
			c.proposal = maxRejected
		}
		c.mu.Unlock()
		return 0, outcomeRejected
	}
	if okayCount < c.quorum {
		return 0, outcomeQuorumFailed
	}

	// A quorum's Promise grant already makes this proposal the log's new
	// owner; no placeholder write is needed on top of that unless the
	// whole cluster has never persisted anything, in which case a NOP at
	// position 0 gives the log a starting point. Otherwise election only
	// ever fills the holes between this replica's own end and the
	// highest end any replica in the round reported, and the elected
	// position is simply that highest end — not one past it.
	if !haveMaxEnd {
		bootstrapReq := wire.WriteRequest{Proposal: proposal, Position: 0, Type: wire.ActionNOP}
		if quorum, _ := c.phase2Broadcast(ctx, bootstrapReq); !quorum {
			return 0, outcomeQuorumFailed
		}

		c.mu.Lock()
		c.proposal = proposal
		c.currentPosition = 0
		c.elected = true
		c.mu.Unlock()

		c.broadcastLearned(ctx, 0, 0)
		return 0, outcomeElected
	}

	var startHole wire.Position
	if state.HasData {
		startHole = state.End + 1
	}
	for pos := startHole; pos <= maxEnd; pos++ {
		writeReq := wire.WriteRequest{Proposal: proposal, Position: pos, Type: wire.ActionNOP}
		if hole, ok := holes[pos]; ok {
			writeReq.Type = hole.Type
			writeReq.Payload = hole.Payload
			writeReq.TruncateTo = hole.TruncateTo
		}
		if quorum, _ := c.phase2Broadcast(ctx, writeReq); !quorum {
			return 0, outcomeQuorumFailed
		}
	}

	c.mu.Lock()
	c.proposal = proposal
	c.currentPosition = maxEnd
	c.elected = true
	c.mu.Unlock()

	c.broadcastLearned(ctx, startHole, maxEnd)
	return maxEnd, outcomeElected
}

// Append proposes an APPEND action with payload at the next position.
// Requires this coordinator to currently be elected.
func (c *Coordinator) Append(ctx context.Context, payload []byte) (wire.Position, error) {
	return c.propose(ctx, wire.WriteRequest{Type: wire.ActionAppend, Payload: payload})
}

// Truncate proposes a TRUNCATE action retiring every position below to.
// Requires this coordinator to currently be elected.
func (c *Coordinator) Truncate(ctx context.Context, to wire.Position) (wire.Position, error) {
	return c.propose(ctx, wire.WriteRequest{Type: wire.ActionTruncate, TruncateTo: to})
}

func (c *Coordinator) propose(ctx context.Context, req wire.WriteRequest) (wire.Position, error) {
	c.mu.Lock()
	if !c.elected {
		c.mu.Unlock()
		return 0, ErrNotElected
	}
	c.currentPosition++
	req.Position = c.currentPosition
	req.Proposal = c.proposal
	proposal := c.proposal
	pos := c.currentPosition
	c.mu.Unlock()

	quorum, maxRejected := c.phase2Broadcast(ctx, req)
	for !quorum && maxRejected == 0 && ctx.Err() == nil {
		// No peer rejected the proposal, so the quorum is only unreachable
		// for now: the write stays pending and is retried after a backoff.
		c.backoff(ctx)
		quorum, maxRejected = c.phase2Broadcast(ctx, req)
	}
	if !quorum {
		c.mu.Lock()
		if maxRejected > proposal && maxRejected > c.proposal {
			c.proposal = maxRejected
		}
		c.elected = false
		c.mu.Unlock()
		return 0, ErrNotElected
	}

	c.broadcastLearned(ctx, pos, pos)
	return pos, nil
}

// phase2Broadcast runs one Write round and reports whether it reached
// quorum, along with the highest rejecting proposal seen (0 if none).
func (c *Coordinator) phase2Broadcast(ctx context.Context, req wire.WriteRequest) (bool, wire.Proposal) {
	results := network.Broadcast(ctx, c.peers.Snapshot(), func(ctx context.Context, p network.Peer) (wire.WriteResponse, error) {
		return p.Write(ctx, req)
	})

	okayCount := 0
	var maxRejected wire.Proposal
	for r := range results {
		if r.Err != nil {
			continue
		}
		if r.Value.Okay {
			okayCount++
		} else if r.Value.Proposal > maxRejected {
			maxRejected = r.Value.Proposal
		}
	}
	return okayCount >= c.quorum, maxRejected
}

// broadcastLearned fires Learned at every peer for [from, to], best
// effort: per spec §4.3 a dropped Learned is recovered later by
// catch-up, so no response is awaited here.
func (c *Coordinator) broadcastLearned(ctx context.Context, from, to wire.Position) {
	peers := c.peers.Snapshot()
	for pos := from; pos <= to; pos++ {
		msg := wire.LearnedMessage{Position: pos}
		for _, p := range peers {
			go p.Learned(ctx, msg)
		}
	}
}

func (c *Coordinator) backoff(ctx context.Context) {
	d := 200*time.Millisecond + time.Duration(rand.Intn(800))*time.Millisecond
	select {
	case <-c.clock.After(d):
	case <-ctx.Done():
	}
}
