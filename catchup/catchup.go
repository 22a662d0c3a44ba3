// Package catchup implements spec §4.5: given a set of positions and a
// local replica, drive explicit Paxos rounds to learn the chosen value at
// each one the replica does not already have learned, retrying on a fixed
// cadence with a proposal bump each pass. One goroutine runs per
// in-flight position, managed by actor.KeyRunner the same way the
// teacher's NodeRunner keeps one key_runner-managed goroutine alive per
// peer; here the keys are positions instead of peers, specialized to the
// learner role the teacher's learner.go/learner_sender.go pair plays
// during checkpoint catch-up.
package catchup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/replogio/replog/actor"
	"github.com/replogio/replog/clock"
	"github.com/replogio/replog/network"
	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

// defaultRetryInterval is the fixed cadence each position's goroutine
// waits after an attempt that did not reach a quorum, per spec §4.5.
const defaultRetryInterval = 10 * time.Second

// Catchup fills holes in one local replica's log by re-running Paxos for
// specific positions it never learned a value for, such as after a
// dropped Learned message or while recovering.
type Catchup struct {
	self   *replica.Replica
	peers  *network.Set[network.Peer]
	quorum int
	clock  clock.Clock
	log    *zap.Logger

	mu       sync.Mutex
	proposal wire.Proposal
}

// New returns a Catchup driving rounds for self against peers (which must
// include self's own loopback Peer, matching coordinator's convention).
func New(self *replica.Replica, peers *network.Set[network.Peer], quorum int, clk clock.Clock, log *zap.Logger) *Catchup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catchup{self: self, peers: peers, quorum: quorum, clock: clk, log: log}
}

// Run blocks until every position in positions is learned locally or ctx
// is cancelled. Positions already learned are skipped without any
// network round trip. Each position still outstanding gets its own
// goroutine, started and torn down by a KeyRunner keyed on the position
// itself, so a slow or partitioned position never holds up the others.
func (c *Catchup) Run(ctx context.Context, positions []wire.Position) error {
	var pending []wire.Position
	for _, p := range positions {
		if !c.learnedLocally(p) {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	done := make(chan error, len(pending))
	runner := actor.New(func(p wire.Position) wire.Position { return p }, func(ctx context.Context, p wire.Position) {
		done <- c.retryUntilLearned(ctx, p)
	})
	runner.Upsert(pending)
	defer runner.Shutdown()

	for range pending {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// retryUntilLearned keeps attempting a single position on
// defaultRetryInterval until it is learned or ctx is cancelled.
func (c *Catchup) retryUntilLearned(ctx context.Context, p wire.Position) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.attempt(ctx, p) {
			return nil
		}
		select {
		case <-c.clock.After(defaultRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// learnedLocally reports whether p needs no further catch-up: either the
// local replica already has it learned, or it has since been truncated
// away, which makes the hole moot.
func (c *Catchup) learnedLocally(p wire.Position) bool {
	actions, err := c.self.Read(p, p)
	if err != nil {
		return err == storage.ErrTruncated
	}
	return actions[0].Learned
}

// attempt runs one Promise/Write round for a single position p, adopting
// the highest-priority action (wire.HigherPriority) that any promising
// replica reports at p, or NOP if none reports one, and reports whether p
// is now learned locally.
func (c *Catchup) attempt(ctx context.Context, p wire.Position) bool {
	md, _ := c.self.Status()

	c.mu.Lock()
	if c.proposal < md.Promised {
		c.proposal = md.Promised
	}
	c.proposal++
	proposal := c.proposal
	c.mu.Unlock()

	req := wire.PromiseRequest{Proposal: proposal, PositionSet: true, Position: p}
	results := network.Broadcast(ctx, c.peers.Snapshot(), func(ctx context.Context, peer network.Peer) (wire.PromiseResponse, error) {
		return peer.Promise(ctx, req)
	})

	okayCount := 0
	var best wire.Action
	haveBest := false
	for r := range results {
		if r.Err != nil {
			continue
		}
		if !r.Value.Okay {
			continue
		}
		okayCount++
		if r.Value.HasAction && (!haveBest || wire.HigherPriority(r.Value.Action, best)) {
			best = r.Value.Action
			haveBest = true
		}
	}
	if okayCount < c.quorum {
		return false
	}

	write := wire.WriteRequest{Proposal: proposal, Position: p, Type: wire.ActionNOP}
	if haveBest {
		write.Type = best.Type
		write.Payload = best.Payload
		write.TruncateTo = best.TruncateTo
	}

	writeResults := network.Broadcast(ctx, c.peers.Snapshot(), func(ctx context.Context, peer network.Peer) (wire.WriteResponse, error) {
		return peer.Write(ctx, write)
	})
	writeOkay := 0
	for r := range writeResults {
		if r.Err == nil && r.Value.Okay {
			writeOkay++
		}
	}
	if writeOkay < c.quorum {
		return false
	}

	action := wire.Action{
		Position:   p,
		Promised:   proposal,
		Performed:  proposal,
		Type:       write.Type,
		Payload:    write.Payload,
		TruncateTo: write.TruncateTo,
	}
	if err := c.self.AdoptLearned(action); err != nil {
		c.log.Error("catchup: adopt learned failed", zap.Uint64("position", uint64(p)), zap.Error(err))
		return false
	}

	for _, peer := range c.peers.Snapshot() {
		go peer.Learned(ctx, wire.LearnedMessage{Position: p})
	}
	return true
}
