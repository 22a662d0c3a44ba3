// Package recover implements the replica lifecycle state machine from
// spec §4.6: EMPTY -> STARTING -> RECOVERING -> VOTING, driven by
// periodically broadcasting RecoverRequest to the network and folding
// the peers' {status, begin, end} into the next transition. Grounded on
// the same paxos/runner.go StartFetchingFollowerInfoRunners shape as
// coordinator and catchup, specialized to lifecycle probing instead of
// proposing.
package recover

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/replogio/replog/catchup"
	"github.com/replogio/replog/clock"
	"github.com/replogio/replog/network"
	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/wire"
)

// defaultProbeInterval is how often Run re-broadcasts RecoverRequest
// while waiting for a transition to become possible, per spec §7's
// "Recover retries its RecoverRequest broadcast at a fixed cadence
// (default 10s)".
const defaultProbeInterval = 10 * time.Second

// Recover drives one local replica through its lifecycle until it
// reaches VOTING.
type Recover struct {
	self     *replica.Replica
	peers    *network.Set[network.Peer]
	quorum   int
	clock    clock.Clock
	log      *zap.Logger
	catchup  *catchup.Catchup
	autoInit bool
}

// New returns a Recover for self. autoInit enables the EMPTY->VOTING
// fast path for a brand-new cluster where every peer also reports EMPTY.
func New(self *replica.Replica, peers *network.Set[network.Peer], quorum int, clk clock.Clock, log *zap.Logger, autoInit bool) *Recover {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recover{
		self:     self,
		peers:    peers,
		quorum:   quorum,
		clock:    clk,
		log:      log,
		catchup:  catchup.New(self, peers, quorum, clk, log),
		autoInit: autoInit,
	}
}

// Run blocks until self reaches VOTING or ctx is cancelled, re-probing
// the network at defaultProbeInterval between transitions that could not
// yet make progress.
func (r *Recover) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		md, _ := r.self.Status()
		var progressed bool
		var err error

		switch md.Status {
		case wire.StatusVoting:
			return nil
		case wire.StatusEmpty:
			progressed, err = r.stepEmpty(ctx, md)
		case wire.StatusStarting:
			progressed, err = r.stepStarting(ctx, md)
		case wire.StatusRecovering:
			progressed, err = r.stepRecovering(ctx, md)
		}
		if err != nil {
			return err
		}
		if progressed {
			continue
		}

		select {
		case <-r.clock.After(defaultProbeInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Recover) probeAll(ctx context.Context) []network.Result[wire.RecoverResponse] {
	results := network.Broadcast(ctx, r.peers.Snapshot(), func(ctx context.Context, p network.Peer) (wire.RecoverResponse, error) {
		return p.Recover(ctx, wire.RecoverRequest{})
	})
	var out []network.Result[wire.RecoverResponse]
	for res := range results {
		out = append(out, res)
	}
	return out
}

// stepEmpty implements spec §4.6's EMPTY transition: go straight to
// VOTING if auto-initialize is requested and every currently known peer
// also reports EMPTY; otherwise move to STARTING.
func (r *Recover) stepEmpty(ctx context.Context, md wire.Metadata) (bool, error) {
	results := r.probeAll(ctx)

	allEmpty := len(results) > 0
	for _, res := range results {
		if res.Err != nil || res.Value.Status != wire.StatusEmpty {
			allEmpty = false
			break
		}
	}

	if r.autoInit && allEmpty {
		md.Status = wire.StatusVoting
		return true, r.self.PersistMetadata(md)
	}

	md.Status = wire.StatusStarting
	return true, r.self.PersistMetadata(md)
}

// stepStarting implements spec §4.6's STARTING transition: wait for a
// quorum of VOTING peers before moving to RECOVERING.
func (r *Recover) stepStarting(ctx context.Context, md wire.Metadata) (bool, error) {
	results := r.probeAll(ctx)

	votingCount := 0
	for _, res := range results {
		if res.Err == nil && res.Value.Status == wire.StatusVoting {
			votingCount++
		}
	}
	if votingCount < r.quorum {
		return false, nil
	}

	md.Status = wire.StatusRecovering
	return true, r.self.PersistMetadata(md)
}

// stepRecovering implements spec §4.6's RECOVERING transition: take the
// highest end any voting peer reports, catch up on every position from
// just past this replica's own end (or from 0 if it has no data) up to
// that end, then move to VOTING. Holes below this replica's own end are
// not revisited, and peers' begin positions are not consulted.
func (r *Recover) stepRecovering(ctx context.Context, md wire.Metadata) (bool, error) {
	results := r.probeAll(ctx)

	votingCount := 0
	haveMaxEnd := false
	var maxEnd wire.Position
	for _, res := range results {
		if res.Err != nil || res.Value.Status != wire.StatusVoting {
			continue
		}
		votingCount++
		if res.Value.HasData && (!haveMaxEnd || res.Value.End > maxEnd) {
			maxEnd = res.Value.End
			haveMaxEnd = true
		}
	}
	if votingCount < r.quorum {
		return false, nil
	}

	_, state := r.self.Status()
	var positions []wire.Position
	if haveMaxEnd {
		start := wire.Position(0)
		if state.HasData {
			start = state.End + 1
		}
		for p := start; p <= maxEnd; p++ {
			positions = append(positions, p)
		}
	}
	if len(positions) > 0 {
		if err := r.catchup.Run(ctx, positions); err != nil {
			return false, err
		}
	}

	md.Status = wire.StatusVoting
	return true, r.self.PersistMetadata(md)
}
