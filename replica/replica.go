// Package replica implements one acceptor/learner of the Multi-Paxos
// variant described in spec §4.2: a single-threaded actor owning one
// storage.Storage, responding to Promise, Write, Learned, and Recover
// messages while enforcing the acceptance-safety and non-voting-silence
// invariants. All state access is serialized by a mutex, the same
// "single owner, all access via one lock, suspension only between public
// calls" shape the teacher uses for its acceptorLogicImpl.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

// ErrNotVoting is returned when a non-VOTING replica receives a Promise
// or Write request; no Promise or Write response is produced. Transports
// pass it to the caller as an error rather than dropping the request:
// memtransport returns it as is and the HTTP server answers 503, which
// the HTTP client reports as an error. Either way the caller sees a
// failed call at once, not a timeout, and never counts it toward a
// quorum.
var ErrNotVoting = errors.New("replica: not voting, request ignored")

// Replica owns one Storage exclusively; nothing outside this package may
// touch it directly.
type Replica struct {
	mu    sync.Mutex
	store storage.Storage
	log   *zap.Logger
}

// Open wraps an already-restored Storage in a Replica actor.
func Open(store storage.Storage, log *zap.Logger) *Replica {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replica{store: store, log: log}
}

// Promise implements Paxos Phase 1 (§4.2): reject proposals at or below
// the current promise, otherwise durably raise the promise and report
// the replica's end-of-log position. When the request is position-scoped
// (used during catch-up), it also returns the Action already stored at
// that position, if any.
func (r *Replica) Promise(_ context.Context, req wire.PromiseRequest) (wire.PromiseResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := r.store.State().Metadata
	if md.Status != wire.StatusVoting {
		return wire.PromiseResponse{}, ErrNotVoting
	}

	if req.Proposal <= md.Promised {
		return wire.PromiseResponse{Okay: false, Proposal: md.Promised}, nil
	}

	md.Promised = req.Proposal
	if err := r.store.PersistMetadata(md); err != nil {
		r.log.Error("promise: persist metadata failed", zap.Error(err))
		return wire.PromiseResponse{}, fmt.Errorf("replica: promise: %w", err)
	}

	state := r.store.State()
	resp := wire.PromiseResponse{
		Okay:     true,
		Proposal: req.Proposal,
		Position: state.End,
		HasEnd:   state.HasData,
	}

	if req.PositionSet {
		action, err := r.store.Read(req.Position)
		if err == nil {
			resp.HasAction = true
			resp.Action = action
		}
	} else if state.HasData {
		from := state.Begin
		if req.AfterSet {
			from = req.After + 1
			if from < state.Begin {
				from = state.Begin
			}
		}
		if from <= state.End {
			holes := make([]wire.Action, 0, state.End-from+1)
			for pos := from; pos <= state.End; pos++ {
				action, err := r.store.Read(pos)
				if err != nil {
					continue
				}
				holes = append(holes, action)
			}
			resp.Holes = holes
		}
	}

	return resp, nil
}

// Write implements Paxos Phase 2 (§4.2): accept a value at a position
// under a proposal, unless a higher proposal has already been promised
// or a higher proposal already accepted a value at that position.
func (r *Replica) Write(_ context.Context, req wire.WriteRequest) (wire.WriteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := r.store.State().Metadata
	if md.Status != wire.StatusVoting {
		return wire.WriteResponse{}, ErrNotVoting
	}

	if req.Proposal < md.Promised {
		return wire.WriteResponse{Okay: false, Proposal: md.Promised}, nil
	}

	if existing, err := r.store.Read(req.Position); err == nil {
		if existing.Performed > req.Proposal {
			return wire.WriteResponse{Okay: false, Proposal: existing.Performed}, nil
		}
	}

	action := wire.Action{
		Position:  req.Position,
		Promised:  md.Promised,
		Performed: req.Proposal,
		Type:      req.Type,
		Payload:   req.Payload,
	}
	if req.Type == wire.ActionTruncate {
		action.TruncateTo = req.TruncateTo
	}

	if err := r.store.Persist(action); err != nil {
		r.log.Error("write: persist action failed", zap.Error(err))
		return wire.WriteResponse{}, fmt.Errorf("replica: write: %w", err)
	}

	return wire.WriteResponse{Okay: true, Proposal: req.Proposal, Position: req.Position}, nil
}

// Learned marks the local action at position as learned. Idempotent, and
// accepted regardless of VOTING status.
func (r *Replica) Learned(_ context.Context, msg wire.LearnedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	action, err := r.store.Read(msg.Position)
	if err != nil {
		return
	}
	if action.Learned {
		return
	}

	action.HasLearned = true
	action.Learned = true
	if err := r.store.Persist(action); err != nil {
		r.log.Error("learned: persist failed", zap.Error(err))
	}
}

// Recover answers a RecoverRequest with this replica's current lifecycle
// status and log range. Accepted regardless of VOTING status, since a
// replica must be discoverable by peers precisely while it is not yet
// voting.
func (r *Replica) Recover(_ context.Context, _ wire.RecoverRequest) (wire.RecoverResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.store.State()
	return wire.RecoverResponse{
		Status:  state.Metadata.Status,
		Begin:   state.Begin,
		End:     state.End,
		HasData: state.HasData,
	}, nil
}

// Status reports the replica's current lifecycle status and log range,
// used both by Recover (see RecoverResponse) and by the log façade.
func (r *Replica) Status() (wire.Metadata, storage.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.store.State()
	return state.Metadata, state
}

// PersistMetadata is used by the recover package to drive this replica's
// lifecycle status forward (EMPTY -> STARTING -> RECOVERING -> VOTING).
func (r *Replica) PersistMetadata(md wire.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.PersistMetadata(md)
}

// AdoptLearned persists action directly and marks it learned, used by
// catch-up to install a value this replica never voted on itself.
func (r *Replica) AdoptLearned(action wire.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	action.HasLearned = true
	action.Learned = true
	return r.store.Persist(action)
}

// Read returns every action in [from, to], inclusive.
func (r *Replica) Read(from, to wire.Position) ([]wire.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.store.State()
	if !state.HasData || to > state.End {
		return nil, storage.ErrPastEnd
	}
	if from < state.Begin {
		return nil, storage.ErrTruncated
	}

	actions := make([]wire.Action, 0, to-from+1)
	for pos := from; pos <= to; pos++ {
		action, err := r.store.Read(pos)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Close releases the underlying Storage.
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Close()
}
