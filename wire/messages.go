package wire

// PromiseRequest is Phase 1 of Paxos: a proposer asking every acceptor not
// to accept proposals below Proposal. When Position is set (PositionSet),
// the request is scoped to a single position, as used during catch-up.
type PromiseRequest struct {
	Proposal Proposal

	PositionSet bool
	Position    Position

	// After and AfterSet are meaningful only when !PositionSet. AfterSet
	// is false when the proposer's own log is still empty, in which case
	// it wants every record a replying replica holds from position 0 up;
	// otherwise After carries the proposer's local end-of-log position,
	// so replying replicas can attach any records they hold above it (see
	// PromiseResponse.Holes) without a second round-trip per hole.
	AfterSet bool
	After    Position
}

// PromiseResponse answers a PromiseRequest.
type PromiseResponse struct {
	Okay     bool
	Proposal Proposal

	// Position is the replying replica's end-of-log position, meaningful
	// only when Okay && HasEnd: a replica whose own log is still empty
	// has no end-of-log position to report.
	Position Position
	HasEnd   bool

	// Action is the record already stored at PromiseRequest.Position, if
	// the request was position-scoped and a record existed there.
	HasAction bool
	Action    Action

	// Holes carries every record this replica holds strictly above
	// PromiseRequest.After, up to its own end-of-log position. Only
	// populated for all-positions (!PositionSet) promises, and only used
	// by election's hole-filling step (spec §4.4 step 4): it lets the
	// coordinator propose the value a past quorum may already have
	// accepted at a position, instead of clobbering it with a NOP.
	Holes []Action
}

// WriteRequest is Phase 2 of Paxos: accept a specific value at a specific
// position under a specific proposal.
type WriteRequest struct {
	Proposal Proposal
	Position Position
	Type     ActionType
	Payload  []byte

	// TruncateTo is valid only when Type == ActionTruncate.
	TruncateTo Position
}

// WriteResponse answers a WriteRequest.
type WriteResponse struct {
	Okay     bool
	Proposal Proposal
	Position Position
}

// LearnedMessage notifies a replica that a quorum is known to have
// accepted the action at Position. It has no response.
type LearnedMessage struct {
	Position Position
}

// RecoverRequest asks a replica to report its lifecycle status and log
// range, as part of the Recover protocol.
type RecoverRequest struct{}

// RecoverResponse answers a RecoverRequest.
type RecoverResponse struct {
	Status Status
	Begin  Position
	End    Position

	// HasData mirrors storage.State.HasData: when false, Begin and End
	// carry no meaning because this replica has never persisted an
	// action.
	HasData bool
}
