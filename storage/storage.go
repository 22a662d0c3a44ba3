// Package storage implements the durable key/value persistence of
// per-position Action records and per-replica Metadata described in
// spec §4.1: crash-safe writes, O(1) restore, and truncation whose cost
// is proportional to the number of positions actually removed rather
// than the truncation distance.
package storage

import (
	"errors"

	"github.com/replogio/replog/wire"
)

// ErrTruncated is returned by Read for positions below the live begin
// boundary.
var ErrTruncated = errors.New("bad read range (truncated position)")

// ErrPastEnd is returned by Read for positions above the highest known
// position.
var ErrPastEnd = errors.New("bad read range (past end of log)")

// State is the view restored at startup: the replica-wide Metadata, the
// lowest non-truncated position held (Begin), and the highest known
// position (End).
type State struct {
	Metadata wire.Metadata
	Begin    wire.Position
	End      wire.Position

	// HasData is false for a brand-new store that has never had an
	// action persisted, in which case Begin and End carry no meaning.
	HasData bool
}

// Storage is the capability every Replica owns exclusively. A memory-
// backed test double (storage/memstorage) and an on-disk store
// (BoltStorage) both implement it, per the spec's "express it as a
// capability interface" design note.
type Storage interface {
	// State returns the last restored/persisted view. It never touches
	// disk — Persist and PersistMetadata keep it current in memory.
	State() State

	// Persist atomically and durably writes action at action.Position,
	// advancing End and, for TRUNCATE actions, advancing Begin and
	// deleting every position in the truncated range.
	Persist(action wire.Action) error

	// PersistMetadata atomically and durably replaces the metadata
	// record.
	PersistMetadata(metadata wire.Metadata) error

	// Read returns the stored action at position, or ErrTruncated /
	// ErrPastEnd if position falls outside the live range.
	Read(position wire.Position) (wire.Action, error)

	Close() error
}
