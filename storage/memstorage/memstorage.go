// Package memstorage is an in-memory Storage implementation used by tests
// in place of the bbolt-backed store, mirroring the teacher's fake/real
// pairing for persistence interfaces.
package memstorage

import (
	"sync"

	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

// Storage is a map-backed storage.Storage. Persist calls are copied so
// callers mutating their Action after calling Persist cannot corrupt
// stored state.
type Storage struct {
	mu       sync.Mutex
	actions  map[wire.Position]wire.Action
	metadata wire.Metadata
	begin    wire.Position
	end      wire.Position
	hasData  bool

	// TruncateCalls records every truncate target, for tests asserting
	// on truncation behavior without inspecting internal state directly.
	TruncateCalls []wire.Position
}

var _ storage.Storage = &Storage{}

// New returns an empty Storage, as if restored from a brand-new path.
func New() *Storage {
	return &Storage{actions: map[wire.Position]wire.Action{}}
}

func (s *Storage) State() storage.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storage.State{
		Metadata: s.metadata,
		Begin:    s.begin,
		End:      s.end,
		HasData:  s.hasData,
	}
}

func (s *Storage) Persist(action wire.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.Payload != nil {
		action.Payload = append([]byte{}, action.Payload...)
	}
	s.actions[action.Position] = action
	if !s.hasData || action.Position > s.end {
		s.end = action.Position
	}
	s.hasData = true

	if action.Type == wire.ActionTruncate && action.TruncateTo > s.begin {
		s.TruncateCalls = append(s.TruncateCalls, action.TruncateTo)
		for pos := s.begin; pos < action.TruncateTo; pos++ {
			delete(s.actions, pos)
		}
		s.begin = action.TruncateTo
	}

	return nil
}

func (s *Storage) PersistMetadata(metadata wire.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = metadata
	return nil
}

func (s *Storage) Read(position wire.Position) (wire.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasData || position > s.end {
		return wire.Action{}, storage.ErrPastEnd
	}
	if position < s.begin {
		return wire.Action{}, storage.ErrTruncated
	}

	action, ok := s.actions[position]
	if !ok {
		return wire.Action{}, storage.ErrTruncated
	}
	return action, nil
}

func (s *Storage) Close() error {
	return nil
}
