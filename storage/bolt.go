package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/replogio/replog/wire"
)

var (
	actionsBucket = []byte("actions")
	metaBucket    = []byte("meta")

	metaKey  = []byte("META")
	beginKey = []byte("BEGIN")
)

// BoltStorage is the on-disk Storage implementation, backed by bbolt — an
// embedded ordered key/value B+Tree store, the same role etcd and
// hashicorp/raft use bbolt for (their stable/log stores). Keys in
// actionsBucket are big-endian uint64 positions, so range scans (used by
// truncation) iterate in position order.
type BoltStorage struct {
	db *bbolt.DB

	mu    sync.Mutex
	state State
}

var _ Storage = &BoltStorage{}

// Open restores or creates a durable store at path.
func Open(path string) (*BoltStorage, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	s := &BoltStorage{db: db}
	if err := s.restore(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStorage) restore() error {
	var state State

	err := s.db.Update(func(tx *bbolt.Tx) error {
		actions, err := tx.CreateBucketIfNotExists(actionsBucket)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		if raw := meta.Get(metaKey); raw != nil {
			md, err := wire.DecodeMetadata(raw)
			if err != nil {
				return fmt.Errorf("storage: decode metadata: %w", err)
			}
			state.Metadata = md
		}

		if raw := meta.Get(beginKey); raw != nil {
			state.Begin = wire.Position(binary.BigEndian.Uint64(raw))
		}

		c := actions.Cursor()
		if k, _ := c.Last(); k != nil {
			state.End = wire.Position(binary.BigEndian.Uint64(k))
			state.HasData = true
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *BoltStorage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func positionKey(p wire.Position) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(p))
	return b
}

func (s *BoltStorage) Persist(action wire.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newState := s.state

	err := s.db.Update(func(tx *bbolt.Tx) error {
		actions := tx.Bucket(actionsBucket)
		meta := tx.Bucket(metaBucket)

		data := wire.EncodeAction(action)
		if err := actions.Put(positionKey(action.Position), data); err != nil {
			return err
		}

		if !newState.HasData || action.Position > newState.End {
			newState.End = action.Position
		}
		newState.HasData = true

		if action.Type == wire.ActionTruncate && action.TruncateTo > newState.Begin {
			if err := deleteRange(actions, newState.Begin, action.TruncateTo); err != nil {
				return err
			}
			newState.Begin = action.TruncateTo
			if err := meta.Put(beginKey, positionKey(newState.Begin)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: persist action at %d: %w", action.Position, err)
	}

	s.state = newState
	return nil
}

// deleteRange removes every key in [from, to) using a single forward
// cursor scan, so cost is proportional to the number of keys actually
// present and removed — not to (to - from).
func deleteRange(bucket *bbolt.Bucket, from, to wire.Position) error {
	c := bucket.Cursor()
	toKey := positionKey(to)

	for k, _ := c.Seek(positionKey(from)); k != nil; k, _ = c.Next() {
		if string(k) >= string(toKey) {
			break
		}
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStorage) PersistMetadata(metadata wire.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		return meta.Put(metaKey, wire.EncodeMetadata(metadata))
	})
	if err != nil {
		return fmt.Errorf("storage: persist metadata: %w", err)
	}

	s.state.Metadata = metadata
	return nil
}

func (s *BoltStorage) Read(position wire.Position) (wire.Action, error) {
	s.mu.Lock()
	begin, end, hasData := s.state.Begin, s.state.End, s.state.HasData
	s.mu.Unlock()

	if !hasData || position > end {
		return wire.Action{}, ErrPastEnd
	}
	if position < begin {
		return wire.Action{}, ErrTruncated
	}

	var action wire.Action
	err := s.db.View(func(tx *bbolt.Tx) error {
		actions := tx.Bucket(actionsBucket)
		raw := actions.Get(positionKey(position))
		if raw == nil {
			return ErrTruncated
		}
		a, err := wire.DecodeAction(raw)
		if err != nil {
			return fmt.Errorf("storage: decode action at %d: %w", position, err)
		}
		action = a
		return nil
	})
	if err != nil {
		return wire.Action{}, err
	}
	return action, nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
