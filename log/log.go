// Package log is the client-facing façade from spec §4.7: Writer layers
// elect/append/truncate over one Coordinator, Reader layers ranged reads
// over one Replica, translating storage errors into the two named log
// errors a caller is expected to handle.
package log

import (
	"context"
	"errors"

	"github.com/replogio/replog/coordinator"
	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/wire"
)

// ErrTruncatedPosition is returned by Reader.Read when from falls below
// the log's current begin position.
var ErrTruncatedPosition = errors.New("log: truncated position")

// ErrPastEnd is returned by Reader.Read when to falls beyond the log's
// current end position.
var ErrPastEnd = errors.New("log: past end of log")

// Entry is one position's value, as seen by a reader.
type Entry struct {
	Position wire.Position
	Data     []byte
}

// Writer is the client-facing proposer: Start elects, then Append and
// Truncate each advance the log by one position. A false second return
// value from Append or Truncate means "lost leadership, retry by calling
// Start again" — the same Option::None the underlying Coordinator
// reports via ErrNotElected.
type Writer struct {
	co *coordinator.Coordinator
}

// NewWriter wraps co.
func NewWriter(co *coordinator.Coordinator) *Writer {
	return &Writer{co: co}
}

// Start elects this writer, blocking until it wins, the quorum proves
// unreachable, or ctx is cancelled. The returned position is the log's
// current end once any holes election found are filled (0, with a
// freshly written NOP, only if the whole cluster had never persisted
// anything); the next Append or Truncate lands one past it.
func (w *Writer) Start(ctx context.Context) (wire.Position, bool) {
	return w.co.Elect(ctx)
}

// Append proposes data at the next position.
func (w *Writer) Append(ctx context.Context, data []byte) (wire.Position, bool) {
	pos, err := w.co.Append(ctx, data)
	if err != nil {
		return 0, false
	}
	return pos, true
}

// Truncate proposes retiring every position below to.
func (w *Writer) Truncate(ctx context.Context, to wire.Position) (wire.Position, bool) {
	pos, err := w.co.Truncate(ctx, to)
	if err != nil {
		return 0, false
	}
	return pos, true
}

// Reader is the client-facing learner: a read-only view over one
// replica's local log.
type Reader struct {
	r *replica.Replica
}

// NewReader wraps r.
func NewReader(r *replica.Replica) *Reader {
	return &Reader{r: r}
}

// Read returns every entry in [from, to], inclusive.
func (rd *Reader) Read(from, to wire.Position) ([]Entry, error) {
	actions, err := rd.r.Read(from, to)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTruncated):
			return nil, ErrTruncatedPosition
		case errors.Is(err, storage.ErrPastEnd):
			return nil, ErrPastEnd
		default:
			return nil, err
		}
	}

	entries := make([]Entry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, Entry{Position: a.Position, Data: a.Payload})
	}
	return entries, nil
}
