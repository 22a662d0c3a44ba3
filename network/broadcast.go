package network

import (
	"context"
	"sync"

	"github.com/replogio/replog/wire"
)

// Peer is the RPC surface a coordinator, catch-up runner, or recover
// machine needs from every other replica. Transport (in-memory for
// tests, HTTP for production — see network/memtransport and
// network/httptransport) is an implementation detail behind this
// interface.
type Peer interface {
	Promise(ctx context.Context, req wire.PromiseRequest) (wire.PromiseResponse, error)
	Write(ctx context.Context, req wire.WriteRequest) (wire.WriteResponse, error)
	Learned(ctx context.Context, msg wire.LearnedMessage)
	Recover(ctx context.Context, req wire.RecoverRequest) (wire.RecoverResponse, error)
}

// Result pairs one peer's response to a broadcast call with its PeerID.
type Result[T any] struct {
	Peer  PeerID
	Value T
	Err   error
}

// Broadcast sends call to every peer in peers concurrently and streams
// results back on the returned channel as they arrive. The channel is
// buffered to len(peers), so a caller that stops reading early (once it
// has a quorum) never blocks a sender — late responses are simply never
// read, i.e. discarded, matching spec §4.3.
func Broadcast[P any, T any](
	ctx context.Context,
	peers map[PeerID]P,
	call func(ctx context.Context, peer P) (T, error),
) <-chan Result[T] {
	ch := make(chan Result[T], len(peers))

	var wg sync.WaitGroup
	for id, peer := range peers {
		wg.Add(1)
		go func(id PeerID, peer P) {
			defer wg.Done()
			value, err := call(ctx, peer)
			ch <- Result[T]{Peer: id, Value: value, Err: err}
		}(id, peer)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	return ch
}
