package replica_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replogio/replog/replica"
	"github.com/replogio/replog/storage"
	"github.com/replogio/replog/storage/memstorage"
	"github.com/replogio/replog/wire"
)

func votingReplica(t *testing.T) *replica.Replica {
	t.Helper()
	store := memstorage.New()
	require.NoError(t, store.PersistMetadata(wire.Metadata{Status: wire.StatusVoting}))
	return replica.Open(store, nil)
}

func TestReplica_PromiseGrantsHigherProposal(t *testing.T) {
	r := votingReplica(t)

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 5})
	require.NoError(t, err)
	assert.True(t, resp.Okay)
	assert.Equal(t, wire.Proposal(5), resp.Proposal)
}

func TestReplica_PromiseRejectsLowerOrEqualProposal(t *testing.T) {
	r := votingReplica(t)

	_, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 5})
	require.NoError(t, err)

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 5})
	require.NoError(t, err)
	assert.False(t, resp.Okay)
	assert.Equal(t, wire.Proposal(5), resp.Proposal)
}

func TestReplica_PromisePositionScopedReturnsExistingAction(t *testing.T) {
	r := votingReplica(t)

	_, err := r.Write(context.Background(), wire.WriteRequest{
		Proposal: 1, Position: 1, Type: wire.ActionAppend, Payload: []byte("v"),
	})
	require.NoError(t, err)

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{
		Proposal: 2, PositionSet: true, Position: 1,
	})
	require.NoError(t, err)
	assert.True(t, resp.HasAction)
	assert.Equal(t, []byte("v"), resp.Action.Payload)
}

func TestReplica_PromiseAllPositionsReportsHolesAboveAfter(t *testing.T) {
	r := votingReplica(t)
	for pos := wire.Position(0); pos <= 2; pos++ {
		_, err := r.Write(context.Background(), wire.WriteRequest{
			Proposal: 1, Position: pos, Type: wire.ActionAppend, Payload: []byte("v"),
		})
		require.NoError(t, err)
	}

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 2, AfterSet: true, After: 0})
	require.NoError(t, err)
	assert.True(t, resp.HasEnd)
	assert.Equal(t, wire.Position(2), resp.Position)
	require.Len(t, resp.Holes, 2)
	assert.Equal(t, wire.Position(1), resp.Holes[0].Position)
	assert.Equal(t, wire.Position(2), resp.Holes[1].Position)
}

func TestReplica_PromiseAllPositionsWithoutAfterReturnsEverything(t *testing.T) {
	r := votingReplica(t)
	_, err := r.Write(context.Background(), wire.WriteRequest{
		Proposal: 1, Position: 0, Type: wire.ActionAppend, Payload: []byte("v"),
	})
	require.NoError(t, err)

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 2})
	require.NoError(t, err)
	require.Len(t, resp.Holes, 1)
	assert.Equal(t, wire.Position(0), resp.Holes[0].Position)
}

func TestReplica_PromiseOnEmptyStoreReportsNoEnd(t *testing.T) {
	r := votingReplica(t)

	resp, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 1})
	require.NoError(t, err)
	assert.False(t, resp.HasEnd)
	assert.Empty(t, resp.Holes)
}

func TestReplica_WriteRejectsBelowPromised(t *testing.T) {
	r := votingReplica(t)
	_, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 10})
	require.NoError(t, err)

	resp, err := r.Write(context.Background(), wire.WriteRequest{Proposal: 5, Position: 1, Type: wire.ActionNOP})
	require.NoError(t, err)
	assert.False(t, resp.Okay)
	assert.Equal(t, wire.Proposal(10), resp.Proposal)
}

func TestReplica_WriteRejectsWhenHigherProposalAlreadyAccepted(t *testing.T) {
	r := votingReplica(t)

	_, err := r.Write(context.Background(), wire.WriteRequest{Proposal: 10, Position: 1, Type: wire.ActionAppend, Payload: []byte("a")})
	require.NoError(t, err)

	resp, err := r.Write(context.Background(), wire.WriteRequest{Proposal: 5, Position: 1, Type: wire.ActionAppend, Payload: []byte("b")})
	require.NoError(t, err)
	assert.False(t, resp.Okay)
	assert.Equal(t, wire.Proposal(10), resp.Proposal)
}

func TestReplica_LearnedIsIdempotent(t *testing.T) {
	r := votingReplica(t)
	_, err := r.Write(context.Background(), wire.WriteRequest{Proposal: 1, Position: 1, Type: wire.ActionAppend, Payload: []byte("v")})
	require.NoError(t, err)

	r.Learned(context.Background(), wire.LearnedMessage{Position: 1})
	r.Learned(context.Background(), wire.LearnedMessage{Position: 1})

	actions, err := r.Read(1, 1)
	require.NoError(t, err)
	assert.True(t, actions[0].Learned)
}

func TestReplica_NonVotingSilentOnPromiseAndWrite(t *testing.T) {
	store := memstorage.New()
	require.NoError(t, store.PersistMetadata(wire.Metadata{Status: wire.StatusRecovering}))
	r := replica.Open(store, nil)

	_, err := r.Promise(context.Background(), wire.PromiseRequest{Proposal: 1})
	assert.ErrorIs(t, err, replica.ErrNotVoting)

	_, err = r.Write(context.Background(), wire.WriteRequest{Proposal: 1, Position: 1})
	assert.ErrorIs(t, err, replica.ErrNotVoting)
}

func TestReplica_NonVotingStillAnswersRecoverAndLearned(t *testing.T) {
	store := memstorage.New()
	require.NoError(t, store.PersistMetadata(wire.Metadata{Status: wire.StatusRecovering}))
	r := replica.Open(store, nil)

	resp, err := r.Recover(context.Background(), wire.RecoverRequest{})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusRecovering, resp.Status)

	// Learned on an unknown position is a no-op, not a panic or error.
	r.Learned(context.Background(), wire.LearnedMessage{Position: 99})
}

func TestReplica_ReadErrorsOutsideRange(t *testing.T) {
	r := votingReplica(t)
	for i := wire.Position(1); i <= 10; i++ {
		_, err := r.Write(context.Background(), wire.WriteRequest{Proposal: 1, Position: i, Type: wire.ActionAppend})
		require.NoError(t, err)
	}
	_, err := r.Write(context.Background(), wire.WriteRequest{
		Proposal: 1, Position: 11, Type: wire.ActionTruncate, TruncateTo: 7,
	})
	require.NoError(t, err)

	_, err = r.Read(6, 10)
	assert.ErrorIs(t, err, storage.ErrTruncated)

	actions, err := r.Read(7, 10)
	require.NoError(t, err)
	assert.Len(t, actions, 4)

	_, err = r.Read(1, 12)
	assert.ErrorIs(t, err, storage.ErrPastEnd)
}
