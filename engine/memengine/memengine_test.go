package memengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/engine"
)

func TestAppendAssignsIncreasingLSN(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetRole(engine.Leader, 1)

	lsn1, ts1, err := e.Append(ctx, engine.AppendOptions{ProposalID: 1, NeedCheckProposal: true}, []byte("a"), 0)
	require.NoError(t, err)
	lsn2, ts2, err := e.Append(ctx, engine.AppendOptions{ProposalID: 1, NeedCheckProposal: true}, []byte("b"), 0)
	require.NoError(t, err)

	assert.Greater(t, lsn2, lsn1)
	assert.Greater(t, ts2, ts1)
}

func TestAppendRejectsStaleProposal(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetRole(engine.Leader, 5)

	_, _, err := e.Append(ctx, engine.AppendOptions{ProposalID: 4, NeedCheckProposal: true}, []byte("a"), 0)
	assert.ErrorIs(t, err, engine.ErrProposalMismatch)
}

func TestRejectHookFiresOnce(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetRole(engine.Leader, 1)
	e.Reject = engine.ErrTemporarilyRejected

	_, _, err := e.Append(ctx, engine.AppendOptions{ProposalID: 1}, []byte("a"), 0)
	assert.ErrorIs(t, err, engine.ErrTemporarilyRejected)

	_, _, err = e.Append(ctx, engine.AppendOptions{ProposalID: 1}, []byte("b"), 0)
	assert.NoError(t, err)
}

func TestSeekByLSNRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetRole(engine.Leader, 1)

	lsn, _, err := e.Append(ctx, engine.AppendOptions{ProposalID: 1}, []byte("payload"), 0)
	require.NoError(t, err)

	it, err := e.SeekByLSN(ctx, lsn)
	require.NoError(t, err)
	defer it.Close()

	gotLSN, data, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, lsn, gotLSN)
	assert.Equal(t, "payload", string(data))

	_, _, ok = it.Next()
	assert.False(t, ok)
}

func TestSeekByLSNUnknownReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	e := New()
	_, err := e.SeekByLSN(ctx, 99)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestLocateCoarselyRoundTripLaw(t *testing.T) {
	ctx := context.Background()
	e := New()
	e.SetRole(engine.Leader, 1)

	lsn, ts, err := e.Append(ctx, engine.AppendOptions{ProposalID: 1}, []byte("x"), 100)
	require.NoError(t, err)

	gotTS, err := e.LocateByLSNCoarsely(ctx, lsn)
	require.NoError(t, err)
	assert.LessOrEqual(t, gotTS, ts)

	gotLSN, err := e.LocateByTSCoarsely(ctx, ts)
	require.NoError(t, err)
	assert.LessOrEqual(t, gotLSN, lsn)
}

func TestRunConfigChangeCmdLocallyAddAndRemoveMember(t *testing.T) {
	ctx := context.Background()
	e := New()

	err := e.RunConfigChangeCmdLocally(ctx, engine.ConfigChangeCmd{
		Kind:          engine.AddMember,
		AddedMember:   engine.Member{Address: "a:1"},
		NewReplicaNum: 3,
	})
	require.NoError(t, err)

	members, err := e.GetPaxosMemberList(ctx)
	require.NoError(t, err)
	assert.True(t, members.Contains("a:1"))
	assert.Equal(t, int64(3), members.ReplicaNum)

	err = e.RunConfigChangeCmdLocally(ctx, engine.ConfigChangeCmd{
		Kind:          engine.RemoveMember,
		RemovedMember: engine.Member{Address: "a:1"},
		NewReplicaNum: 2,
	})
	require.NoError(t, err)

	members, err = e.GetPaxosMemberList(ctx)
	require.NoError(t, err)
	assert.False(t, members.Contains("a:1"))
}

func TestRegisterRebuildCbFiresOnTrigger(t *testing.T) {
	e := New()
	var got engine.LSN = -1
	require.NoError(t, e.RegisterRebuildCb(func(lsn engine.LSN) { got = lsn }))

	e.TriggerRebuild(42)
	assert.Equal(t, engine.LSN(42), got)

	require.NoError(t, e.UnregisterRebuildCb())
	got = -1
	e.TriggerRebuild(43)
	assert.Equal(t, engine.LSN(-1), got)
}
