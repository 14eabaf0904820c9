package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/config"
	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/engine/memengine"
	"github.com/chn0318/logreplica/locator"
	"github.com/chn0318/logreplica/replay"
)

// fakeElection lets tests control how many times RemoveFromBlacklist fails
// before it succeeds, to exercise submitConfigChangeCmd's
// remove-added-member-from-blacklist retry step.
type fakeElection struct {
	mu             sync.Mutex
	removeFailures int
	removeCalls    int
	addCalls       int
}

func (e *fakeElection) AddToBlacklist(id engine.StreamID, addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addCalls++
	return nil
}

func (e *fakeElection) RemoveFromBlacklist(id engine.StreamID, addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeCalls++
	if e.removeCalls <= e.removeFailures {
		return errors.New("transient blacklist error")
	}
	return nil
}

func TestAddMemberDispatchesLocallyWhenSelfIsLeader(t *testing.T) {
	hn := newHarness(t, "self:1")
	// loc.SetLeader(testStream, "self:1") was set in newHarness.

	err := hn.h.AddMember(context.Background(), engine.Member{Address: "new:1"}, 3, int64(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, hn.proxy.sendCalls, "local dispatch must not use the RPC proxy")

	members, err := hn.eng.GetPaxosMemberList(context.Background())
	require.NoError(t, err)
	assert.True(t, members.Contains("new:1"))
}

func TestAddMemberDispatchesOverRPCWhenRemoteIsLeader(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.loc.SetLeader(testStream, "remote:1")

	err := hn.h.AddMember(context.Background(), engine.Member{Address: "new:1"}, 3, int64(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, hn.proxy.sendCalls)
}

func TestRemoveMemberBlacklistsThenClearsOnSuccess(t *testing.T) {
	hn := newHarness(t, "self:1")
	election := &fakeElection{}
	hn.h.election = election

	err := hn.h.RemoveMember(context.Background(), engine.Member{Address: "gone:1"}, 2, int64(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, election.addCalls, "removed member should be blacklisted before dispatch")
	assert.Equal(t, 1, election.removeCalls, "blacklist entry should be cleared after success")
}

func TestSubmitConfigChangeCmdRetriesRetryableLater(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.loc.SetLeader(testStream, "remote:1")
	hn.proxy.sendErr = ErrRetryableLater("leader is mid-election")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := hn.h.AddMember(ctx, engine.Member{Address: "new:1"}, 3, int64(time.Second))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Greater(t, hn.proxy.sendCalls, 1, "should have retried at least once before timing out")
}

func TestSubmitConfigChangeCmdPropagatesRemovingLeaderDenied(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.loc.SetLeader(testStream, "remote:1")
	hn.proxy.sendErr = ErrRemovingLeaderDenied

	err := hn.h.RemoveMember(context.Background(), engine.Member{Address: "gone:1"}, 2, int64(time.Second))
	assert.Equal(t, KindRemovingLeaderDenied, KindOf(err))
}

func TestAddMemberRemovesFromBlacklistBeforeDispatchRetryingOnFailure(t *testing.T) {
	eng := memengine.New()
	eng.SetRole(engine.Leader, 1)
	applySvc := apply.NewService()
	replaySvc := replay.NewService()
	loc := locator.NewInMemoryLocator()
	loc.SetLeader(testStream, "self:1")
	proxy := &fakeProxy{}
	election := &fakeElection{removeFailures: 2}

	cfg := config.Default()
	cfg.BlacklistRetryInterval = time.Millisecond

	h := New()
	require.NoError(t, h.Init(context.Background(), testStream, "self:1", cfg, eng, applySvc, replaySvc, loc, election, proxy))
	h.SwitchRole(engine.Leader, 1)

	err := h.AddMember(context.Background(), engine.Member{Address: "new:1"}, 3, int64(time.Second))
	require.NoError(t, err)

	election.mu.Lock()
	removeCalls := election.removeCalls
	election.mu.Unlock()
	assert.Equal(t, 3, removeCalls, "should retry remove-from-blacklist until it succeeds")
	assert.Equal(t, 0, proxy.sendCalls, "local dispatch must not use the RPC proxy")

	members, err := eng.GetPaxosMemberList(context.Background())
	require.NoError(t, err)
	assert.True(t, members.Contains("new:1"))
}

func TestDegradeAcceptorToLearnerRequiresLeadership(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.h.SwitchRole(engine.Follower, 1)

	err := hn.h.DegradeAcceptorToLearner(context.Background(), engine.MemberList{Members: []engine.Member{{Address: "a:1"}}, ReplicaNum: 1}, int64(time.Second))
	assert.Equal(t, KindNotMaster, KindOf(err))
}

func TestUpgradeLearnerToAcceptorSucceedsForLeader(t *testing.T) {
	hn := newHarness(t, "self:1")

	err := hn.h.UpgradeLearnerToAcceptor(context.Background(), engine.LearnerList{Learners: []engine.Member{{Address: "l:1"}}}, int64(time.Second))
	require.NoError(t, err)

	members, err := hn.eng.GetPaxosMemberList(context.Background())
	require.NoError(t, err)
	assert.True(t, members.Contains("l:1"))
}
