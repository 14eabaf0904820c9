package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/config"
	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/engine/memengine"
	"github.com/chn0318/logreplica/locator"
	"github.com/chn0318/logreplica/replay"
)

func TestIsInSyncDefaultsFalseBeforeFirstRefresh(t *testing.T) {
	hn := newHarness(t, "self:1")
	assert.False(t, hn.h.IsInSync())
}

func TestRefreshSyncTrueWhenLeader(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.h.refreshSync(context.Background())
	assert.True(t, hn.h.IsInSync())
}

func TestRefreshSyncComparesAgainstLeaderMaxTS(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.h.SwitchRole(engine.Follower, 1)
	hn.loc.SetLeader(testStream, "remote:1")

	_, _, err := hn.eng.Append(context.Background(), engine.AppendOptions{ProposalID: 1}, []byte("x"), 1)
	require.NoError(t, err)

	hn.proxy.palfStat = 1
	hn.h.refreshSync(context.Background())
	assert.True(t, hn.h.IsInSync())

	hn.proxy.palfStat = 1 + hn.h.cfg.LogSyncThresholdNs() + 1000
	hn.h.refreshSync(context.Background())
	assert.False(t, hn.h.IsInSync())
}

func TestRefreshSyncSignalsNeedRebuildWhenEndLSNBehindLastRebuildLSN(t *testing.T) {
	hn := newHarness(t, "self:1")

	hn.h.refreshSync(context.Background())
	assert.False(t, hn.h.NeedRebuild())

	hn.eng.TriggerRebuild(5)
	hn.h.refreshSync(context.Background())
	assert.True(t, hn.h.NeedRebuild(), "end_lsn (0) < last_rebuild_lsn (5) must signal need-rebuild")

	for i := 0; i < 5; i++ {
		_, _, err := hn.eng.Append(context.Background(), engine.AppendOptions{ProposalID: 1}, []byte("x"), 1)
		require.NoError(t, err)
	}
	hn.h.refreshSync(context.Background())
	assert.False(t, hn.h.NeedRebuild(), "end_lsn caught up to last_rebuild_lsn")
}

func TestRefreshSyncFalseWhenLeaderUnknown(t *testing.T) {
	eng := memengine.New()
	eng.SetRole(engine.Follower, 1)
	applySvc := apply.NewService()
	replaySvc := replay.NewService()
	loc := locator.NewInMemoryLocator() // no leader seeded for testStream
	proxy := &fakeProxy{}

	h := New()
	require.NoError(t, h.Init(context.Background(), testStream, "self:1", config.Default(), eng, applySvc, replaySvc, loc, loc, proxy))
	h.SwitchRole(engine.Follower, 1)

	h.refreshSync(context.Background())
	assert.False(t, h.IsInSync())
	assert.Greater(t, loc.RenewCount(), 0, "unknown leader should trigger a renewal attempt")
}
