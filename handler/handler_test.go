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

type fakeProxy struct {
	sendErr     error
	sendCalls   int
	palfStat    int64
	palfErr     error
}

func (p *fakeProxy) SendConfigChangeCmd(ctx context.Context, addr string, cmd engine.ConfigChangeCmd, connTimeoutUs, processBudgetUs int64) error {
	p.sendCalls++
	return p.sendErr
}

func (p *fakeProxy) GetPalfStat(ctx context.Context, addr string, self string, id engine.StreamID) (int64, error) {
	return p.palfStat, p.palfErr
}

const testStream engine.StreamID = 7

type harness struct {
	h       *Handler
	eng     *memengine.MemEngine
	applySvc *apply.Service
	replaySvc *replay.Service
	loc     *locator.InMemoryLocator
	proxy   *fakeProxy
}

func newHarness(t *testing.T, self string) *harness {
	t.Helper()
	eng := memengine.New()
	eng.SetRole(engine.Leader, 1)
	applySvc := apply.NewService()
	replaySvc := replay.NewService()
	loc := locator.NewInMemoryLocator()
	loc.SetLeader(testStream, self)
	proxy := &fakeProxy{}

	h := New()
	require.NoError(t, h.Init(context.Background(), testStream, self, config.Default(), eng, applySvc, replaySvc, loc, loc, proxy))
	h.SwitchRole(engine.Leader, 1)

	return &harness{h: h, eng: eng, applySvc: applySvc, replaySvc: replaySvc, loc: loc, proxy: proxy}
}

func TestInitTwiceFails(t *testing.T) {
	hn := newHarness(t, "self:1")
	err := hn.h.Init(context.Background(), testStream, "self:1", config.Default(), hn.eng, hn.applySvc, hn.replaySvc, hn.loc, hn.loc, hn.proxy)
	assert.Equal(t, KindUnexpected, KindOf(err))
}

func TestIsValidAfterInit(t *testing.T) {
	hn := newHarness(t, "self:1")
	assert.True(t, hn.h.IsValid())
}

func TestStopThenSafeToDestroyThenDestroy(t *testing.T) {
	ctx := context.Background()
	hn := newHarness(t, "self:1")

	require.NoError(t, hn.h.Stop(ctx))
	assert.False(t, hn.h.IsValid())

	require.NoError(t, hn.h.SafeToDestroy(ctx))

	hn.h.Destroy(ctx)
	assert.False(t, hn.h.IsValid())
}

func TestSafeToDestroyBlocksOnPendingCallbacks(t *testing.T) {
	ctx := context.Background()
	hn := newHarness(t, "self:1")

	cb := NewAppendCallback(nil)
	_, _, err := hn.h.Append(ctx, []byte("x"), 0, false, cb)
	require.NoError(t, err)

	require.NoError(t, hn.h.Stop(ctx))
	err = hn.h.SafeToDestroy(ctx)
	assert.Equal(t, KindRetryableLater, KindOf(err))
}

func TestGetRoleReflectsSwitchRole(t *testing.T) {
	eng := memengine.New()
	eng.SetRole(engine.Leader, 1)
	applySvc := apply.NewService()
	replaySvc := replay.NewService()
	loc := locator.NewInMemoryLocator()
	loc.SetLeader(testStream, "self:1")
	proxy := &fakeProxy{}

	h := New()
	require.NoError(t, h.Init(context.Background(), testStream, "self:1", config.Default(), eng, applySvc, replaySvc, loc, loc, proxy))

	role, _, err := h.GetRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.Follower, role, "cache starts as Follower until SwitchRole is called")

	h.SwitchRole(engine.Leader, 1)
	role, _, err = h.GetRole(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.Leader, role)
}

func TestGetMaxDecidedLogTSNsFallsBackWithoutReplay(t *testing.T) {
	hn := newHarness(t, "self:1")
	ts, err := hn.h.GetMaxDecidedLogTSNs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)
}

func TestGetMaxDecidedLogTSNsWithReplayEnabled(t *testing.T) {
	hn := newHarness(t, "self:1")
	require.NoError(t, hn.replaySvc.Enable(testStream, 0, 1000))

	ts, err := hn.h.GetMaxDecidedLogTSNs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(999), ts)
}

func TestIsValidMemberRequiresLeadership(t *testing.T) {
	hn := newHarness(t, "self:1")
	hn.eng.SetRole(engine.Follower, 1)

	_, err := hn.h.IsValidMember(context.Background(), "self:1")
	assert.Equal(t, KindNotMaster, KindOf(err))
}
