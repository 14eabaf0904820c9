package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/engine/memengine"
)

func TestRoleCacheFollowerIsReturnedWithoutEngineQuery(t *testing.T) {
	var c roleCache
	c.switchRole(engine.Follower, 9)

	eng := memengine.New()
	eng.SetRole(engine.Leader, 9) // engine disagrees; cache must win for Follower.

	role, proposal, err := c.getRole(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, engine.Follower, role)
	assert.Equal(t, engine.ProposalID(9), proposal)
}

func TestRoleCacheLeaderIsReverifiedAgainstEngine(t *testing.T) {
	var c roleCache
	c.switchRole(engine.Leader, 5)

	eng := memengine.New()
	eng.SetRole(engine.Leader, 5)

	role, _, err := c.getRole(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, engine.Leader, role)
}

func TestRoleCacheDowngradesStaleLeader(t *testing.T) {
	var c roleCache
	c.switchRole(engine.Leader, 5)

	eng := memengine.New()
	eng.SetRole(engine.Leader, 6) // engine's term has moved on.

	role, _, err := c.getRole(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, engine.Follower, role)
}
