package handler

import (
	"context"
	"sync/atomic"

	"github.com/chn0318/logreplica/engine"
)

// roleCache is the locally-cached (role, proposal_id) pair shadowing the
// engine's own view (spec §4.2). SwitchRole is its only writer, called
// under StateLock(write) by the Facade; readers load atomically without
// taking any lock.
type roleCache struct {
	role       atomic.Int32
	proposalID atomic.Int64
}

func (c *roleCache) switchRole(role engine.Role, proposalID engine.ProposalID) {
	c.role.Store(int32(role))
	c.proposalID.Store(int64(proposalID))
}

func (c *roleCache) snapshot() (engine.Role, engine.ProposalID) {
	return engine.Role(c.role.Load()), engine.ProposalID(c.proposalID.Load())
}

// getRole implements spec §4.2's rule: a cached Follower is returned as-is;
// a cached Leader is re-verified against the engine, downgrading to
// Follower if the engine's proposal id has moved on.
func (c *roleCache) getRole(ctx context.Context, eng engine.LogEngine) (engine.Role, engine.ProposalID, error) {
	cachedRole, cachedProposal := c.snapshot()
	if cachedRole == engine.Follower {
		return engine.Follower, cachedProposal, nil
	}
	report, err := eng.GetRole(ctx)
	if err != nil {
		return engine.Follower, cachedProposal, err
	}
	if report.ProposalID != cachedProposal {
		return engine.Follower, cachedProposal, nil
	}
	return report.Role, cachedProposal, nil
}
