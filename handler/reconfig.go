package handler

import (
	"context"
	"log"
	"time"

	"github.com/chn0318/logreplica/engine"
)

// submitConfigChangeCmd is the single reconfiguration dispatcher loop spec
// §4.4 describes in place of a state machine: every public reconfiguration
// method below builds an engine.ConfigChangeCmd and hands it here. The loop
// locates the current leader, dispatches locally if this replica is already
// leader or over RPC otherwise, and classifies the result to decide whether
// to retry, re-locate the leader, or give up.
func (h *Handler) submitConfigChangeCmd(ctx context.Context, cmd engine.ConfigChangeCmd) error {
	h.stateLock.RLock()
	if err := h.checkRunningLocked(); err != nil {
		h.stateLock.RUnlock()
		return err
	}
	id := h.id
	self := h.self
	cmd.Self = self
	cmd.StreamID = id
	retryInterval := h.cfg.ReconfigRetryInterval
	renewInterval := h.cfg.ReconfigRenewInterval
	blacklistRetryInterval := h.cfg.BlacklistRetryInterval
	connTimeoutCap := h.cfg.ReconfigConnTimeoutCap
	h.stateLock.RUnlock()

	blacklisted := false
	if cmd.IsRemoveMemberList() {
		h.depsLock.Lock()
		election := h.election
		h.depsLock.Unlock()
		if election != nil {
			if err := election.AddToBlacklist(id, cmd.RemovedMember.Address); err != nil {
				log.Printf("add to blacklist failed stream=%d addr=%s err=%v", id, cmd.RemovedMember.Address, err)
			} else {
				blacklisted = true
			}
		}
	}

	// deadline mirrors the original's "start_ts <- now_ns(); deadline <-
	// start_ts + req.timeout_ns" -- it bounds the loop independent of ctx, so
	// a caller that passes a finite cmd.TimeoutNs but an undeadlined ctx (e.g.
	// context.Background()) still gets a Timeout instead of retrying forever.
	deadline := time.Now().Add(time.Duration(cmd.TimeoutNs))

	removedAddedFromBlacklist := false
	var lastRenew time.Time
	for {
		select {
		case <-ctx.Done():
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return ErrTimeout
		default:
		}
		if time.Now().After(deadline) {
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return ErrTimeout
		}

		// a member must be removed from the election blacklist before it can
		// be added back in, in case an earlier reconfiguration blacklisted it
		// (original: "need to remove added member from election blacklist
		// before adding member"). Retried every iteration until it succeeds.
		if cmd.IsAddMemberList() && !removedAddedFromBlacklist {
			h.depsLock.Lock()
			election := h.election
			h.depsLock.Unlock()
			if election == nil {
				h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
				return ErrNotInit
			}
			if err := election.RemoveFromBlacklist(id, cmd.AddedMember.Address); err != nil {
				log.Printf("remove added member from blacklist failed stream=%d addr=%s err=%v", id, cmd.AddedMember.Address, err)
				if !sleepCtx(ctx, blacklistRetryInterval) {
					h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
					return ErrTimeout
				}
				continue
			}
			removedAddedFromBlacklist = true
		}

		h.depsLock.Lock()
		locator := h.leaderLocator
		proxy := h.rpcProxy
		h.depsLock.Unlock()
		if locator == nil || proxy == nil {
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return ErrNotInit
		}

		leaderAddr, err := locator.GetLeader(id)
		if err != nil {
			if time.Since(lastRenew) >= renewInterval {
				locator.NonblockRenewLeader(id)
				lastRenew = time.Now()
			}
			if !sleepCtx(ctx, retryInterval) {
				h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
				return ErrTimeout
			}
			continue
		}

		var dispatchErr error
		if leaderAddr == self {
			dispatchErr = h.runConfigChangeLocally(ctx, cmd)
		} else {
			// connect_timeout = min(timeout, connTimeoutCap), spec §4.4.
			connTimeout := time.Duration(cmd.TimeoutNs)
			if connTimeout > connTimeoutCap {
				connTimeout = connTimeoutCap
			}
			dispatchErr = proxy.SendConfigChangeCmd(ctx, leaderAddr, cmd, int64(connTimeout/time.Microsecond), cmd.TimeoutNs/1000)
		}

		switch classifyReconfigResult(dispatchErr) {
		case reconfigSuccess:
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return nil
		case reconfigNotMaster:
			if time.Since(lastRenew) >= renewInterval {
				locator.NonblockRenewLeader(id)
				lastRenew = time.Now()
			}
		case reconfigRetryLater:
			// fall through to the shared backoff below
		case reconfigRemovingLeaderDenied:
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return ErrRemovingLeaderDenied
		default:
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return dispatchErr
		}

		if !sleepCtx(ctx, retryInterval) {
			h.maybeRemoveBlacklist(id, cmd, blacklisted, blacklistRetryInterval)
			return ErrTimeout
		}
	}
}

// maybeRemoveBlacklist undoes the temporary election blacklist entry added
// before the dispatch loop started, retrying once on failure the way the
// original treats blacklist cleanup as best-effort rather than
// transactional (spec §9's Open Question: cleanup failure is logged, not
// retried indefinitely, and the entry is scoped to this one call).
func (h *Handler) maybeRemoveBlacklist(id engine.StreamID, cmd engine.ConfigChangeCmd, blacklisted bool, retryInterval time.Duration) {
	if !blacklisted {
		return
	}
	h.depsLock.Lock()
	election := h.election
	h.depsLock.Unlock()
	if election == nil {
		return
	}
	if err := election.RemoveFromBlacklist(id, cmd.RemovedMember.Address); err != nil {
		time.Sleep(retryInterval)
		if err := election.RemoveFromBlacklist(id, cmd.RemovedMember.Address); err != nil {
			log.Printf("remove from blacklist failed stream=%d addr=%s err=%v", id, cmd.RemovedMember.Address, err)
		}
	}
}

// RunLocalConfigChange applies cmd against this replica's engine directly.
// It is the entry point rpc.Server uses when a remote peer's dispatcher
// believes this replica is the current leader for cmd's stream.
func (h *Handler) RunLocalConfigChange(ctx context.Context, cmd engine.ConfigChangeCmd) error {
	return h.runConfigChangeLocally(ctx, cmd)
}

func (h *Handler) runConfigChangeLocally(ctx context.Context, cmd engine.ConfigChangeCmd) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.RunConfigChangeCmdLocally(ctx, cmd)
}

type reconfigVerdict int

const (
	reconfigSuccess reconfigVerdict = iota
	reconfigNotMaster
	reconfigRetryLater
	reconfigRemovingLeaderDenied
	reconfigOther
)

func classifyReconfigResult(err error) reconfigVerdict {
	if err == nil {
		return reconfigSuccess
	}
	switch KindOf(err) {
	case KindNotMaster:
		return reconfigNotMaster
	case KindRetryableLater:
		return reconfigRetryLater
	case KindRemovingLeaderDenied:
		return reconfigRemovingLeaderDenied
	default:
		return reconfigOther
	}
}

// sleepCtx sleeps for d or until ctx is done, reporting whether it completed
// the full sleep without ctx ending first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Public reconfiguration operations (spec §4.4). Each builds the
// corresponding engine.ConfigChangeCmd and submits it through the shared
// dispatcher loop above.

func (h *Handler) ChangeReplicaNum(ctx context.Context, currReplicaNum, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:           engine.ChangeReplicaNum,
		CurrReplicaNum: currReplicaNum,
		NewReplicaNum:  newReplicaNum,
		TimeoutNs:      timeoutNs,
	})
}

func (h *Handler) AddMember(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.AddMember,
		AddedMember:   member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) RemoveMember(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.RemoveMember,
		RemovedMember: member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) ReplaceMember(ctx context.Context, added, removed engine.Member, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.ReplaceMember,
		AddedMember:   added,
		RemovedMember: removed,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) AddLearner(ctx context.Context, learner engine.Member, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:        engine.AddLearner,
		AddedMember: learner,
		TimeoutNs:   timeoutNs,
	})
}

func (h *Handler) RemoveLearner(ctx context.Context, learner engine.Member, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.RemoveLearner,
		RemovedMember: learner,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) SwitchLearnerToAcceptor(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.SwitchToAcceptor,
		AddedMember:   member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) SwitchAcceptorToLearner(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.SwitchToLearner,
		RemovedMember: member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) AddArbMember(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.AddArbMember,
		AddedMember:   member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) RemoveArbMember(ctx context.Context, member engine.Member, newReplicaNum int64, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.RemoveArbMember,
		RemovedMember: member,
		NewReplicaNum: newReplicaNum,
		TimeoutNs:     timeoutNs,
	})
}

func (h *Handler) ReplaceArbMember(ctx context.Context, added, removed engine.Member, timeoutNs int64) error {
	return h.submitConfigChangeCmd(ctx, engine.ConfigChangeCmd{
		Kind:          engine.ReplaceArbMember,
		AddedMember:   added,
		RemovedMember: removed,
		TimeoutNs:     timeoutNs,
	})
}

// DegradeAcceptorToLearner and UpgradeLearnerToAcceptor bypass the
// dispatcher loop entirely: spec §4.4 notes these two only ever run on a
// replica that already knows itself to be leader, so there is no leader to
// locate and no RPC hop to make.
func (h *Handler) DegradeAcceptorToLearner(ctx context.Context, members engine.MemberList, timeoutNs int64) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	role, _, err := h.role.getRole(ctx, h.engine)
	if err != nil {
		return ErrUnexpected(err.Error())
	}
	if role != engine.Leader {
		return ErrNotMaster
	}
	return h.engine.DegradeAcceptorToLearner(ctx, members, timeoutNs)
}

func (h *Handler) UpgradeLearnerToAcceptor(ctx context.Context, learners engine.LearnerList, timeoutNs int64) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	role, _, err := h.role.getRole(ctx, h.engine)
	if err != nil {
		return ErrUnexpected(err.Error())
	}
	if role != engine.Leader {
		return ErrNotMaster
	}
	return h.engine.UpgradeLearnerToAcceptor(ctx, learners, timeoutNs)
}
