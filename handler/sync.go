package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/chn0318/logreplica/engine"
)

// syncCache is the cached answer the sync monitor refreshes (spec §4.5).
// IsInSync reads it without blocking on an RPC; a background loop keeps it
// current by periodically asking the leader for its max committed
// timestamp, the way the original's log_sync_checker thread polls
// get_leader_max_ts_ns.
type syncCache struct {
	mu          sync.Mutex
	value       bool
	needRebuild bool
	checkedAt   time.Time
	lastRenewAt time.Time
}

func (c *syncCache) snapshot() (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.checkedAt
}

func (c *syncCache) set(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.checkedAt = time.Now()
}

func (c *syncCache) setNeedRebuild(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needRebuild = v
}

func (c *syncCache) getNeedRebuild() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needRebuild
}

// shouldRenew reports whether the rate-limit on leader-locator renewal
// (spec §4.5, §8: 500ms) permits another renewal attempt now, and if so
// records that one is being made.
func (c *syncCache) shouldRenew(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastRenewAt) < interval {
		return false
	}
	c.lastRenewAt = now
	return true
}

// IsInSync reports the sync monitor's most recently cached verdict (spec
// §4.5: "is_in_sync answers from a cache refreshed on a timer, never a
// synchronous RPC").
func (h *Handler) IsInSync() bool {
	v, _ := h.cachedSync.snapshot()
	return v
}

// NeedRebuild reports whether the sync monitor's last refresh found this
// replica's end_lsn behind the engine's last_rebuild_lsn (spec §4.5:
// "if last_rebuild_lsn is valid and end_lsn < last_rebuild_lsn, signal
// need-rebuild"), meaning it has fallen too far behind to catch up by
// ordinary replication and must rebuild from a snapshot instead.
func (h *Handler) NeedRebuild() bool {
	return h.cachedSync.getNeedRebuild()
}

// RunSyncMonitor drives the periodic refresh loop until ctx is canceled or
// the handler is destroyed. cmd/handlerd's main wires one goroutine of this
// per stream, mirroring storageserver.StorageServer's own background
// maintenance loop pattern.
func (h *Handler) RunSyncMonitor(ctx context.Context) {
	interval := time.Duration(h.cfg.SyncPollIntervalNs()) * time.Nanosecond
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.lifecycleSnapshot() == Destroyed {
				return
			}
			h.refreshSync(ctx)
		}
	}
}

// refreshNeedRebuildLocked reads end_lsn and last_rebuild_lsn from the
// engine and updates the cached need-rebuild signal (spec §4.5). Callers
// must hold stateLock for reading.
func (h *Handler) refreshNeedRebuildLocked(ctx context.Context) {
	endLSN, err := h.engine.GetEndLSN(ctx)
	if err != nil {
		return
	}
	lastRebuildLSN, err := h.engine.GetLastRebuildLSN(ctx)
	if err != nil {
		return
	}
	h.cachedSync.setNeedRebuild(lastRebuildLSN != engine.Invalid && endLSN < lastRebuildLSN)
}

func (h *Handler) lifecycleSnapshot() Lifecycle {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	return h.lifecycle
}

// refreshSync performs one round of the sync check: locate the leader,
// fetch its max committed timestamp, and compare it against this replica's
// own progress using the handler's log-sync threshold (spec §4.5).
func (h *Handler) refreshSync(ctx context.Context) {
	h.stateLock.RLock()
	if h.checkRunningLocked() != nil {
		h.stateLock.RUnlock()
		return
	}
	h.refreshNeedRebuildLocked(ctx)

	role, _, err := h.role.getRole(ctx, h.engine)
	if err != nil {
		h.stateLock.RUnlock()
		return
	}
	if role == engine.Leader {
		h.stateLock.RUnlock()
		h.cachedSync.set(true)
		return
	}
	id := h.id
	self := h.self
	threshold := h.cfg.LogSyncThresholdNs()
	renewInterval := h.cfg.SyncPollRenewInterval
	h.stateLock.RUnlock()

	h.depsLock.Lock()
	locator := h.leaderLocator
	proxy := h.rpcProxy
	h.depsLock.Unlock()
	if locator == nil || proxy == nil {
		return
	}

	leaderAddr, err := locator.GetLeader(id)
	if err != nil {
		if h.cachedSync.shouldRenew(renewInterval) {
			locator.NonblockRenewLeader(id)
		}
		h.cachedSync.set(false)
		return
	}

	leaderMaxTs, err := proxy.GetPalfStat(ctx, leaderAddr, self, id)
	if err != nil {
		log.Printf("sync monitor get palf stat failed stream=%d leader=%s err=%v", id, leaderAddr, err)
		if h.cachedSync.shouldRenew(renewInterval) {
			locator.NonblockRenewLeader(id)
		}
		h.cachedSync.set(false)
		return
	}

	h.stateLock.RLock()
	localMaxTs, err := h.engine.GetMaxTSNs(ctx)
	h.stateLock.RUnlock()
	if err != nil {
		h.cachedSync.set(false)
		return
	}

	lag := leaderMaxTs - localMaxTs
	h.cachedSync.set(lag <= threshold)
}
