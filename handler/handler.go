// Package handler implements the Log Handler Core: the per-log-stream
// replication coordinator that sits atop a black-box Paxos log engine
// (engine.LogEngine) and exposes a correct, concurrent, leader-aware API for
// appends, reads, membership change, access-mode change, and lifecycle.
//
// The lock hierarchy, role cache, append path, reconfiguration dispatcher,
// and sync monitor below are a direct generalization of
// storageserver.StorageServer / mapservice.MapService's locking discipline,
// fitted to the richer state machine this component needs.
package handler

import (
	"context"
	"log"
	"sync"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/config"
	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/locator"
	"github.com/chn0318/logreplica/replay"
)

// Lifecycle is the coarse state machine described in spec §3.
type Lifecycle int

const (
	Uninit Lifecycle = iota
	Running
	Stopping
	Destroyed
)

func (l Lifecycle) String() string {
	switch l {
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Destroyed:
		return "Destroyed"
	default:
		return "Uninit"
	}
}

// RPCProxy is the handler's view of the outbound RPC client used by the
// reconfiguration dispatcher and the sync monitor (spec §6, "Consumed —
// RPC Proxy").
type RPCProxy interface {
	SendConfigChangeCmd(ctx context.Context, addr string, cmd engine.ConfigChangeCmd, connTimeoutUs, processBudgetUs int64) error
	GetPalfStat(ctx context.Context, addr string, self string, id engine.StreamID) (maxTsNs int64, err error)
}

// Handler is the Facade: the only public entry point into the Log Handler
// Core, owning the lifecycle and lock hierarchy (spec §4.1).
//
// StateLock (stateLock) is a reader/writer lock: writers are Init, Stop,
// Destroy, SwitchRole, and AdvanceBaseInfo; every other operation, including
// Append, is a reader, so the hot append path runs read-shared with every
// other reader. DepsLock (depsLock) is a short lock guarding the
// reconfiguration dispatcher's access to the RPC client and leader locator,
// so Destroy cannot null them out mid-RPC; it is always acquired after
// StateLock when both are needed (StateLock(write) -> DepsLock), and the
// append path never takes it at all.
type Handler struct {
	stateLock sync.RWMutex
	depsLock  sync.Mutex

	id   engine.StreamID
	self string

	cfg config.HandlerConfig

	engine engine.LogEngine

	applyStatus  *apply.Status
	applyService *apply.Service
	replayService *replay.Service

	leaderLocator locator.LeaderLocator
	election      locator.ElectionAdapter
	rpcProxy      RPCProxy

	role roleCache

	cachedSync syncCache

	lifecycle Lifecycle

	qs *quiescentGuard

	appendStat appendCostStat

	lastRenewLocTs int64 // ns, guarded by depsLock (used by reconfig dispatcher)

	rebuildCb engine.RebuildCallback
}

// New constructs an uninitialized Handler; call Init before using it.
func New() *Handler {
	return &Handler{qs: newQuiescentGuard()}
}

// Init wires the handler to its dependencies and transitions it to Running
// (spec §3's lifecycle: init -> Running).
func (h *Handler) Init(
	ctx context.Context,
	id engine.StreamID,
	self string,
	cfg config.HandlerConfig,
	eng engine.LogEngine,
	applyService *apply.Service,
	replayService *replay.Service,
	leaderLocator locator.LeaderLocator,
	election locator.ElectionAdapter,
	rpcProxy RPCProxy,
) error {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	if h.lifecycle != Uninit {
		return ErrUnexpected("init called twice")
	}
	if self == "" || eng == nil || applyService == nil || leaderLocator == nil || rpcProxy == nil {
		return ErrInvalidArgument("invalid arguments to Init")
	}
	h.id = id
	h.self = self
	h.cfg = cfg
	h.engine = eng
	h.applyService = applyService
	h.applyStatus = applyService.GetApplyStatus(id)
	h.replayService = replayService
	h.leaderLocator = leaderLocator
	h.election = election
	h.rpcProxy = rpcProxy
	h.role.switchRole(engine.Follower, 0)
	h.lifecycle = Running
	log.Printf("log handler init success stream=%d self=%s", id, self)
	return nil
}

// IsValid reports whether the handler is fully wired and running (spec §3's
// invariant on HandlerState).
func (h *Handler) IsValid() bool {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	return h.lifecycle == Running &&
		h.self != "" &&
		h.engine != nil &&
		h.applyStatus != nil &&
		h.leaderLocator != nil &&
		h.rpcProxy != nil
}

// Stop transitions the handler to Stopping: no new append may be enqueued
// after this returns, but outstanding appends must still drain before
// Destroy completes (spec §3).
func (h *Handler) Stop(ctx context.Context) error {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return nil
	}
	h.lifecycle = Stopping
	// unregister_file_size_callback must not be called while holding the
	// apply-status's own internal lock, to avoid a known deadlock with the
	// apply service (spec §4.1) -- apply.Status already enforces this by
	// taking its own lock only inside the Unregister call itself.
	h.applyStatus.UnregisterFileSizeCallback()
	if err := h.applyStatus.Stop(); err != nil {
		log.Printf("apply status stop failed stream=%d err=%v", h.id, err)
	}
	log.Printf("stop log handler finish stream=%d", h.id)
	return nil
}

// SafeToDestroy polls whether Destroy may proceed: it requires Stop to have
// already been called and every previously-enqueued callback to have
// drained (spec §3, §8.4).
func (h *Handler) SafeToDestroy(ctx context.Context) error {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return nil
	}
	if h.lifecycle != Stopping {
		return ErrStateMismatch("stop has not been called")
	}
	done, pending := h.applyStatus.IsApplyDone()
	if !done {
		log.Printf("wait apply done false stream=%d pending=%d", h.id, pending)
		return ErrRetryableLater("apply pipeline still draining")
	}
	return nil
}

// Destroy releases the engine handle and the handler's reference to the
// apply-status. It must only be called once SafeToDestroy reports success;
// no in-flight append can outlive this call because it waits for the
// quiescent barrier to drain first (spec §4.1, §9).
func (h *Handler) Destroy(ctx context.Context) {
	h.qs.bumpAndWait()
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return
	}
	h.lifecycle = Destroyed
	h.depsLock.Lock()
	if h.applyService != nil && h.applyStatus != nil {
		h.applyService.RevertApplyStatus(h.id, h.applyStatus)
	}
	h.applyStatus = nil
	h.applyService = nil
	h.replayService = nil
	if h.engine != nil {
		if err := h.engine.Close(ctx); err != nil {
			log.Printf("engine close failed stream=%d err=%v", h.id, err)
		}
	}
	h.leaderLocator = nil
	h.election = nil
	h.rpcProxy = nil
	h.engine = nil
	h.depsLock.Unlock()
}

// WaitAppendSync blocks until every append that entered its critical
// section before this call has exited (spec §4.1's quiescent-state
// barrier), without itself changing lifecycle.
func (h *Handler) WaitAppendSync() {
	h.qs.bumpAndWait()
}

func (h *Handler) checkRunningLocked() error {
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return ErrNotInit
	}
	if h.lifecycle == Stopping {
		return ErrNotRunning
	}
	return nil
}

// SwitchRole is the only writer of the role cache (spec §4.2), invoked by
// an external election notifier under StateLock(write).
func (h *Handler) SwitchRole(role engine.Role, proposalID engine.ProposalID) {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	h.role.switchRole(role, proposalID)
}

// GetRole implements spec §4.2's downgrade rule.
func (h *Handler) GetRole(ctx context.Context) (engine.Role, engine.ProposalID, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return engine.Follower, 0, err
	}
	return h.role.getRole(ctx, h.engine)
}

func (h *Handler) GetAccessMode(ctx context.Context) (int64, engine.AccessMode, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, 0, err
	}
	return h.engine.GetAccessMode(ctx)
}

// ChangeAccessMode does not check role with the engine: proposal id is
// enough (spec §4.3's note, carried from the original: during an
// APPEND<->RAW_WRITE transition the log handler and the restore handler can
// briefly disagree on who is leader).
func (h *Handler) ChangeAccessMode(ctx context.Context, modeVersion int64, mode engine.AccessMode, refTSNs int64) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	_, proposalID := h.role.snapshot()
	return h.engine.ChangeAccessMode(ctx, proposalID, modeVersion, mode, refTSNs)
}

func (h *Handler) SeekByLSN(ctx context.Context, lsn engine.LSN) (engine.Iterator, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return nil, err
	}
	return h.engine.SeekByLSN(ctx, lsn)
}

func (h *Handler) SeekByTS(ctx context.Context, tsNs int64) (engine.Iterator, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return nil, err
	}
	return h.engine.SeekByTS(ctx, tsNs)
}

func (h *Handler) SetInitialMemberList(ctx context.Context, members engine.MemberList) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.SetInitialMemberList(ctx, members)
}

func (h *Handler) LocateByTSCoarsely(ctx context.Context, tsNs int64) (engine.LSN, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.LocateByTSCoarsely(ctx, tsNs)
}

func (h *Handler) LocateByLSNCoarsely(ctx context.Context, lsn engine.LSN) (int64, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.LocateByLSNCoarsely(ctx, lsn)
}

func (h *Handler) AdvanceBaseLSN(ctx context.Context, lsn engine.LSN) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.AdvanceBaseLSN(ctx, lsn)
}

func (h *Handler) GetEndLSN(ctx context.Context) (engine.LSN, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.GetEndLSN(ctx)
}

func (h *Handler) GetMaxLSN(ctx context.Context) (engine.LSN, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.GetMaxLSN(ctx)
}

func (h *Handler) GetMaxTSNs(ctx context.Context) (int64, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.GetMaxTSNs(ctx)
}

func (h *Handler) GetEndTSNs(ctx context.Context) (int64, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, err
	}
	return h.engine.GetEndTSNs(ctx)
}

func (h *Handler) GetPaxosMemberList(ctx context.Context) (engine.MemberList, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return engine.MemberList{}, err
	}
	return h.engine.GetPaxosMemberList(ctx)
}

func (h *Handler) GetGlobalLearnerList(ctx context.Context) (engine.LearnerList, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return engine.LearnerList{}, err
	}
	return h.engine.GetGlobalLearnerList(ctx)
}

func (h *Handler) EnableSync(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.EnableSync(ctx)
}

func (h *Handler) DisableSync(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.DisableSync(ctx)
}

func (h *Handler) IsSyncEnabled(ctx context.Context) bool {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.checkRunningLocked() != nil {
		return false
	}
	return h.engine.IsSyncEnabled(ctx)
}

// AdvanceBaseInfo requires replay to be currently disabled; it is a
// write-lock operation (spec §4.6).
func (h *Handler) AdvanceBaseInfo(ctx context.Context, info engine.BaseInfo, isRebuild bool) error {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	enabled, err := h.replayService.IsEnabled(h.id)
	if err != nil {
		return ErrUnexpected(err.Error())
	}
	if enabled {
		return ErrStateMismatch("replay is not disabled")
	}
	return h.engine.AdvanceBaseInfo(ctx, info, isRebuild)
}

func (h *Handler) GetBaseInfo(ctx context.Context, baseLSN engine.LSN) (engine.BaseInfo, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return engine.BaseInfo{}, err
	}
	if baseLSN < 0 {
		return engine.BaseInfo{}, ErrInvalidArgument("invalid base lsn")
	}
	return h.engine.GetBaseInfo(ctx, engine.AlignBaseLSN(baseLSN))
}

func (h *Handler) SetRegion(ctx context.Context, region engine.Region) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.SetRegion(ctx, region)
}

func (h *Handler) EnableVote(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.EnableVote(ctx)
}

func (h *Handler) DisableVote(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.DisableVote(ctx)
}

func (h *Handler) RegisterRebuildCb(cb engine.RebuildCallback) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.RegisterRebuildCb(cb)
}

func (h *Handler) UnregisterRebuildCb() error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return err
	}
	return h.engine.UnregisterRebuildCb()
}

// IsValidMember re-checks role/membership, returning NotMaster if the role
// changed between the two engine queries (grounded on
// ob_log_handler.cpp's is_valid_member).
func (h *Handler) IsValidMember(ctx context.Context, addr string) (bool, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return false, err
	}
	if addr == "" {
		return false, ErrInvalidArgument("empty address")
	}
	before, err := h.engine.GetRole(ctx)
	if err != nil {
		return false, ErrUnexpected(err.Error())
	}
	if before.Role != engine.Leader {
		return false, ErrNotMaster
	}
	members, err := h.engine.GetPaxosMemberList(ctx)
	if err != nil {
		return false, ErrUnexpected(err.Error())
	}
	after, err := h.engine.GetRole(ctx)
	if err != nil {
		return false, ErrUnexpected(err.Error())
	}
	if before.Role != after.Role || before.ProposalID != after.ProposalID {
		return false, ErrNotMaster
	}
	return members.Contains(addr), nil
}

// Replay pass-throughs (spec §4.6).

func (h *Handler) EnableReplay(ctx context.Context, lsn engine.LSN, tsNs int64) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return ErrNotInit
	}
	if lsn < 0 || tsNs < 0 {
		return ErrInvalidArgument("invalid lsn/ts")
	}
	return h.replayService.Enable(h.id, lsn, tsNs)
}

func (h *Handler) DisableReplay(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return ErrNotInit
	}
	return h.replayService.Disable(h.id)
}

func (h *Handler) PendSubmitReplayLog(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return ErrNotInit
	}
	return h.replayService.SetSubmitLogPending(h.id)
}

func (h *Handler) RestoreSubmitReplayLog(ctx context.Context) error {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return ErrNotInit
	}
	return h.replayService.EraseSubmitLogPending(h.id)
}

func (h *Handler) IsReplayEnabled() bool {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return false
	}
	enabled, err := h.replayService.IsEnabled(h.id)
	if err != nil {
		return false
	}
	return enabled
}

// GetMaxDecidedLogTSNs implements spec §4.6's frontier query:
// max(min_unreplayed_ts-1, min_unapplied_ts-1, 0), falling back to
// min_unapplied_ts-1 if replay is not yet enabled.
func (h *Handler) GetMaxDecidedLogTSNs(ctx context.Context) (int64, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if h.lifecycle == Uninit || h.lifecycle == Destroyed {
		return 0, ErrNotInit
	}
	if h.lifecycle == Stopping {
		return 0, ErrStateMismatch("handler stopped")
	}
	minUnapplied, err := h.applyService.GetMinUnappliedTS(h.id)
	if err != nil {
		return 0, ErrUnexpected(err.Error())
	}
	minUnreplayed, err := h.replayService.GetMinUnreplayedTS(h.id)
	if err == replay.ErrNotEnabled {
		v := minUnapplied - 1
		if v < 0 {
			v = 0
		}
		return v, nil
	} else if err != nil {
		return 0, ErrUnexpected(err.Error())
	}
	v := minUnreplayed - 1
	if other := minUnapplied - 1; other > v {
		v = other
	}
	if v < 0 {
		v = 0
	}
	return v, nil
}
