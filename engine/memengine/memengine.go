// Package memengine is an in-memory reference implementation of
// engine.LogEngine, used by handler tests and by cmd/handlerd's standalone
// dev mode. It is grounded on sharedlog/memorylog/memorylog.go's
// sync.RWMutex-guarded map-of-records-with-monotonic-tail pattern.
package memengine

import (
	"context"
	"sync"

	"github.com/chn0318/logreplica/engine"
)

type record struct {
	data  []byte
	tsNs  int64
}

// MemEngine is a single-process, non-durable stand-in for a Paxos log
// engine. It starts as follower until SetRole says otherwise, and it rejects
// an append only for a stale proposal id or when the one-shot Reject hook is
// set.
type MemEngine struct {
	mu sync.RWMutex

	role       engine.Role
	proposalID engine.ProposalID

	entries      map[engine.LSN]record
	endLSN       engine.LSN
	maxTSNs      int64

	accessModeVersion int64
	accessMode        engine.AccessMode

	members     engine.MemberList
	learners    engine.LearnerList

	syncEnabled    bool
	baseInfo       engine.BaseInfo
	lastRebuildLSN engine.LSN

	region engine.Region
	voteEnabled bool

	rebuildCb engine.RebuildCallback

	// Reject, if set, is returned by the next Append call instead of
	// succeeding; used by tests to exercise retry/backpressure paths.
	Reject error
}

// New returns a follower-by-default MemEngine.
func New() *MemEngine {
	return &MemEngine{
		role:           engine.Follower,
		entries:        make(map[engine.LSN]record),
		endLSN:         0,
		voteEnabled:    true,
		lastRebuildLSN: engine.Invalid,
	}
}

// SetRole lets a test (or the handler's switch_role notifier, in a
// standalone dev wiring) change what this engine reports from GetRole.
func (e *MemEngine) SetRole(role engine.Role, proposalID engine.ProposalID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.role = role
	e.proposalID = proposalID
}

func (e *MemEngine) Append(ctx context.Context, opts engine.AppendOptions, buffer []byte, refTSNs int64) (engine.LSN, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Reject != nil {
		err := e.Reject
		e.Reject = nil
		return 0, 0, err
	}
	if opts.NeedCheckProposal && opts.ProposalID != e.proposalID {
		return 0, 0, engine.ErrProposalMismatch
	}
	e.endLSN++
	tsNs := refTSNs
	if tsNs <= e.maxTSNs {
		tsNs = e.maxTSNs + 1
	}
	e.maxTSNs = tsNs
	e.entries[e.endLSN] = record{data: append([]byte(nil), buffer...), tsNs: tsNs}
	return e.endLSN, tsNs, nil
}

func (e *MemEngine) GetRole(ctx context.Context) (engine.RoleReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return engine.RoleReport{Role: e.role, ProposalID: e.proposalID}, nil
}

func (e *MemEngine) GetAccessMode(ctx context.Context) (int64, engine.AccessMode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accessModeVersion, e.accessMode, nil
}

func (e *MemEngine) ChangeAccessMode(ctx context.Context, proposalID engine.ProposalID, modeVersion int64, mode engine.AccessMode, refTSNs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accessModeVersion = modeVersion
	e.accessMode = mode
	return nil
}

type sliceIterator struct {
	entries []engine.LSN
	data    map[engine.LSN]record
	pos     int
}

func (it *sliceIterator) Next() (engine.LSN, []byte, bool) {
	if it.pos >= len(it.entries) {
		return 0, nil, false
	}
	lsn := it.entries[it.pos]
	it.pos++
	return lsn, it.data[lsn].data, true
}

func (it *sliceIterator) Close() {}

func (e *MemEngine) SeekByLSN(ctx context.Context, lsn engine.LSN) (engine.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.entries[lsn]; !ok {
		return nil, engine.ErrNotFound
	}
	var keys []engine.LSN
	for l := lsn; l <= e.endLSN; l++ {
		if _, ok := e.entries[l]; ok {
			keys = append(keys, l)
		}
	}
	return &sliceIterator{entries: keys, data: e.entries}, nil
}

func (e *MemEngine) SeekByTS(ctx context.Context, tsNs int64) (engine.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var keys []engine.LSN
	for l := engine.LSN(1); l <= e.endLSN; l++ {
		if rec, ok := e.entries[l]; ok && rec.tsNs >= tsNs {
			keys = append(keys, l)
		}
	}
	return &sliceIterator{entries: keys, data: e.entries}, nil
}

func (e *MemEngine) SetInitialMemberList(ctx context.Context, members engine.MemberList) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.members = members
	return nil
}

func (e *MemEngine) LocateByTSCoarsely(ctx context.Context, tsNs int64) (engine.LSN, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var best engine.LSN
	for l := engine.LSN(1); l <= e.endLSN; l++ {
		if rec, ok := e.entries[l]; ok && rec.tsNs <= tsNs {
			best = l
		}
	}
	return best, nil
}

func (e *MemEngine) LocateByLSNCoarsely(ctx context.Context, lsn engine.LSN) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rec, ok := e.entries[lsn]; ok {
		return rec.tsNs, nil
	}
	// round-trip law requires ts' <= ts for an unknown lsn too.
	var best int64
	for l, rec := range e.entries {
		if l <= lsn && rec.tsNs > best {
			best = rec.tsNs
		}
	}
	return best, nil
}

func (e *MemEngine) AdvanceBaseLSN(ctx context.Context, lsn engine.LSN) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseInfo.BaseLSN = lsn
	return nil
}

func (e *MemEngine) GetEndLSN(ctx context.Context) (engine.LSN, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.endLSN, nil
}

func (e *MemEngine) GetMaxLSN(ctx context.Context) (engine.LSN, error) {
	return e.GetEndLSN(ctx)
}

func (e *MemEngine) GetMaxTSNs(ctx context.Context) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxTSNs, nil
}

func (e *MemEngine) GetEndTSNs(ctx context.Context) (int64, error) {
	return e.GetMaxTSNs(ctx)
}

func (e *MemEngine) GetPaxosMemberList(ctx context.Context) (engine.MemberList, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.members, nil
}

func (e *MemEngine) GetGlobalLearnerList(ctx context.Context) (engine.LearnerList, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.learners, nil
}

func (e *MemEngine) EnableSync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncEnabled = true
	return nil
}

func (e *MemEngine) DisableSync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncEnabled = false
	return nil
}

func (e *MemEngine) IsSyncEnabled(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.syncEnabled
}

func (e *MemEngine) AdvanceBaseInfo(ctx context.Context, info engine.BaseInfo, isRebuild bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseInfo = info
	if isRebuild {
		e.lastRebuildLSN = info.BaseLSN
	}
	return nil
}

func (e *MemEngine) GetBaseInfo(ctx context.Context, baseLSN engine.LSN) (engine.BaseInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseInfo, nil
}

func (e *MemEngine) GetLastRebuildLSN(ctx context.Context) (engine.LSN, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRebuildLSN, nil
}

func (e *MemEngine) DegradeAcceptorToLearner(ctx context.Context, members engine.MemberList, timeoutNs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range members.Members {
		e.learners.Learners = append(e.learners.Learners, m)
	}
	return nil
}

func (e *MemEngine) UpgradeLearnerToAcceptor(ctx context.Context, learners engine.LearnerList, timeoutNs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range learners.Learners {
		e.members.Members = append(e.members.Members, l)
	}
	return nil
}

func (e *MemEngine) SetRegion(ctx context.Context, region engine.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.region = region
	return nil
}

func (e *MemEngine) EnableVote(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voteEnabled = true
	return nil
}

func (e *MemEngine) DisableVote(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voteEnabled = false
	return nil
}

func (e *MemEngine) RegisterRebuildCb(cb engine.RebuildCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildCb = cb
	return nil
}

func (e *MemEngine) UnregisterRebuildCb() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildCb = nil
	return nil
}

// TriggerRebuild lets a test simulate the engine deciding a rebuild is
// needed, invoking the registered callback if any.
func (e *MemEngine) TriggerRebuild(lsn engine.LSN) {
	e.mu.Lock()
	e.lastRebuildLSN = lsn
	cb := e.rebuildCb
	e.mu.Unlock()
	if cb != nil {
		cb(lsn)
	}
}

func (e *MemEngine) RunConfigChangeCmdLocally(ctx context.Context, cmd engine.ConfigChangeCmd) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch cmd.Kind {
	case engine.ChangeReplicaNum:
		e.members.ReplicaNum = cmd.NewReplicaNum
	case engine.AddMember:
		e.members.Members = append(e.members.Members, cmd.AddedMember)
		e.members.ReplicaNum = cmd.NewReplicaNum
	case engine.RemoveMember:
		e.removeMemberLocked(cmd.RemovedMember.Address)
		e.members.ReplicaNum = cmd.NewReplicaNum
	case engine.ReplaceMember:
		e.removeMemberLocked(cmd.RemovedMember.Address)
		e.members.Members = append(e.members.Members, cmd.AddedMember)
	case engine.AddLearner:
		e.learners.Learners = append(e.learners.Learners, cmd.AddedMember)
	case engine.RemoveLearner:
		e.removeLearnerLocked(cmd.RemovedMember.Address)
	case engine.SwitchToAcceptor:
		e.removeLearnerLocked(cmd.AddedMember.Address)
		e.members.Members = append(e.members.Members, cmd.AddedMember)
	case engine.SwitchToLearner:
		e.removeMemberLocked(cmd.RemovedMember.Address)
		e.learners.Learners = append(e.learners.Learners, cmd.RemovedMember)
	case engine.AddArbMember, engine.RemoveArbMember, engine.ReplaceArbMember:
		// arbiter members store no data; bookkeeping only.
	}
	return nil
}

func (e *MemEngine) removeMemberLocked(addr string) {
	out := e.members.Members[:0]
	for _, m := range e.members.Members {
		if m.Address != addr {
			out = append(out, m)
		}
	}
	e.members.Members = out
}

func (e *MemEngine) removeLearnerLocked(addr string) {
	out := e.learners.Learners[:0]
	for _, m := range e.learners.Learners {
		if m.Address != addr {
			out = append(out, m)
		}
	}
	e.learners.Learners = out
}

func (e *MemEngine) Close(ctx context.Context) error {
	return nil
}
