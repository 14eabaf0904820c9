// Package engine defines the black-box replicated log engine contract the
// Log Handler Core is built on top of (spec §6, "Consumed — Replicated Log
// Engine"). Paxos election internals, on-disk layout, and storage format are
// out of scope; this package only describes the interface a handler needs.
package engine

import (
	"context"
	"errors"
)

// Sentinel errors returned by LogEngine implementations. The handler
// classifies these into its own error Kind taxonomy (handler/errors.go).
var (
	// ErrTemporarilyRejected signals backpressure: the caller may retry.
	ErrTemporarilyRejected = errors.New("engine: append temporarily rejected")
	// ErrProposalMismatch signals the caller's proposal id is stale.
	ErrProposalMismatch = errors.New("engine: proposal id mismatch")
	// ErrNotFound signals a seek/read target does not exist in the engine.
	ErrNotFound = errors.New("engine: entry not found")
)

// Iterator walks committed log entries in LSN order.
type Iterator interface {
	Next() (LSN, []byte, bool)
	Close()
}

// RebuildCallback is invoked when the engine detects that this replica has
// fallen too far behind and must rebuild from a snapshot (original:
// PalfRebuildCb).
type RebuildCallback func(lsn LSN)

// LogEngine is the black-box replicated log engine the handler drives.
// One instance is owned per stream. Implementations must be safe for
// concurrent use by multiple goroutines.
type LogEngine interface {
	// Append appends nbytes from buffer, returning the assigned LSN and
	// commit timestamp on success. It may return ErrTemporarilyRejected for
	// transient backpressure or ErrProposalMismatch when opts.ProposalID no
	// longer matches the engine's current term.
	Append(ctx context.Context, opts AppendOptions, buffer []byte, refTSNs int64) (LSN, int64, error)

	// GetRole reports the engine's own view of role/term, independent of
	// any cache the caller may keep.
	GetRole(ctx context.Context) (RoleReport, error)

	GetAccessMode(ctx context.Context) (modeVersion int64, mode AccessMode, err error)
	ChangeAccessMode(ctx context.Context, proposalID ProposalID, modeVersion int64, mode AccessMode, refTSNs int64) error

	SeekByLSN(ctx context.Context, lsn LSN) (Iterator, error)
	SeekByTS(ctx context.Context, tsNs int64) (Iterator, error)

	SetInitialMemberList(ctx context.Context, members MemberList) error

	LocateByTSCoarsely(ctx context.Context, tsNs int64) (LSN, error)
	LocateByLSNCoarsely(ctx context.Context, lsn LSN) (int64, error)

	AdvanceBaseLSN(ctx context.Context, lsn LSN) error
	GetEndLSN(ctx context.Context) (LSN, error)
	GetMaxLSN(ctx context.Context) (LSN, error)
	GetMaxTSNs(ctx context.Context) (int64, error)
	GetEndTSNs(ctx context.Context) (int64, error)

	GetPaxosMemberList(ctx context.Context) (MemberList, error)
	GetGlobalLearnerList(ctx context.Context) (LearnerList, error)

	EnableSync(ctx context.Context) error
	DisableSync(ctx context.Context) error
	IsSyncEnabled(ctx context.Context) bool

	AdvanceBaseInfo(ctx context.Context, info BaseInfo, isRebuild bool) error
	GetBaseInfo(ctx context.Context, baseLSN LSN) (BaseInfo, error)
	GetLastRebuildLSN(ctx context.Context) (LSN, error)

	DegradeAcceptorToLearner(ctx context.Context, members MemberList, timeoutNs int64) error
	UpgradeLearnerToAcceptor(ctx context.Context, learners LearnerList, timeoutNs int64) error

	SetRegion(ctx context.Context, region Region) error
	EnableVote(ctx context.Context) error
	DisableVote(ctx context.Context) error

	RegisterRebuildCb(cb RebuildCallback) error
	UnregisterRebuildCb() error

	// RunConfigChangeCmdLocally applies a reconfiguration command that has
	// already been determined to target this replica as leader (spec §4.4's
	// "local" branch). kind and payload mirror logrpcpb.ConfigChangeCmdReq.
	RunConfigChangeCmdLocally(ctx context.Context, cmd ConfigChangeCmd) error

	// Close releases any resources held by the engine handle.
	Close(ctx context.Context) error
}

// ConfigChangeKind enumerates the reconfiguration command variants named in
// spec §6's wire message.
type ConfigChangeKind int32

const (
	ChangeReplicaNum ConfigChangeKind = iota
	AddMember
	RemoveMember
	ReplaceMember
	AddLearner
	RemoveLearner
	SwitchToAcceptor
	SwitchToLearner
	AddArbMember
	RemoveArbMember
	ReplaceArbMember
)

func (k ConfigChangeKind) String() string {
	names := [...]string{
		"CHANGE_REPLICA_NUM", "ADD_MEMBER", "REMOVE_MEMBER", "REPLACE_MEMBER",
		"ADD_LEARNER", "REMOVE_LEARNER", "SWITCH_TO_ACCEPTOR", "SWITCH_TO_LEARNER",
		"ADD_ARB_MEMBER", "REMOVE_ARB_MEMBER", "REPLACE_ARB_MEMBER",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UNKNOWN"
	}
	return names[k]
}

// ConfigChangeCmd is the engine-level representation of a reconfiguration
// request, addressed to whichever replica currently believes itself leader.
type ConfigChangeCmd struct {
	Self            string
	StreamID        StreamID
	AddedMember     Member
	RemovedMember   Member
	CurrReplicaNum  int64
	NewReplicaNum   int64
	Kind            ConfigChangeKind
	TimeoutNs       int64
}

func (c ConfigChangeCmd) IsAddMemberList() bool {
	switch c.Kind {
	case AddMember, ReplaceMember, AddArbMember, ReplaceArbMember:
		return c.AddedMember.IsValid()
	default:
		return false
	}
}

func (c ConfigChangeCmd) IsRemoveMemberList() bool {
	switch c.Kind {
	case RemoveMember, ReplaceMember, RemoveArbMember, ReplaceArbMember:
		return c.RemovedMember.IsValid()
	default:
		return false
	}
}

// PalfBlockSize is the block granularity used to align a requested base LSN
// down to a boundary the engine can snapshot from (original: PALF_BLOCK_SIZE).
const PalfBlockSize = LSN(64 * 1024 * 1024)

// AlignBaseLSN rounds lsn down to the nearest PalfBlockSize boundary, the way
// ob_log_handler.cpp's get_palf_base_info aligns a requested base_lsn before
// asking the engine for a base_info snapshot at that point.
func AlignBaseLSN(lsn LSN) LSN {
	if lsn < 0 {
		return 0
	}
	return (lsn / PalfBlockSize) * PalfBlockSize
}
