package handler

import (
	"context"
	"time"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/engine"
)

// Append drives the single-pass append algorithm of spec §4.3. Each attempt
// re-takes StateLock(read), re-resolves the caller's role from the cache
// (falling back to the engine only when the cache claims Leader, per
// getRole's downgrade rule), and makes one call into the engine plus the
// callback enqueue inside a single quiescent-guarded critical section, so
// Destroy cannot tear down the apply status out from under an appender that
// committed but hasn't enqueued yet. In blocking mode a transient rejection
// backs off (10us * attempt, capped at AppendRetryCapUs) and retries from
// the top -- StateLock and the quiescent section are released for the
// duration of the sleep, so a stalled append never starves
// Stop/Destroy/SwitchRole, which all take StateLock for writing.
//
// On success, cb is enqueued into the apply pipeline's FIFO and ownership of
// cb transfers to it; the caller must not touch cb again.
func (h *Handler) Append(ctx context.Context, buffer []byte, refTSNs int64, needNonblock bool, cb *AppendCallback) (engine.LSN, int64, error) {
	if len(buffer) == 0 {
		return 0, 0, ErrInvalidArgument("empty append buffer")
	}
	if cb == nil {
		return 0, 0, ErrInvalidArgument("nil append callback")
	}

	cb.setAppendStart()

	return h.appendWithRetry(ctx, buffer, refTSNs, needNonblock, cb)
}

// appendWithRetry loops over independent attempts (spec §4.3: "... sleeps
// with linear backoff ... and retries step 2"), only retrying a transient
// ErrTemporarilyRejected in blocking mode. A caller that wants true
// non-blocking semantics gets one attempt and an immediate RetryableLater
// answer instead of a retry.
func (h *Handler) appendWithRetry(ctx context.Context, buffer []byte, refTSNs int64, needNonblock bool, cb *AppendCallback) (engine.LSN, int64, error) {
	attempt := int64(0)
	for {
		lsn, tsNs, err := h.appendAttempt(ctx, buffer, refTSNs, needNonblock, cb)
		if err == nil {
			return lsn, tsNs, nil
		}
		if err != engine.ErrTemporarilyRejected {
			return 0, 0, err
		}
		if needNonblock {
			return 0, 0, ErrRetryableLater(err.Error())
		}
		attempt++
		backoff := attempt * h.cfg.AppendRetryStepUs
		if backoff > h.cfg.AppendRetryCapUs {
			backoff = h.cfg.AppendRetryCapUs
		}
		select {
		case <-ctx.Done():
			return 0, 0, ErrTimeout
		case <-time.After(time.Duration(backoff) * time.Microsecond):
		}
	}
}

// appendAttempt is one pass of spec §4.3's algorithm: take StateLock(read),
// re-check lifecycle and leadership, enter the quiescent-guarded critical
// section, make a single engine.Append call, and -- still inside that same
// section -- enqueue cb into the apply pipeline (spec §4.3 steps 5-6: the
// enqueue happens before "exit critical section and StateLock"). It returns
// the raw engine.ErrTemporarilyRejected sentinel on backpressure so
// appendWithRetry can decide whether to retry; every other error is already
// a *handler.Error.
func (h *Handler) appendAttempt(ctx context.Context, buffer []byte, refTSNs int64, needNonblock bool, cb *AppendCallback) (engine.LSN, int64, error) {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()
	if err := h.checkRunningLocked(); err != nil {
		return 0, 0, err
	}

	role, proposalID, err := h.role.getRole(ctx, h.engine)
	if err != nil {
		return 0, 0, ErrUnexpected(err.Error())
	}
	if role != engine.Leader {
		return 0, 0, ErrNotMaster
	}

	gen := h.qs.enter()
	defer h.qs.exit(gen)

	opts := engine.AppendOptions{
		ProposalID:        proposalID,
		NeedCheckProposal: true,
		NeedNonblock:      needNonblock,
	}

	lsn, tsNs, err := h.engine.Append(ctx, opts, buffer, refTSNs)
	if err != nil {
		if err == engine.ErrProposalMismatch {
			return 0, 0, ErrNotMaster
		}
		if err != engine.ErrTemporarilyRejected {
			return 0, 0, ErrUnexpected(err.Error())
		}
		return 0, 0, engine.ErrTemporarilyRejected
	}

	cb.setAppendFinish(lsn, tsNs)
	costUs := (cb.AppendFinishTs - cb.AppendStartTs) / int64(time.Microsecond)
	h.appendStat.sample(costUs)

	if err := h.applyStatus.PushAppendCallback(cb); err != nil {
		if err == apply.ErrStopped {
			return 0, 0, ErrNotRunning
		}
		return 0, 0, ErrUnexpected(err.Error())
	}
	return lsn, tsNs, nil
}

// AppendStat reports the append path's cumulative cost accounting (spec
// §4.3's "cost accounting" note): (sample count, average microseconds, max
// microseconds).
func (h *Handler) AppendStat() (int64, int64, int64) {
	return h.appendStat.snapshot()
}
