package handler

import (
	"time"

	"github.com/chn0318/logreplica/engine"
)

// AppendCallback is the user-supplied handle passed to Append (spec §3).
// Ownership transfers to the apply pipeline once Append enqueues it
// successfully; the caller must not touch it again after that point.
type AppendCallback struct {
	AppendStartTs  int64
	AppendFinishTs int64
	lsn            engine.LSN
	tsNs           int64

	// OnLogCommitted is invoked once the log entry backing this callback has
	// committed locally at this replica.
	OnLogCommitted func(lsn engine.LSN, tsNs int64)
}

// NewAppendCallback returns a fresh, unenqueued callback.
func NewAppendCallback(onCommitted func(lsn engine.LSN, tsNs int64)) *AppendCallback {
	return &AppendCallback{OnLogCommitted: onCommitted}
}

func (c *AppendCallback) setAppendStart() {
	c.AppendStartTs = time.Now().UnixNano()
}

func (c *AppendCallback) setAppendFinish(lsn engine.LSN, tsNs int64) {
	c.AppendFinishTs = time.Now().UnixNano()
	c.lsn = lsn
	c.tsNs = tsNs
}

// LSN implements apply.Callback.
func (c *AppendCallback) LSN() engine.LSN { return c.lsn }

// TSNs returns the commit timestamp assigned to this callback's append.
func (c *AppendCallback) TSNs() int64 { return c.tsNs }

// OnCommitted implements apply.Callback; it is invoked by the apply
// pipeline once this callback's LSN has drained through the FIFO in order.
func (c *AppendCallback) OnCommitted() {
	if c.OnLogCommitted != nil {
		c.OnLogCommitted(c.lsn, c.tsNs)
	}
}
