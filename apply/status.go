// Package apply implements the per-stream apply-status FIFO that append
// callbacks are enqueued into once their log slot is committed (spec §4.6).
// It is modeled after mapservice.MapService's mutex-guarded map with a
// monotonically tracked high-water mark.
package apply

import (
	"sort"
	"sync"

	"github.com/chn0318/logreplica/engine"
)

// Callback is the subset of handler.AppendCallback the apply pipeline needs
// to drain entries in LSN order and invoke completion. Defined here (rather
// than imported from handler) to avoid an import cycle between apply and
// handler.
type Callback interface {
	LSN() engine.LSN
	OnCommitted()
}

// Status is the per-stream, reference-counted FIFO of outstanding append
// callbacks. The handler increments its refcount on init and decrements on
// destroy; the apply service is the logical owner.
type Status struct {
	mu sync.Mutex

	refCount int32
	stopped  bool

	pending []Callback

	minUnappliedTS int64

	fileSizeCb func()
}

// New returns a fresh Status with refcount 1 (the caller that creates it
// holds the first reference).
func New() *Status {
	return &Status{refCount: 1}
}

func (s *Status) IncRef() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount++
}

// DecRef drops a reference, returning true if this was the last one.
func (s *Status) DecRef() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount--
	return s.refCount <= 0
}

// RegisterFileSizeCallback and UnregisterFileSizeCallback model the
// file-size notification hook the original keeps separate from the
// apply-status's own internal lock (ob_log_handler.cpp's stop(): "cannot be
// called inside apply status lock, can cause deadlock with apply service").
// Callers MUST NOT hold s.mu (or any lock that apply-service callbacks might
// need) when calling Unregister.
func (s *Status) RegisterFileSizeCallback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileSizeCb = cb
}

func (s *Status) UnregisterFileSizeCallback() {
	s.mu.Lock()
	s.fileSizeCb = nil
	s.mu.Unlock()
}

// PushAppendCallback is the commit point for ownership transfer of cb: once
// it returns nil, the caller must not touch cb again.
func (s *Status) PushAppendCallback(cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.pending = append(s.pending, cb)
	return nil
}

// Drain invokes OnCommitted for every callback whose LSN is <= throughLSN,
// in LSN order, removing them from the pending set. This is normally driven
// by an external apply service loop; tests call it directly.
func (s *Status) Drain(throughLSN engine.LSN) {
	s.mu.Lock()
	var ready []Callback
	rest := s.pending[:0]
	for _, cb := range s.pending {
		if cb.LSN() <= throughLSN {
			ready = append(ready, cb)
		} else {
			rest = append(rest, cb)
		}
	}
	s.pending = rest
	s.mu.Unlock()
	// concurrent appenders may enqueue out of LSN order; deliver in LSN order.
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].LSN() < ready[j].LSN() })
	for _, cb := range ready {
		cb.OnCommitted()
	}
}

// Stop marks the status as no longer accepting new callbacks.
func (s *Status) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// IsApplyDone reports whether every previously-enqueued callback has been
// delivered, plus the number of callbacks still pending at the time of the
// check (spec §8.4).
func (s *Status) IsApplyDone() (done bool, pendingCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0, len(s.pending)
}

func (s *Status) SetMinUnappliedTS(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minUnappliedTS = ts
}

func (s *Status) MinUnappliedTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minUnappliedTS
}
