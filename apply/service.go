package apply

import (
	"sync"

	"github.com/chn0318/logreplica/engine"
)

// Service is the apply service every handler instance registers its stream
// with at init time. It owns the Status objects; GetApplyStatus hands out a
// counted reference the handler must RevertApplyStatus on destroy. Modeled
// on mapservice.MapService's mutex-guarded map keyed by stream id.
type Service struct {
	mu       sync.Mutex
	statuses map[engine.StreamID]*Status
}

func NewService() *Service {
	return &Service{statuses: make(map[engine.StreamID]*Status)}
}

// GetApplyStatus returns the Status for id, creating one if none exists, and
// increments its refcount.
func (s *Service) GetApplyStatus(id engine.StreamID) *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		st = New()
		st.refCount = 0 // caller's IncRef below establishes the first reference
		s.statuses[id] = st
	}
	st.IncRef()
	return st
}

// RevertApplyStatus drops the handler's reference; once the refcount reaches
// zero the status is removed from the registry.
func (s *Service) RevertApplyStatus(id engine.StreamID, st *Status) {
	if st.DecRef() {
		s.mu.Lock()
		if s.statuses[id] == st {
			delete(s.statuses, id)
		}
		s.mu.Unlock()
	}
}

// GetMinUnappliedTS returns the last applied-progress timestamp recorded for
// id, used by get_max_decided_log_ts_ns (spec §4.6).
func (s *Service) GetMinUnappliedTS(id engine.StreamID) (int64, error) {
	s.mu.Lock()
	st, ok := s.statuses[id]
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return st.MinUnappliedTS(), nil
}
