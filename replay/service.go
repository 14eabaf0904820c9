// Package replay implements the replay-enablement contract a handler
// forwards to (spec §4.6, §6 "Consumed — Replay Service"). Decoding
// committed log entries and applying them to in-memory state is out of
// scope; this package only tracks enablement state per stream.
package replay

import (
	"errors"
	"sync"

	"github.com/chn0318/logreplica/engine"
)

// ErrNotEnabled is returned by GetMinUnreplayedTS when replay has not been
// enabled for the stream (spec §4.6's fallback rule relies on this).
var ErrNotEnabled = errors.New("replay: not enabled")

type streamState struct {
	enabled        bool
	pending        bool
	startLSN       engine.LSN
	startTSNs      int64
	minUnreplayed  int64
}

// Service is an in-memory replay service. Production deployments would back
// this with the decode/apply pipeline named in spec §1's scope; that
// pipeline is out of scope here.
type Service struct {
	mu      sync.Mutex
	streams map[engine.StreamID]*streamState
}

func NewService() *Service {
	return &Service{streams: make(map[engine.StreamID]*streamState)}
}

func (s *Service) state(id engine.StreamID) *streamState {
	st, ok := s.streams[id]
	if !ok {
		st = &streamState{}
		s.streams[id] = st
	}
	return st
}

func (s *Service) Enable(id engine.StreamID, lsn engine.LSN, tsNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	st.enabled = true
	st.startLSN = lsn
	st.startTSNs = tsNs
	st.minUnreplayed = tsNs
	return nil
}

func (s *Service) Disable(id engine.StreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	st.enabled = false
	return nil
}

func (s *Service) IsEnabled(id engine.StreamID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	return st.enabled, nil
}

func (s *Service) SetSubmitLogPending(id engine.StreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(id).pending = true
	return nil
}

func (s *Service) EraseSubmitLogPending(id engine.StreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(id).pending = false
	return nil
}

// GetMinUnreplayedTS returns the replay frontier, or ErrNotEnabled if replay
// has not been enabled on this stream.
func (s *Service) GetMinUnreplayedTS(id engine.StreamID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	if !st.enabled {
		return 0, ErrNotEnabled
	}
	return st.minUnreplayed, nil
}

// AdvanceMinUnreplayedTS lets a driving replay loop (or a test) move the
// frontier forward as entries are applied.
func (s *Service) AdvanceMinUnreplayedTS(id engine.StreamID, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(id)
	if ts > st.minUnreplayed {
		st.minUnreplayed = ts
	}
}
