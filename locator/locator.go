// Package locator implements the leader-location and election-blacklist
// adapters the Reconfiguration Dispatcher and Sync Monitor depend on (spec
// §6, "Consumed — Leader Locator" / "Consumed — Election Adapter"). The
// candidate-picking pattern below mirrors
// sharedlog/scalog/scalog.go's ScalogSystem.pickClient: a small slice
// guarded by a sync.Mutex and a rotating index.
package locator

import (
	"errors"
	"sync"
	"time"

	"github.com/chn0318/logreplica/engine"
)

// ErrUnknownLeader is returned by GetLeader when no leader is currently
// cached for the stream.
var ErrUnknownLeader = errors.New("locator: leader unknown")

// LeaderLocator is consulted by the handler to find the current leader
// address for a stream, and to ask for a non-blocking refresh when the
// cached answer looks stale.
type LeaderLocator interface {
	GetLeader(id engine.StreamID) (string, error)
	NonblockRenewLeader(id engine.StreamID)
}

// ElectionAdapter lets the dispatcher ask the election layer to temporarily
// refuse electing a given address, so that removing the current leader from
// the Paxos group can proceed once leadership has moved (spec §4.4's
// "blacklist" mechanism, spec §9's Design Notes on it being a short,
// cancellable directive rather than a persistent one).
type ElectionAdapter interface {
	AddToBlacklist(id engine.StreamID, addr string) error
	RemoveFromBlacklist(id engine.StreamID, addr string) error
}

type cachedLeader struct {
	addr      string
	updatedAt time.Time
}

// InMemoryLocator is a reference LeaderLocator/ElectionAdapter used by tests
// and by cmd/handlerd's standalone dev mode, where "renewing" a leader just
// round-robins through a configured candidate list the way pickClient does.
type InMemoryLocator struct {
	mu sync.Mutex

	leaders    map[engine.StreamID]cachedLeader
	candidates map[engine.StreamID][]string
	next       map[engine.StreamID]int

	blacklist map[engine.StreamID]map[string]bool

	renewCount int
}

func NewInMemoryLocator() *InMemoryLocator {
	return &InMemoryLocator{
		leaders:    make(map[engine.StreamID]cachedLeader),
		candidates: make(map[engine.StreamID][]string),
		next:       make(map[engine.StreamID]int),
		blacklist:  make(map[engine.StreamID]map[string]bool),
	}
}

// SetLeader is used by tests/wiring to seed or override the cached leader
// for a stream directly.
func (l *InMemoryLocator) SetLeader(id engine.StreamID, addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leaders[id] = cachedLeader{addr: addr, updatedAt: time.Now()}
}

// SetCandidates configures the pool NonblockRenewLeader rotates through when
// asked to refresh.
func (l *InMemoryLocator) SetCandidates(id engine.StreamID, addrs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates[id] = addrs
}

func (l *InMemoryLocator) GetLeader(id engine.StreamID) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.leaders[id]
	if !ok {
		return "", ErrUnknownLeader
	}
	return cl.addr, nil
}

// NonblockRenewLeader rotates to the next non-blacklisted candidate for id.
// It never blocks and never returns an error to the caller (spec §6: "fire
// and forget" renew).
func (l *InMemoryLocator) NonblockRenewLeader(id engine.StreamID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renewCount++
	cands := l.candidates[id]
	if len(cands) == 0 {
		return
	}
	bl := l.blacklist[id]
	start := l.next[id]
	for i := 0; i < len(cands); i++ {
		idx := (start + i) % len(cands)
		addr := cands[idx]
		if bl == nil || !bl[addr] {
			l.leaders[id] = cachedLeader{addr: addr, updatedAt: time.Now()}
			l.next[id] = (idx + 1) % len(cands)
			return
		}
	}
}

func (l *InMemoryLocator) AddToBlacklist(id engine.StreamID, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bl, ok := l.blacklist[id]
	if !ok {
		bl = make(map[string]bool)
		l.blacklist[id] = bl
	}
	bl[addr] = true
	return nil
}

func (l *InMemoryLocator) RemoveFromBlacklist(id engine.StreamID, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bl, ok := l.blacklist[id]; ok {
		delete(bl, addr)
	}
	return nil
}

// RenewCount reports how many times NonblockRenewLeader has been invoked,
// used by tests counting renewal attempts.
func (l *InMemoryLocator) RenewCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renewCount
}
