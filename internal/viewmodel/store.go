package viewmodel

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Listener receives a complete snapshot after every applied merge.
type Listener func(ViewModel)

// Reader is the renderer-facing side of the store. It has no mutation path.
type Reader interface {
	Current() ViewModel
	Subscribe(l Listener) (unsubscribe func())
}

// Committer is the write side of the store. Only the sync controller holds
// one; renderers and actions get a Reader.
type Committer interface {
	Dispatch(ev UpdateEvent) Outcome
}

// Store holds the current view-model. Reads are lock-free; Dispatch is meant
// to be called from a single goroutine (the sync controller's event loop).
type Store struct {
	merger  Merger
	current atomic.Pointer[ViewModel]

	dispatchMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

var (
	_ Reader    = (*Store)(nil)
	_ Committer = (*Store)(nil)
)

func NewStore(merger Merger) *Store {
	s := &Store{
		merger:    merger,
		listeners: make(map[uint64]Listener),
	}
	s.current.Store(&ViewModel{})
	return s
}

// Current returns the latest snapshot.
func (s *Store) Current() ViewModel {
	return *s.current.Load()
}

// Subscribe registers l and returns a function that removes it. Listeners run
// synchronously on the dispatching goroutine and must not block.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Dispatch merges ev into the current view-model, publishes the result and
// notifies listeners. Listeners are only called when the merge applied.
// Outside tests it is reached only through the Committer handed to the sync
// controller; everything else submits events via Controller.Inject.
func (s *Store) Dispatch(ev UpdateEvent) Outcome {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	next, outcome := s.merger.Apply(s.Current(), ev)
	if outcome != OutcomeApplied {
		return outcome
	}
	s.current.Store(&next)

	for _, l := range s.snapshotListeners() {
		l(next)
	}
	return outcome
}

// snapshotListeners copies listeners in subscription order so callbacks run
// outside the lock.
func (s *Store) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
