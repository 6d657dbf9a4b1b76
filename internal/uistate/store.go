package uistate

import "sync"

// Store holds the root State and is its only writer: every dispatched
// action flows through the root reducer, and readers get immutable
// snapshots. Subscribers are notified only when some slice actually
// changed.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   map[int]chan State
	nextID int
}

// NewStore builds a store seeded with the initial state and registers
// its root reducer on the dispatcher.
func NewStore(d *Dispatcher) *Store {
	s := &Store{
		state: initialState(),
		subs:  map[int]chan State{},
	}
	d.OnAll(s.apply)
	return s
}

// State returns the current snapshot. Slices behind it are never
// mutated, so callers may hold it as long as they like.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel of state snapshots and a cancel func.
// The channel holds the latest snapshot only; a slow reader sees the
// newest state, not every intermediate one.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	ch := make(chan State, 1)
	s.subs[id] = ch
	ch <- s.state
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) apply(action Action) {
	s.mu.Lock()
	next := reduceRoot(s.state, action)
	if next == s.state {
		s.mu.Unlock()
		return
	}
	s.state = next
	subs := make([]chan State, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- next:
			continue
		default:
		}
		// Latest wins: displace the stale snapshot. Applies are
		// serialized by the dispatcher, so the send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
