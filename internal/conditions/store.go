package conditions

import (
	"sync"
)

// Store owns a State on a single goroutine. Every mutation and snapshot is
// executed there, so observers never see interleaved partial updates.
type Store struct {
	requests chan func()
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	// Owned by the loop goroutine.
	state       State
	subscribers map[uint64]chan State
	nextID      uint64
}

// NewStore starts the store loop with the initial state.
func NewStore() *Store {
	s := &Store{
		requests:    make(chan func()),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		state:       NewState(),
		subscribers: make(map[uint64]chan State),
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.requests:
			fn()
		case <-s.done:
			for id, ch := range s.subscribers {
				close(ch)
				delete(s.subscribers, id)
			}
			return
		}
	}
}

// run executes fn on the loop goroutine and waits for it.
func (s *Store) run(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrStoreClosed
	}
	<-finished
	return nil
}

// Snapshot returns the current state. After Close it returns the final state.
func (s *Store) Snapshot() State {
	var st State
	if err := s.run(func() { st = s.state }); err != nil {
		<-s.stopped
		return s.state
	}
	return st
}

// Update applies fn to a copy of the state. When fn returns true the copy
// becomes the current state, its Version is bumped and subscribers are
// notified. The resulting state and whether it changed are returned.
func (s *Store) Update(fn func(*State) bool) (State, bool, error) {
	var (
		result  State
		changed bool
	)
	err := s.run(func() {
		next := s.state
		if !fn(&next) {
			result = s.state
			return
		}
		next.Version = s.state.Version + 1
		s.state = next
		result, changed = next, true
		s.publish(next)
	})
	return result, changed, err
}

// publish hands st to every subscriber. A subscriber that has not consumed
// its previous state has it replaced, so it always sees the newest state
// and never an older one after a newer one.
func (s *Store) publish(st State) {
	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// Subscribe returns a channel that first receives the current state and then
// every published state, coalesced for slow readers. The cancel func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	var id uint64

	err := s.run(func() {
		id = s.nextID
		s.nextID++
		s.subscribers[id] = ch
		ch <- s.state
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = s.run(func() {
				if _, ok := s.subscribers[id]; ok {
					delete(s.subscribers, id)
					close(ch)
				}
			})
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (s *Store) SubscriberCount() int {
	var n int
	_ = s.run(func() { n = len(s.subscribers) })
	return n
}

// Close stops the loop and closes all subscriber channels.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}
