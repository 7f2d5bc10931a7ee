package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Room holds state and a broadcaster for one room.
type Room[T any] struct {
	ID    string
	State T
	hub   *Broadcaster
}

// RoomStore manages rooms, their broadcasters and their timing loops.
type RoomStore[T any] struct {
	mu    sync.RWMutex
	rooms map[string]*Room[T]
	loops map[string]context.CancelFunc
	wakes map[string]chan struct{}
	done  map[string]chan struct{}
}

// NewRoomStore creates an empty room store.
func NewRoomStore[T any]() *RoomStore[T] {
	return &RoomStore[T]{
		rooms: make(map[string]*Room[T]),
		loops: make(map[string]context.CancelFunc),
		wakes: make(map[string]chan struct{}),
		done:  make(map[string]chan struct{}),
	}
}

// Create adds a room with the given id and state, and a new Broadcaster.
func (s *RoomStore[T]) Create(id string, state T) *Room[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Room[T]{ID: id, State: state, hub: NewBroadcaster()}
	s.rooms[id] = r
	return r
}

// Get returns the room by ID if it exists.
func (s *RoomStore[T]) Get(id string) (*Room[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

// IDs returns the ids of all rooms, sorted.
func (s *RoomStore[T]) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Publish notifies subscribers of the room's broadcaster.
func (s *RoomStore[T]) Publish(id string, events ...Event) {
	hub, ok := s.broadcaster(id)
	if !ok {
		return
	}
	for _, e := range events {
		hub.Publish(e)
	}
}

// Broadcaster returns the broadcaster for the room, or nil if the room does not exist.
func (s *RoomStore[T]) Broadcaster(id string) *Broadcaster {
	hub, _ := s.broadcaster(id)
	return hub
}

func (s *RoomStore[T]) broadcaster(id string) (*Broadcaster, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, false
	}
	if r.hub == nil {
		r.hub = NewBroadcaster()
	}
	return r.hub, true
}

// TickFunc is called by RunLoop to determine the next wake time and events to publish.
// stop true means exit the loop.
type TickFunc[T any] func(state T, now time.Time) (next time.Time, events []Event, stop bool)

// RunLoop starts a timing loop for the room. If a loop already exists for id
// it is woken instead, so a loop that is about to stop re-checks its state.
func (s *RoomStore[T]) RunLoop(id string, getState func() T, tick TickFunc[T]) {
	s.mu.Lock()
	if wake, ok := s.wakes[id]; ok {
		s.mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	s.loops[id] = cancel
	s.wakes[id] = wake
	s.done[id] = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()

		for {
			if ctx.Err() != nil {
				s.forget(id, done)
				return
			}
			state := getState()
			now := time.Now().UTC()
			next, events, stop := tick(state, now)
			// Publish events immediately so UI updates as soon as state advances,
			// not when the next timer fires.
			s.Publish(id, events...)
			if stop {
				if s.retire(id, wake, done) {
					return
				}
				continue
			}
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.forget(id, done)
				return
			case <-timer.C:
				// Timer fired; loop will re-run tick and publish any new events
			case <-wake:
				timer.Stop()
			}
		}
	}()
}

// retire removes the loop unless a wake arrived after the tick decided to
// stop, in which case the loop keeps running.
func (s *RoomStore[T]) retire(id string, wake chan struct{}, done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-wake:
		return false
	default:
	}
	s.forgetLocked(id, done)
	return true
}

func (s *RoomStore[T]) forget(id string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(id, done)
}

func (s *RoomStore[T]) forgetLocked(id string, done chan struct{}) {
	if s.done[id] != done {
		return
	}
	delete(s.loops, id)
	delete(s.wakes, id)
	delete(s.done, id)
}

// Wake unblocks the room's loop so it recomputes immediately.
func (s *RoomStore[T]) Wake(id string) {
	s.mu.RLock()
	wake, ok := s.wakes[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// Running reports whether a loop is active for id.
func (s *RoomStore[T]) Running(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loops[id]
	return ok
}

// StopLoop cancels the room's loop and waits for it to exit, so no tick runs
// after it returns.
func (s *RoomStore[T]) StopLoop(id string) {
	s.mu.Lock()
	cancel, ok := s.loops[id]
	done := s.done[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	<-done
}

// Remove stops the room's loop, closes its broadcaster and forgets the room.
func (s *RoomStore[T]) Remove(id string) (*Room[T], bool) {
	s.StopLoop(id)
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()
	if ok && r.hub != nil {
		r.hub.Close()
	}
	return r, ok
}
