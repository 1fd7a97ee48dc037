// Package submonitor tracks which channels are subscribed on a pub
// connection and reports subscribe and unsubscribe edges.
//
// Every monitor reports edges through Set.Apply, which fixes the ordering
// listeners rely on: on a sub edge listeners run before the channel is
// added, on an unsub edge they run after it was removed. A listener can
// therefore tell whether any other monitor still holds the channel with a
// single read of each monitor's Contains.
package submonitor

import (
	"sort"
	"sync"
)

// Event is the kind of subscription edge.
type Event string

const (
	Sub   Event = "sub"
	Unsub Event = "unsub"
)

// Callback receives subscription edges.
type Callback func(ev Event, channel string)

// Monitor observes subscriptions on one connection.
type Monitor interface {
	// Contains reports whether channel is currently subscribed.
	Contains(channel string) bool
	// Subscriptions returns the subscribed channels in lexical order.
	Subscriptions() []string
	// Listen registers an additional edge listener.
	Listen(cb Callback)
	// Locker returns the lock held while edges are applied.
	Locker() sync.Locker
	// SetLocker replaces that lock. Edges already being applied under the
	// previous lock complete first.
	SetLocker(l sync.Locker)
	Close() error
}

// Set is a concurrency safe channel set with ordered edge notification.
// Monitor implementations embed it and call Apply for every raw event.
type Set struct {
	mu        sync.RWMutex
	channels  map[string]struct{}
	listeners []Callback
}

// NewSet returns an empty set notifying the given listeners.
func NewSet(listeners ...Callback) *Set {
	s := &Set{channels: make(map[string]struct{})}
	for _, l := range listeners {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
	return s
}

// Listen registers a listener for future edges.
func (s *Set) Listen(cb Callback) {
	if cb == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, cb)
	s.mu.Unlock()
}

// Apply records a raw event and reports whether it was an edge. Redundant
// events (sub on a subscribed channel, unsub on an unknown one) are
// dropped. Listeners run without the set lock held so they may call
// Contains on this set. Callers serialise Apply through the monitor lock.
func (s *Set) Apply(ev Event, channel string) bool {
	s.mu.RLock()
	_, present := s.channels[channel]
	listeners := s.listeners
	s.mu.RUnlock()

	switch ev {
	case Sub:
		if present {
			return false
		}
		notify(listeners, ev, channel)
		s.mu.Lock()
		s.channels[channel] = struct{}{}
		s.mu.Unlock()
	case Unsub:
		if !present {
			return false
		}
		s.mu.Lock()
		delete(s.channels, channel)
		s.mu.Unlock()
		notify(listeners, ev, channel)
	default:
		return false
	}
	return true
}

// Clear removes every channel, reporting an unsub edge for each.
func (s *Set) Clear() {
	for _, ch := range s.Subscriptions() {
		s.Apply(Unsub, ch)
	}
}

func (s *Set) Contains(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *Set) Subscriptions() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// EdgeLock is the replaceable lock a monitor applies edges under.
type EdgeLock struct {
	mu sync.Mutex
	l  sync.Locker
}

// NewEdgeLock wraps l, or a fresh mutex when l is nil.
func NewEdgeLock(l sync.Locker) *EdgeLock {
	if l == nil {
		l = &sync.Mutex{}
	}
	return &EdgeLock{l: l}
}

func (e *EdgeLock) Locker() sync.Locker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.l
}

// Acquire locks the current lock and returns it for unlocking. A
// replacement racing the acquisition is retried against the new lock.
func (e *EdgeLock) Acquire() sync.Locker {
	for {
		l := e.Locker()
		l.Lock()
		if e.Locker() == l {
			return l
		}
		l.Unlock()
	}
}

// Replace swaps in l once the current holder of the old lock released it.
func (e *EdgeLock) Replace(l sync.Locker) {
	old := e.Locker()
	if l == nil || l == old {
		return
	}
	old.Lock()
	e.mu.Lock()
	e.l = l
	e.mu.Unlock()
	old.Unlock()
}

func notify(listeners []Callback, ev Event, channel string) {
	for _, l := range listeners {
		l(ev, channel)
	}
}
