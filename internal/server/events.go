package server

import (
	"sync"
	"time"
)

// ReloadEvent describes one model reload.
type ReloadEvent struct {
	Generation int       `json:"generation"`
	At         time.Time `json:"at"`
	Files      []string  `json:"files,omitempty"`
	Queries    int       `json:"queries"`
	Error      string    `json:"error,omitempty"`
}

// Broker fans reload events out to subscribers.
// Slow subscribers keep only the newest event.
type Broker struct {
	mu        sync.RWMutex
	listeners map[chan ReloadEvent]struct{}
	last      ReloadEvent
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{listeners: make(map[chan ReloadEvent]struct{})}
}

// Subscribe returns a channel of reload events. Call Unsubscribe when done.
func (b *Broker) Subscribe() chan ReloadEvent {
	ch := make(chan ReloadEvent, 1)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (b *Broker) Unsubscribe(ch chan ReloadEvent) {
	b.mu.Lock()
	delete(b.listeners, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish records ev as the latest event and delivers it without blocking.
func (b *Broker) Publish(ev ReloadEvent) {
	b.mu.Lock()
	b.last = ev
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.listeners {
		select {
		case ch <- ev:
		default:
			// drop the stale event and deliver the new one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Last returns the most recent event.
func (b *Broker) Last() ReloadEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}
