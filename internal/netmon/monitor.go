// Package netmon tracks connectivity and fans out online/offline transitions.
// Platform connectivity reports can be optimistic, so a reading here is a
// trigger for sync attempts, never a guarantee: the sync engine treats any
// failed network call as offline regardless of what this monitor says.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/propcare/inspector/internal/logging"
)

// Monitor is the single source of truth for "can we talk to the server".
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// New creates a Monitor with the given initial state.
func New(initiallyOnline bool) *Monitor {
	return &Monitor{
		online: initiallyOnline,
		subs:   make(map[int]chan bool),
	}
}

// IsOnline reports the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity reading. Repeated readings of the same
// state are coalesced: subscribers only hear actual transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	logging.Info("Connectivity changed", map[string]interface{}{
		"online": online,
	})

	for _, ch := range m.subs {
		// Keep only the latest transition if the subscriber is slow
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe registers for transition notifications. The returned channel
// carries the new state on each offline<->online flip; the cancel function
// removes the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}

// RunProbe feeds the monitor from a connectivity probe at the given interval
// until the context is done. The probe must not mutate anything; it only
// answers "does the backend respond right now".
func (m *Monitor) RunProbe(ctx context.Context, probe func(context.Context) bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(probe(ctx))
		}
	}
}
