// Package connectivity tracks whether the storefront can reach the store
// API and fans online/offline transitions out to subscribers.
package connectivity

import "sync"

// Monitor holds the current connectivity state. Transitions are
// idempotent: setting the current value again notifies nobody.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor returns a Monitor starting in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, subs: map[int]chan bool{}}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and reports whether it changed. Subscribers see
// only the latest value if they fall behind.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// Subscribe returns a channel of transitions and a func that unsubscribes
// and closes it.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}
