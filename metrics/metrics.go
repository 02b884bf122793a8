// Package metrics defines a concurrently-accessible metrics collector used
// across edgerpc's dispatch, hibernate, server, and client packages to
// track request counts, rate-limit rejections, hibernation transitions, and
// reconnect attempts.
//
// A *M value exports methods to track integer counters and maximum values.
// A metric has a caller-assigned string name that is not interpreted by the
// collector except to locate its stored value. A nil *M is valid and
// discards all metrics, so every call site in this module may hold a
// possibly-nil collector without a presence check.
package metrics

import "sync"

// An M collects counters and maximum value trackers. The methods of an *M
// are safe for concurrent use by multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
	label   map[string]interface{}
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{
		counter: make(map[string]int64),
		maxVal:  make(map[string]int64),
		label:   make(map[string]interface{}),
	}
}

// Count adds n to the current value of the counter named, defining it if
// it does not already exist.
func (m *M) Count(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter[name] += n
}

// SetMaxValue sets the maximum value metric named to the greater of n and
// its current value.
func (m *M) SetMaxValue(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.maxVal[name]; !ok || n > old {
		m.maxVal[name] = n
	}
}

// CountAndSetMax adds n to the counter named and also updates a max-value
// tracker with the same name in a single step.
func (m *M) CountAndSetMax(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.maxVal[name]; !ok || n > old {
		m.maxVal[name] = n
	}
	m.counter[name] += n
}

// SetLabel sets the specified label to value, or removes it if value == nil.
func (m *M) SetLabel(name string, value interface{}) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil {
		delete(m.label, name)
	} else {
		m.label[name] = value
	}
}

// Snapshot copies an atomic snapshot of the collected metrics into the
// non-nil fields of snap.
func (m *M) Snapshot(snap Snapshot) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := snap.Counter; c != nil {
		for name, val := range m.counter {
			c[name] = val
		}
	}
	if v := snap.MaxValue; v != nil {
		for name, val := range m.maxVal {
			v[name] = val
		}
	}
	if v := snap.Label; v != nil {
		for name, val := range m.label {
			v[name] = val
		}
	}
}

// A Snapshot represents a point-in-time snapshot of a metrics collector.
type Snapshot struct {
	Counter  map[string]int64
	MaxValue map[string]int64
	Label    map[string]interface{}
}
