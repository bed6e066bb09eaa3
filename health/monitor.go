package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker is anything that can report its own health
type Checker interface {
	Health() Status
}

// Monitor aggregates the health of named components. Components are either pushed
// with Update or registered as Checkers and polled on every read.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
	}
}

// Update records the status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a component healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Register polls c whenever the health of name is read
func (m *Monitor) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	c, polled := m.checkers[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if polled {
		status = c.Health()
		status.Component = name
		return status, true
	}
	return status, exists
}

// Remove stops tracking a component
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checkers, name)
}

// Components returns the tracked component names in sorted order
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.checkers))
	for name := range m.statuses {
		if _, polled := m.checkers[name]; !polled {
			names = append(names, name)
		}
	}
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth returns the combined status of every tracked component
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.Components()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if status, ok := m.Get(name); ok {
			subs = append(subs, status)
		}
	}
	return Aggregate(systemName, subs)
}

// Handler serves the aggregated status as JSON. Unhealthy systems answer 503.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
