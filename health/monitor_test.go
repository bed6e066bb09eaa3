package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	status Status
}

func (s staticChecker) Health() Status {
	return s.status
}

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("nats", Status{Component: "wrong-name", Status: StateHealthy})

	got, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	_, ok = monitor.Get("missing")
	assert.False(t, ok)
}

func TestMonitor_RegisteredCheckerIsPolled(t *testing.T) {
	monitor := NewMonitor()
	monitor.Register("orders", staticChecker{NewDegraded("x", "slow sink")})

	got, ok := monitor.Get("orders")
	require.True(t, ok)
	assert.Equal(t, "orders", got.Component)
	assert.True(t, got.IsDegraded())

	assert.Equal(t, []string{"orders"}, monitor.Components())
	assert.True(t, monitor.AggregateHealth("eventpublisher").IsDegraded())

	monitor.Remove("orders")
	assert.Empty(t, monitor.Components())
}

func TestMonitor_ComponentsSortedAndDeduplicated(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("b", NewHealthy("b", ""))
	monitor.Update("a", NewHealthy("a", ""))
	monitor.Update("c", NewHealthy("c", ""))
	monitor.Register("c", staticChecker{NewHealthy("c", "")})

	assert.Equal(t, []string{"a", "b", "c"}, monitor.Components())
}

func TestMonitor_Handler(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("nats", NewHealthy("nats", "connected"))

	rec := httptest.NewRecorder()
	monitor.Handler("eventpublisher").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "eventpublisher", status.Component)
	assert.True(t, status.Healthy)

	monitor.UpdateUnhealthy("sink", "down")
	rec = httptest.NewRecorder()
	monitor.Handler("eventpublisher").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				monitor.Update("a", NewHealthy("a", ""))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = monitor.AggregateHealth("system")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a"}, monitor.Components())
}
