package worker

import (
	"fmt"

	"github.com/c360/eventpublisher/errors"
)

// Sentinel errors for worker pool operations. Each wraps the shared sentinel that
// classifies it, so errors.IsFatal and friends work on pool errors.
var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet
	ErrPoolNotStarted = fmt.Errorf("worker pool not started: %w", errors.ErrNotStarted)

	// ErrPoolStopped indicates the pool no longer accepts work
	ErrPoolStopped = fmt.Errorf("worker pool stopped: %w", errors.ErrShuttingDown)

	// ErrPoolAlreadyStarted indicates Start() was called on an already-started pool
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool already started: %w", errors.ErrAlreadyStarted)

	// ErrQueueFull indicates the work queue is at capacity
	ErrQueueFull = fmt.Errorf("worker pool queue full: %w", errors.ErrResourceExhausted)

	// ErrNilProcessor indicates a nil processor function was provided
	ErrNilProcessor = fmt.Errorf("processor function cannot be nil: %w", errors.ErrInvalidConfig)

	// ErrStopTimeout indicates the pool didn't stop within the timeout
	ErrStopTimeout = fmt.Errorf("timeout waiting for workers to stop: %w", errors.ErrConnectionTimeout)
)
