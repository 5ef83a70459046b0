package session

import "errors"

// Error kinds surfaced to the HTTP layer. Each maps to one
// machine-readable reason in the controller's error envelope.
var (
	// ErrSpawnFailed wraps terminal or CLI launch failures; the task
	// stays pending.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrSpawnTimeout means the terminal did not produce a window
	// within the spawn deadline.
	ErrSpawnTimeout = errors.New("spawn timed out")

	// ErrAdapterUnavailable means the requested CLI or terminal is not
	// installed.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrCapacityReached means every slot is taken and the operation
	// cannot queue.
	ErrCapacityReached = errors.New("capacity reached")

	// ErrNoSession is returned for session operations on a task with
	// no live session where the operation is not defined as a no-op.
	ErrNoSession = errors.New("no live session")

	// ErrTaskNotFound mirrors the store's not-found for operations
	// routed through the manager.
	ErrTaskNotFound = errors.New("task not found")
)
