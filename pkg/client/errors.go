package client

import "errors"

var (
	// ErrDaemonNotRunning is returned when the daemon socket does not exist
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the socket is not accessible to the current user
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrStreamClosed is returned when the daemon ends an event stream
	ErrStreamClosed = errors.New("event stream closed by daemon")
)
