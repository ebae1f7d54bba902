package watcher

import "errors"

var (
	// ErrSubscriptionFailed is returned by Start when the source rejects the
	// registration. The watcher stays Idle.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrUnsubscribeFailed is reported by Stop when the source failed to
	// release the registration. It is not fatal: the watcher is Idle anyway.
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
)
