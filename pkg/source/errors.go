package source

import "errors"

var (
	// ErrNotSubscribed is returned when releasing a subscription that is no
	// longer registered.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrNoBattery is returned when the host reports no battery.
	ErrNoBattery = errors.New("no batteries found")
)
