package events

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event name constants
const (
	// BatteryStatus is emitted once per normalized battery change.
	BatteryStatus = "BATTERY_STATUS_EVENT"
	// WatcherState is emitted when the watcher starts or stops.
	WatcherState = "watcher.state"
)

// Event is a named JSON event sent to the embedding application.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// BatteryStatusEvent is the typed payload for BATTERY_STATUS_EVENT.
type BatteryStatusEvent struct {
	Level      int  `json:"level"`
	IsCharging bool `json:"isCharging"`
}

// LegacyBatteryStatusEvent is BATTERY_STATUS_EVENT with the level encoded
// as a string, as older consumers expect it.
type LegacyBatteryStatusEvent struct {
	Level      string `json:"level"`
	IsCharging bool   `json:"isCharging"`
}

// Legacy converts e to the string-level encoding.
func (e BatteryStatusEvent) Legacy() LegacyBatteryStatusEvent {
	return LegacyBatteryStatusEvent{
		Level:      strconv.Itoa(e.Level),
		IsCharging: e.IsCharging,
	}
}

// WatcherStateEvent is the typed payload for watcher.state.
type WatcherStateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// NewWatcherStateEvent stamps a transition with the current time.
func NewWatcherStateEvent(from, to string) WatcherStateEvent {
	return WatcherStateEvent{From: from, To: to, Ts: time.Now().Unix()}
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.BatteryStatusEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Level, payload.IsCharging)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
