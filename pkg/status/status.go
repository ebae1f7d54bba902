package status

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StatusCode is the raw battery status reported by the host. The numeric
// values follow the host OS battery manager.
type StatusCode int

const (
	Unknown     StatusCode = 1
	Charging    StatusCode = 2
	Discharging StatusCode = 3
	NotCharging StatusCode = 4
	Full        StatusCode = 5
)

var statusNames = map[StatusCode]string{
	Unknown:     "unknown",
	Charging:    "charging",
	Discharging: "discharging",
	NotCharging: "not-charging",
	Full:        "full",
}

// Recognized reports whether c is one of the known status codes.
func (c StatusCode) Recognized() bool {
	_, ok := statusNames[c]
	return ok
}

// IsCharging reports whether c means power is flowing into the battery,
// or the battery is full while on external power.
func (c StatusCode) IsCharging() bool {
	return c == Charging || c == Full
}

func (c StatusCode) String() string {
	if s, ok := statusNames[c]; ok {
		return s
	}
	return "code(" + strconv.Itoa(int(c)) + ")"
}

// ParseStatusCode accepts a status name or its numeric value.
func ParseStatusCode(s string) (StatusCode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range statusNames {
		if name == s {
			return c, nil
		}
	}
	// Underscore form is what most hosts print.
	if s == "not_charging" {
		return NotCharging, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown battery status %q", s)
	}
	return StatusCode(i), nil
}

func (c StatusCode) MarshalJSON() ([]byte, error) {
	if !c.Recognized() {
		return json.Marshal(int(c))
	}
	return json.Marshal(c.String())
}

func (c *StatusCode) UnmarshalJSON(b []byte) error {
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		*c = StatusCode(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("battery status must be a string or an integer, got %s", string(b))
	}
	parsed, err := ParseStatusCode(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// RawPayload is a single "battery changed" notification as delivered by a
// source. Level is nil when the host did not report one.
type RawPayload struct {
	Status StatusCode `json:"status"`
	Level  *int       `json:"level,omitempty"`
	// Scale is the maximum level the host reports. Zero means the level is
	// already a percentage.
	Scale int `json:"scale,omitempty"`
}

// NewRawPayload is a shorthand for a payload carrying a level.
func NewRawPayload(code StatusCode, level int) RawPayload {
	return RawPayload{Status: code, Level: &level}
}

// BatteryStatus is the normalized battery state. It is immutable; use
// NewBatteryStatus to build one.
type BatteryStatus struct {
	level      int
	isCharging bool
}

// NewBatteryStatus clamps level into [0, 100].
func NewBatteryStatus(level int, isCharging bool) BatteryStatus {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return BatteryStatus{level: level, isCharging: isCharging}
}

func (s BatteryStatus) Level() int { return s.level }

func (s BatteryStatus) IsCharging() bool { return s.isCharging }

func (s BatteryStatus) String() string {
	return fmt.Sprintf("%d%% (charging=%t)", s.level, s.isCharging)
}

type batteryStatusJSON struct {
	Level      int  `json:"level"`
	IsCharging bool `json:"isCharging"`
}

func (s BatteryStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(batteryStatusJSON{Level: s.level, IsCharging: s.isCharging})
}

func (s *BatteryStatus) UnmarshalJSON(b []byte) error {
	var v batteryStatusJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = NewBatteryStatus(v.Level, v.IsCharging)
	return nil
}
