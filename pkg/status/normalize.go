package status

import (
	"math"
	"strings"
)

// Anomaly flags what Normalize had to paper over in a raw payload.
type Anomaly uint8

const (
	AnomalyMissingLevel Anomaly = 1 << iota
	AnomalyNegativeLevel
	AnomalyLevelOverflow
	AnomalyUnrecognizedStatus
)

// None is the zero Anomaly.
const None Anomaly = 0

func (a Anomaly) Has(flag Anomaly) bool { return a&flag != 0 }

func (a Anomaly) String() string {
	if a == None {
		return "none"
	}
	var parts []string
	if a.Has(AnomalyMissingLevel) {
		parts = append(parts, "missing-level")
	}
	if a.Has(AnomalyNegativeLevel) {
		parts = append(parts, "negative-level")
	}
	if a.Has(AnomalyLevelOverflow) {
		parts = append(parts, "level-overflow")
	}
	if a.Has(AnomalyUnrecognizedStatus) {
		parts = append(parts, "unrecognized-status")
	}
	return strings.Join(parts, ",")
}

// Normalize turns a raw payload into a BatteryStatus. It never fails:
// missing or out-of-range data is defaulted and reported through the
// returned Anomaly.
func Normalize(p RawPayload) (BatteryStatus, Anomaly) {
	var a Anomaly

	if !p.Status.Recognized() {
		a |= AnomalyUnrecognizedStatus
	}

	level := 0
	switch {
	case p.Level == nil:
		a |= AnomalyMissingLevel
	case *p.Level < 0:
		a |= AnomalyNegativeLevel
	default:
		level = *p.Level
		if p.Scale > 0 && p.Scale != 100 {
			if level > p.Scale {
				level = p.Scale
				a |= AnomalyLevelOverflow
			}
			level = percentOf(level, p.Scale)
		}
		if level > 100 {
			a |= AnomalyLevelOverflow
		}
	}

	return NewBatteryStatus(level, p.Status.IsCharging()), a
}

// percentOf expects 0 <= level <= scale.
func percentOf(level, scale int) int {
	if level > math.MaxInt/100 {
		return int(float64(level) / float64(scale) * 100)
	}
	return level * 100 / scale
}
