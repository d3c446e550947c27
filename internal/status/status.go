// Package status maps health statuses to percentages of a maximum value and back.
package status

import "fmt"

// Status is a subsystem health level.
type Status string

const (
	Optimal     Status = "optimal"
	Operational Status = "operational"
	Degraded    Status = "degraded"
	Compromised Status = "compromised"
	Critical    Status = "critical"
	Destroyed   Status = "destroyed"
	Offline     Status = "offline"
)

// Ladder lists the computable statuses from worst to best.
var Ladder = []Status{Destroyed, Critical, Compromised, Degraded, Operational, Optimal}

// Parse validates a status string.
func Parse(s string) (Status, error) {
	switch st := Status(s); st {
	case Optimal, Operational, Degraded, Compromised, Critical, Destroyed, Offline:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Rank orders statuses for worst-wins comparison. Offline ranks below
// destroyed; unknown values rank as optimal so they never cap anything.
func Rank(s Status) int {
	switch s {
	case Offline:
		return -1
	case Destroyed:
		return 0
	case Critical:
		return 1
	case Compromised:
		return 2
	case Degraded:
		return 3
	case Operational:
		return 4
	default:
		return 5
	}
}

// Worse reports whether a is strictly worse than b.
func Worse(a, b Status) bool {
	return Rank(a) < Rank(b)
}

// FromPercentage returns the status for a percentage of max value.
// Lower bounds are inclusive. Offline is never returned.
func FromPercentage(pct float64) Status {
	switch {
	case pct >= 100:
		return Optimal
	case pct >= 80:
		return Operational
	case pct >= 60:
		return Degraded
	case pct >= 40:
		return Compromised
	case pct >= 20:
		return Critical
	default:
		return Destroyed
	}
}

// FromValue derives the status of value out of maxValue.
func FromValue(value, maxValue float64) Status {
	if maxValue <= 0 {
		return Destroyed
	}
	return FromPercentage(value / maxValue * 100)
}

// ValueFor returns the value representing s on a scale of maxValue: the
// midpoint of the status band, the full value for optimal and zero for
// offline. Unknown statuses map to zero.
func ValueFor(s Status, maxValue float64) float64 {
	var pct float64
	switch s {
	case Optimal:
		return maxValue
	case Operational:
		pct = 89.5
	case Degraded:
		pct = 69.5
	case Compromised:
		pct = 49.5
	case Critical:
		pct = 29.5
	case Destroyed:
		pct = 9.5
	default:
		return 0
	}
	return maxValue * pct / 100
}

// Clamp bounds value to [0, maxValue].
func Clamp(value, maxValue float64) float64 {
	if value < 0 {
		return 0
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

// Severity is the event severity for landing on s: critical for the two
// lowest ladder steps, warning otherwise.
func Severity(s Status) string {
	if s == Critical || s == Destroyed {
		return "critical"
	}
	return "warning"
}
