package record

import (
	"strconv"
	"time"
)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
)

// UnitFor picks the unit for an elapsed time in milliseconds and the divisor
// that rescales the value into it.
func UnitFor(elapsedMs float64) (divisor float64, unit string) {
	switch {
	case elapsedMs < msPerSecond:
		return 1, "ms"
	case elapsedMs < msPerMinute:
		return msPerSecond, "s"
	case elapsedMs < msPerHour:
		return msPerMinute, "min"
	default:
		return msPerHour, "hrs"
	}
}

// FormatElapsed renders d as "<magnitude> <unit>", e.g. "250 ms" or "2.5 hrs".
// The magnitude is not rounded.
func FormatElapsed(d time.Duration) string {
	ms := float64(d.Milliseconds())
	divisor, unit := UnitFor(ms)
	return strconv.FormatFloat(ms/divisor, 'f', -1, 64) + " " + unit
}
