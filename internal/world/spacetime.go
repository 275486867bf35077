package world

import "math"

// KmPerDegree is the flat conversion used for all on-foot and on-network distances.
const KmPerDegree = 111.32

// TicksPerDay is one simulated day of one-minute ticks.
const TicksPerDay = 24 * 60

// DegToKm converts a planar degree distance to kilometers.
func DegToKm(deg float64) float64 { return math.Abs(deg * KmPerDegree) }

// KmToDeg converts kilometers to a planar degree distance.
func KmToDeg(km float64) float64 { return math.Abs(km / KmPerDegree) }

// Time24 returns the clock time of a tick as hhmm (e.g. 1830).
func Time24(tick uint64) int {
	h := (tick / 60) % 24
	m := tick % 60
	return int(100*h + m)
}

// Day returns the zero-based day number of a tick.
func Day(tick uint64) int {
	return int(tick / TicksPerDay)
}

// AddMinutes shifts an hhmm clock value by n minutes, wrapping at midnight.
func AddMinutes(hhmm, n int) int {
	total := (hhmm/100)*60 + hhmm%100 + n
	total %= TicksPerDay
	if total < 0 {
		total += TicksPerDay
	}
	return (total/60)*100 + total%60
}
