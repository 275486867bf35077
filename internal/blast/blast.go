// Package blast classifies positions against a disaster event and assigns
// the simplified dose each zone carries.
package blast

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Zone is a concentric impact band around the epicenter.
type Zone uint8

const (
	Zone1       Zone = iota + 1 // Instant death
	Zone2                       // Severe injury, lethal dose
	Zone3                       // Moderate injury
	ZoneOutside                 // Beyond the damage radius
)

var zoneNames = [...]string{"none", "zone1", "zone2", "zone3", "outside"}

func (z Zone) String() string {
	if int(z) < len(zoneNames) {
		return zoneNames[z]
	}
	return fmt.Sprintf("Zone(%d)", z)
}

// SafetyMargin is added to z3 when deciding whether a node or coordinate is
// far enough from the epicenter to count as safe.
const SafetyMargin = 0.01

// Lethal is the severity and dose assigned to the dead.
const Lethal = 10

// Event is one detonation. Radii are planar degrees.
type Event struct {
	Tick       uint64
	Epicenter  orb.Point
	Z1, Z2, Z3 float64
}

// Validate checks the radii ordering.
func (e Event) Validate() error {
	if !(e.Z1 > 0 && e.Z1 < e.Z2 && e.Z2 < e.Z3) {
		return fmt.Errorf("blast radii must satisfy 0 < z1 < z2 < z3, got %v/%v/%v", e.Z1, e.Z2, e.Z3)
	}
	return nil
}

// Distance returns the planar degree distance from the epicenter.
func (e Event) Distance(p orb.Point) float64 {
	return planar.Distance(e.Epicenter, p)
}

// Classify returns the zone a distance falls into. Boundaries belong to the
// inner zone.
func (e Event) Classify(d float64) Zone {
	switch {
	case d <= e.Z1:
		return Zone1
	case d <= e.Z2:
		return Zone2
	case d <= e.Z3:
		return Zone3
	default:
		return ZoneOutside
	}
}

// ZoneOf classifies a coordinate.
func (e Event) ZoneOf(p orb.Point) Zone {
	return e.Classify(e.Distance(p))
}

// InExclusion reports whether p lies within z2, where the network is destroyed.
func (e Event) InExclusion(p orb.Point) bool {
	return e.Distance(p) <= e.Z2
}

// InAnyZone reports whether p lies within z3.
func (e Event) InAnyZone(p orb.Point) bool {
	return e.Distance(p) <= e.Z3
}

// Safe reports whether p is clear of z3 plus the safety margin.
func (e Event) Safe(p orb.Point) bool {
	return e.Distance(p) > e.Z3+SafetyMargin
}

// Dose returns the exposure at distance d and whether the fallback value
// was used because the interpolation left [1, 12]. Beyond z3 the dose is 0.
func (e Event) Dose(d float64) (int, bool) {
	switch e.Classify(d) {
	case Zone1:
		return Lethal, false
	case Zone2:
		q := (e.Z2 - d) / (e.Z2 - e.Z1)
		return clampDose(4+6*q*q, 9)
	case Zone3:
		q := (e.Z3 - d) / (e.Z3 - e.Z2)
		return clampDose(1+3*q*q, 3)
	default:
		return 0, false
	}
}

func clampDose(raw float64, fallback int) (int, bool) {
	if math.IsNaN(raw) || raw < 1 || raw > 12 {
		return fallback, true
	}
	return int(raw), false
}

// FleeGoal mirrors p through itself away from the epicenter: the goal is as
// far beyond p as the epicenter is behind it.
func (e Event) FleeGoal(p orb.Point) orb.Point {
	return orb.Point{2*p[0] - e.Epicenter[0], 2*p[1] - e.Epicenter[1]}
}

// DeathChance returns the per-tick probability of delayed death for a
// survivor in zone with the given dose.
func DeathChance(zone Zone, dose int) float64 {
	switch zone {
	case Zone2:
		return 0.001
	case Zone3:
		if dose > 8 {
			return float64(dose) * 0.00001
		}
		return float64(dose) * 0.000005
	default:
		return 0
	}
}
