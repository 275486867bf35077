package blast

import (
	"testing"

	"github.com/paulmach/orb"
)

func testEvent() Event {
	return Event{Tick: 600, Epicenter: orb.Point{0, 0}, Z1: 0.004, Z2: 0.011, Z3: 0.022}
}

func TestClassify(t *testing.T) {
	e := testEvent()
	cases := []struct {
		d    float64
		want Zone
	}{
		{0, Zone1},
		{0.003, Zone1},
		{0.004, Zone1},
		{0.008, Zone2},
		{0.011, Zone2},
		{0.015, Zone3},
		{0.03, ZoneOutside},
	}
	for _, c := range cases {
		if got := e.Classify(c.d); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.d, got, c.want)
		}
	}
}

func TestDoseMonotonicWithinZones(t *testing.T) {
	e := testEvent()
	prev := Lethal
	prevZone := Zone1
	for d := 0.0; d <= 0.03; d += 0.0001 {
		dose, _ := e.Dose(d)
		z := e.Classify(d)
		if z == prevZone && dose > prev {
			t.Fatalf("dose rose from %d to %d at d=%v in %v", prev, dose, d, z)
		}
		if dose < 0 || dose > 12 {
			t.Fatalf("dose %d out of range at d=%v", dose, d)
		}
		prev, prevZone = dose, z
	}
}

func TestDoseScenario(t *testing.T) {
	e := testEvent()
	if dose, _ := e.Dose(0.003); dose != Lethal {
		t.Errorf("zone 1 dose = %d, want %d", dose, Lethal)
	}
	dose, fallback := e.Dose(0.008)
	if fallback || dose < 4 || dose > 10 {
		t.Errorf("zone 2 dose = %d (fallback %v)", dose, fallback)
	}
	if dose, _ := e.Dose(0.05); dose != 0 {
		t.Errorf("outside dose = %d, want 0", dose)
	}
}

func TestValidate(t *testing.T) {
	if err := testEvent().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := testEvent()
	bad.Z2 = bad.Z3
	if bad.Validate() == nil {
		t.Error("z2 == z3 should be rejected")
	}
}

func TestFleeGoalPointsAway(t *testing.T) {
	e := testEvent()
	p := orb.Point{0.005, -0.002}
	g := e.FleeGoal(p)
	if e.Distance(g) <= e.Distance(p) {
		t.Errorf("flee goal %v is not farther than %v", g, p)
	}
	if !g.Equal(orb.Point{0.01, -0.004}) {
		t.Errorf("FleeGoal = %v", g)
	}
}

func TestDeathChance(t *testing.T) {
	if DeathChance(Zone2, 5) != 0.001 {
		t.Error("zone 2 chance is flat")
	}
	if DeathChance(Zone3, 9) <= DeathChance(Zone3, 8) {
		t.Error("zone 3 chance should jump above dose 8")
	}
	if DeathChance(ZoneOutside, 12) != 0 {
		t.Error("no delayed deaths outside the zones")
	}
}
