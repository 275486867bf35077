package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// testCity lays a 41x41 residential grid, 0.002 degrees apart, centered on
// the origin.
func testCity(t *testing.T) *world.City {
	t.Helper()
	const n = 41
	g := world.NewGraph()
	grid := make([][]*world.Node, n)
	for row := range grid {
		grid[row] = make([]*world.Node, n)
		for col := range grid[row] {
			grid[row][col] = g.AddNode(orb.Point{float64(col)*0.002 - 0.04, float64(row)*0.002 - 0.04})
		}
	}
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			if col > 0 {
				if _, err := g.AddRoad(grid[row][col-1].ID, grid[row][col].ID, world.RoadResidential, 40, true); err != nil {
					t.Fatalf("AddRoad: %v", err)
				}
			}
			if row > 0 {
				if _, err := g.AddRoad(grid[row-1][col].ID, grid[row][col].ID, world.RoadResidential, 40, true); err != nil {
					t.Fatalf("AddRoad: %v", err)
				}
			}
		}
	}
	g.RebuildIndex()
	return &world.City{Graph: g, Water: world.NewWater(), Grid: grid}
}

// testParams puts the epicenter at the origin with z1=0.004, z2=0.011 and
// z3=0.022 degrees.
func testParams() config.Params {
	p := config.Default()
	p.GroundZeroLon, p.GroundZeroLat = 0, 0
	p.R1Meters = 0.004 / config.DegreesPerMeter
	p.R2Meters = 0.011 / config.DegreesPerMeter
	p.R3Meters = 0.022 / config.DegreesPerMeter
	p.DetonationTick = 600
	p.Emergent = false
	p.Carpool = false
	return p
}

// resident places a stay-at-home adult at the grid node nearest at.
func resident(t *testing.T, reg *agents.Registry, city *world.City, at orb.Point) *agents.Agent {
	t.Helper()
	home, ok := city.Graph.FindNearestNode(at, 0.005)
	if !ok {
		t.Fatalf("no node near %v", at)
	}
	p := &agents.Individual{Age: 40, Home: home, Work: home, AtHome: true, StayAtHome: true}
	a := agents.NewIndividual(reg.NextID(), home.Coord, p)
	reg.Add(a)
	return a
}

func testEnv(city *world.City, reg *agents.Registry, p config.Params, counters telemetry.Sink) *agents.Env {
	return &agents.Env{
		Graph:    city.Graph,
		Water:    city.Water,
		Event:    EventFromParams(p),
		Params:   p,
		Rng:      rand.New(rand.NewSource(1)),
		Counters: counters,
		Registry: reg,
		Tick:     p.DetonationTick,
	}
}

func TestDetonationKillsZone1(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.002, 0})
	p := testParams()
	tally := telemetry.NewTally()
	env := testEnv(city, reg, p, tally)

	d := NewDisasterEngine(env.Event)
	d.Step(env)

	if !d.Fired {
		t.Fatal("event did not fire on its tick")
	}
	if !a.Indv.Dead || a.Severity != agents.SeverityDead {
		t.Errorf("dead=%v severity=%d, want dead with severity %d", a.Indv.Dead, a.Severity, agents.SeverityDead)
	}
	if a.Indv.Zone != blast.Zone1 {
		t.Errorf("zone = %v, want zone1", a.Indv.Zone)
	}
	if got := tally.Get(telemetry.Deaths); got != 1 {
		t.Errorf("deaths = %d, want 1", got)
	}
	if d.Report.Killed != 1 {
		t.Errorf("Report.Killed = %d, want 1", d.Report.Killed)
	}
	z1, _, _ := d.Zones()
	if len(z1) != 1 {
		t.Errorf("len(z1) = %d, want 1", len(z1))
	}
}

func TestDetonationInjuresZone2(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.008, 0})
	p := testParams()
	tally := telemetry.NewTally()
	env := testEnv(city, reg, p, tally)

	NewDisasterEngine(env.Event).Step(env)

	if a.Indv.Dead {
		t.Fatal("zone 2 agent died at detonation")
	}
	if a.Severity < 1 || a.Severity > 12 {
		t.Errorf("severity = %d, want within [1, 12]", a.Severity)
	}
	if a.Goal != agents.GoalFlee {
		t.Errorf("goal = %v, want flee", a.Goal)
	}
	want := world.DegToKm(p.FleeSlowestDeg())
	if math.Abs(a.MoveRate-want) > 1e-12 {
		t.Errorf("move rate = %v, want %v", a.MoveRate, want)
	}
	if a.Routine() {
		t.Error("injured agent should no longer follow its routine")
	}
	if a.Indv.AtHome {
		t.Error("zone 2 agent should have left home")
	}
	if tally.Get(telemetry.PopZone2) != 1 || tally.Get(telemetry.Fleeing) != 1 {
		t.Errorf("counters = %v", tally.Snapshot())
	}
	// Flee goal mirrors the position away from the epicenter.
	if a.GoalPoint[0] <= a.Coord[0] {
		t.Errorf("goal %v is not beyond %v", a.GoalPoint, a.Coord)
	}
}

func TestDetonationZone3Dose(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.016, 0})
	p := testParams()
	env := testEnv(city, reg, p, nil)

	d := NewDisasterEngine(env.Event)
	d.Step(env)

	if a.Indv.Zone != blast.Zone3 {
		t.Fatalf("zone = %v, want zone3", a.Indv.Zone)
	}
	if a.Severity < 1 || a.Severity > 4 {
		t.Errorf("severity = %d, want within [1, 4]", a.Severity)
	}
	if d.Report.Zone3 != 1 {
		t.Errorf("Report.Zone3 = %d, want 1", d.Report.Zone3)
	}
}

func TestResponderHeadsForOnOffNode(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.036, 0})
	a.Indv.FirstResponder = true
	p := testParams()
	tally := telemetry.NewTally()
	env := testEnv(city, reg, p, tally)

	ev := env.Event
	NewDisasterEngine(ev).Step(env)

	if a.Flag != agents.FlagRespondingAvailable {
		t.Errorf("flag = %v, want responding", a.Flag)
	}
	d := ev.Distance(a.GoalPoint)
	if d <= ev.Z3 || d >= OnOffFactor*ev.Z3 {
		t.Errorf("goal %v is %.4f from the epicenter, want within the on/off ring", a.GoalPoint, d)
	}
	if planar.Distance(a.GoalPoint, orb.Point{0.026, 0}) > 1e-9 {
		t.Errorf("goal = %v, want the nearest ring node (0.026, 0)", a.GoalPoint)
	}
	if got := tally.Get(telemetry.FirstResponderZone(int(blast.ZoneOutside))); got != 1 {
		t.Errorf("responders outside = %d, want 1", got)
	}
}

func TestDamageNetwork(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	p := testParams()
	env := testEnv(city, reg, p, nil)
	before := city.Graph.NodeCount()

	d := NewDisasterEngine(env.Event)
	d.Step(env)

	ev := env.Event
	for _, n := range city.Graph.Nodes() {
		if ev.Distance(n.Coord) <= ev.Z2 {
			t.Fatalf("node %d at %v survived inside z2", n.ID, n.Coord)
		}
	}
	if d.Report.RemovedNodes == 0 || city.Graph.NodeCount() != before-d.Report.RemovedNodes {
		t.Errorf("removed %d, node count %d -> %d", d.Report.RemovedNodes, before, city.Graph.NodeCount())
	}
	if d.Report.ClosedSegments == 0 || d.Report.DamagedSegments == 0 {
		t.Errorf("report = %+v, want closed and damaged segments", d.Report)
	}
	for _, n := range env.OnOff {
		if !city.Graph.HasNode(n) {
			t.Errorf("on/off node %d was removed", n.ID)
		}
	}
	if n, ok := city.Graph.FindNearestNode(orb.Point{0.001, 0}, 0.005); !ok || ev.Distance(n.Coord) <= ev.Z2 {
		t.Errorf("nearest node to the epicenter after the blast = %v", n)
	}
}

func TestDetonationUpdatesWhereabouts(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	dead := resident(t, reg, city, orb.Point{0.002, 0})
	hurt := resident(t, reg, city, orb.Point{0.008, 0})
	tally := telemetry.NewTally()
	tally.Increment(telemetry.AtHome, 2)
	env := testEnv(city, reg, testParams(), tally)

	NewDisasterEngine(env.Event).Step(env)

	if dead.Indv.AtHome || hurt.Indv.AtHome {
		t.Errorf("at_home flags = %v/%v, want both cleared", dead.Indv.AtHome, hurt.Indv.AtHome)
	}
	if got := tally.Get(telemetry.AtHome); got != 0 {
		t.Errorf("at_home = %d, want 0", got)
	}
	// Only the survivor is displaced.
	if got := tally.Get(telemetry.IDPHome); got != 1 {
		t.Errorf("idp_home = %d, want 1", got)
	}
}

func TestDelayedDeaths(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	var hurt []*agents.Agent
	for i := 0; i < 50; i++ {
		hurt = append(hurt, resident(t, reg, city, orb.Point{0.008, 0}))
	}
	tally := telemetry.NewTally()
	env := testEnv(city, reg, testParams(), tally)

	d := NewDisasterEngine(env.Event)
	d.Step(env)
	if d.Report.Killed != 0 || tally.Get(telemetry.Deaths) != 0 {
		t.Fatalf("zone 2 agents died at detonation: %+v", d.Report)
	}

	// Zone 2 survivors die at 0.001 per tick: about ten over 200 ticks.
	for i := 0; i < 200; i++ {
		env.Tick++
		d.Step(env)
	}

	if d.Report.DelayedDeaths == 0 {
		t.Fatal("no delayed deaths in 200 ticks")
	}
	if got := tally.Get(telemetry.Deaths); got != d.Report.DelayedDeaths {
		t.Errorf("deaths = %d, want %d", got, d.Report.DelayedDeaths)
	}
	dead := 0
	for _, a := range hurt {
		if a.Indv.Dead {
			dead++
			if a.Severity != agents.SeverityDead {
				t.Errorf("agent %d dead with severity %d", a.ID, a.Severity)
			}
		}
	}
	if dead != d.Report.DelayedDeaths {
		t.Errorf("%d agents dead, report says %d", dead, d.Report.DelayedDeaths)
	}
}

func TestStepBeforeEventIsNoop(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.002, 0})
	env := testEnv(city, reg, testParams(), nil)
	env.Tick = env.Event.Tick - 1

	d := NewDisasterEngine(env.Event)
	d.Step(env)

	if d.Fired || a.Indv.Dead {
		t.Error("event fired early")
	}
}

func TestSimulationDetonates(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	victim := resident(t, reg, city, orb.Point{0.002, 0})
	resident(t, reg, city, orb.Point{0.030, 0.030})
	p := testParams()
	p.DetonationTick = 30

	sim := NewSimulation(p, city, reg, nil)
	eng := NewEngine()
	eng.OnTick = sim.TickMinute
	eng.OnHour = sim.TickHour
	eng.RunFor(60)

	if !victim.Indv.Dead {
		t.Error("agent next to the epicenter survived")
	}
	snap := sim.Snapshot()
	if !snap.Detonated || snap.Tick != 60 {
		t.Errorf("snapshot tick=%d detonated=%v", snap.Tick, snap.Detonated)
	}
	if snap.Stats.Dead != 1 || snap.Stats.Population != 2 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if len(snap.Positions) != 2 {
		t.Errorf("len(positions) = %d, want 2", len(snap.Positions))
	}
	events := sim.Events(10)
	if len(events) != 1 || events[0].Category != "disaster" || events[0].Tick != 30 {
		t.Errorf("events = %+v", events)
	}
}

func TestRescheduleEvent(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.030, 0.030})
	sim := NewSimulation(testParams(), city, reg, nil)

	if _, err := sim.RescheduleEvent(0, orb.Point{0.030, 0.030}); err == nil {
		t.Error("rescheduling into the past should fail")
	}
	if _, err := sim.RescheduleEvent(5, orb.Point{0.030, 0.030}); err != nil {
		t.Fatalf("RescheduleEvent: %v", err)
	}
	for tick := uint64(1); tick <= 5; tick++ {
		sim.TickMinute(tick)
	}
	if !sim.Disaster.Fired || !a.Indv.Dead {
		t.Fatal("rescheduled event did not fire over the agent")
	}
	if _, err := sim.RescheduleEvent(10, orb.Point{}); !errors.Is(err, ErrAlreadyFired) {
		t.Errorf("err = %v, want ErrAlreadyFired", err)
	}
	if got := sim.Events(0); len(got) != 2 || got[0].Category != "intervention" {
		t.Errorf("events = %+v", got)
	}
}

func TestFormCarpools(t *testing.T) {
	city := testCity(t)
	g := city.Graph
	reg := agents.NewRegistry()
	home := city.Grid[30][30]
	daycare := city.Grid[30][33]

	parent := agents.NewIndividual(reg.NextID(), home.Coord, &agents.Individual{
		Age: 35, Home: home, Work: home, AtHome: true, StayAtHome: true,
	})
	child := agents.NewIndividual(reg.NextID(), home.Coord, &agents.Individual{
		Age: 3, Home: home, Work: daycare, School: true, AtHome: true,
	})
	parent.Indv.Household = []agents.AgentID{child.ID}
	child.Indv.Household = []agents.AgentID{parent.ID}
	reg.Add(parent)
	reg.Add(child)

	tally := telemetry.NewTally()
	if n := FormCarpools(reg, g, tally); n != 1 {
		t.Fatalf("FormCarpools = %d, want 1", n)
	}
	groups := reg.Groups()
	if len(groups) != 1 {
		t.Fatalf("len(groups) = %d, want 1", len(groups))
	}
	cp := groups[0]
	if cp.Grp.Type != agents.GroupCarpool || cp.Grp.Leader != parent.ID || !cp.Grp.Has(child.ID) {
		t.Errorf("carpool = %+v", cp.Grp)
	}
	if !child.Indv.InGroup || child.Indv.GroupID != cp.ID || !parent.Indv.Leader {
		t.Error("members not enrolled")
	}
	wp := cp.Waypoints()
	if len(wp) != 3 || wp[1].ID != daycare.ID || wp[0].ID != home.ID {
		t.Errorf("waypoints = %v", wp)
	}
	if tally.Get(telemetry.CarpoolGroups) != 1 {
		t.Errorf("carpool counter = %d", tally.Get(telemetry.CarpoolGroups))
	}
}

func TestFormCarpoolsNoDriver(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	home := city.Grid[10][10]
	child := agents.NewIndividual(reg.NextID(), home.Coord, &agents.Individual{
		Age: 2, Home: home, Work: city.Grid[10][12], School: true, AtHome: true,
	})
	reg.Add(child)

	tally := telemetry.NewTally()
	if n := FormCarpools(reg, city.Graph, tally); n != 0 {
		t.Errorf("FormCarpools = %d, want 0", n)
	}
	if tally.Get(telemetry.NoDrivers) != 1 {
		t.Errorf("no_drivers = %d, want 1", tally.Get(telemetry.NoDrivers))
	}
}

func TestSimTime(t *testing.T) {
	cases := map[uint64]string{
		0:    "Day 1, 00:00",
		600:  "Day 1, 10:00",
		1439: "Day 1, 23:59",
		1470: "Day 2, 00:30",
	}
	for tick, want := range cases {
		if got := SimTime(tick); got != want {
			t.Errorf("SimTime(%d) = %q, want %q", tick, got, want)
		}
	}
}

func TestEngineCallbacks(t *testing.T) {
	e := NewEngine()
	var ticks, hours, days int
	e.OnTick = func(uint64) { ticks++ }
	e.OnHour = func(uint64) { hours++ }
	e.OnDay = func(uint64) { days++ }
	e.RunFor(TicksPerSimDay)

	if ticks != TicksPerSimDay || hours != 24 || days != 1 {
		t.Errorf("ticks=%d hours=%d days=%d", ticks, hours, days)
	}
}

func TestNetworks(t *testing.T) {
	city := testCity(t)
	reg := agents.NewRegistry()
	a := resident(t, reg, city, orb.Point{0.03, 0.03})
	b := resident(t, reg, city, orb.Point{0.03, 0.03})
	a.Indv.Household = []agents.AgentID{b.ID}
	b.Indv.Household = []agents.AgentID{a.ID}
	a.Indv.Network = []agents.AgentID{b.ID}
	b.Indv.Network = []agents.AgentID{a.ID}

	for name, edges := range map[string][]Edge{
		"household": HouseholdNetwork(reg),
		"emergent":  EmergentNetwork(reg),
	} {
		if len(edges) != 1 || edges[0] != (Edge{From: a.ID, To: b.ID}) {
			t.Errorf("%s network = %+v", name, edges)
		}
	}
}
