// Disaster effects: zone classification and injuries at the detonation tick,
// damage to the road network, and delayed deaths on every tick after.
package engine

import (
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// OnOffFactor bounds the ring beyond z3 where responders leave and join the
// road network.
const OnOffFactor = 1.2

// DamageRemoveChance is the probability that a node between z2 and z3 is
// destroyed.
const DamageRemoveChance = 0.5

// DisasterEngine applies one event to the agents and the road network.
type DisasterEngine struct {
	Event blast.Event
	Fired bool

	// Individuals by zone at detonation.
	r1, r2, r3 []*agents.Agent

	Report DamageReport
}

// DamageReport summarizes what the detonation did.
type DamageReport struct {
	Killed          int `json:"killed"`
	Zone2           int `json:"zone2"`
	Zone3           int `json:"zone3"`
	Responders      int `json:"responders"`
	ClosedSegments  int `json:"closed_segments"`
	DamagedSegments int `json:"damaged_segments"`
	RemovedNodes    int `json:"removed_nodes"`
	OnOffNodes      int `json:"on_off_nodes"`
	DelayedDeaths   int `json:"delayed_deaths"`
}

// NewDisasterEngine creates an engine for ev.
func NewDisasterEngine(ev blast.Event) *DisasterEngine {
	return &DisasterEngine{Event: ev}
}

// Step runs before any agent on every tick: the detonation on its tick,
// delayed deaths afterwards.
func (d *DisasterEngine) Step(env *agents.Env) {
	if env.Counters == nil {
		env.Counters = telemetry.Discard
	}
	switch {
	case !d.Fired && env.Tick >= d.Event.Tick:
		d.detonate(env)
	case d.Fired && env.Tick > d.Event.Tick:
		d.delayedDeaths(env)
	}
}

// Zones returns the individuals classified into zones 1, 2 and 3.
func (d *DisasterEngine) Zones() (z1, z2, z3 []*agents.Agent) {
	return d.r1, d.r2, d.r3
}

func (d *DisasterEngine) detonate(env *agents.Env) {
	d.Fired = true
	ev := d.Event
	env.Event = ev

	// Nodes just outside z3 survive the damage below.
	env.OnOff = d.onOffNodes(env.Graph)
	d.Report.OnOffNodes = len(env.OnOff)

	for _, a := range env.Registry.Individuals() {
		if a.Indv.Dead {
			continue
		}
		d.affect(env, a)
	}
	for _, g := range env.Registry.LiveGroups() {
		d.affectGroup(env, g)
	}

	d.damageNetwork(env)

	slog.Info("detonation",
		"tick", env.Tick,
		"time", SimTime(env.Tick),
		"killed", d.Report.Killed,
		"zone2", d.Report.Zone2,
		"zone3", d.Report.Zone3,
		"responders", d.Report.Responders,
		"closed_segments", d.Report.ClosedSegments,
		"removed_nodes", d.Report.RemovedNodes,
	)
}

func (d *DisasterEngine) affect(env *agents.Env, a *agents.Agent) {
	ev := d.Event
	p := a.Indv
	dist := ev.Distance(a.Coord)
	zone := ev.Classify(dist)
	p.Zone = zone
	counters := env.Counters

	if p.FirstResponder {
		counters.Increment(telemetry.FirstResponderZone(int(zone)), 1)
		if zone != blast.Zone1 {
			d.Report.Responders++
		}
	}

	switch zone {
	case blast.Zone1:
		d.r1 = append(d.r1, a)
		p.Dose = blast.Lethal
		a.Kill(env)
		d.Report.Killed++
		counters.Increment(telemetry.HealthCategory(agents.SeverityDead), 1)

	case blast.Zone2:
		d.r2 = append(d.r2, a)
		dose, _ := ev.Dose(dist)
		a.Injure(zone, dose)
		d.Report.Zone2++
		counters.Increment(telemetry.PopZone2, 1)
		counters.Increment(telemetry.HealthCategory(a.Severity), 1)
		if p.FirstResponder {
			a.Respond(env, ev.Epicenter, env.Params.FleeFastDeg())
		} else {
			a.StartFleeing(env, env.Params.FleeSlowestDeg())
			counters.Increment(telemetry.Fleeing, 1)
		}
		if !a.Routine() {
			a.LeaveHome(env, true, true)
		}

	case blast.Zone3:
		d.r3 = append(d.r3, a)
		dose, _ := ev.Dose(dist)
		a.Injure(zone, dose)
		d.Report.Zone3++
		counters.Increment(telemetry.PopZone3, 1)
		counters.Increment(telemetry.HealthCategory(a.Severity), 1)
		if p.FirstResponder {
			a.Respond(env, ev.Epicenter, env.Params.FleeFastDeg())
		} else {
			a.StartFleeing(env, env.Params.FleeSlowDeg())
			counters.Increment(telemetry.Fleeing, 1)
		}
		if !a.Routine() {
			a.LeaveHome(env, false, true)
		}

	default:
		if p.FirstResponder {
			a.Respond(env, d.responderGoal(env, a), env.Params.FleeFastDeg())
		}
	}
}

// responderGoal is the nearest on/off-road node for a responder outside z3,
// or the epicenter when there is none.
func (d *DisasterEngine) responderGoal(env *agents.Env, a *agents.Agent) orb.Point {
	best := -1.0
	goal := d.Event.Epicenter
	for _, n := range env.OnOff {
		if dist := planar.Distance(a.Coord, n.Coord); best < 0 || dist < best {
			best, goal = dist, n.Coord
		}
	}
	return goal
}

func (d *DisasterEngine) affectGroup(env *agents.Env, g *agents.Agent) {
	if g.Grp.Defunct {
		return
	}
	ev := d.Event
	var rate float64
	switch ev.ZoneOf(g.Coord) {
	case blast.Zone1:
		g.RefreshHealth(env)
		return
	case blast.Zone2:
		rate = env.Params.FleeSlowestDeg()
	case blast.Zone3:
		rate = env.Params.FleeSlowDeg()
	default:
		return
	}
	g.RefreshHealth(env)
	if g.Grp.Defunct {
		return
	}
	g.StartFleeing(env, rate)
	g.RefreshHealth(env)
}

// onOffNodes returns the nodes in the ring just outside z3.
func (d *DisasterEngine) onOffNodes(g *world.Graph) []*world.Node {
	ev := d.Event
	var out []*world.Node
	for _, n := range g.Nodes() {
		dist := ev.Distance(n.Coord)
		if dist > ev.Z3 && dist < OnOffFactor*ev.Z3 {
			out = append(out, n)
		}
	}
	return out
}

// damageNetwork closes every segment touching z2, slows the ones touching
// the z2-z3 ring, and removes nodes: all within z2, half of those in the ring.
func (d *DisasterEngine) damageNetwork(env *agents.Env) {
	ev := d.Event
	g := env.Graph
	var remove []world.NodeID
	for _, n := range g.Nodes() {
		dist := ev.Distance(n.Coord)
		switch {
		case dist <= ev.Z2:
			d.Report.ClosedSegments += g.SetSpeed(n.ID, 0)
			remove = append(remove, n.ID)
		case dist <= ev.Z3:
			d.Report.DamagedSegments += g.SetSpeed(n.ID, env.Params.DamagedKmh)
			if env.Rng.Float64() < DamageRemoveChance {
				remove = append(remove, n.ID)
			}
		}
	}
	for _, id := range remove {
		if g.RemoveNode(id) {
			d.Report.RemovedNodes++
		}
	}
	g.RebuildIndex()
}

// delayedDeaths rolls for every zone 2 and zone 3 survivor.
func (d *DisasterEngine) delayedDeaths(env *agents.Env) {
	for _, list := range [][]*agents.Agent{d.r2, d.r3} {
		for _, a := range list {
			p := a.Indv
			if p.Dead {
				continue
			}
			if env.Rng.Float64() < blast.DeathChance(p.Zone, p.Dose) {
				a.Kill(env)
				d.Report.DelayedDeaths++
				slog.Debug("delayed death", "agent", a.ID, "zone", p.Zone, "dose", p.Dose, "tick", env.Tick)
			}
		}
	}
}
