package agents

import (
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// victimSearchSteps is how many steps away a responder notices a victim.
const victimSearchSteps = 5

// moveTowards drives a first responder: head for the search goal until
// inside z2, then look after the neediest victim in reach, or walk to the
// nearest one in sight.
func (a *Agent) moveTowards(env *Env) {
	p := a.Indv
	if !a.HasGoal {
		return
	}
	a.LeaveNetwork(env.Graph, a.occ())

	// Stay with a patient until they are released.
	if p.Patient != 0 {
		if v, ok := env.Registry.Get(p.Patient); ok && !v.Indv.Dead && v.Indv.Victim == VictimInTreatment {
			a.aid(env, v)
			return
		}
		p.Patient = 0
		a.Flag = FlagRespondingAvailable
	}

	ev := env.Event
	d := ev.Distance(a.Coord)
	if d > ev.Z2 {
		// Staging point reached: head in.
		if !a.MoveToCoord(a.GoalPoint) {
			a.SetGoalPoint(ev.Epicenter)
		}
		return
	}
	if d < ev.Z1 {
		a.SetGoalPoint(ev.FleeGoal(a.Coord))
	}

	reach := env.Params.FleeFastDeg()
	if v := a.findNeediestVictim(env, reach); v != nil {
		a.SetCoord(v.Coord)
		a.aid(env, v)
		return
	}
	if v := a.findNearestVictim(env, victimSearchSteps*reach); v != nil {
		a.SetCoord(stepToward(a.Coord, v.Coord, world.KmToDeg(a.MoveRate)))
		return
	}
	a.MoveToCoord(a.GoalPoint)
}

// findNeediestVictim returns the victim with the highest severity within
// reach. Ties go to the earlier agent.
func (a *Agent) findNeediestVictim(env *Env, reach float64) *Agent {
	var best *Agent
	for _, v := range a.victimsWithin(env, reach) {
		if best == nil || v.Severity > best.Severity {
			best = v
		}
	}
	return best
}

// findNearestVictim returns the closest victim within reach.
func (a *Agent) findNearestVictim(env *Env, reach float64) *Agent {
	var (
		best  *Agent
		bestD float64
	)
	for _, v := range a.victimsWithin(env, reach) {
		if d := distance(a.Coord, v.Coord); best == nil || d < bestD {
			best, bestD = v, d
		}
	}
	return best
}

// victimsWithin lists the living, untreated, injured non-responders within
// reach, in registration order.
func (a *Agent) victimsWithin(env *Env, reach float64) []*Agent {
	var out []*Agent
	for _, v := range env.Registry.Scheduled() {
		if v == a || v.Kind != KindIndividual {
			continue
		}
		vp := v.Indv
		if vp.Dead || vp.FirstResponder || vp.Victim != VictimNone || v.Severity == SeverityHealthy {
			continue
		}
		if distance(a.Coord, v.Coord) <= reach {
			out = append(out, v)
		}
	}
	return out
}

// aid starts treatment of v, or releases v once the treatment has lasted
// longer than v's severity.
func (a *Agent) aid(env *Env, v *Agent) {
	vp := v.Indv
	switch vp.Victim {
	case VictimNone:
		vp.Victim = VictimInTreatment
		vp.TreatStart = env.Tick
		a.Indv.Patient = v.ID
		a.Flag = FlagRespondingAiding
		env.count(telemetry.InTreatment, 1)
		env.count(telemetry.Treated, 1)
	case VictimInTreatment:
		if env.Tick-vp.TreatStart <= uint64(v.Severity) {
			return
		}
		vp.Victim = VictimReleased
		if v.Severity > SeverityHealthy {
			v.Severity--
		}
		a.Indv.Patient = 0
		a.Flag = FlagRespondingAvailable
		env.count(telemetry.InTreatment, -1)
		env.count(telemetry.Released, 1)
	}
}
