package agents

import (
	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// Kill marks an individual dead where it stands.
func (a *Agent) Kill(env *Env) {
	p := a.Indv
	if p == nil || p.Dead {
		return
	}
	p.Dead = true
	a.clearWhereabouts(env)
	if p.Victim == VictimInTreatment {
		p.Victim = VictimNone
		env.count(telemetry.InTreatment, -1)
	}
	if v, ok := env.Registry.Get(p.Patient); ok && v.Indv.Victim == VictimInTreatment {
		// Someone else can pick the patient up.
		v.Indv.Victim = VictimNone
		env.count(telemetry.InTreatment, -1)
	}
	p.Patient = 0
	a.Severity = SeverityDead
	a.Flag = FlagNone
	a.LeaveNetwork(env.Graph, a.occ())
	env.count(telemetry.Deaths, 1)
}

// Injure records the dose of a survivor and sets the matching severity.
// Severity stops short of dead.
func (a *Agent) Injure(zone blast.Zone, dose int) {
	a.Indv.Zone = zone
	a.Indv.Dose = dose
	a.Severity = min(dose, SeverityImmobile)
}

// StartFleeing sends the agent away from the epicenter on foot at rateDeg
// degrees per tick. The goal is the agent's position mirrored through
// itself, moved off water if needed.
func (a *Agent) StartFleeing(env *Env, rateDeg float64) {
	a.Goal = GoalFlee
	a.MoveRate = world.DegToKm(rateDeg)
	a.SetGoalPoint(env.Event.FleeGoal(a.Coord))
	if env.Water.Covers(a.GoalPoint) {
		a.setAltGoalPoint(env, a.Coord, rateDeg)
	}
	if !a.Routine() {
		a.LeaveNetwork(env.Graph, a.occ())
	}
}

// Respond turns a first responder toward goal at rateDeg degrees per tick.
func (a *Agent) Respond(env *Env, goal orb.Point, rateDeg float64) {
	a.Flag = FlagRespondingAvailable
	a.MoveRate = world.DegToKm(rateDeg)
	a.SetGoalPoint(goal)
	a.LeaveNetwork(env.Graph, a.occ())
}

// RefreshHealth recomputes a group's severity from its members and
// propagates the group goal to those moving with it.
func (a *Agent) RefreshHealth(env *Env) {
	if a.Kind != KindGroup {
		return
	}
	a.updateHealth(env)
	a.updateMemberGoals(env)
}

// LeaveHome clears the at-home and at-work marks of someone whose building
// was hit, keeping the status counters in step. Each building lost counts
// one displaced person. A commute in progress is abandoned.
func (a *Agent) LeaveHome(env *Env, home, work bool) {
	p := a.Indv
	if home && p.AtHome {
		p.AtHome = false
		env.count(telemetry.AtHome, -1)
		env.count(telemetry.IDPHome, 1)
	}
	if work && p.AtWork {
		p.AtWork = false
		env.count(telemetry.AtWork, -1)
		env.count(telemetry.IDPWork, 1)
	}
	if home && p.OnCommute {
		p.OnCommute = false
		env.count(telemetry.OnCommute, -1)
	}
}

// clearWhereabouts drops the location marks of the dead from the status
// counters.
func (a *Agent) clearWhereabouts(env *Env) {
	p := a.Indv
	if p.AtHome {
		p.AtHome = false
		env.count(telemetry.AtHome, -1)
	}
	if p.AtWork {
		p.AtWork = false
		env.count(telemetry.AtWork, -1)
	}
	if p.OnCommute {
		p.OnCommute = false
		env.count(telemetry.OnCommute, -1)
	}
}
