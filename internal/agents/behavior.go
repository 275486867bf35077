// Individual behavior: the routine commute, and the post-event state machine
// that reroutes, detours, flees on foot, looks for shelter and joins groups.
package agents

import (
	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// Individual is the per-person state carried by an Agent of KindIndividual.
type Individual struct {
	Age int
	Sex Sex

	Home, Work   *world.Node
	CommuteStart int // hhmm
	CommuteEnd   int // hhmm
	CommuteTime  int // minutes spent on the last trip to work
	CommutePath  world.Path
	School       bool // Work is a school or daycare

	FirstResponder bool
	Patient        AgentID // victim under this responder's care, 0 if none

	InGroup bool
	Leader  bool
	GroupID AgentID

	Household []AgentID
	Network   []AgentID // emergent ties formed in groups

	Dose       int
	Dead       bool
	Zone       blast.Zone
	Victim     VictimStatus
	TreatStart uint64

	AtHome     bool
	AtWork     bool
	OnCommute  bool
	ToWork     bool
	StayAtHome bool
	Homeless   bool

	departed uint64 // tick the current trip to work began
}

func (a *Agent) occ() uint64 { return uint64(a.ID) }

func (a *Agent) stepIndividual(env *Env) {
	p := a.Indv
	if p.Dead {
		return
	}
	if a.Routine() {
		a.routine(env)
		return
	}
	a.nonroutine(env)
}

// ── Routine ──────────────────────────────────────────────────────────

func (a *Agent) routine(env *Env) {
	p := a.Indv
	switch world.Time24(env.Tick) {
	case p.CommuteStart:
		p.ToWork = true
		if !p.InGroup && !p.StayAtHome && p.AtHome {
			p.AtHome = false
			p.OnCommute = true
			p.departed = env.Tick
			env.count(telemetry.AtHome, -1)
			env.count(telemetry.OnCommute, 1)
		}
	case p.CommuteEnd:
		p.ToWork = false
		if !p.InGroup && !p.StayAtHome && p.AtWork {
			p.OnCommute = true
			env.count(telemetry.AtWork, -1)
			env.count(telemetry.OnCommute, 1)
		}
	}

	if p.InGroup {
		return
	}
	if a.NeedReroute || a.HaveDetour || a.OnDetour {
		a.recoverCommute(env)
		return
	}
	if p.StayAtHome {
		return
	}
	if (p.ToWork && !p.AtWork) || (!p.ToWork && p.AtWork) {
		a.commute(env)
	}
}

func (a *Agent) commute(env *Env) {
	p := a.Indv
	g := env.Graph

	if a.Edge == nil {
		return
	}

	if a.ReachedDest {
		switch {
		case p.ToWork && !p.AtWork:
			p.AtWork = true
			p.OnCommute = false
			p.CommuteTime = int(env.Tick - p.departed)
			env.count(telemetry.OnCommute, -1)
			env.count(telemetry.AtWork, 1)
		case !p.ToWork && p.AtWork:
			p.AtWork = false
			p.AtHome = true
			p.OnCommute = false
			env.count(telemetry.OnCommute, -1)
			env.count(telemetry.AtHome, 1)
		}
		a.FlipPath()
		return
	}

	if (p.ToWork && a.PathDir < 0) || (!p.ToWork && a.PathDir > 0) {
		a.FlipPath()
	}
	if a.Travel(g, a.occ()) == Stuck {
		a.Flag = FlagRerouting
	}
}

// recoverCommute runs the reroute and detour steps for a commuter whose path
// was cut.
func (a *Agent) recoverCommute(env *Env) {
	if a.NeedReroute && !a.HaveDetour {
		a.reroute(env)
	}
	if a.HaveDetour && !a.OnDetour {
		a.goToDetour(env)
	}
	if a.OnDetour {
		a.commuteDetour(env)
	}
}

// reroute plans a detour from the nearest safe node to the commute
// destination, replacing a lost home or work with a temporary node.
func (a *Agent) reroute(env *Env) {
	p := a.Indv
	g := env.Graph
	a.Flag = FlagRerouting
	a.MoveRate = env.Params.RerouteKmh / 60
	a.LeaveNetwork(g, a.occ())

	start := a.findSafeNearestNode(env, 0.02)
	if start == nil {
		return
	}
	a.StartNode = start
	a.SetGoalPoint(start.Coord)

	if !g.HasNode(p.Home) {
		env.count(telemetry.IDPHome, 1)
		p.Homeless = true
		if !a.relocate(env, &p.Home) {
			return
		}
	}
	if !g.HasNode(p.Work) {
		env.count(telemetry.IDPWork, 1)
		if !a.relocate(env, &p.Work) {
			return
		}
	}
	if p.Home.ID == p.Work.ID {
		p.StayAtHome = true
	}

	target := p.Home
	if p.ToWork {
		target = p.Work
	}
	if a.planDetour(g, start, target) {
		return
	}
	if target.ID != p.Home.ID {
		// No way to work: go home instead.
		env.count(telemetry.IDPWork, 1)
		p.Work = p.Home
		p.StayAtHome = true
		if a.planDetour(g, start, p.Home) {
			return
		}
	}

	// The destination is cut off: settle for a temporary location.
	temp := a.findTempLocationNode(env)
	if temp == nil {
		a.nudge(env, 0.005)
		return
	}
	p.Home, p.Work = temp, temp
	p.StayAtHome = true
	if !a.planDetour(g, start, temp) {
		a.nudge(env, 0.005)
	}
}

// relocate replaces a lost node with a temporary one. The agent is nudged
// away from the epicenter when nothing is reachable.
func (a *Agent) relocate(env *Env, n **world.Node) bool {
	temp := a.findTempLocationNode(env)
	if temp == nil {
		a.nudge(env, 0.005)
		return false
	}
	*n = temp
	return true
}

// planDetour installs a detour from start to end. A detour whose ends
// coincide is empty: arriving at start completes it.
func (a *Agent) planDetour(g *world.Graph, start, end *world.Node) bool {
	if start.ID == end.ID {
		a.Path = nil
	} else {
		path, ok := g.FindPath(start, end)
		if !ok {
			return false
		}
		a.Path = path
	}
	a.StartNode, a.EndNode = start, end
	a.NeedReroute = false
	a.HaveDetour = true
	a.OnDetour = false
	a.ReachedDest = false
	return true
}

// goToDetour walks to the first node of the detour.
func (a *Agent) goToDetour(env *Env) {
	if a.StartNode == nil {
		a.HaveDetour = false
		a.NeedReroute = true
		return
	}
	if !a.At(a.StartNode) {
		a.MoveToCoord(a.StartNode.Coord)
	}
	if a.At(a.StartNode) {
		a.OnDetour = true
	}
}

func (a *Agent) endDetour() {
	a.NeedReroute = false
	a.HaveDetour = false
	a.OnDetour = false
	a.Flag = FlagNone
}

// commuteDetour follows the detour and rejoins the commute at its end.
func (a *Agent) commuteDetour(env *Env) {
	p := a.Indv
	g := env.Graph

	if a.At(a.EndNode) {
		a.endDetour()
		a.LeaveNetwork(g, a.occ())
		atHome := a.EndNode.ID == p.Home.ID
		if atHome {
			p.AtHome = true
			p.AtWork = false
		} else {
			p.AtWork = true
			p.AtHome = false
		}
		if p.OnCommute {
			p.OnCommute = false
			env.count(telemetry.OnCommute, -1)
			if atHome {
				env.count(telemetry.AtHome, 1)
			} else {
				env.count(telemetry.AtWork, 1)
			}
		}

		// Rejoin the commute path at this end.
		path, ok := g.FindPath(p.Home, p.Work)
		if !ok {
			p.StayAtHome = true
			return
		}
		p.CommutePath = path
		a.SetPath(path)
		if atHome {
			a.PathDir = 1
			a.BeginPath(g, a.occ())
			return
		}
		// At work the agent faces home: enter the last edge from the work
		// end so the next commute walks the path backward.
		a.PathDir = -1
		a.PathIndex = len(path) - 1
		if a.SetupEdge(g, path[a.PathIndex], a.occ()) {
			a.SetCoord(a.Edge.Segment.PointAt(a.Index))
		}
		a.ReachedDest = false
		return
	}

	if a.At(a.StartNode) && a.Edge == nil {
		a.Flag = FlagDetouring
		a.PathDir = 1
		a.BeginPath(g, a.occ())
	}
	if a.Travel(g, a.occ()) == Stuck {
		a.HaveDetour = false
		a.OnDetour = false
		a.Flag = FlagRerouting
	}
}

// ── Non-routine ──────────────────────────────────────────────────────

func (a *Agent) nonroutine(env *Env) {
	p := a.Indv
	if p.FirstResponder {
		a.moveTowards(env)
		return
	}

	if a.Goal != GoalShelter && !env.Event.InExclusion(a.Coord) {
		if a.maybeShelter(env) {
			return
		}
	}

	if a.movesWithGroup(env) {
		return
	}
	if env.Params.Emergent && (a.Goal == GoalFlee || a.Goal == GoalFindShelter) {
		if a.joinGroup(env) {
			return
		}
	}

	switch a.Goal {
	case GoalFlee:
		a.flee(env)
	case GoalFindShelter:
		a.findShelter(env)
	}
}

// movesWithGroup reports whether the agent's position is driven by a group:
// any emergent group, or a carpool it is riding in.
func (a *Agent) movesWithGroup(env *Env) bool {
	p := a.Indv
	if !p.InGroup {
		return false
	}
	g, ok := env.Registry.Get(p.GroupID)
	if !ok || g.Grp.Defunct {
		return false
	}
	if g.Grp.Type == GroupCarpool {
		return g.Grp.Riding(a.ID)
	}
	return true
}

// maybeShelter rolls the shelter-in-place chance for an agent at its home or
// work node. Sheltering agents leave any emergent group.
func (a *Agent) maybeShelter(env *Env) bool {
	p := a.Indv
	var chance int
	switch {
	case p.AtHome && env.Graph.HasNode(p.Home) && a.At(p.Home):
		chance = env.Params.ChanceShelterAtHome
	case p.AtWork && env.Graph.HasNode(p.Work) && a.At(p.Work):
		chance = env.Params.ChanceShelterAtWork
	default:
		return false
	}
	if chance < 1 || env.Rng.Intn(chance) != 0 {
		return false
	}
	a.Goal = GoalShelter
	env.count(telemetry.Sheltering, 1)
	if p.InGroup {
		if g, ok := env.Registry.Get(p.GroupID); ok && g.Grp.Type == GroupEmergent {
			g.remMember(env, a)
		}
	}
	return true
}

// flee waits out the building escape delay, then walks away.
func (a *Agent) flee(env *Env) {
	p := a.Indv
	if a.Severity == SeverityImmobile {
		return
	}
	if (p.AtHome || p.AtWork) && a.Flag != FlagBlocked && !a.escaped(env) {
		return
	}
	a.getAway(env)
}

// escaped reports whether enough time has passed since detonation for an
// agent of this severity to get out of a building.
func (a *Agent) escaped(env *Env) bool {
	return env.Tick > env.Event.Tick+3*uint64(a.Severity)
}

// findShelter gets the agent back on the network and routes it home.
func (a *Agent) findShelter(env *Env) {
	if !(a.NeedReroute || a.OnDetour || a.HaveDetour) {
		return
	}
	if a.NeedReroute && !a.HaveDetour {
		a.routeHome(env)
	}
	if a.HaveDetour && !a.OnDetour {
		a.goToDetour(env)
	}
	if a.OnDetour {
		a.detour(env)
	}
}

// routeHome plans from the nearest safe node to home, or to a temporary
// location if home is gone or unreachable.
func (a *Agent) routeHome(env *Env) {
	p := a.Indv
	g := env.Graph
	a.ReachedDest = true

	start := a.findSafeNearestNode(env, 0.02)
	if start == nil {
		return
	}
	a.StartNode = start
	a.SetGoalPoint(start.Coord)

	if !g.HasNode(p.Home) {
		env.count(telemetry.IDPHome, 1)
		p.Homeless = true
		temp := a.findTempLocationNode(env)
		if temp == nil {
			a.nudge(env, 0.0005)
			return
		}
		p.Home = temp
	}
	if a.planDetour(g, start, p.Home) {
		return
	}

	temp := a.findTempLocationNode(env)
	if temp == nil {
		a.nudge(env, 0.0005)
		return
	}
	p.Home, p.Work = temp, temp
	if !a.planDetour(g, start, temp) {
		a.nudge(env, 0.0005)
	}
}

// detour follows a post-event detour; arriving anywhere ends the search.
func (a *Agent) detour(env *Env) {
	p := a.Indv
	g := env.Graph

	if a.At(a.EndNode) {
		a.endDetour()
		a.LeaveNetwork(g, a.occ())
		a.Goal = GoalShelter
		if p.Home != nil && a.EndNode.ID == p.Home.ID && !p.AtHome {
			p.AtHome = true
			env.count(telemetry.AtHome, 1)
		}
		return
	}

	if a.At(a.StartNode) && a.Edge == nil {
		a.PathDir = 1
		a.BeginPath(g, a.occ())
	}
	if a.Travel(g, a.occ()) == Stuck {
		a.HaveDetour = false
		a.OnDetour = false
	}
}

// ── On foot ──────────────────────────────────────────────────────────

// getAway walks toward the fleeing goal, deflecting around water, and hands
// over to shelter search once clear of the damage radius.
func (a *Agent) getAway(env *Env) {
	if !a.HasGoal {
		return
	}
	a.LeaveNetwork(env.Graph, a.occ())

	ev := env.Event
	step := world.KmToDeg(a.MoveRate)
	limit := ev.Z3 + blast.SafetyMargin
	dist := ev.Distance(a.Coord)
	toGoal := distance(a.Coord, a.GoalPoint)

	if toGoal < 0.001 {
		if dist < limit {
			a.SetGoalPoint(ev.FleeGoal(a.Coord))
			if env.Water.Covers(a.GoalPoint) {
				a.setAltGoalPoint(env, a.Coord, step)
			}
			return
		}
		a.toShelter()
		return
	}
	if dist > limit {
		a.toShelter()
		return
	}
	if toGoal <= step {
		a.SetCoord(a.GoalPoint)
		return
	}

	next := stepToward(a.Coord, a.GoalPoint, step)
	if !env.Water.Covers(next) {
		a.SetCoord(next)
		return
	}
	alt := a.findAltCoord(env, a.Coord, step)
	a.setAltGoalPoint(env, alt, step)
	a.SetCoord(alt)
	if a.Flag != FlagBlocked {
		a.Flag = FlagBlocked
		env.count(telemetry.Blocked, 1)
	}
}

func (a *Agent) toShelter() {
	a.Goal = GoalFindShelter
	a.NeedReroute = true
	if a.Flag == FlagBlocked {
		a.Flag = FlagNone
	}
}
