// Group behavior: carpools that drive a multi-stop commute, and emergent
// groups that form after the event and move together on foot.
package agents

import (
	"log/slog"
	"slices"

	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// Group is the state carried by an Agent of KindGroup.
type Group struct {
	Type    GroupType
	Members []AgentID
	Leader  AgentID
	Carpool []AgentID // members currently riding; the leader always is
	Defunct bool
	Full    bool

	CommuteStart int // hhmm, the driver's
	CommuteEnd   int
	CommuteTime  int // minutes spent on the last trip to work
	ToWork       bool
	AtWork       bool // at the far end of the multipath

	departed uint64
}

// Size returns the number of members.
func (g *Group) Size() int { return len(g.Members) }

// Has reports whether id is a member.
func (g *Group) Has(id AgentID) bool { return slices.Contains(g.Members, id) }

// Riding reports whether id is currently in the vehicle.
func (g *Group) Riding(id AgentID) bool { return slices.Contains(g.Carpool, id) }

// GroupMoveRate maps a mean severity onto the on-foot rate tiers, in km per
// tick. Healthier groups move faster; badly hurt groups do not move.
func GroupMoveRate(severity int) float64 {
	switch {
	case severity < 1:
		return 0.01
	case severity < 4:
		return 0.005
	case severity < 6:
		return 0.001
	default:
		return 0
	}
}

func (a *Agent) stepGroup(env *Env) {
	g := a.Grp
	if g.Defunct {
		return
	}
	a.updateHealth(env)
	if g.Defunct {
		return
	}
	if g.Type == GroupCarpool && a.Routine() {
		a.carpoolRoutine(env)
		return
	}
	a.groupNonroutine(env)
}

// member resolves a member id. Unknown ids report false.
func (a *Agent) member(env *Env, id AgentID) (*Agent, bool) {
	m, ok := env.Registry.Get(id)
	if !ok || m.Kind != KindIndividual {
		return nil, false
	}
	return m, true
}

// updateHealth sets the group severity to the truncated mean of its living
// members and picks the matching move rate. A group whose members are all
// dead keeps its last value. A dead leader is replaced.
func (a *Agent) updateHealth(env *Env) {
	g := a.Grp
	sum, living := 0, 0
	leaderDead := false
	for _, id := range g.Members {
		m, ok := a.member(env, id)
		if !ok {
			continue
		}
		if m.Indv.Dead {
			if id == g.Leader {
				leaderDead = true
			}
			continue
		}
		sum += m.Severity
		living++
	}
	if living > 0 {
		a.Severity = sum / living
		a.MoveRate = GroupMoveRate(a.Severity)
	}
	if leaderDead || living == 0 {
		a.selectSeniorLead(env)
	}
}

// selectSeniorLead hands leadership to the oldest living member. With no
// one left the group is dissolved.
func (a *Agent) selectSeniorLead(env *Env) bool {
	g := a.Grp
	if old, ok := a.member(env, g.Leader); ok {
		old.Indv.Leader = false
	}
	var lead *Agent
	for _, id := range g.Members {
		m, ok := a.member(env, id)
		if !ok || m.Indv.Dead {
			continue
		}
		if lead == nil || m.Indv.Age > lead.Indv.Age {
			lead = m
		}
	}
	if lead == nil {
		a.dissolve(env)
		return false
	}
	g.Leader = lead.ID
	lead.Indv.Leader = true
	return true
}

// enroll records m as a member without touching any counters.
func (a *Agent) enroll(m *Agent) {
	a.Grp.Members = append(a.Grp.Members, m.ID)
	m.Indv.InGroup = true
	m.Indv.GroupID = a.ID
}

// addMember adds m to the group. Emergent groups tie m to every existing
// member in the emergent network.
func (a *Agent) addMember(env *Env, m *Agent) {
	g := a.Grp
	if g.Type == GroupEmergent {
		for _, id := range g.Members {
			if o, ok := a.member(env, id); ok {
				o.Indv.Network = append(o.Indv.Network, m.ID)
				m.Indv.Network = append(m.Indv.Network, id)
			}
		}
	}
	a.enroll(m)
	g.Full = g.Size() >= env.Params.MaxGroupSize
	env.count(telemetry.GroupPopulation, 1)
}

// remMember takes m out of the group. A group left with fewer than two
// members is dissolved.
func (a *Agent) remMember(env *Env, m *Agent) {
	g := a.Grp
	g.Members = slices.DeleteFunc(g.Members, func(id AgentID) bool { return id == m.ID })
	g.Carpool = slices.DeleteFunc(g.Carpool, func(id AgentID) bool { return id == m.ID })

	mp := m.Indv
	wasLeader := mp.Leader
	mp.InGroup, mp.Leader, mp.GroupID = false, false, 0

	if g.Type == GroupEmergent {
		env.count(telemetry.EmergentRemoved, 1)
		for _, id := range g.Members {
			if o, ok := a.member(env, id); ok {
				o.Indv.Network = slices.DeleteFunc(o.Indv.Network, func(x AgentID) bool { return x == m.ID })
			}
		}
		mp.Network = nil
	}

	if g.Size() < 2 {
		a.dissolve(env)
		return
	}
	g.Full = g.Size() >= env.Params.MaxGroupSize
	if wasLeader {
		a.selectSeniorLead(env)
	}
}

// dissolve marks the group defunct and releases its members where the group
// last stood.
func (a *Agent) dissolve(env *Env) {
	g := a.Grp
	if g.Defunct {
		return
	}
	g.Defunct = true
	a.LeaveNetwork(env.Graph, a.occ())
	for _, id := range g.Members {
		if m, ok := a.member(env, id); ok && m.Indv.GroupID == a.ID {
			m.Indv.InGroup, m.Indv.Leader, m.Indv.GroupID = false, false, 0
		}
	}
	g.Carpool = nil
	if g.Type == GroupEmergent {
		env.count(telemetry.InactiveEmergent, 1)
	}
	slog.Debug("group dissolved", "group", a.ID, "type", g.Type, "tick", env.Tick)
}

// updateLocations moves every member to the group's coordinate.
func (a *Agent) updateLocations(env *Env, ids []AgentID) {
	for _, id := range ids {
		if m, ok := a.member(env, id); ok && !m.Indv.Dead {
			m.SetCoord(a.Coord)
		}
	}
}

// travelers returns the members that move with the group: everyone in an
// emergent group, the riders in a carpool.
func (a *Agent) travelers() []AgentID {
	if a.Grp.Type == GroupCarpool {
		return a.Grp.Carpool
	}
	return a.Grp.Members
}

// updateMemberGoals copies the group goal onto every living member.
func (a *Agent) updateMemberGoals(env *Env) {
	for _, id := range a.travelers() {
		if m, ok := a.member(env, id); ok && !m.Indv.Dead {
			m.Goal = a.Goal
		}
	}
}

// ── Carpool ──────────────────────────────────────────────────────────

// NewCarpool builds a carpool driven by driver that stops at each rider's
// work node on the way to the driver's. Returns false if any leg of the
// route is missing.
func NewCarpool(id AgentID, g *world.Graph, driver *Agent, riders ...*Agent) (*Agent, bool) {
	d := driver.Indv
	grp := &Group{
		Type:         GroupCarpool,
		Leader:       driver.ID,
		CommuteStart: d.CommuteStart,
		CommuteEnd:   d.CommuteEnd,
	}
	a := &Agent{ID: id, Kind: KindGroup, Mover: newMover(d.Home.Coord), Grp: grp}

	waypoints := []*world.Node{d.Home, d.Work}
	for _, r := range riders {
		waypoints = insertStop(waypoints, r.Indv.Work)
	}
	if !a.SetMultiPath(g, waypoints) || !a.BeginMultiPath(g, a.occ()) {
		a.LeaveNetwork(g, a.occ())
		return nil, false
	}
	a.enroll(driver)
	d.Leader = true
	for _, r := range riders {
		a.enroll(r)
	}
	grp.Carpool = slices.Clone(grp.Members)
	return a, true
}

// insertStop adds n before the final waypoint unless it is already a stop.
func insertStop(waypoints []*world.Node, n *world.Node) []*world.Node {
	if n == nil || slices.Contains(waypoints, n) {
		return waypoints
	}
	return slices.Insert(waypoints, len(waypoints)-1, n)
}

// AddRider adds r to the carpool and replans the route through its work
// node. The carpool is left unchanged if the new route has a missing leg.
func (a *Agent) AddRider(g *world.Graph, r *Agent) bool {
	grp := a.Grp
	prev := a.Multi
	waypoints := insertStop(slices.Clone(prev.Waypoints), r.Indv.Work)
	if len(waypoints) != len(prev.Waypoints) {
		if !a.SetMultiPath(g, waypoints) {
			a.Multi = prev
			return false
		}
		a.BeginMultiPath(g, a.occ())
		a.SetCoord(waypoints[0].Coord)
	}
	a.enroll(r)
	grp.Carpool = append(grp.Carpool, r.ID)
	return true
}

// Waypoints returns the planned stops, or nil for a group that does not drive.
func (a *Agent) Waypoints() []*world.Node {
	if a.Multi == nil {
		return nil
	}
	return a.Multi.Waypoints
}

func (a *Agent) carpoolRoutine(env *Env) {
	g := a.Grp
	switch world.Time24(env.Tick) {
	case g.CommuteStart:
		if !g.ToWork && !g.AtWork {
			g.ToWork = true
			g.departed = env.Tick
			a.depart(env, true)
		}
	case g.CommuteEnd:
		if g.AtWork {
			g.ToWork = false
			a.depart(env, false)
		}
	}

	if (g.ToWork && !g.AtWork) || (!g.ToWork && g.AtWork) {
		if a.NeedReroute || a.HaveDetour || a.OnDetour {
			a.disband(env)
			return
		}
		a.carPool(env)
	}
}

// depart moves the riders from home (or the driver from work) onto the road.
func (a *Agent) depart(env *Env, fromHome bool) {
	g := a.Grp
	if !fromHome {
		// Riders were dropped off on the way; only the driver sets out.
		if lead, ok := a.member(env, g.Leader); ok {
			lp := lead.Indv
			lp.ToWork = false
			lp.OnCommute = true
			if lp.AtHome {
				lp.AtHome = false
				env.count(telemetry.AtHome, -1)
			} else {
				lp.AtWork = false
				env.count(telemetry.AtWork, -1)
			}
			env.count(telemetry.OnCommute, 1)
		}
		return
	}
	for _, id := range g.Carpool {
		m, ok := a.member(env, id)
		if !ok || !m.Indv.AtHome {
			continue
		}
		m.Indv.AtHome = false
		m.Indv.OnCommute = true
		env.count(telemetry.AtHome, -1)
		env.count(telemetry.OnCommute, 1)
	}
}

// carPool drives the multipath one tick, dropping riders off at their work
// on the way out and picking them up on the way back.
func (a *Agent) carPool(env *Env) {
	g := a.Grp
	if a.Edge == nil {
		a.NeedReroute = true
		return
	}
	if !a.Edge.Segment.Passable() {
		a.Flag = FlagRerouting
		a.NeedReroute = true
		return
	}

	if a.ReachedDest {
		here := a.Multi.Waypoints[a.MultiIndex]
		if g.ToWork {
			a.dropOff(env, here)
		} else {
			a.pickUp(env, here)
		}
	}

	if a.ReachedFinal {
		if g.ToWork {
			g.AtWork = true
			g.CommuteTime = int(env.Tick - g.departed)
		} else {
			g.AtWork = false
			a.arriveHome(env)
		}
		a.FlipMultiPath(env.Graph, a.occ())
		return
	}

	if (g.ToWork && a.MultiDir < 0) || (!g.ToWork && a.MultiDir > 0) {
		a.FlipMultiPath(env.Graph, a.occ())
	}
	if a.TravelMultiPath(env.Graph, a.occ()) == Stuck {
		a.Flag = FlagRerouting
	}
	a.updateLocations(env, g.Carpool)
}

func (a *Agent) dropOff(env *Env, here *world.Node) {
	g := a.Grp
	for _, id := range slices.Clone(g.Carpool) {
		m, ok := a.member(env, id)
		if !ok || !m.Indv.OnCommute || m.Indv.Work == nil || m.Indv.Work.ID != here.ID {
			continue
		}
		mp := m.Indv
		mp.OnCommute = false
		if mp.StayAtHome {
			mp.AtHome = true
			env.count(telemetry.AtHome, 1)
		} else {
			mp.AtWork = true
			env.count(telemetry.AtWork, 1)
		}
		env.count(telemetry.OnCommute, -1)
		m.SetCoord(here.Coord)
		if id != g.Leader {
			g.Carpool = slices.DeleteFunc(g.Carpool, func(x AgentID) bool { return x == id })
		}
	}
	g.Full = len(g.Carpool) == g.Size()
}

func (a *Agent) pickUp(env *Env, here *world.Node) {
	g := a.Grp
	for _, id := range g.Members {
		if g.Riding(id) {
			continue
		}
		m, ok := a.member(env, id)
		if !ok || m.Indv.Dead || m.Indv.Work == nil || m.Indv.Work.ID != here.ID || !m.Indv.AtWork {
			continue
		}
		m.Indv.AtWork = false
		m.Indv.OnCommute = true
		env.count(telemetry.AtWork, -1)
		env.count(telemetry.OnCommute, 1)
		g.Carpool = append(g.Carpool, id)
	}
	g.Full = len(g.Carpool) == g.Size()
}

func (a *Agent) arriveHome(env *Env) {
	for _, id := range a.Grp.Carpool {
		m, ok := a.member(env, id)
		if !ok || !m.Indv.OnCommute {
			continue
		}
		m.Indv.OnCommute = false
		m.Indv.AtHome = true
		m.SetCoord(a.Coord)
		env.count(telemetry.OnCommute, -1)
		env.count(telemetry.AtHome, 1)
	}
}

// disband breaks up a carpool whose route was cut. Riders still in the
// vehicle find their own way from where it stopped.
func (a *Agent) disband(env *Env) {
	g := a.Grp
	for _, id := range g.Carpool {
		m, ok := a.member(env, id)
		if !ok || m.Indv.Dead {
			continue
		}
		mp := m.Indv
		m.SetCoord(a.Coord)
		m.NeedReroute = true
		m.Flag = FlagRerouting
		mp.ToWork = g.ToWork
		mp.AtWork = !g.ToWork
	}
	a.dissolve(env)
}

// ── Non-routine ──────────────────────────────────────────────────────

func (a *Agent) groupNonroutine(env *Env) {
	g := a.Grp
	leader, ok := a.member(env, g.Leader)
	if !ok {
		return
	}

	if a.Goal != GoalShelter && !env.Event.InExclusion(a.Coord) && a.groupShelters(env, leader) {
		return
	}

	switch a.Goal {
	case GoalFlee:
		if a.Severity == SeverityImmobile {
			return
		}
		lp := leader.Indv
		if (lp.AtHome || lp.AtWork) && a.Flag != FlagBlocked && !a.escaped(env) {
			return
		}
		a.getAway(env)
		if a.Goal != GoalFlee {
			a.updateMemberGoals(env)
		}
		a.updateLocations(env, a.travelers())
	case GoalFindShelter:
		a.groupFindShelter(env)
	}
}

// groupShelters rolls the shelter-in-place chance when the leader stands at
// home or work. A sheltering group stays put with its members.
func (a *Agent) groupShelters(env *Env, leader *Agent) bool {
	lp := leader.Indv
	var chance int
	switch {
	case lp.AtHome && env.Graph.HasNode(lp.Home) && a.At(lp.Home):
		chance = env.Params.ChanceShelterAtHome
	case lp.AtWork && env.Graph.HasNode(lp.Work) && a.At(lp.Work):
		chance = env.Params.ChanceShelterAtWork
	default:
		return false
	}
	if chance < 1 || env.Rng.Intn(chance) != 0 {
		return false
	}
	a.Goal = GoalShelter
	a.updateMemberGoals(env)
	env.count(telemetry.Sheltering, len(a.travelers()))
	return true
}

func (a *Agent) groupFindShelter(env *Env) {
	if !(a.NeedReroute || a.OnDetour || a.HaveDetour) {
		return
	}
	if a.NeedReroute && !a.HaveDetour {
		a.routeShelter(env)
	}
	if a.HaveDetour && !a.OnDetour {
		a.goToDetour(env)
	}
	if a.OnDetour {
		a.groupDetour(env)
	}
	if a.Goal != GoalFindShelter {
		a.updateMemberGoals(env)
	}
	a.updateLocations(env, a.travelers())
}

// routeShelter plans the group from the nearest safe node to a temporary
// location; the safe node itself serves if nothing else is reachable.
func (a *Agent) routeShelter(env *Env) {
	a.ReachedDest = true
	start := a.findSafeNearestNode(env, 0.02)
	if start == nil {
		return
	}
	a.StartNode = start
	a.SetGoalPoint(start.Coord)

	target := a.findTempLocationNode(env)
	if target == nil {
		target = start
	}
	if !a.planDetour(env.Graph, start, target) {
		a.nudge(env, 0.0005)
	}
}

func (a *Agent) groupDetour(env *Env) {
	g := env.Graph
	if a.At(a.EndNode) {
		a.endDetour()
		a.LeaveNetwork(g, a.occ())
		a.Goal = GoalShelter
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
