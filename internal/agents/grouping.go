package agents

import (
	"log/slog"

	"github.com/talgya/disaster-abm/internal/telemetry"
)

// JoinRadius is how close, in degrees, an individual must be to a group or
// another individual to team up with it.
const JoinRadius = 0.001

// joinGroup puts an ungrouped individual into a nearby emergent group with
// the same goal, or forms a new group with a nearby individual. Reports
// whether the agent is now in a group. Members of a carpool they are not
// riding in stay out of emergent groups.
func (a *Agent) joinGroup(env *Env) bool {
	if a.Indv.InGroup {
		return false
	}
	for _, g := range env.Registry.LiveGroups() {
		grp := g.Grp
		if grp.Defunct || grp.Type != GroupEmergent || grp.Full || g.Goal != a.Goal {
			continue
		}
		if distance(g.Coord, a.Coord) > JoinRadius {
			continue
		}
		a.LeaveNetwork(env.Graph, a.occ())
		g.addMember(env, a)
		a.SetCoord(g.Coord)
		return true
	}
	return a.makeGroup(env)
}

// makeGroup forms a new emergent group with the first nearby ungrouped
// individual that shares the agent's goal. The new group starts stepping on
// the next tick.
func (a *Agent) makeGroup(env *Env) bool {
	for _, o := range env.Registry.Scheduled() {
		if o == a || o.Kind != KindIndividual || o.Goal != a.Goal {
			continue
		}
		op := o.Indv
		if op.Dead || op.InGroup || op.FirstResponder {
			continue
		}
		if distance(o.Coord, a.Coord) > JoinRadius {
			continue
		}
		NewEmergentGroup(env, o, a)
		return true
	}
	return false
}

// NewEmergentGroup creates a group led by leader with follower as its second
// member and schedules it for the next tick.
func NewEmergentGroup(env *Env, leader, follower *Agent) *Agent {
	g := &Agent{
		ID:    env.Registry.NextID(),
		Kind:  KindGroup,
		Mover: newMover(leader.Coord),
		Goal:  follower.Goal,
		Grp:   &Group{Type: GroupEmergent, Leader: leader.ID},
	}
	if leader.HasGoal {
		g.SetGoalPoint(leader.GoalPoint)
	} else if follower.HasGoal {
		g.SetGoalPoint(follower.GoalPoint)
	}
	g.NeedReroute = leader.NeedReroute || follower.NeedReroute

	leader.LeaveNetwork(env.Graph, leader.occ())
	follower.LeaveNetwork(env.Graph, follower.occ())
	g.addMember(env, leader)
	g.addMember(env, follower)
	leader.Indv.Leader = true
	follower.SetCoord(leader.Coord)
	g.updateHealth(env)

	env.Registry.Schedule(g)
	env.count(telemetry.EmergentGroups, 1)
	slog.Debug("emergent group formed", "group", g.ID, "leader", leader.ID, "follower", follower.ID, "tick", env.Tick)
	return g
}
