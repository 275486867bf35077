// Package agents provides the agent data model and the individual and group
// behavior state machines that drive movement before and after the event.
package agents

import (
	"fmt"

	"github.com/paulmach/orb"
)

// AgentID is a unique identifier for an individual or a group.
type AgentID uint64

// Kind tags which variant an Agent carries.
type Kind uint8

const (
	KindIndividual Kind = iota
	KindGroup
)

// Sex represents biological sex for demographic bookkeeping.
type Sex uint8

const (
	SexMale   Sex = 0
	SexFemale Sex = 1
)

// Goal is what an agent is currently trying to do.
type Goal uint8

const (
	GoalCommute     Goal = iota
	GoalFlee             // On foot away from the epicenter
	GoalFindShelter      // Back on the road network, looking for a place to stay
	GoalShelter          // Staying put
	GoalRouteHome
	GoalDetour
)

var goalNames = [...]string{"commute", "flee", "findshelter", "shelter", "routehome", "detour"}

func (g Goal) String() string {
	if int(g) < len(goalNames) {
		return goalNames[g]
	}
	return fmt.Sprintf("Goal(%d)", g)
}

// Flag is a behavior marker kept apart from the severity scale.
type Flag uint8

const (
	FlagNone Flag = iota
	FlagBlocked
	FlagRerouting
	FlagDetouring
	FlagRespondingAiding
	FlagRespondingAvailable
)

// flagCodes are the legacy status values the renderer colors by.
var flagCodes = [...]int{0, 72, 80, 89, 98, 99}

// Code returns the legacy combined status value, 0 for FlagNone.
func (f Flag) Code() int {
	if int(f) < len(flagCodes) {
		return flagCodes[f]
	}
	return 0
}

// Responding reports whether the flag belongs to an active first responder.
func (f Flag) Responding() bool {
	return f == FlagRespondingAiding || f == FlagRespondingAvailable
}

// GroupType distinguishes pre-formed carpools from ad hoc groups.
type GroupType uint8

const (
	GroupCarpool GroupType = iota
	GroupEmergent
)

func (t GroupType) String() string {
	if t == GroupEmergent {
		return "emergent"
	}
	return "carpool"
}

// VictimStatus tracks first-responder care.
type VictimStatus uint8

const (
	VictimNone        VictimStatus = iota
	VictimInTreatment              // A responder is with them
	VictimReleased                 // Treated and released
)

// Severity bounds.
const (
	SeverityHealthy  = 0
	SeverityImmobile = 9 // Fatally hurt, cannot move
	SeverityDead     = 10
)

// Agent is the tagged variant shared by individuals and groups. Exactly one
// of Indv and Grp is set, matching Kind.
type Agent struct {
	ID   AgentID
	Kind Kind
	Mover

	Goal      Goal
	GoalPoint orb.Point // On-foot target coordinate
	HasGoal   bool      // GoalPoint is set
	Severity  int       // 0 healthy … 10 dead
	Flag      Flag

	Indv *Individual
	Grp  *Group
}

// NewIndividual wraps p in a healthy, commuting agent standing at coord.
func NewIndividual(id AgentID, coord orb.Point, p *Individual) *Agent {
	return &Agent{
		ID:    id,
		Kind:  KindIndividual,
		Mover: newMover(coord),
		Goal:  GoalCommute,
		Indv:  p,
	}
}

// HealthStatus returns the legacy combined status: the flag code if a flag
// is set, otherwise the severity.
func (a *Agent) HealthStatus() int {
	if a.Flag != FlagNone {
		return a.Flag.Code()
	}
	return a.Severity
}

// Alive reports whether the agent still takes part in the run.
func (a *Agent) Alive() bool {
	switch a.Kind {
	case KindIndividual:
		return !a.Indv.Dead
	case KindGroup:
		return !a.Grp.Defunct
	}
	return false
}

// Routine reports whether the agent still follows its daily schedule.
func (a *Agent) Routine() bool {
	if a.Severity > 1 {
		return false
	}
	switch a.Flag {
	case FlagNone, FlagRerouting, FlagDetouring:
		return true
	}
	return false
}

// SetGoalPoint sets the on-foot target.
func (a *Agent) SetGoalPoint(p orb.Point) {
	a.GoalPoint = p
	a.HasGoal = true
}

// Step advances the agent by one tick.
func (a *Agent) Step(env *Env) {
	switch a.Kind {
	case KindIndividual:
		a.stepIndividual(env)
	case KindGroup:
		a.stepGroup(env)
	}
}

// Position is what the renderer consumes per agent per tick.
type Position struct {
	ID     AgentID   `json:"id"`
	Kind   string    `json:"kind"`
	Coord  orb.Point `json:"coord"`
	Status int       `json:"status"`
}

// Position snapshots the agent for the renderer.
func (a *Agent) Position() Position {
	kind := "individual"
	if a.Kind == KindGroup {
		kind = "group"
	}
	return Position{ID: a.ID, Kind: kind, Coord: a.Coord, Status: a.HealthStatus()}
}
