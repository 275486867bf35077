package agents

import (
	"math/rand"
	"slices"

	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// Registry owns every agent by id and the order they are stepped in.
// Agents scheduled during a tick wait in a pending list until Promote.
type Registry struct {
	byID      map[AgentID]*Agent
	scheduled []*Agent
	pending   []*Agent
	groups    []*Agent // live groups, scheduled or pending
	nextID    AgentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[AgentID]*Agent), nextID: 1}
}

// NextID issues a fresh agent id.
func (r *Registry) NextID() AgentID {
	id := r.nextID
	r.nextID++
	return id
}

// Add registers an agent and schedules it immediately. Used while building
// the population, before the first tick.
func (r *Registry) Add(a *Agent) {
	r.byID[a.ID] = a
	r.scheduled = append(r.scheduled, a)
	r.trackGroup(a)
}

func (r *Registry) trackGroup(a *Agent) {
	if a.Kind == KindGroup {
		r.groups = append(r.groups, a)
	}
}

// Register makes an agent addressable without scheduling it.
func (r *Registry) Register(a *Agent) {
	r.byID[a.ID] = a
}

// Schedule registers an agent that starts stepping on the next tick.
func (r *Registry) Schedule(a *Agent) {
	r.byID[a.ID] = a
	r.pending = append(r.pending, a)
	r.trackGroup(a)
}

// Promote moves pending agents into the schedule and drops defunct groups.
// Returns the number promoted.
func (r *Registry) Promote() int {
	n := len(r.pending)
	r.scheduled = append(r.scheduled, r.pending...)
	r.pending = r.pending[:0]

	live := r.scheduled[:0]
	for _, a := range r.scheduled {
		if a.Kind == KindGroup && a.Grp.Defunct {
			continue
		}
		live = append(live, a)
	}
	clear(r.scheduled[len(live):])
	r.scheduled = live

	r.groups = slices.DeleteFunc(r.groups, func(a *Agent) bool { return a.Grp.Defunct })
	return n
}

// LiveGroups returns the groups that are not defunct, including those
// waiting for the next tick. The slice is shared; callers must not modify it.
func (r *Registry) LiveGroups() []*Agent { return r.groups }

// Pending returns the number of agents waiting for the next tick.
func (r *Registry) Pending() int { return len(r.pending) }

// Get returns an agent by id.
func (r *Registry) Get(id AgentID) (*Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Scheduled returns the agents stepped this tick, in registration order.
// The slice is shared; callers must not modify it.
func (r *Registry) Scheduled() []*Agent { return r.scheduled }

// Individuals returns every individual in id order.
func (r *Registry) Individuals() []*Agent {
	return r.filter(KindIndividual)
}

// Groups returns every group, defunct or not, in id order.
func (r *Registry) Groups() []*Agent {
	return r.filter(KindGroup)
}

func (r *Registry) filter(k Kind) []*Agent {
	out := make([]*Agent, 0, len(r.byID))
	for id := AgentID(1); id < r.nextID; id++ {
		if a, ok := r.byID[id]; ok && a.Kind == k {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.byID) }

// Env is everything an agent step reads or mutates outside itself.
type Env struct {
	Graph    *world.Graph
	Water    *world.Water
	Event    blast.Event
	Params   config.Params
	Rng      *rand.Rand
	Counters telemetry.Sink
	Registry *Registry
	Tick     uint64

	// OnOff are the nodes just outside z3 where responders leave and join
	// the road network. Filled at detonation.
	OnOff []*world.Node
}

// Detonated reports whether the event has happened.
func (env *Env) Detonated() bool {
	return env.Tick >= env.Event.Tick
}

func (env *Env) count(name string, delta int) {
	if env.Counters != nil {
		env.Counters.Increment(name, delta)
	}
}
