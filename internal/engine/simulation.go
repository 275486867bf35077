// Simulation ties together the road network, the population and the
// disaster, and runs them each tick.
package engine

import (
	"log/slog"
	"math/rand"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// MaxEvents bounds the in-memory event log.
const MaxEvents = 1000

// Simulation holds the complete run state and wires systems together.
type Simulation struct {
	Params   config.Params
	City     *world.City
	Registry *agents.Registry
	Env      *agents.Env
	Disaster *DisasterEngine
	Counters *telemetry.Tally
	LastTick uint64 // Most recent tick processed

	// Emergent ties captured at the export tick.
	Network []Edge

	mu       sync.Mutex // guards stepping against interventions
	pub      sync.RWMutex
	snapshot Snapshot
	events   []Event
	stats    SimStats
}

// Event is a notable occurrence in the run.
type Event struct {
	Tick        uint64         `json:"tick"`
	Description string         `json:"description"`
	Category    string         `json:"category"` // "disaster", "group", "intervention"
	Meta        map[string]any `json:"meta,omitempty"`
}

// Edge is one tie in an exported social network.
type Edge struct {
	From agents.AgentID `json:"from"`
	To   agents.AgentID `json:"to"`
}

// SimStats tracks aggregate run statistics.
type SimStats struct {
	Population int `json:"population"`
	Alive      int `json:"alive"`
	Dead       int `json:"dead"`
	Fleeing    int `json:"fleeing"`
	Sheltering int `json:"sheltering"`
	Homeless   int `json:"homeless"`
	Carpools   int `json:"carpools"`
	Emergent   int `json:"emergent_groups"`
	Nodes      int `json:"nodes"`
}

// Snapshot is what the feed serves between ticks.
type Snapshot struct {
	Tick      uint64            `json:"tick"`
	Time      string            `json:"time"`
	Detonated bool              `json:"detonated"`
	EventTick uint64            `json:"event_tick"`
	Epicenter orb.Point         `json:"epicenter"`
	Stats     SimStats          `json:"stats"`
	Damage    DamageReport      `json:"damage"`
	Counters  map[string]int    `json:"counters"`
	Positions []agents.Position `json:"positions"`
}

// EventFromParams builds the disaster event the parameters describe.
func EventFromParams(p config.Params) blast.Event {
	return blast.Event{
		Tick:      p.DetonationTick,
		Epicenter: orb.Point{p.GroundZeroLon, p.GroundZeroLat},
		Z1:        p.Z1(),
		Z2:        p.Z2(),
		Z3:        p.Z3(),
	}
}

// NewSimulation creates a Simulation over a built city and population.
func NewSimulation(p config.Params, city *world.City, reg *agents.Registry, counters *telemetry.Tally) *Simulation {
	if counters == nil {
		counters = telemetry.NewTally()
	}
	ev := EventFromParams(p)
	env := &agents.Env{
		Graph:    city.Graph,
		Water:    city.Water,
		Event:    ev,
		Params:   p,
		Rng:      rand.New(rand.NewSource(p.Seed)),
		Counters: counters,
		Registry: reg,
	}
	sim := &Simulation{
		Params:   p,
		City:     city,
		Registry: reg,
		Env:      env,
		Disaster: NewDisasterEngine(ev),
		Counters: counters,
	}
	sim.Publish()
	return sim
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.pub.RLock()
	defer s.pub.RUnlock()
	return s.snapshot.Tick
}

// TickMinute runs every tick: pending groups join, the disaster applies,
// then every live agent steps once in registration order.
func (s *Simulation) TickMinute(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Env.Tick = tick
	s.Registry.Promote()

	fired := s.Disaster.Fired
	s.Disaster.Step(s.Env)
	if !fired && s.Disaster.Fired {
		r := s.Disaster.Report
		s.EmitEvent(Event{
			Tick:        tick,
			Description: "detonation",
			Category:    "disaster",
			Meta: map[string]any{
				"killed":        r.Killed,
				"zone2":         r.Zone2,
				"zone3":         r.Zone3,
				"removed_nodes": r.RemovedNodes,
			},
		})
	}

	for _, a := range s.Registry.Scheduled() {
		if a.Alive() {
			a.Step(s.Env)
		}
	}
	s.LastTick = tick

	if tick == s.Params.ExportNetworkAt {
		s.Network = EmergentNetwork(s.Registry)
		slog.Info("emergent network captured", "tick", tick, "edges", len(s.Network))
	}
}

// TickHour publishes a snapshot.
func (s *Simulation) TickHour(tick uint64) {
	s.Publish()
}

// TickDay logs the daily report.
func (s *Simulation) TickDay(tick uint64) {
	s.mu.Lock()
	s.updateStats()
	st := s.stats
	s.mu.Unlock()

	slog.Info("daily report",
		"tick", tick,
		"time", SimTime(tick),
		"alive", humanize.Comma(int64(st.Alive)),
		"dead", humanize.Comma(int64(st.Dead)),
		"fleeing", st.Fleeing,
		"sheltering", st.Sheltering,
		"homeless", st.Homeless,
		"carpools", st.Carpools,
		"emergent_groups", st.Emergent,
		"nodes", st.Nodes,
	)
}

// Publish refreshes the statistics and copies the current state into the
// snapshot the feed reads.
func (s *Simulation) Publish() {
	s.mu.Lock()
	s.updateStats()
	snap := Snapshot{
		Tick:      s.LastTick,
		Time:      SimTime(s.LastTick),
		Detonated: s.Disaster.Fired,
		EventTick: s.Disaster.Event.Tick,
		Epicenter: s.Disaster.Event.Epicenter,
		Stats:     s.stats,
		Damage:    s.Disaster.Report,
		Counters:  s.Counters.Snapshot(),
		Positions: s.Positions(),
	}
	s.mu.Unlock()

	s.pub.Lock()
	s.snapshot = snap
	s.pub.Unlock()
}

// Snapshot returns the last published snapshot.
func (s *Simulation) Snapshot() Snapshot {
	s.pub.RLock()
	defer s.pub.RUnlock()
	return s.snapshot
}

// Positions returns every individual and every live group as the renderer
// sees them.
func (s *Simulation) Positions() []agents.Position {
	out := make([]agents.Position, 0, s.Registry.Len())
	for _, a := range s.Registry.Individuals() {
		out = append(out, a.Position())
	}
	for _, g := range s.Registry.LiveGroups() {
		if !g.Grp.Defunct {
			out = append(out, g.Position())
		}
	}
	return out
}

// EmitEvent appends to the event log, dropping the oldest past MaxEvents.
func (s *Simulation) EmitEvent(e Event) {
	s.pub.Lock()
	defer s.pub.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > MaxEvents {
		s.events = s.events[len(s.events)-MaxEvents:]
	}
}

// Events returns up to n of the most recent events, newest last.
func (s *Simulation) Events(n int) []Event {
	s.pub.RLock()
	defer s.pub.RUnlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	return append([]Event(nil), s.events[len(s.events)-n:]...)
}

// Locked runs fn between ticks, with stepping held off until it returns.
func (s *Simulation) Locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Stats returns the statistics as of the last refresh.
func (s *Simulation) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Simulation) updateStats() {
	var st SimStats
	for _, a := range s.Registry.Individuals() {
		st.Population++
		p := a.Indv
		if p.Dead {
			st.Dead++
			continue
		}
		st.Alive++
		switch a.Goal {
		case agents.GoalFlee:
			st.Fleeing++
		case agents.GoalShelter:
			st.Sheltering++
		}
		if p.Homeless {
			st.Homeless++
		}
	}
	for _, g := range s.Registry.LiveGroups() {
		if g.Grp.Defunct {
			continue
		}
		if g.Grp.Type == agents.GroupCarpool {
			st.Carpools++
		} else {
			st.Emergent++
		}
	}
	st.Nodes = s.City.Graph.NodeCount()
	s.stats = st
}

// HouseholdNetwork returns every household tie once, lower id first.
func HouseholdNetwork(reg *agents.Registry) []Edge {
	var out []Edge
	for _, a := range reg.Individuals() {
		for _, id := range a.Indv.Household {
			if a.ID < id {
				out = append(out, Edge{From: a.ID, To: id})
			}
		}
	}
	return out
}

// EmergentNetwork returns every current emergent tie once, lower id first.
func EmergentNetwork(reg *agents.Registry) []Edge {
	var out []Edge
	for _, a := range reg.Individuals() {
		for _, id := range a.Indv.Network {
			if a.ID < id {
				out = append(out, Edge{From: a.ID, To: id})
			}
		}
	}
	return out
}
