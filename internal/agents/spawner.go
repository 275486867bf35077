// Agent spawning: builds the initial population in households, with ages,
// home and work nodes, commute schedules, stay-at-home adults and first
// responders.
package agents

import (
	"math/rand"

	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// MaxHousehold caps the number of people sharing a home node.
const MaxHousehold = 12

// Adult is the minimum age of a driver or a first responder.
const Adult = 18

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Population     int
	ResponderShare float64 // Share of commuting adults who are first responders
	StayHomeShare  float64 // Share of adults whose work is their home
	CommuteStart   int     // hhmm
	CommuteEnd     int     // hhmm
	CommuteJitter  int     // +/- minutes around the commute times
}

// SpawnConfigFrom pulls the population settings out of the run parameters.
func SpawnConfigFrom(p config.Params) SpawnConfig {
	return SpawnConfig{
		Population:     p.Population,
		ResponderShare: p.ResponderShare,
		StayHomeShare:  p.StayHomeShare,
		CommuteStart:   p.CommuteStart,
		CommuteEnd:     p.CommuteEnd,
		CommuteJitter:  p.CommuteJitter,
	}
}

// Spawner creates individuals for the simulation.
type Spawner struct {
	rng      *rand.Rand
	reg      *Registry
	counters telemetry.Sink
}

// NewSpawner creates a spawner with the given seed that registers agents in reg.
func NewSpawner(seed int64, reg *Registry, counters telemetry.Sink) *Spawner {
	if counters == nil {
		counters = telemetry.Discard
	}
	return &Spawner{
		rng:      rand.New(rand.NewSource(seed + 300)),
		reg:      reg,
		counters: counters,
	}
}

// SpawnPopulation fills the road network with households until the
// population target is met. Agents with no route between home and work are
// dropped and counted as bad agents.
func (s *Spawner) SpawnPopulation(g *world.Graph, cfg SpawnConfig) []*Agent {
	nodes := g.Nodes()
	if len(nodes) < 2 || cfg.Population <= 0 {
		return nil
	}

	out := make([]*Agent, 0, cfg.Population)
	budget := 4 * cfg.Population
	for len(out) < cfg.Population && budget > 0 {
		home := nodes[s.rng.Intn(len(nodes))]
		size := min(s.householdSize(), cfg.Population-len(out))

		var household []*Agent
		for i := 0; i < size && budget > 0; i++ {
			budget--
			a, ok := s.spawnOne(g, nodes, home, cfg, i == 0)
			if !ok {
				s.counters.Increment(telemetry.BadAgent, 1)
				continue
			}
			household = append(household, a)
		}
		linkHousehold(household)
		for _, a := range household {
			s.reg.Add(a)
			s.counters.Increment(telemetry.AtHome, 1)
			if a.Indv.StayAtHome {
				s.counters.Increment(telemetry.StayAtHome, 1)
			}
		}
		out = append(out, household...)
	}
	return out
}

func (s *Spawner) spawnOne(g *world.Graph, nodes []*world.Node, home *world.Node, cfg SpawnConfig, head bool) (*Agent, bool) {
	sex := SexMale
	if s.rng.Float32() < 0.5 {
		sex = SexFemale
	}
	age := s.weightedAge()
	if head && age < Adult {
		age = Adult + s.rng.Intn(40)
	}

	p := &Individual{
		Age:          age,
		Sex:          sex,
		Home:         home,
		CommuteStart: s.jitter(cfg.CommuteStart, cfg.CommuteJitter),
		CommuteEnd:   s.jitter(cfg.CommuteEnd, cfg.CommuteJitter),
		AtHome:       true,
	}

	switch {
	case age < 5:
		// Daycare near home.
		p.School = true
		p.Work = s.nearby(g, home, 0.01)
	case age < Adult:
		p.School = true
		p.Work = s.nearby(g, home, 0.02)
	case s.rng.Float64() < cfg.StayHomeShare:
		p.Work = home
	default:
		p.Work = nodes[s.rng.Intn(len(nodes))]
		p.FirstResponder = s.rng.Float64() < cfg.ResponderShare
	}

	if p.Work.ID == home.ID {
		p.StayAtHome = true
		return NewIndividual(s.reg.NextID(), home.Coord, p), true
	}
	path, ok := g.FindPath(home, p.Work)
	if !ok {
		return nil, false
	}
	a := NewIndividual(s.reg.NextID(), home.Coord, p)
	p.CommutePath = path
	a.SetPath(path)
	a.PathDir = 1
	if !a.BeginPath(g, a.occ()) {
		a.LeaveNetwork(g, a.occ())
		return nil, false
	}
	return a, true
}

// householdSize is mostly one to four people, occasionally more.
func (s *Spawner) householdSize() int {
	switch r := s.rng.Float64(); {
	case r < 0.28:
		return 1
	case r < 0.62:
		return 2
	case r < 0.78:
		return 3
	case r < 0.92:
		return 4
	default:
		return 5 + s.rng.Intn(MaxHousehold-4)
	}
}

func (s *Spawner) weightedAge() int {
	// Bell curve centered around 38, range 0–90.
	age := 38.0 + s.rng.NormFloat64()*20.0
	if age < 0 {
		age = 0
	}
	if age > 90 {
		age = 90
	}
	return int(age)
}

// jitter shifts an hhmm time by up to +/- spread minutes.
func (s *Spawner) jitter(hhmm, spread int) int {
	if spread <= 0 {
		return hhmm
	}
	return world.AddMinutes(hhmm, s.rng.Intn(2*spread+1)-spread)
}

// nearby picks a random node within dist of home, or home if there is none.
func (s *Spawner) nearby(g *world.Graph, home *world.Node, dist float64) *world.Node {
	var cands []*world.Node
	for _, n := range g.NodesWithin(home.Coord, dist) {
		if n.ID != home.ID {
			cands = append(cands, n)
		}
	}
	if len(cands) == 0 {
		return home
	}
	return cands[s.rng.Intn(len(cands))]
}

func linkHousehold(members []*Agent) {
	for _, a := range members {
		for _, o := range members {
			if o != a {
				a.Indv.Household = append(a.Indv.Household, o.ID)
			}
		}
	}
}
