package persistence

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/config"
	"github.com/talgya/disaster-abm/internal/engine"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

func testSim(t *testing.T) *engine.Simulation {
	t.Helper()
	g := world.NewGraph()
	a := g.AddNode(orb.Point{0.05, 0.05})
	b := g.AddNode(orb.Point{0.051, 0.05})
	if _, err := g.AddRoad(a.ID, b.ID, world.RoadResidential, 40, true); err != nil {
		t.Fatalf("AddRoad: %v", err)
	}
	g.RebuildIndex()
	city := &world.City{Graph: g, Water: world.NewWater()}

	reg := agents.NewRegistry()
	var people []*agents.Agent
	for i := 0; i < 3; i++ {
		p := agents.NewIndividual(reg.NextID(), a.Coord, &agents.Individual{Age: 20 + i, Home: a, Work: a, StayAtHome: true})
		people = append(people, p)
		reg.Add(p)
	}
	people[0].Indv.Household = []agents.AgentID{people[1].ID}
	people[1].Indv.Household = []agents.AgentID{people[0].ID}
	people[1].Indv.Network = []agents.AgentID{people[2].ID}
	people[2].Indv.Network = []agents.AgentID{people[1].ID}

	tally := telemetry.NewTally()
	tally.Increment(telemetry.AtHome, 3)
	sim := engine.NewSimulation(config.Default(), city, reg, tally)
	sim.EmitEvent(engine.Event{Tick: 1, Description: "test", Category: "disaster"})
	return sim
}

func TestSaveRun(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sim := testSim(t)
	id, err := db.SaveRun(sim)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	last, err := db.GetMeta("last_run")
	if err != nil || last != id {
		t.Errorf("last_run = %q, %v; want %q", last, err, id)
	}

	run, err := db.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Population != 3 || run.Seed != sim.Params.Seed {
		t.Errorf("run = %+v", run)
	}

	rows, err := db.Agents(id)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(rows) != 3 || rows[0].Age != 20 || rows[0].Dead || rows[0].Goal != "commute" {
		t.Errorf("agents = %+v", rows)
	}

	hh, err := db.Edges(id, NetworkHousehold)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(hh) != 1 || hh[0].From != 1 || hh[0].To != 2 {
		t.Errorf("household edges = %+v", hh)
	}
	em, err := db.Edges(id, NetworkEmergent)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(em) != 1 || em[0].From != 2 || em[0].To != 3 {
		t.Errorf("emergent edges = %+v", em)
	}

	counters, err := db.Counters(id)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if counters[telemetry.AtHome] != 3 {
		t.Errorf("counters = %v", counters)
	}

	events, err := db.RecentEvents(id, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].Description != "test" {
		t.Errorf("events = %+v", events)
	}
}

func TestSaveRunTwice(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sim := testSim(t)
	first, err := db.SaveRun(sim)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	second, err := db.SaveRun(sim)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if first == second {
		t.Error("runs share an id")
	}
	rows, err := db.Agents(first)
	if err != nil || len(rows) != 3 {
		t.Errorf("first run agents = %d, %v", len(rows), err)
	}
}
