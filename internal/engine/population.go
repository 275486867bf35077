// Carpool formation: every daycare child needs an adult from its household
// to drive it, either in an existing household carpool or a new one.
package engine

import (
	"log/slog"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// DaycareAge is the age below which a child is driven to daycare.
const DaycareAge = 5

// FormCarpools builds the household carpools before the first tick and
// returns how many were created.
func FormCarpools(reg *agents.Registry, g *world.Graph, counters telemetry.Sink) int {
	if counters == nil {
		counters = telemetry.Discard
	}
	seen := make(map[agents.AgentID]bool)
	formed, noDriver, bad := 0, 0, 0

	for _, a := range reg.Individuals() {
		if seen[a.ID] {
			continue
		}
		household := []*agents.Agent{a}
		for _, id := range a.Indv.Household {
			if m, ok := reg.Get(id); ok {
				household = append(household, m)
			}
		}
		for _, m := range household {
			seen[m.ID] = true
		}

		for _, child := range household {
			cp := child.Indv
			if cp.Age >= DaycareAge || !cp.School || cp.InGroup || cp.StayAtHome {
				continue
			}
			switch carpool, driver := findDriver(reg, household); {
			case carpool != nil:
				if !carpool.AddRider(g, child) {
					bad++
					counters.Increment(telemetry.BadAgent, 1)
					continue
				}
				child.LeaveNetwork(g, uint64(child.ID))
			case driver != nil:
				group, ok := agents.NewCarpool(reg.NextID(), g, driver, child)
				if !ok {
					bad++
					counters.Increment(telemetry.BadAgent, 1)
					continue
				}
				driver.LeaveNetwork(g, uint64(driver.ID))
				child.LeaveNetwork(g, uint64(child.ID))
				reg.Add(group)
				formed++
				counters.Increment(telemetry.CarpoolGroups, 1)
			default:
				noDriver++
				counters.Increment(telemetry.NoDrivers, 1)
			}
		}
	}

	slog.Info("carpools formed", "groups", formed, "no_driver", noDriver, "bad", bad)
	return formed
}

// findDriver returns the household's existing carpool, or else the adult who
// should start one: a stay-at-home adult first, then any commuting adult
// who does not go to school.
func findDriver(reg *agents.Registry, household []*agents.Agent) (carpool, driver *agents.Agent) {
	for _, m := range household {
		if m.Indv.Leader && m.Indv.InGroup {
			if g, ok := reg.Get(m.Indv.GroupID); ok && g.Grp.Type == agents.GroupCarpool && !g.Grp.Defunct {
				return g, nil
			}
		}
	}
	for _, m := range household {
		if p := m.Indv; p.Age >= agents.Adult && p.StayAtHome && !p.InGroup {
			return nil, m
		}
	}
	for _, m := range household {
		if p := m.Indv; p.Age >= agents.Adult && !p.School && !p.InGroup {
			return nil, m
		}
	}
	return nil, nil
}
