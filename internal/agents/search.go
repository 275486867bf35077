package agents

import (
	"log/slog"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/disaster-abm/internal/blast"
	"github.com/talgya/disaster-abm/internal/telemetry"
	"github.com/talgya/disaster-abm/internal/world"
)

// safeSearchLoops caps the widening search for a safe node.
const safeSearchLoops = 20

// tempSearchRadius is how far around the agent temporary locations are drawn from.
const tempSearchRadius = 0.01

func distance(a, b orb.Point) float64 { return planar.Distance(a, b) }

// findSafeNearestNode returns the nearest node outside the damage radius.
// On failure the agent falls back to fleeing in a random dry direction and
// nil is returned.
func (a *Agent) findSafeNearestNode(env *Env, radius float64) *world.Node {
	ev := env.Event
	safe := func(n *world.Node) bool { return ev.Safe(n.Coord) }
	if n, ok := env.Graph.FindNearestMatching(a.Coord, radius, safe, safeSearchLoops); ok {
		return n
	}

	a.Goal = GoalFlee
	a.NeedReroute = false
	a.SetCoord(a.findRandCoord(env, a.Coord, world.KmToDeg(a.MoveRate)))
	env.count(telemetry.NoSafeNode, 1)
	slog.Debug("no safe node", "agent", a.ID, "tick", env.Tick)
	return nil
}

// findTempLocationNode picks a random reachable node near the agent that is
// both outside the damage radius and farther from the epicenter than the
// agent is.
func (a *Agent) findTempLocationNode(env *Env) *world.Node {
	ev := env.Event
	own := ev.Distance(a.Coord)
	limit := ev.Z3 + blast.SafetyMargin

	var cands []*world.Node
	for _, n := range env.Graph.NodesWithin(a.Coord, tempSearchRadius) {
		if distance(n.Coord, a.Coord) < 0.0001 {
			continue
		}
		d := ev.Distance(n.Coord)
		if d <= limit || d <= own {
			continue
		}
		cands = append(cands, n)
	}

	for len(cands) > 0 {
		i := env.Rng.Intn(len(cands))
		n := cands[i]
		if a.StartNode != nil {
			if _, ok := env.Graph.FindPath(a.StartNode, n); ok {
				return n
			}
		}
		cands = slices.Delete(cands, i, i+1)
	}
	return nil
}

// probes returns the four compass neighbors of p at distance step, in the
// order north, south, east, west.
func probes(p orb.Point, step float64) [4]orb.Point {
	return [4]orb.Point{
		{p[0], p[1] + step},
		{p[0], p[1] - step},
		{p[0] + step, p[1]},
		{p[0] - step, p[1]},
	}
}

// farthestDry returns the index of the dry probe farthest from the epicenter,
// or -1 if every probe is wet.
func farthestDry(env *Env, ps [4]orb.Point) int {
	best, bestD := -1, -1.0
	for i, q := range ps {
		if env.Water.Covers(q) {
			continue
		}
		if d := env.Event.Distance(q); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

// findRandCoord picks a random dry compass step from p, biased toward the
// step that leads farthest from the epicenter. Returns p if all are wet.
func (a *Agent) findRandCoord(env *Env, p orb.Point, step float64) orb.Point {
	ps := probes(p, step)
	far := farthestDry(env, ps)
	if far < 0 {
		return p
	}

	var w [4]float64
	total := 0.0
	for i, q := range ps {
		switch {
		case i == far:
			w[i] = 0.7
		case !env.Water.Covers(q):
			w[i] = 0.5
		}
		total += w[i]
	}

	r := env.Rng.Float64() * total
	for i := range ps {
		if r < w[i] {
			return ps[i]
		}
		r -= w[i]
	}
	return ps[far]
}

// findAltCoord returns the dry compass step from p that leads farthest from
// the epicenter, or p if every step is wet.
func (a *Agent) findAltCoord(env *Env, p orb.Point, step float64) orb.Point {
	ps := probes(p, step)
	if i := farthestDry(env, ps); i >= 0 {
		return ps[i]
	}
	return p
}

// setAltGoalPoint moves the fleeing goal to the dry point ten steps from p
// that leads farthest from the epicenter. The goal is unchanged if all are wet.
func (a *Agent) setAltGoalPoint(env *Env, p orb.Point, step float64) {
	ps := probes(p, step*10)
	if i := farthestDry(env, ps); i >= 0 {
		a.SetGoalPoint(ps[i])
	}
}

// nudge moves the agent dist degrees straight away from the epicenter so a
// later search starts from a different spot.
func (a *Agent) nudge(env *Env, dist float64) {
	gz := env.Event.Epicenter
	if a.Coord.Equal(gz) {
		a.SetCoord(orb.Point{a.Coord[0] + dist, a.Coord[1] + dist})
		return
	}
	a.SetCoord(stepToward(a.Coord, gz, -dist))
}
