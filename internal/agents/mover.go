package agents

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/disaster-abm/internal/world"
)

// TravelResult reports what one Travel call did.
type TravelResult uint8

const (
	Moved   TravelResult = iota // Advanced along the path
	Arrived                     // Ran off the end of the path and snapped to its endpoint
	Stuck                       // Hit an impassable segment; NeedReroute is set
)

// MultiPath is an ordered chain of paths through a waypoint list.
// Paths[i] runs from Waypoints[i] to Waypoints[i+1].
type MultiPath struct {
	Waypoints []*world.Node
	Paths     []world.Path
}

// Mover is the edge-traversal state shared by individuals and groups.
type Mover struct {
	Coord      orb.Point
	LastCoords [2]orb.Point
	MoveRate   float64 // km per tick

	Path      world.Path
	PathIndex int // index of the current edge on Path
	PathDir   int // +1 walks Path forward, -1 backward
	LinkDir   int // +1 walks the segment geometry forward, -1 backward

	Multi      *MultiPath
	MultiIndex int
	MultiDir   int

	Edge  *world.DirectedEdge
	Index float64 // km along the current segment geometry

	StartNode, EndNode *world.Node

	ReachedDest  bool
	ReachedFinal bool
	NeedReroute  bool
	HaveDetour   bool
	OnDetour     bool
}

func newMover(p orb.Point) Mover {
	return Mover{
		Coord:      p,
		LastCoords: [2]orb.Point{p, p},
		PathDir:    1,
		LinkDir:    1,
		MultiDir:   1,
	}
}

// SetCoord moves the agent and shifts the coordinate history.
func (m *Mover) SetCoord(p orb.Point) {
	m.LastCoords[1] = m.LastCoords[0]
	m.LastCoords[0] = m.Coord
	m.Coord = p
}

// At reports whether the agent sits exactly on n.
func (m *Mover) At(n *world.Node) bool {
	return n != nil && m.Coord.Equal(n.Coord)
}

// CongestionFactor scales movement by how crowded a segment is. It never
// exceeds 1; an empty segment or a zero length counts as free flowing.
func CongestionFactor(occupants int, lengthKm float64) float64 {
	if occupants <= 0 || lengthKm <= 0 {
		return 1
	}
	return math.Min(1, 1000*lengthKm/(float64(occupants)*5))
}

// Progress returns the signed distance moved along the current segment.
func (m *Mover) Progress(occupants int, lengthKm, rate float64) float64 {
	return rate * float64(m.LinkDir) * CongestionFactor(occupants, lengthKm)
}

// SetupEdge moves the agent's occupancy onto e and orients it from the
// endpoint nearest its current coordinate. Returns false, with NeedReroute
// set, if the segment has been destroyed.
func (m *Mover) SetupEdge(g *world.Graph, e *world.DirectedEdge, occ uint64) bool {
	if m.Edge != nil {
		g.Leave(m.Edge.Segment, occ)
	}
	seg := e.Segment
	if len(seg.Line) == 0 {
		m.Edge = nil
		m.NeedReroute = true
		return false
	}
	g.Enter(seg, occ)
	m.Edge = e

	first, last := seg.Line[0], seg.Line[len(seg.Line)-1]
	if planar.DistanceSquared(m.Coord, first) <= planar.DistanceSquared(m.Coord, last) {
		m.Index = seg.StartIndex()
		m.LinkDir = 1
	} else {
		m.Index = seg.EndIndex()
		m.LinkDir = -1
	}
	return true
}

// LeaveNetwork drops the agent's occupancy claim.
func (m *Mover) LeaveNetwork(g *world.Graph, occ uint64) {
	if m.Edge != nil {
		g.Leave(m.Edge.Segment, occ)
		m.Edge = nil
	}
}

// SetPath installs p as the current path and records its end nodes.
func (m *Mover) SetPath(p world.Path) {
	m.Path = p
	m.StartNode = p.Start()
	m.EndNode = p.End()
}

// BeginPath places the agent on the first edge of the current path in the
// direction of travel: the first edge for PathDir > 0, the last otherwise.
func (m *Mover) BeginPath(g *world.Graph, occ uint64) bool {
	if len(m.Path) == 0 {
		return false
	}
	m.ReachedDest = false
	if m.PathDir > 0 {
		m.PathIndex = 0
	} else {
		m.PathIndex = len(m.Path) - 1
	}
	if !m.SetupEdge(g, m.Path[m.PathIndex], occ) {
		return false
	}
	m.SetCoord(m.Edge.Segment.PointAt(m.Index))
	return true
}

// FlipPath reverses travel along the current path.
func (m *Mover) FlipPath() {
	m.ReachedDest = false
	m.PathDir = -m.PathDir
	m.LinkDir = -m.LinkDir
}

// Travel advances along the current path at the current segment's speed.
func (m *Mover) Travel(g *world.Graph, occ uint64) TravelResult {
	if m.Edge == nil {
		m.NeedReroute = true
		return Stuck
	}
	seg := m.Edge.Segment
	if !seg.Passable() {
		m.NeedReroute = true
		return Stuck
	}
	if m.ReachedDest {
		return Arrived
	}
	m.MoveRate = seg.SpeedKmh / 60
	return m.advance(g, occ, m.Progress(g.Occupants(seg), seg.LengthKm, m.MoveRate))
}

func (m *Mover) advance(g *world.Graph, occ uint64, step float64) TravelResult {
	seg := m.Edge.Segment
	next := m.Index + step
	switch {
	case m.LinkDir > 0 && next > seg.EndIndex():
		m.Index = seg.EndIndex()
		m.SetCoord(seg.PointAt(m.Index))
		return m.transition(g, occ, next-seg.EndIndex())
	case m.LinkDir < 0 && next < seg.StartIndex():
		m.Index = seg.StartIndex()
		m.SetCoord(seg.PointAt(m.Index))
		return m.transition(g, occ, seg.StartIndex()-next)
	}
	m.Index = next
	m.SetCoord(seg.PointAt(next))
	return Moved
}

// transition moves onto the next edge of the path, carrying the residual
// distance. Running off either end snaps to the path endpoint.
func (m *Mover) transition(g *world.Graph, occ uint64, residual float64) TravelResult {
	m.PathIndex += m.PathDir
	if m.PathIndex < 0 || m.PathIndex >= len(m.Path) {
		m.PathIndex -= m.PathDir
		m.ReachedDest = true
		m.snapToEnd()
		return Arrived
	}

	e := m.Path[m.PathIndex]
	if !e.Segment.Passable() {
		m.PathIndex -= m.PathDir
		m.NeedReroute = true
		return Stuck
	}
	if !m.SetupEdge(g, e, occ) {
		return Stuck
	}
	m.MoveRate = e.Segment.SpeedKmh / 60
	if residual <= 0 {
		m.SetCoord(e.Segment.PointAt(m.Index))
		return Moved
	}
	return m.advance(g, occ, m.Progress(g.Occupants(e.Segment), e.Segment.LengthKm, residual))
}

func (m *Mover) snapToEnd() {
	if m.Multi != nil && len(m.Multi.Paths) > 1 {
		if m.MultiIndex >= 0 && m.MultiIndex < len(m.Multi.Waypoints) {
			m.SetCoord(m.Multi.Waypoints[m.MultiIndex].Coord)
		}
		return
	}
	if m.PathDir > 0 {
		if end := m.Path.End(); end != nil {
			m.SetCoord(end.Coord)
		}
		return
	}
	if start := m.Path.Start(); start != nil {
		m.SetCoord(start.Coord)
	}
}

// MoveToCoord steps straight toward p at the current move rate, snapping
// onto p when it is within one step. Returns false if already there.
func (m *Mover) MoveToCoord(p orb.Point) bool {
	if m.Coord.Equal(p) {
		return false
	}
	step := world.KmToDeg(m.MoveRate)
	d := planar.Distance(m.Coord, p)
	if d < step {
		m.SetCoord(p)
		return true
	}
	m.SetCoord(stepToward(m.Coord, p, step))
	return true
}

// stepToward moves step degrees from a toward b.
func stepToward(a, b orb.Point, step float64) orb.Point {
	d := planar.Distance(a, b)
	if d == 0 {
		return a
	}
	return orb.Point{a[0] + step*(b[0]-a[0])/d, a[1] + step*(b[1]-a[1])/d}
}

// ── Multipath ────────────────────────────────────────────────────────

// SetMultiPath plans a leg between each pair of consecutive waypoints.
// It fails if any leg has no route.
func (m *Mover) SetMultiPath(g *world.Graph, waypoints []*world.Node) bool {
	if len(waypoints) < 2 {
		return false
	}
	mp := &MultiPath{Waypoints: waypoints}
	for i := 1; i < len(waypoints); i++ {
		leg, ok := g.FindPath(waypoints[i-1], waypoints[i])
		if !ok {
			return false
		}
		mp.Paths = append(mp.Paths, leg)
	}
	m.Multi = mp
	return true
}

// BeginMultiPath places the agent at the start of the first leg.
func (m *Mover) BeginMultiPath(g *world.Graph, occ uint64) bool {
	if m.Multi == nil || len(m.Multi.Paths) == 0 {
		return false
	}
	m.MultiDir, m.PathDir = 1, 1
	m.MultiIndex = 1
	m.ReachedFinal = false
	m.SetPath(m.Multi.Paths[0])
	return m.BeginPath(g, occ)
}

// NextPath loads the next leg in the multipath direction.
func (m *Mover) NextPath(g *world.Graph, occ uint64) bool {
	size := len(m.Multi.Paths)
	switch {
	case m.MultiDir > 0 && m.MultiIndex < size:
		m.MultiIndex++
		m.SetPath(m.Multi.Paths[m.MultiIndex-1])
	case m.MultiDir < 0 && m.MultiIndex > 0:
		m.MultiIndex--
		m.SetPath(m.Multi.Paths[m.MultiIndex])
	default:
		return false
	}
	m.PathDir = m.MultiDir
	return m.BeginPath(g, occ)
}

// AtFinalWaypoint reports whether the current leg is the last one in the
// direction of travel.
func (m *Mover) AtFinalWaypoint() bool {
	if m.Multi == nil {
		return true
	}
	if m.MultiDir > 0 {
		return m.MultiIndex >= len(m.Multi.Paths)
	}
	return m.MultiIndex <= 0
}

// TravelMultiPath travels the current leg; at the end of a leg it loads the
// next one, or marks the final destination.
func (m *Mover) TravelMultiPath(g *world.Graph, occ uint64) TravelResult {
	if !m.ReachedDest {
		return m.Travel(g, occ)
	}
	if m.AtFinalWaypoint() {
		m.ReachedFinal = true
		return Arrived
	}
	if !m.NextPath(g, occ) {
		return Stuck
	}
	return Moved
}

// FlipMultiPath reverses travel along the whole multipath and re-enters the
// current leg from the other end.
func (m *Mover) FlipMultiPath(g *world.Graph, occ uint64) bool {
	m.ReachedDest = false
	m.ReachedFinal = false
	m.MultiDir = -m.MultiDir
	m.PathDir = -m.PathDir
	m.LinkDir = -m.LinkDir
	return m.NextPath(g, occ)
}
