// Package world holds the road network, water bodies, and the synthetic
// city generator the simulation runs on.
package world

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// NodeID identifies a road intersection.
type NodeID uint64

// SegmentID identifies an undirected road segment.
type SegmentID uint64

// RoadClass drives the default speed limit of a segment.
type RoadClass uint8

const (
	RoadResidential RoadClass = iota
	RoadHighway               // Primary and secondary arterials
)

// Node is a road intersection. Nodes never move; removal only detaches them.
type Node struct {
	ID    NodeID
	Coord orb.Point // X = longitude, Y = latitude
}

// Point satisfies orb.Pointer for the spatial index.
func (n *Node) Point() orb.Point { return n.Coord }

// Segment is an undirected piece of road between two nodes.
type Segment struct {
	ID       SegmentID
	Class    RoadClass
	From, To NodeID         // Endpoints in geometry order
	Line     orb.LineString // nil once the segment is destroyed
	LengthKm float64
	SpeedKmh float64 // 0 = impassable
}

// Passable reports whether agents may enter the segment.
func (s *Segment) Passable() bool {
	return s.Line != nil && s.SpeedKmh > 0
}

// StartIndex is the length index of the first geometry point.
func (s *Segment) StartIndex() float64 { return 0 }

// EndIndex is the length index of the last geometry point.
func (s *Segment) EndIndex() float64 { return s.LengthKm }

// PointAt interpolates the geometry at a kilometer index along the line.
// Indexes outside [0, LengthKm] clamp to the endpoints.
func (s *Segment) PointAt(km float64) orb.Point {
	if len(s.Line) == 0 {
		return orb.Point{}
	}
	if km <= 0 || s.LengthKm <= 0 {
		return s.Line[0]
	}
	if km >= s.LengthKm {
		return s.Line[len(s.Line)-1]
	}
	target := KmToDeg(km)
	walked := 0.0
	for i := 1; i < len(s.Line); i++ {
		a, b := s.Line[i-1], s.Line[i]
		d := planar.Distance(a, b)
		if walked+d >= target && d > 0 {
			f := (target - walked) / d
			return orb.Point{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f}
		}
		walked += d
	}
	return s.Line[len(s.Line)-1]
}

// DirectedEdge is one traversal direction of a segment.
type DirectedEdge struct {
	Segment  *Segment
	From, To *Node
}

func (e *DirectedEdge) String() string {
	return fmt.Sprintf("%d->%d", e.From.ID, e.To.ID)
}

// Graph is the directed road network plus per-segment occupancy.
type Graph struct {
	nodes    map[NodeID]*Node
	order    []NodeID // insertion order, keeps iteration deterministic
	segments map[SegmentID]*Segment
	out      map[NodeID][]*DirectedEdge
	in       map[NodeID][]*DirectedEdge

	occupancy map[SegmentID]map[uint64]struct{}

	index   *NodeIndex
	nextNID NodeID
	nextSID SegmentID
}

// NewGraph creates an empty road network.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[NodeID]*Node),
		segments:  make(map[SegmentID]*Segment),
		out:       make(map[NodeID][]*DirectedEdge),
		in:        make(map[NodeID][]*DirectedEdge),
		occupancy: make(map[SegmentID]map[uint64]struct{}),
		nextNID:   1,
		nextSID:   1,
	}
}

// AddNode creates an intersection at p.
func (g *Graph) AddNode(p orb.Point) *Node {
	n := &Node{ID: g.nextNID, Coord: p}
	g.nextNID++
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.index = nil
	return n
}

// AddRoad joins two nodes with a straight segment. Two-way roads get a
// directed edge in each direction.
func (g *Graph) AddRoad(from, to NodeID, class RoadClass, speedKmh float64, twoWay bool) (*Segment, error) {
	a, ok := g.nodes[from]
	if !ok {
		return nil, fmt.Errorf("add road: unknown node %d", from)
	}
	b, ok := g.nodes[to]
	if !ok {
		return nil, fmt.Errorf("add road: unknown node %d", to)
	}
	return g.addSegment(a, b, orb.LineString{a.Coord, b.Coord}, class, speedKmh, twoWay), nil
}

// AddRoadLine is AddRoad with an explicit geometry whose first and last
// points must sit on the two nodes.
func (g *Graph) AddRoadLine(from, to NodeID, line orb.LineString, class RoadClass, speedKmh float64, twoWay bool) (*Segment, error) {
	a, ok := g.nodes[from]
	if !ok {
		return nil, fmt.Errorf("add road: unknown node %d", from)
	}
	b, ok := g.nodes[to]
	if !ok {
		return nil, fmt.Errorf("add road: unknown node %d", to)
	}
	if len(line) < 2 || !line[0].Equal(a.Coord) || !line[len(line)-1].Equal(b.Coord) {
		return nil, fmt.Errorf("add road %d->%d: geometry does not meet its nodes", from, to)
	}
	return g.addSegment(a, b, line, class, speedKmh, twoWay), nil
}

func (g *Graph) addSegment(a, b *Node, line orb.LineString, class RoadClass, speedKmh float64, twoWay bool) *Segment {
	s := &Segment{
		ID:       g.nextSID,
		Class:    class,
		From:     a.ID,
		To:       b.ID,
		Line:     line,
		LengthKm: DegToKm(planar.Length(line)),
		SpeedKmh: speedKmh,
	}
	g.nextSID++
	g.segments[s.ID] = s

	fwd := &DirectedEdge{Segment: s, From: a, To: b}
	g.out[a.ID] = append(g.out[a.ID], fwd)
	g.in[b.ID] = append(g.in[b.ID], fwd)
	if twoWay {
		back := &DirectedEdge{Segment: s, From: b, To: a}
		g.out[b.ID] = append(g.out[b.ID], back)
		g.in[a.ID] = append(g.in[a.ID], back)
	}
	return s
}

// Node returns a live node by id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// HasNode reports whether n is still part of the network.
func (g *Graph) HasNode(n *Node) bool {
	if n == nil {
		return false
	}
	live, ok := g.nodes[n.ID]
	return ok && live == n
}

// Nodes returns the live nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Segment returns a segment by id, destroyed or not.
func (g *Graph) Segment(id SegmentID) (*Segment, bool) {
	s, ok := g.segments[id]
	return s, ok
}

// Segments returns every segment ordered by id.
func (g *Graph) Segments() []*Segment {
	out := make([]*Segment, 0, len(g.segments))
	for _, s := range g.segments {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Segment) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// OutEdges returns the edges leaving a node.
func (g *Graph) OutEdges(id NodeID) []*DirectedEdge {
	return g.out[id]
}

// EdgeBetween returns the directed edge from a to b, if any.
func (g *Graph) EdgeBetween(a, b NodeID) (*DirectedEdge, bool) {
	for _, e := range g.out[a] {
		if e.To.ID == b {
			return e, true
		}
	}
	return nil, false
}

// SetSpeed changes the speed limit of every segment touching a node, in
// either direction. Segments already at 0 stay at 0. Returns the number of
// segments changed.
func (g *Graph) SetSpeed(id NodeID, kmh float64) int {
	changed := 0
	seen := make(map[*Segment]bool)
	for _, edges := range [][]*DirectedEdge{g.out[id], g.in[id]} {
		for _, e := range edges {
			if seen[e.Segment] {
				continue
			}
			seen[e.Segment] = true
			if e.Segment.SpeedKmh != 0 {
				e.Segment.SpeedKmh = kmh
				changed++
			}
		}
	}
	return changed
}

// RemoveNode detaches a node and destroys every segment touching it.
// The spatial index must be rebuilt afterwards.
func (g *Graph) RemoveNode(id NodeID) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for _, e := range g.out[id] {
		g.destroy(e.Segment)
		g.in[e.To.ID] = dropEdges(g.in[e.To.ID], id)
	}
	for _, e := range g.in[id] {
		g.destroy(e.Segment)
		g.out[e.From.ID] = dropEdges(g.out[e.From.ID], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(n NodeID) bool { return n == id })
	g.index = nil
	return true
}

func (g *Graph) destroy(s *Segment) {
	s.Line = nil
	s.SpeedKmh = 0
}

// dropEdges removes edges that touch node id.
func dropEdges(edges []*DirectedEdge, id NodeID) []*DirectedEdge {
	return slices.DeleteFunc(edges, func(e *DirectedEdge) bool {
		return e.From.ID == id || e.To.ID == id
	})
}

// ── Occupancy ────────────────────────────────────────────────────────

// Enter registers an agent on a segment.
func (g *Graph) Enter(s *Segment, agent uint64) {
	set, ok := g.occupancy[s.ID]
	if !ok {
		set = make(map[uint64]struct{})
		g.occupancy[s.ID] = set
	}
	set[agent] = struct{}{}
}

// Leave removes an agent from a segment.
func (g *Graph) Leave(s *Segment, agent uint64) {
	if set, ok := g.occupancy[s.ID]; ok {
		delete(set, agent)
	}
}

// Occupants returns the number of agents on a segment.
func (g *Graph) Occupants(s *Segment) int {
	return len(g.occupancy[s.ID])
}

// Index returns the spatial node index, building it if the network changed.
func (g *Graph) Index() *NodeIndex {
	if g.index == nil {
		g.index = NewNodeIndex(g.Nodes())
	}
	return g.index
}

// RebuildIndex forces a fresh spatial index over the live nodes.
func (g *Graph) RebuildIndex() {
	g.index = NewNodeIndex(g.Nodes())
}

// String returns a summary of the network.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(nodes=%d, segments=%d)", len(g.nodes), len(g.segments))
}
