package world

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

// line builds a straight east-west road of n nodes spaced 0.001 degrees apart.
func line(t *testing.T, n int) (*Graph, []*Node) {
	t.Helper()
	g := NewGraph()
	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = g.AddNode(orb.Point{float64(i) * 0.001, 0})
	}
	for i := 1; i < n; i++ {
		if _, err := g.AddRoad(nodes[i-1].ID, nodes[i].ID, RoadResidential, 40, true); err != nil {
			t.Fatalf("AddRoad: %v", err)
		}
	}
	return g, nodes
}

func TestFindPathIsContiguous(t *testing.T) {
	city := Generate(SmallTestConfig())
	g := city.Graph
	start := city.Grid[0][0]
	goal := city.Grid[5][5]

	path, ok := g.FindPath(start, goal)
	if !ok {
		t.Fatal("expected a path across the grid")
	}
	if path.Start().ID != start.ID || path.End().ID != goal.ID {
		t.Errorf("path runs %d->%d, want %d->%d", path.Start().ID, path.End().ID, start.ID, goal.ID)
	}
	if !path.Contiguous() {
		t.Error("path edges do not chain")
	}
	if len(path) < 10 {
		t.Errorf("len(path) = %d, want at least 10 on a 6x6 grid", len(path))
	}
	if path.GeodesicKm() <= 0 || path.LengthKm() <= 0 {
		t.Error("path length should be positive")
	}
}

func TestFindPathNone(t *testing.T) {
	g, nodes := line(t, 3)
	if _, ok := g.FindPath(nodes[0], nodes[0]); ok {
		t.Error("start == goal should yield no path")
	}

	island := g.AddNode(orb.Point{1, 1})
	if _, ok := g.FindPath(nodes[0], island); ok {
		t.Error("unconnected node should be unreachable")
	}

	g.SetSpeed(nodes[1].ID, 0)
	if _, ok := g.FindPath(nodes[0], nodes[2]); ok {
		t.Error("zero-speed segments should block the route")
	}
}

func TestRemoveNodeDestroysSegments(t *testing.T) {
	g, nodes := line(t, 3)
	seg := g.OutEdges(nodes[0].ID)[0].Segment

	if !g.RemoveNode(nodes[1].ID) {
		t.Fatal("RemoveNode returned false")
	}
	if g.HasNode(nodes[1]) {
		t.Error("node still present")
	}
	if seg.Passable() || seg.Line != nil {
		t.Error("incident segment should be destroyed")
	}
	if len(g.OutEdges(nodes[0].ID)) != 0 {
		t.Error("neighbor kept an edge to the removed node")
	}
	if g.NodeCount() != 2 {
		t.Errorf("NodeCount = %d, want 2", g.NodeCount())
	}
	if g.RemoveNode(nodes[1].ID) {
		t.Error("second removal should report false")
	}
}

func TestSetSpeedLeavesClosedRoadsClosed(t *testing.T) {
	g, nodes := line(t, 3)
	g.SetSpeed(nodes[1].ID, 0)
	if n := g.SetSpeed(nodes[1].ID, 10); n != 0 {
		t.Errorf("SetSpeed reopened %d segments", n)
	}
}

func TestSetSpeedCoversIncomingOneWay(t *testing.T) {
	g := NewGraph()
	a := g.AddNode(orb.Point{0, 0})
	b := g.AddNode(orb.Point{0.001, 0})
	c := g.AddNode(orb.Point{0.002, 0})
	into, err := g.AddRoad(a.ID, b.ID, RoadResidential, 40, false)
	if err != nil {
		t.Fatalf("AddRoad: %v", err)
	}
	both, err := g.AddRoad(b.ID, c.ID, RoadResidential, 40, true)
	if err != nil {
		t.Fatalf("AddRoad: %v", err)
	}

	if n := g.SetSpeed(b.ID, 10); n != 2 {
		t.Errorf("SetSpeed changed %d segments, want 2", n)
	}
	if into.SpeedKmh != 10 || both.SpeedKmh != 10 {
		t.Errorf("speeds = %v/%v, want 10/10", into.SpeedKmh, both.SpeedKmh)
	}
}

func TestFindNearestNodeIdempotent(t *testing.T) {
	city := Generate(SmallTestConfig())
	g := city.Graph
	for _, n := range g.Nodes() {
		got, ok := g.FindNearestNode(n.Coord, 0.0001)
		if !ok || got.ID != n.ID {
			t.Fatalf("FindNearestNode(%v) = %v, want node %d", n.Coord, got, n.ID)
		}
	}

	far, ok := g.FindNearestNode(orb.Point{10, 10}, 0.0001)
	if !ok || far == nil {
		t.Fatal("a distant point should still resolve to some node")
	}
}

func TestFindNearestMatching(t *testing.T) {
	g, nodes := line(t, 5)
	keep := func(n *Node) bool { return n.Coord[0] > 0.0025 }
	got, ok := g.FindNearestMatching(nodes[0].Coord, 0.0005, keep, 20)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.ID != nodes[3].ID {
		t.Errorf("got node %d, want %d", got.ID, nodes[3].ID)
	}

	never := func(*Node) bool { return false }
	if _, ok := g.FindNearestMatching(nodes[0].Coord, 0.0005, never, 20); ok {
		t.Error("a filter that rejects everything should fail")
	}
}

func TestIndexRebuildAfterRemoval(t *testing.T) {
	g, nodes := line(t, 3)
	if g.Index().Len() != 3 {
		t.Fatalf("index has %d nodes", g.Index().Len())
	}
	g.RemoveNode(nodes[2].ID)
	g.RebuildIndex()
	got, _ := g.FindNearestNode(nodes[2].Coord, 0.0001)
	if got.ID == nodes[2].ID {
		t.Error("removed node still indexed")
	}
}

func TestSegmentPointAt(t *testing.T) {
	g, nodes := line(t, 2)
	s := g.OutEdges(nodes[0].ID)[0].Segment
	if math.Abs(s.LengthKm-0.11132) > 1e-9 {
		t.Errorf("LengthKm = %v", s.LengthKm)
	}
	mid := s.PointAt(s.LengthKm / 2)
	if math.Abs(mid[0]-0.0005) > 1e-9 || mid[1] != 0 {
		t.Errorf("PointAt(mid) = %v", mid)
	}
	if !s.PointAt(-1).Equal(nodes[0].Coord) || !s.PointAt(99).Equal(nodes[1].Coord) {
		t.Error("PointAt should clamp to the endpoints")
	}
}

func TestWaterCovers(t *testing.T) {
	w := NewWater(orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}})
	if !w.Covers(orb.Point{0.5, 0.5}) {
		t.Error("center should be wet")
	}
	if w.Covers(orb.Point{1.5, 0.5}) {
		t.Error("outside should be dry")
	}
	var none *Water
	if none.Covers(orb.Point{0.5, 0.5}) || none.Len() != 0 {
		t.Error("nil water covers nothing")
	}
}

func TestGenerateKeepsNodesDry(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Cols, cfg.Rows = 30, 30
	cfg.Seed = 7
	cfg.WaterLevel = 0.6
	city := Generate(cfg)
	for _, n := range city.Graph.Nodes() {
		if city.Water.Covers(n.Coord) {
			t.Fatalf("node %d generated in water", n.ID)
		}
	}
	counts := ClassCounts(city.Graph)
	if counts[RoadHighway] == 0 || counts[RoadResidential] == 0 {
		t.Errorf("expected both road classes, got %v", counts)
	}
}

func TestTime24(t *testing.T) {
	cases := []struct {
		tick uint64
		want int
	}{
		{0, 0},
		{450, 730},
		{1110, 1830},
		{1439, 2359},
		{1440 + 450, 730},
	}
	for _, c := range cases {
		if got := Time24(c.tick); got != c.want {
			t.Errorf("Time24(%d) = %d, want %d", c.tick, got, c.want)
		}
	}
	if AddMinutes(2350, 15) != 5 || AddMinutes(730, -40) != 650 {
		t.Error("AddMinutes wraps incorrectly")
	}
}
