package world

import (
	"container/heap"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Path is a contiguous sequence of directed edges.
type Path []*DirectedEdge

// Start returns the first node of the path.
func (p Path) Start() *Node {
	if len(p) == 0 {
		return nil
	}
	return p[0].From
}

// End returns the last node of the path.
func (p Path) End() *Node {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1].To
}

// LengthKm sums the segment lengths.
func (p Path) LengthKm() float64 {
	total := 0.0
	for _, e := range p {
		total += e.Segment.LengthKm
	}
	return total
}

// GeodesicKm measures the path on the ellipsoid rather than in flat degrees.
func (p Path) GeodesicKm() float64 {
	if len(p) == 0 {
		return 0
	}
	line := orb.LineString{p[0].From.Coord}
	for _, e := range p {
		line = append(line, e.To.Coord)
	}
	return geo.Length(line) / 1000
}

// Contiguous reports whether each edge starts where the previous one ended.
func (p Path) Contiguous() bool {
	for i := 1; i < len(p); i++ {
		if p[i-1].To.ID != p[i].From.ID {
			return false
		}
	}
	return true
}

// Passable reports whether every edge on the path can still be traveled.
func (p Path) Passable() bool {
	for _, e := range p {
		if !e.Segment.Passable() {
			return false
		}
	}
	return true
}

// FindPath runs A* from start to goal over passable directed edges,
// weighted by length. It returns false when start == goal or no route
// exists. Nothing is cached, so it always sees the current network.
func (g *Graph) FindPath(start, goal *Node) (Path, bool) {
	if start == nil || goal == nil || start.ID == goal.ID {
		return nil, false
	}
	if !g.HasNode(start) || !g.HasNode(goal) {
		return nil, false
	}

	gScore := map[NodeID]float64{start.ID: 0}
	via := make(map[NodeID]*DirectedEdge)
	closed := make(map[NodeID]bool)

	open := &frontier{}
	heap.Init(open)
	heap.Push(open, &step{node: start, f: heuristicKm(start, goal)})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*step).node
		if cur.ID == goal.ID {
			return g.unwind(via, start, goal), true
		}
		if closed[cur.ID] {
			continue
		}
		closed[cur.ID] = true

		for _, e := range g.out[cur.ID] {
			if !e.Segment.Passable() || closed[e.To.ID] {
				continue
			}
			if _, live := g.nodes[e.To.ID]; !live {
				continue
			}
			alt := gScore[cur.ID] + e.Segment.LengthKm
			if old, seen := gScore[e.To.ID]; seen && alt >= old {
				continue
			}
			gScore[e.To.ID] = alt
			via[e.To.ID] = e
			heap.Push(open, &step{node: e.To, f: alt + heuristicKm(e.To, goal)})
		}
	}
	return nil, false
}

func (g *Graph) unwind(via map[NodeID]*DirectedEdge, start, goal *Node) Path {
	var rev Path
	for id := goal.ID; id != start.ID; {
		e := via[id]
		rev = append(rev, e)
		id = e.From.ID
	}
	path := make(Path, len(rev))
	for i, e := range rev {
		path[len(rev)-1-i] = e
	}
	return path
}

// heuristicKm is the great-circle distance, never longer than the flat
// degree length used for edge weights.
func heuristicKm(a, b *Node) float64 {
	d := geo.Distance(a.Coord, b.Coord) / 1000
	if math.IsNaN(d) {
		return 0
	}
	return d
}

// ---------- internal PQ ----------
type step struct {
	node *Node
	f    float64
}
type frontier []*step

func (pq frontier) Len() int { return len(pq) }
func (pq frontier) Less(i, j int) bool {
	if pq[i].f == pq[j].f {
		return pq[i].node.ID < pq[j].node.ID
	}
	return pq[i].f < pq[j].f
}
func (pq frontier) Swap(i, j int)  { pq[i], pq[j] = pq[j], pq[i] }
func (pq *frontier) Push(x any)    { *pq = append(*pq, x.(*step)) }
func (pq *frontier) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	*pq = old[:n-1]
	return it
}
