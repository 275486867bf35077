package world

import (
	"cmp"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// maxNearestLoops bounds the widen/narrow search when no filter is given.
const maxNearestLoops = 64

// NodeIndex is a point quadtree over road intersections.
type NodeIndex struct {
	tree  *quadtree.Quadtree
	count int
}

// NewNodeIndex indexes the given nodes.
func NewNodeIndex(nodes []*Node) *NodeIndex {
	bound := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	if len(nodes) > 0 {
		bound = nodes[0].Coord.Bound()
		for _, n := range nodes[1:] {
			bound = bound.Extend(n.Coord)
		}
		bound = bound.Pad(1e-6)
	}
	idx := &NodeIndex{tree: quadtree.New(bound)}
	for _, n := range nodes {
		if err := idx.tree.Add(n); err == nil {
			idx.count++
		}
	}
	return idx
}

// Len returns the number of indexed nodes.
func (idx *NodeIndex) Len() int { return idx.count }

// Within returns nodes no farther than dist degrees from p, ordered by id.
func (idx *NodeIndex) Within(p orb.Point, dist float64) []*Node {
	hits := idx.tree.InBound(nil, p.Bound().Pad(dist))
	out := make([]*Node, 0, len(hits))
	for _, h := range hits {
		n := h.(*Node)
		if planar.Distance(n.Coord, p) <= dist {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Nearest returns the closest indexed node to p regardless of distance.
func (idx *NodeIndex) Nearest(p orb.Point) (*Node, bool) {
	if idx.count == 0 {
		return nil, false
	}
	hit := idx.tree.Find(p)
	if hit == nil {
		return nil, false
	}
	return hit.(*Node), true
}

// SearchNearest runs the widening/narrowing radius search: the radius grows
// x10 while nothing is found and halves while more than three candidates
// remain. keep filters candidates; maxLoops caps the iterations. The second
// return value is false when the loop cap was hit before settling on 1-3
// candidates.
func (idx *NodeIndex) SearchNearest(p orb.Point, radius float64, keep func(*Node) bool, maxLoops int) ([]*Node, bool) {
	if radius <= 0 {
		radius = 1e-4
	}
	var candidates []*Node
	for loop := 0; loop < maxLoops; loop++ {
		candidates = idx.Within(p, radius)
		if keep != nil {
			candidates = slices.DeleteFunc(candidates, func(n *Node) bool { return !keep(n) })
		}
		switch {
		case len(candidates) == 0:
			radius *= 10
		case len(candidates) > 3:
			radius *= 0.5
		default:
			return candidates, true
		}
	}
	return candidates, false
}

// closest picks the minimum-distance node, lower id on ties.
func closest(p orb.Point, nodes []*Node) (*Node, bool) {
	var best *Node
	bestDist := 0.0
	for _, n := range nodes {
		d := planar.DistanceSquared(n.Coord, p)
		if best == nil || d < bestDist || (d == bestDist && n.ID < best.ID) {
			best, bestDist = n, d
		}
	}
	return best, best != nil
}

// FindNearestNode returns the closest intersection to p using the
// widening/narrowing radius search starting at searchRadius degrees.
func (g *Graph) FindNearestNode(p orb.Point, searchRadius float64) (*Node, bool) {
	if len(g.nodes) == 0 {
		return nil, false
	}
	candidates, _ := g.Index().SearchNearest(p, searchRadius, nil, maxNearestLoops)
	if len(candidates) == 0 {
		return g.Index().Nearest(p)
	}
	return closest(p, candidates)
}

// FindNearestMatching is FindNearestNode restricted to nodes accepted by
// keep. It gives up after maxLoops iterations without settling.
func (g *Graph) FindNearestMatching(p orb.Point, searchRadius float64, keep func(*Node) bool, maxLoops int) (*Node, bool) {
	if len(g.nodes) == 0 {
		return nil, false
	}
	candidates, ok := g.Index().SearchNearest(p, searchRadius, keep, maxLoops)
	if !ok {
		return nil, false
	}
	return closest(p, candidates)
}

// NodesWithin returns live nodes within dist degrees of p, ordered by id.
func (g *Graph) NodesWithin(p orb.Point, dist float64) []*Node {
	return g.Index().Within(p, dist)
}
