package world

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Water is the set of water bodies agents on foot cannot enter.
type Water struct {
	Bodies []orb.Polygon
	bounds []orb.Bound
}

// NewWater indexes the bounding boxes of the given polygons.
func NewWater(bodies ...orb.Polygon) *Water {
	w := &Water{}
	for _, b := range bodies {
		w.Add(b)
	}
	return w
}

// Add registers another water body.
func (w *Water) Add(body orb.Polygon) {
	w.Bodies = append(w.Bodies, body)
	w.bounds = append(w.bounds, body.Bound())
}

// Covers reports whether p lies inside any water body.
func (w *Water) Covers(p orb.Point) bool {
	if w == nil {
		return false
	}
	for i, body := range w.Bodies {
		if !w.bounds[i].Contains(p) {
			continue
		}
		if planar.PolygonContains(body, p) {
			return true
		}
	}
	return false
}

// Len returns the number of water bodies.
func (w *Water) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Bodies)
}
