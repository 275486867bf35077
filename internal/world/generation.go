// Synthetic city generation using layered simplex noise.
// Lays out a jittered street grid with highway arterials, then floods
// low cells into lakes that both the streets and pedestrians avoid.
package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/paulmach/orb"
)

// GenConfig holds city generation parameters.
type GenConfig struct {
	Cols, Rows     int       // Grid intersections per axis
	Spacing        float64   // Degrees between grid lines
	Center         orb.Point // Grid center (lon, lat)
	Seed           int64     // Random seed (0 = random)
	HighwayEvery   int       // Every Nth grid line is a highway (0 = none)
	HighwayKmh     float64
	ResidentialKmh float64
	WaterLevel     float64 // Noise threshold for lakes (0.0–1.0, 1 = no water)
	ClearCells     int     // Cells around the center kept dry
}

// DefaultGenConfig returns a mid-size grid around the origin.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Cols:           60,
		Rows:           60,
		Spacing:        0.002,
		Seed:           0,
		HighwayEvery:   8,
		HighwayKmh:     89,
		ResidentialKmh: 40,
		WaterLevel:     0.78,
		ClearCells:     3,
	}
}

// SmallTestConfig returns a tiny dry grid for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Cols:           6,
		Rows:           6,
		Spacing:        0.002,
		Seed:           42,
		HighwayEvery:   3,
		HighwayKmh:     89,
		ResidentialKmh: 40,
		WaterLevel:     1,
	}
}

// City is a generated road network with its water bodies.
type City struct {
	Graph *Graph
	Water *Water
	Grid  [][]*Node // [row][col], nil where the cell is under water
}

// Generate builds a street grid and its lakes.
func Generate(cfg GenConfig) *City {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	// Independent layers for lakes and intersection jitter.
	waterNoise := opensimplex.NewNormalized(seed)
	jitterX := opensimplex.NewNormalized(seed + 1)
	jitterY := opensimplex.NewNormalized(seed + 2)

	origin := orb.Point{
		cfg.Center[0] - float64(cfg.Cols-1)*cfg.Spacing/2,
		cfg.Center[1] - float64(cfg.Rows-1)*cfg.Spacing/2,
	}
	at := func(col, row float64) orb.Point {
		return orb.Point{origin[0] + col*cfg.Spacing, origin[1] + row*cfg.Spacing}
	}

	// Lakes: one square per flooded cell.
	water := NewWater()
	midC, midR := (cfg.Cols-1)/2, (cfg.Rows-1)/2
	for r := 0; r < cfg.Rows-1; r++ {
		for c := 0; c < cfg.Cols-1; c++ {
			if abs(c-midC) <= cfg.ClearCells && abs(r-midR) <= cfg.ClearCells {
				continue
			}
			level := octaveNoise(waterNoise, float64(c), float64(r), 3, 0.08, 0.5)
			if level < cfg.WaterLevel {
				continue
			}
			water.Add(orb.Polygon{orb.Ring{
				at(float64(c), float64(r)),
				at(float64(c+1), float64(r)),
				at(float64(c+1), float64(r+1)),
				at(float64(c), float64(r+1)),
				at(float64(c), float64(r)),
			}})
		}
	}

	g := NewGraph()
	grid := make([][]*Node, cfg.Rows)
	for r := 0; r < cfg.Rows; r++ {
		grid[r] = make([]*Node, cfg.Cols)
		for c := 0; c < cfg.Cols; c++ {
			// Jitter keeps the grid from looking ruled, at most 15% of a block.
			dx := (jitterX.Eval2(float64(c)*0.3, float64(r)*0.3) - 0.5) * 0.3
			dy := (jitterY.Eval2(float64(c)*0.3, float64(r)*0.3) - 0.5) * 0.3
			if highway(c, cfg.HighwayEvery) {
				dx = 0
			}
			if highway(r, cfg.HighwayEvery) {
				dy = 0
			}
			p := at(float64(c)+dx, float64(r)+dy)
			if water.Covers(p) {
				continue
			}
			grid[r][c] = g.AddNode(p)
		}
	}

	link := func(a, b *Node, onHighway bool) {
		if a == nil || b == nil {
			return
		}
		mid := orb.Point{(a.Coord[0] + b.Coord[0]) / 2, (a.Coord[1] + b.Coord[1]) / 2}
		if water.Covers(mid) {
			return
		}
		class, speed := RoadResidential, cfg.ResidentialKmh
		if onHighway {
			class, speed = RoadHighway, cfg.HighwayKmh
		}
		g.AddRoad(a.ID, b.ID, class, speed, true)
	}
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			if c+1 < cfg.Cols {
				link(grid[r][c], grid[r][c+1], highway(r, cfg.HighwayEvery))
			}
			if r+1 < cfg.Rows {
				link(grid[r][c], grid[r+1][c], highway(c, cfg.HighwayEvery))
			}
		}
	}
	g.RebuildIndex()

	return &City{Graph: g, Water: water, Grid: grid}
}

func highway(line, every int) bool {
	return every > 0 && line%every == 0
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ClassCounts returns how many segments fall in each road class.
func ClassCounts(g *Graph) map[RoadClass]int {
	counts := make(map[RoadClass]int)
	for _, s := range g.segments {
		counts[s.Class]++
	}
	return counts
}

// ClassName returns a human-readable road class.
func ClassName(c RoadClass) string {
	switch c {
	case RoadHighway:
		return "highway"
	default:
		return "residential"
	}
}
