package board

import (
	"math"
	"math/rand"
)

const placementAttempts = 50

// Occupied is a circle already on the table.
type Occupied struct {
	Position Vec2
	Radius   float64
}

// OccupiedFrom converts a render snapshot.
func OccupiedFrom(balls []RenderBall) []Occupied {
	out := make([]Occupied, 0, len(balls))
	for _, b := range balls {
		out = append(out, Occupied{Position: b.Position, Radius: b.Radius})
	}
	return out
}

// PlaceBall picks a random point inside the cushions where a ball of the given
// radius overlaps neither an existing ball nor a pocket. After too many misses
// it returns the last random point anyway.
func PlaceBall(rng *rand.Rand, table *Table, existing []Occupied, radius float64) Vec2 {
	lx, ly := table.Limits(radius)
	var p Vec2
	for i := 0; i < placementAttempts; i++ {
		p = NewVec2((rng.Float64()*2-1)*lx, (rng.Float64()*2-1)*ly)
		if fits(table, existing, p, radius) {
			return p
		}
	}
	return p
}

func fits(table *Table, existing []Occupied, p Vec2, radius float64) bool {
	for _, pocket := range table.Pockets {
		if pocket.Position.Distance(p) < table.PocketRadius+radius {
			return false
		}
	}
	for _, o := range existing {
		if o.Position.Distance(p) < o.Radius+radius {
			return false
		}
	}
	return true
}

// OrbitPosition spreads the children of a ball around it on a golden-angle
// spiral. index is the child's sibling index.
func OrbitPosition(table *Table, parent Vec2, parentRadius, childRadius float64, index int) Vec2 {
	goldenAngle := math.Pi * (3 - math.Sqrt(5))
	theta := goldenAngle * float64(index)
	dist := parentRadius + childRadius + 2.0

	p := parent.Plus(NewVec2(math.Cos(theta), math.Sin(theta)).Times(dist))
	lx, ly := table.Limits(childRadius)
	return NewVec2(Clamp(p.X, -lx, lx), Clamp(p.Y, -ly, ly))
}
