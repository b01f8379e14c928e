package board

// Pocket is one of the six capture zones on the table.
type Pocket struct {
	ID       int  `json:"id"`
	Position Vec2 `json:"position"`
}

// Table holds the playing surface geometry. The origin is the table centre.
type Table struct {
	Width        float64  `json:"width"`
	Depth        float64  `json:"depth"`
	PocketRadius float64  `json:"pocket_radius"`
	Pockets      []Pocket `json:"pockets"`
}

// NewTable builds a table of the given size with pockets at the four corners and
// halfway along the two end cushions, each inset from the cushions.
func NewTable(width, depth, pocketRadius float64) *Table {
	if width <= 0 {
		width = DefaultTableWidth
	}
	if depth <= 0 {
		depth = DefaultTableDepth
	}
	if pocketRadius <= 0 {
		pocketRadius = DefaultPocketRadius
	}

	hx := width/2 - PocketInset
	hy := depth/2 - PocketInset

	pockets := []Pocket{
		{ID: 0, Position: NewVec2(-hx, -hy)},
		{ID: 1, Position: NewVec2(hx, -hy)},
		{ID: 2, Position: NewVec2(-hx, 0)},
		{ID: 3, Position: NewVec2(hx, 0)},
		{ID: 4, Position: NewVec2(-hx, hy)},
		{ID: 5, Position: NewVec2(hx, hy)},
	}

	return &Table{
		Width:        width,
		Depth:        depth,
		PocketRadius: pocketRadius,
		Pockets:      pockets,
	}
}

// NewStandardTable returns the default 80 x 48 board.
func NewStandardTable() *Table {
	return NewTable(DefaultTableWidth, DefaultTableDepth, DefaultPocketRadius)
}

// PocketAt returns the pocket whose capture zone contains p.
func (t *Table) PocketAt(p Vec2) (Pocket, bool) {
	for _, pocket := range t.Pockets {
		if pocket.Position.Distance(p) < t.PocketRadius {
			return pocket, true
		}
	}
	return Pocket{}, false
}

// Limits returns the largest |x| and |y| a body of the given radius may occupy.
func (t *Table) Limits(radius float64) (float64, float64) {
	lx := t.Width/2 - radius
	ly := t.Depth/2 - radius
	if lx < 0 {
		lx = 0
	}
	if ly < 0 {
		ly = 0
	}
	return lx, ly
}

// Contains reports whether a circle fits fully inside the cushions.
func (t *Table) Contains(p Vec2, radius float64) bool {
	lx, ly := t.Limits(radius)
	return p.X >= -lx && p.X <= lx && p.Y >= -ly && p.Y <= ly
}

// EscapePocket returns a point just outside the capture zone of pocket, toward the
// table centre, kept within the cushions for the given radius.
func (t *Table) EscapePocket(pocket Pocket, radius float64) Vec2 {
	dir := Vec2{}.Minus(pocket.Position).Normalize()
	if dir.IsZero() {
		dir = NewVec2(1, 0)
	}
	out := pocket.Position.Plus(dir.Times(t.PocketRadius + radius))
	lx, ly := t.Limits(radius)
	return NewVec2(Clamp(out.X, -lx, lx), Clamp(out.Y, -ly, ly))
}
