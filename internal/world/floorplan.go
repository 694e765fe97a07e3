package world

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/topo"

	"github.com/talgya/mini-market/internal/markov"
)

// ErrInvalidPlan is returned for malformed layouts and for plans whose
// entry or zone areas are unusable.
var ErrInvalidPlan = errors.New("invalid floor plan")

// WalkableTile is the only layout rune customers can stand on.
const WalkableTile = '.'

// Rect is an inclusive rectangle of cells.
type Rect struct {
	MinRow int `json:"min_row"`
	MaxRow int `json:"max_row"`
	MinCol int `json:"min_col"`
	MaxCol int `json:"max_col"`
}

// Contains reports whether c lies inside r.
func (r Rect) Contains(c Cell) bool {
	return c.Row >= r.MinRow && c.Row <= r.MaxRow && c.Col >= r.MinCol && c.Col <= r.MaxCol
}

// Cells lists the cells of r in row-major order.
func (r Rect) Cells() []Cell {
	var out []Cell
	for row := r.MinRow; row <= r.MaxRow; row++ {
		for col := r.MinCol; col <= r.MaxCol; col++ {
			out = append(out, Cell{Row: row, Col: col})
		}
	}
	return out
}

// ShiftCols returns r moved dcol columns to the right.
func (r Rect) ShiftCols(dcol int) Rect {
	r.MinCol += dcol
	r.MaxCol += dcol
	return r
}

// Area is the part of the floor that belongs to a zone. A zone with several
// identical lanes (checkout tills) repeats Rect every LaneStride columns.
type Area struct {
	Rect       Rect `json:"rect"`
	Lanes      int  `json:"lanes,omitempty"`
	LaneStride int  `json:"lane_stride,omitempty"`
}

// LaneCount returns the number of lanes, at least 1.
func (a Area) LaneCount() int {
	if a.Lanes < 1 {
		return 1
	}
	return a.Lanes
}

// Lane returns the rectangle of lane i.
func (a Area) Lane(i int) Rect {
	return a.Rect.ShiftCols(i * a.LaneStride)
}

// Contains reports whether c lies in any lane of a.
func (a Area) Contains(c Cell) bool {
	for i := 0; i < a.LaneCount(); i++ {
		if a.Lane(i).Contains(c) {
			return true
		}
	}
	return false
}

// Legend supplies what a layout string cannot express: where customers
// enter and which cells belong to which zone.
type Legend struct {
	Entry Cell
	Areas map[markov.Zone]Area
}

// FloorPlan is a parsed layout together with its legend.
type FloorPlan struct {
	Grid   *Grid
	Layout []string // original rows, kept for rendering
	Entry  Cell
	Areas  map[markov.Zone]Area
}

// ParseLayout turns a text layout into a floor plan. Each line is a row;
// '.' is walkable and every other rune is an obstacle. Leading and trailing
// blank lines are ignored; all rows must have the same width.
func ParseLayout(layout string, legend Legend) (*FloorPlan, error) {
	lines := strings.Split(strings.Trim(layout, "\r\n"), "\n")
	blocked := make([][]bool, 0, len(lines))
	rows := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		runes := []rune(line)
		if len(runes) == 0 {
			return nil, fmt.Errorf("%w: row %d is empty", ErrInvalidPlan, i)
		}
		row := make([]bool, len(runes))
		for j, r := range runes {
			row[j] = r != WalkableTile
		}
		blocked = append(blocked, row)
		rows = append(rows, line)
	}

	grid, err := NewGrid(blocked)
	if err != nil {
		return nil, err
	}

	areas := make(map[markov.Zone]Area, len(legend.Areas))
	for z, a := range legend.Areas {
		areas[z] = a
	}
	return &FloorPlan{
		Grid:   grid,
		Layout: rows,
		Entry:  legend.Entry,
		Areas:  areas,
	}, nil
}

// Area returns the area of zone z.
func (p *FloorPlan) Area(z markov.Zone) (Area, bool) {
	a, ok := p.Areas[z]
	return a, ok
}

// Zones returns the zones that have an area, sorted by name.
func (p *FloorPlan) Zones() []markov.Zone {
	out := make([]markov.Zone, 0, len(p.Areas))
	for z := range p.Areas {
		out = append(out, z)
	}
	slices.Sort(out)
	return out
}

// Validate checks that the entry is a walkable cell and that every zone
// area lies on the grid and has at least one walkable cell connected to
// the entry. All problems are reported together.
func (p *FloorPlan) Validate() error {
	if p.Grid == nil {
		return fmt.Errorf("%w: no grid", ErrInvalidPlan)
	}
	g := p.Grid
	if !g.Walkable(p.Entry) {
		return fmt.Errorf("%w: entry %v is not a walkable cell", ErrInvalidPlan, p.Entry)
	}

	component := make(map[int64]int)
	for i, nodes := range topo.ConnectedComponents(g.UndirectedGraph()) {
		for _, n := range nodes {
			component[n.ID()] = i
		}
	}
	entryComponent := component[int64(g.Index(p.Entry))]

	var errs []error
	for _, z := range p.Zones() {
		a := p.Areas[z]
		if a.Lanes > 1 && a.LaneStride == 0 {
			errs = append(errs, fmt.Errorf("%w: zone %q has %d lanes and no stride", ErrInvalidPlan, z, a.Lanes))
			continue
		}
		reachable := false
		for lane := 0; lane < a.LaneCount(); lane++ {
			r := a.Lane(lane)
			if r.MinRow > r.MaxRow || r.MinCol > r.MaxCol {
				errs = append(errs, fmt.Errorf("%w: zone %q lane %d is empty", ErrInvalidPlan, z, lane))
				continue
			}
			corners := []Cell{{Row: r.MinRow, Col: r.MinCol}, {Row: r.MaxRow, Col: r.MaxCol}}
			if !g.InBounds(corners[0]) || !g.InBounds(corners[1]) {
				errs = append(errs, fmt.Errorf("%w: zone %q lane %d extends off the grid", ErrInvalidPlan, z, lane))
				continue
			}
			for _, c := range r.Cells() {
				if !g.Walkable(c) {
					continue
				}
				if component[int64(g.Index(c))] == entryComponent {
					reachable = true
					break
				}
			}
		}
		if !reachable {
			errs = append(errs, fmt.Errorf("%w: zone %q cannot be reached from the entry", ErrInvalidPlan, z))
		}
	}
	return errors.Join(errs...)
}

// Render draws the layout with occupied cells replaced by the number of
// customers standing there ('*' for ten or more).
func (p *FloorPlan) Render(occupied map[Cell]int) string {
	var b strings.Builder
	for r, line := range p.Layout {
		if r > 0 {
			b.WriteByte('\n')
		}
		for c, ch := range []rune(line) {
			n := occupied[Cell{Row: r, Col: c}]
			switch {
			case n >= 10:
				b.WriteByte('*')
			case n > 0:
				b.WriteByte(byte('0' + n))
			default:
				b.WriteRune(ch)
			}
		}
	}
	return b.String()
}

// DefaultLayout is the twelve-row store used when no layout is configured.
const DefaultLayout = `
###################
##...............##
##B..#S..#D..#F..##
##B..#S..#D..#F..##
##B..#S..#D..#F..##
##B..#S..#D..#F..##
##B..#S..#D..#F..##
##...............##
##C..CC..CC..C#..##
##C..CC..CC..C#..##
##...............##
##G..G########G.G##
`

// DefaultLegend returns the entry and zone areas of DefaultLayout.
func DefaultLegend() Legend {
	return Legend{
		Entry: Cell{Row: 11, Col: 15},
		Areas: map[markov.Zone]Area{
			markov.ZoneCheckout: {Rect: Rect{MinRow: 8, MaxRow: 9, MinCol: 3, MaxCol: 4}, Lanes: 3, LaneStride: 4},
			markov.ZoneDrinks:   {Rect: Rect{MinRow: 2, MaxRow: 6, MinCol: 3, MaxCol: 4}},
			markov.ZoneSpices:   {Rect: Rect{MinRow: 2, MaxRow: 6, MinCol: 7, MaxCol: 8}},
			markov.ZoneDairy:    {Rect: Rect{MinRow: 2, MaxRow: 6, MinCol: 11, MaxCol: 12}},
			markov.ZoneFruit:    {Rect: Rect{MinRow: 2, MaxRow: 6, MinCol: 15, MaxCol: 16}},
			markov.ZoneExit:     {Rect: Rect{MinRow: 11, MaxRow: 11, MinCol: 3, MaxCol: 4}},
		},
	}
}

// DefaultFloorPlan returns the parsed default store.
func DefaultFloorPlan() *FloorPlan {
	p, err := ParseLayout(DefaultLayout, DefaultLegend())
	if err != nil {
		panic(fmt.Sprintf("world: default layout: %v", err))
	}
	return p
}
