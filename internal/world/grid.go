package world

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
)

// Grid is an immutable rows×cols obstacle map.
type Grid struct {
	rows, cols int
	blocked    []bool // row-major, true = obstacle
}

// NewGrid builds a grid from row-major obstacle flags. Every row must have
// the same length.
func NewGrid(blocked [][]bool) (*Grid, error) {
	if len(blocked) == 0 || len(blocked[0]) == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrInvalidPlan)
	}
	g := &Grid{
		rows:    len(blocked),
		cols:    len(blocked[0]),
		blocked: make([]bool, 0, len(blocked)*len(blocked[0])),
	}
	for r, row := range blocked {
		if len(row) != g.cols {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d",
				ErrInvalidPlan, r, len(row), g.cols)
		}
		g.blocked = append(g.blocked, row...)
	}
	return g, nil
}

// OpenGrid returns a grid with no obstacles.
func OpenGrid(rows, cols int) *Grid {
	return &Grid{rows: rows, cols: cols, blocked: make([]bool, rows*cols)}
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// InBounds reports whether c lies on the grid.
func (g *Grid) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Row < g.rows && c.Col >= 0 && c.Col < g.cols
}

// Walkable reports whether c is in bounds and not an obstacle.
func (g *Grid) Walkable(c Cell) bool {
	return g.InBounds(c) && !g.blocked[c.Row*g.cols+c.Col]
}

// Index returns the row-major index of c. c must be in bounds.
func (g *Grid) Index(c Cell) int {
	return c.Row*g.cols + c.Col
}

// CellAt is the inverse of Index.
func (g *Grid) CellAt(i int) Cell {
	return Cell{Row: i / g.cols, Col: i % g.cols}
}

// Len returns rows×cols.
func (g *Grid) Len() int { return len(g.blocked) }

// WalkableCount returns the number of open cells.
func (g *Grid) WalkableCount() int {
	n := 0
	for _, b := range g.blocked {
		if !b {
			n++
		}
	}
	return n
}

// WithBlocked returns a copy of g with the given cells turned into
// obstacles. Out-of-bounds cells are ignored.
func (g *Grid) WithBlocked(cells ...Cell) *Grid {
	out := &Grid{rows: g.rows, cols: g.cols, blocked: make([]bool, len(g.blocked))}
	copy(out.blocked, g.blocked)
	for _, c := range cells {
		if g.InBounds(c) {
			out.blocked[g.Index(c)] = true
		}
	}
	return out
}

// DirectedGraph returns the walkable cells as a gonum graph with an edge for
// every move that lands on another walkable cell. Node ids are Index values.
func (g *Grid) DirectedGraph(moves []Move) *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := range g.blocked {
		if !g.blocked[i] {
			dg.AddNode(simple.Node(i))
		}
	}
	for i := range g.blocked {
		if g.blocked[i] {
			continue
		}
		from := g.CellAt(i)
		for _, m := range moves {
			to := from.Add(m)
			if to == from || !g.Walkable(to) {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(i), simple.Node(g.Index(to))))
		}
	}
	return dg
}

// UndirectedGraph returns the walkable cells joined by orthogonal
// adjacency.
func (g *Grid) UndirectedGraph() *simple.UndirectedGraph {
	ug := simple.NewUndirectedGraph()
	for i := range g.blocked {
		if !g.blocked[i] {
			ug.AddNode(simple.Node(i))
		}
	}
	for i := range g.blocked {
		if g.blocked[i] {
			continue
		}
		c := g.CellAt(i)
		for _, m := range []Move{{DRow: 0, DCol: 1}, {DRow: 1, DCol: 0}} {
			n := c.Add(m)
			if g.Walkable(n) {
				ug.SetEdge(ug.NewEdge(simple.Node(i), simple.Node(g.Index(n))))
			}
		}
	}
	return ug
}

// String renders the grid with '.' for open cells and '#' for obstacles.
func (g *Grid) String() string {
	var b strings.Builder
	for r := 0; r < g.rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		for c := 0; c < g.cols; c++ {
			if g.blocked[r*g.cols+c] {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
	}
	return b.String()
}
