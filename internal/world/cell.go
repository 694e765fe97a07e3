// Package world provides the floor-plan grid, cells, move sets and zone
// areas that customers walk through.
// Cells use (row, col) coordinates with row 0 at the top of the plan.
package world

import "fmt"

// Cell is a position on the grid.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Add returns the cell reached from c by m.
func (c Cell) Add(m Move) Cell {
	return Cell{Row: c.Row + m.DRow, Col: c.Col + m.DCol}
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Move is a relative step between cells. Every move costs 1.
type Move struct {
	DRow int `json:"drow"`
	DCol int `json:"dcol"`
}

// FourNeighbour is the orthogonal move set, in the order neighbours are
// generated: east, west, south, north.
var FourNeighbour = []Move{
	{DRow: 0, DCol: 1},
	{DRow: 0, DCol: -1},
	{DRow: 1, DCol: 0},
	{DRow: -1, DCol: 0},
}

// EightNeighbour extends FourNeighbour with the diagonals.
var EightNeighbour = []Move{
	{DRow: 0, DCol: 1},
	{DRow: 0, DCol: -1},
	{DRow: 1, DCol: 0},
	{DRow: -1, DCol: 0},
	{DRow: 1, DCol: 1},
	{DRow: 1, DCol: -1},
	{DRow: -1, DCol: 1},
	{DRow: -1, DCol: -1},
}

// MoveSet returns the named move set ("4" or "8").
func MoveSet(name string) ([]Move, error) {
	switch name {
	case "", "4", "four":
		return FourNeighbour, nil
	case "8", "eight":
		return EightNeighbour, nil
	default:
		return nil, fmt.Errorf("unknown move set %q", name)
	}
}

// Manhattan returns |Δrow| + |Δcol| between two cells.
func Manhattan(a, b Cell) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
