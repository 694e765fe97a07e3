// Package pathfind finds walking routes on a floor-plan grid with A*.
//
// The frontier is ordered by f = g + h and, on ties, by insertion order, so
// the route returned for a given grid, endpoints and move order is fully
// determined. Every move costs 1 and h is the Manhattan distance.
package pathfind

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/talgya/mini-market/internal/world"
)

var (
	// ErrOutOfBounds is returned when the start or goal is not on the grid.
	ErrOutOfBounds = errors.New("cell out of bounds")

	// ErrSearchLimit is returned when Options.MaxExpansions is exceeded.
	ErrSearchLimit = errors.New("search expansion limit reached")
)

// Options tunes a search.
type Options struct {
	// Exhaustive disables best-known-cost pruning so that every generated
	// neighbour is pushed. Results are identical; only the work differs.
	Exhaustive bool

	// MaxExpansions bounds the number of nodes popped. Zero means no limit.
	MaxExpansions int
}

// Stats reports the work done by one search.
type Stats struct {
	Expanded int `json:"expanded"`
	Pushed   int `json:"pushed"`
}

// Result is the outcome of FindPathWith.
type Result struct {
	Path  []world.Cell // start to goal inclusive; nil when not found
	Found bool
	Stats Stats
}

// node is an arena element. Its arena index doubles as the insertion
// sequence used to break f ties.
type node struct {
	cell   world.Cell
	g, f   int
	parent int32 // arena index, -1 for the start
}

// FindPath returns a shortest walkable route from start to goal using the
// given moves. found is false when the goal cannot be reached; that is not
// an error.
func FindPath(g *world.Grid, start, goal world.Cell, moves []world.Move) ([]world.Cell, bool, error) {
	res, err := FindPathWith(g, start, goal, moves, Options{})
	if err != nil {
		return nil, false, err
	}
	return res.Path, res.Found, nil
}

// FindPathWith is FindPath with options and work statistics.
func FindPathWith(g *world.Grid, start, goal world.Cell, moves []world.Move, opts Options) (Result, error) {
	if !g.InBounds(start) {
		return Result{}, fmt.Errorf("%w: start %v on %dx%d grid", ErrOutOfBounds, start, g.Rows(), g.Cols())
	}
	if !g.InBounds(goal) {
		return Result{}, fmt.Errorf("%w: goal %v on %dx%d grid", ErrOutOfBounds, goal, g.Rows(), g.Cols())
	}
	if start == goal {
		return Result{Path: []world.Cell{start}, Found: true}, nil
	}
	if !g.Walkable(goal) {
		return Result{}, nil
	}
	if opts.Exhaustive && !reachable(g, start, goal, moves) {
		// Without pruning the frontier never drains when the goal is cut off.
		return Result{}, nil
	}

	s := &search{
		grid:  g,
		goal:  goal,
		moves: moves,
		opts:  opts,
		best:  make([]int, g.Len()),
	}
	for i := range s.best {
		s.best[i] = -1
	}
	s.frontier.arena = &s.arena
	return s.run(start)
}

type search struct {
	grid     *world.Grid
	goal     world.Cell
	moves    []world.Move
	opts     Options
	arena    []node
	best     []int // lowest g pushed per cell index, -1 if never pushed
	frontier frontier
	stats    Stats
}

func (s *search) run(start world.Cell) (Result, error) {
	s.push(start, 0, -1)

	for s.frontier.Len() > 0 {
		i := heap.Pop(&s.frontier).(int32)
		cur := s.arena[i]
		if cur.cell == s.goal {
			return Result{Path: s.trace(i), Found: true, Stats: s.stats}, nil
		}

		s.stats.Expanded++
		if s.opts.MaxExpansions > 0 && s.stats.Expanded > s.opts.MaxExpansions {
			return Result{Stats: s.stats}, fmt.Errorf("%w: %d expansions toward %v",
				ErrSearchLimit, s.opts.MaxExpansions, s.goal)
		}

		for _, m := range s.moves {
			next := cur.cell.Add(m)
			if !s.grid.Walkable(next) {
				continue
			}
			s.push(next, cur.g+1, i)
		}
	}
	return Result{Stats: s.stats}, nil
}

func (s *search) push(c world.Cell, g int, parent int32) {
	idx := s.grid.Index(c)
	if !s.opts.Exhaustive {
		if b := s.best[idx]; b >= 0 && b <= g {
			return
		}
		s.best[idx] = g
	}
	s.arena = append(s.arena, node{
		cell:   c,
		g:      g,
		f:      g + world.Manhattan(c, s.goal),
		parent: parent,
	})
	heap.Push(&s.frontier, int32(len(s.arena)-1))
	s.stats.Pushed++
}

func (s *search) trace(i int32) []world.Cell {
	var path []world.Cell
	for ; i >= 0; i = s.arena[i].parent {
		path = append(path, s.arena[i].cell)
	}
	slices.Reverse(path)
	return path
}

// frontier is a min-heap of arena indices ordered by (f, index).
type frontier struct {
	arena *[]node
	items []int32
}

func (q *frontier) Len() int { return len(q.items) }

func (q *frontier) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	fa, fb := (*q.arena)[a].f, (*q.arena)[b].f
	if fa != fb {
		return fa < fb
	}
	return a < b
}

func (q *frontier) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *frontier) Push(x any) { q.items = append(q.items, x.(int32)) }

func (q *frontier) Pop() any {
	n := len(q.items)
	x := q.items[n-1]
	q.items = q.items[:n-1]
	return x
}

// reachable reports whether goal can be reached from start with moves.
func reachable(g *world.Grid, start, goal world.Cell, moves []world.Move) bool {
	dg := g.DirectedGraph(moves)
	from := simple.Node(g.Index(start))
	if dg.Node(from.ID()) == nil {
		// An obstacle start has no node; link it to its open neighbours.
		dg.AddNode(from)
		for _, m := range moves {
			if n := start.Add(m); g.Walkable(n) {
				dg.SetEdge(dg.NewEdge(from, simple.Node(g.Index(n))))
			}
		}
	}
	return topo.PathExistsIn(dg, from, simple.Node(g.Index(goal)))
}
