// Customer behavior: a Markov walk over zones, turned into walking routes
// when a floor plan is present.
package agents

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/pathfind"
	"github.com/talgya/mini-market/internal/world"
)

// ErrUnreachable is returned when no route leads to the chosen target.
// The customer keeps its zone and position and tries again next tick.
var ErrUnreachable = errors.New("target unreachable")

// DefaultDwellTicks is how long a customer lingers before walking on.
const DefaultDwellTicks = 20

// Env is everything a customer consults to advance.
type Env struct {
	Model *markov.Model

	// Plan is nil for zone-only simulations, which have no positions or
	// routes.
	Plan       *world.FloorPlan
	Moves      []world.Move
	DwellTicks int
	Search     pathfind.Options
}

// Advance moves the customer forward by one tick.
//
// With a route in hand the next cell is taken. Otherwise the next zone is
// drawn, a target cell inside it is picked and a route is planned, preceded
// by DwellTicks copies of the current cell. All randomness comes from rng.
func (c *Customer) Advance(env Env, rng *rand.Rand) error {
	if !c.Active() {
		return nil
	}

	if len(c.Route) > 0 {
		next := c.Route[0]
		c.Route = c.Route[1:]
		c.Position = &next
		return nil
	}

	zone, err := env.Model.Sample(c.Zone, rng)
	if err != nil {
		return fmt.Errorf("customer %d: %w", c.ID, err)
	}

	if env.Plan == nil {
		c.enter(zone)
		return nil
	}

	from := env.Plan.Entry
	if c.Position != nil {
		from = *c.Position
	}

	area, ok := env.Plan.Area(zone)
	if !ok {
		c.enter(zone)
		c.Position = &from
		c.Route = dwell(from, env.DwellTicks)
		return nil
	}

	target := pickTarget(area, rng)
	moves := env.Moves
	if len(moves) == 0 {
		moves = world.FourNeighbour
	}
	res, err := pathfind.FindPathWith(env.Plan.Grid, from, target, moves, env.Search)
	if err != nil {
		return fmt.Errorf("customer %d route to %s %v: %w", c.ID, zone, target, err)
	}
	if !res.Found {
		c.Stalled++
		return fmt.Errorf("%w: customer %d from %v to %s %v", ErrUnreachable, c.ID, from, zone, target)
	}

	c.enter(zone)
	c.Position = &from
	c.Route = append(dwell(from, env.DwellTicks), res.Path...)
	return nil
}

func (c *Customer) enter(z markov.Zone) {
	if z != c.Zone {
		c.Stops++
	}
	c.Zone = z
}

// pickTarget draws a cell uniformly from the area: column first, then row,
// then the lane.
func pickTarget(a world.Area, rng *rand.Rand) world.Cell {
	r := a.Rect
	col := r.MinCol + rng.Intn(r.MaxCol-r.MinCol+1)
	row := r.MinRow + rng.Intn(r.MaxRow-r.MinRow+1)
	if a.LaneCount() > 1 {
		col += a.LaneStride * rng.Intn(a.LaneCount())
	}
	return world.Cell{Row: row, Col: col}
}

func dwell(c world.Cell, ticks int) []world.Cell {
	if ticks <= 0 {
		return nil
	}
	out := make([]world.Cell, ticks)
	for i := range out {
		out[i] = c
	}
	return out
}
