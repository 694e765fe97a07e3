// Package agents provides the customer data model, the zone-to-zone
// advancement state machine, and the id-issuing spawner.
package agents

import (
	"fmt"

	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

// CustomerID is a unique, monotonically issued identifier.
type CustomerID uint64

// Customer is one shopper moving through the store.
type Customer struct {
	ID   CustomerID  `json:"id"`
	Name string      `json:"name"`
	Zone markov.Zone `json:"zone"`

	// Position is nil when the simulation runs without a floor plan.
	Position *world.Cell `json:"position,omitempty"`

	// Route holds the cells still to be walked, head first. Dwell ticks
	// appear as repeats of the current cell.
	Route []world.Cell `json:"-"`

	Stalled     int    `json:"stalled"`      // failed route attempts
	Stops       int    `json:"stops"`        // zones entered after the initial one
	EnteredTick uint64 `json:"entered_tick"` // tick the customer arrived

	terminal markov.Zone
}

// Active reports whether the customer is still in the store: either not
// yet in the terminal zone, or still walking toward it.
func (c *Customer) Active() bool {
	return c.Zone != c.terminal || len(c.Route) > 0
}

// RouteLen returns the number of cells left to walk.
func (c *Customer) RouteLen() int { return len(c.Route) }

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Customer) Clone() *Customer {
	out := *c
	if c.Position != nil {
		p := *c.Position
		out.Position = &p
	}
	if c.Route != nil {
		out.Route = make([]world.Cell, len(c.Route))
		copy(out.Route, c.Route)
	}
	return &out
}

func (c *Customer) String() string {
	return fmt.Sprintf("Customer %s (id %d) is in %s", c.Name, c.ID, c.Zone)
}
