package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/pathfind"
	"github.com/talgya/mini-market/internal/world"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds simulation parameters.
type Config struct {
	Seed        int64
	ArrivalRate float64 // mean arrivals per tick (Poisson λ)
	Ticks       int     // batch length
	DwellTicks  int     // ticks spent in place before walking to the next zone
	OpeningHour int
	Moves       []world.Move
	EmitEvents  bool
	Search      pathfind.Options
}

// DefaultConfig returns the fifteen-minute batch setup.
func DefaultConfig() Config {
	return Config{
		Seed:        42,
		ArrivalRate: 1.6,
		Ticks:       15,
		DwellTicks:  agents.DefaultDwellTicks,
		OpeningHour: 7,
		Moves:       world.FourNeighbour,
		EmitEvents:  true,
	}
}

// LiveConfig returns a full trading day with the trickle of arrivals used
// for watching the store in real time.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 0.02
	cfg.Ticks = 15 * TicksPerSimHour
	return cfg
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.ArrivalRate < 0:
		return fmt.Errorf("%w: arrival rate %v is negative", ErrInvalidConfig, c.ArrivalRate)
	case c.Ticks < 0:
		return fmt.Errorf("%w: ticks %d is negative", ErrInvalidConfig, c.Ticks)
	case c.DwellTicks < 0:
		return fmt.Errorf("%w: dwell ticks %d is negative", ErrInvalidConfig, c.DwellTicks)
	case c.OpeningHour < 0 || c.OpeningHour > 23:
		return fmt.Errorf("%w: opening hour %d", ErrInvalidConfig, c.OpeningHour)
	}
	return nil
}
