// Simulation owns the live customers and runs them each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

// Simulation holds the store state and wires customers, model and plan
// together. Tick processing is single-threaded; Snapshot may be called from
// other goroutines.
type Simulation struct {
	cfg     Config
	model   *markov.Model
	plan    *world.FloorPlan // nil for zone-only runs
	sink    Sink
	spawner *agents.Spawner

	mu        sync.RWMutex
	clock     Clock
	customers []*agents.Customer
	stats     Stats
}

// Stats tracks aggregate run statistics.
type Stats struct {
	Spawned        int `json:"spawned"`
	Exited         int `json:"exited"`
	Stalls         int `json:"stalls"`
	Failures       int `json:"failures"`
	PeakPopulation int `json:"peak_population"`
	Events         int `json:"events"`
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick       uint64 `json:"tick"`
	Timestamp  string `json:"timestamp"`
	Moved      int    `json:"moved"`
	Stalled    int    `json:"stalled"`
	Failed     int    `json:"failed"`
	Spawned    int    `json:"spawned"`
	Exited     int    `json:"exited"`
	Population int    `json:"population"`
	Events     int    `json:"events"`
}

// Snapshot is a consistent copy of the population for observers.
type Snapshot struct {
	Tick      uint64             `json:"tick"`
	Timestamp string             `json:"timestamp"`
	Customers []*agents.Customer `json:"customers"`
	Stats     Stats              `json:"stats"`
}

// NewSimulation creates an empty store. plan may be nil for a zone-only
// walk; sink may be nil to discard events.
func NewSimulation(cfg Config, model *markov.Model, plan *world.FloorPlan, sink Sink) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("simulation needs a transition model")
	}
	if plan != nil {
		if err := plan.Validate(); err != nil {
			return nil, err
		}
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Simulation{
		cfg:     cfg,
		model:   model,
		plan:    plan,
		sink:    sink,
		spawner: agents.NewSpawner(cfg.Seed),
		clock:   NewClock(cfg.OpeningHour),
	}, nil
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config { return s.cfg }

// Plan returns the floor plan, nil for zone-only runs.
func (s *Simulation) Plan() *world.FloorPlan { return s.plan }

// Model returns the transition model.
func (s *Simulation) Model() *markov.Model { return s.model }

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Tick
}

// Population returns the number of customers in the store.
func (s *Simulation) Population() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customers)
}

// Stats returns the run statistics so far.
func (s *Simulation) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Snapshot returns deep copies of all customers.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Tick:      s.clock.Tick,
		Timestamp: s.clock.Now(),
		Customers: make([]*agents.Customer, len(s.customers)),
		Stats:     s.stats,
	}
	for i, c := range s.customers {
		out.Customers[i] = c.Clone()
	}
	return out
}

// Tick runs one minute: the clock advances, every active customer advances
// once, arrivals enter, events are recorded and departed customers are
// pruned. A customer that fails to advance is logged and skipped; the only
// error returned is a sink failure.
func (s *Simulation) Tick(rng *rand.Rand) (TickReport, error) {
	s.mu.Lock()
	tick := s.clock.Advance()
	report := TickReport{Tick: tick, Timestamp: s.clock.Timestamp(tick)}

	env := s.env()
	for _, c := range s.customers {
		if !c.Active() {
			continue
		}
		err := c.Advance(env, rng)
		switch {
		case err == nil:
			report.Moved++
		case errors.Is(err, agents.ErrUnreachable):
			report.Stalled++
			slog.Debug("customer stalled", "tick", tick, "customer", c.ID, "stalled", c.Stalled, "error", err)
		default:
			report.Failed++
			slog.Warn("customer advance failed", "tick", tick, "customer", c.ID, "zone", c.Zone, "error", err)
		}
	}

	report.Spawned = len(s.spawnLocked(rng, tick))

	var events []Event
	if s.cfg.EmitEvents {
		events = s.eventsLocked(tick, report.Timestamp)
	}
	report.Events = len(events)

	report.Exited = s.pruneLocked()
	report.Population = len(s.customers)

	s.stats.Stalls += report.Stalled
	s.stats.Failures += report.Failed
	s.stats.Events += report.Events
	s.mu.Unlock()

	if s.cfg.EmitEvents {
		if err := s.sink.Record(tick, events); err != nil {
			return report, fmt.Errorf("record tick %d: %w", tick, err)
		}
	}
	return report, nil
}

func (s *Simulation) env() agents.Env {
	return agents.Env{
		Model:      s.model,
		Plan:       s.plan,
		Moves:      s.cfg.Moves,
		DwellTicks: s.cfg.DwellTicks,
		Search:     s.cfg.Search,
	}
}

func (s *Simulation) eventsLocked(tick uint64, ts string) []Event {
	events := make([]Event, 0, len(s.customers))
	for _, c := range s.customers {
		e := Event{
			Tick:       tick,
			Timestamp:  ts,
			CustomerID: c.ID,
			Name:       c.Name,
			Zone:       c.Zone,
		}
		if c.Position != nil {
			p := *c.Position
			e.Position = &p
		}
		events = append(events, e)
	}
	return events
}

// ReportHour logs an hourly summary of the store.
func (s *Simulation) ReportHour(tick uint64) {
	snap := s.Snapshot()
	byZone := make(map[markov.Zone]int)
	for _, c := range snap.Customers {
		byZone[c.Zone]++
	}

	attrs := []any{
		"tick", tick,
		"time", snap.Timestamp,
		"in_store", humanize.Comma(int64(len(snap.Customers))),
		"spawned", humanize.Comma(int64(snap.Stats.Spawned)),
		"exited", humanize.Comma(int64(snap.Stats.Exited)),
		"stalls", snap.Stats.Stalls,
		"failures", snap.Stats.Failures,
	}
	for _, z := range s.model.Zones() {
		if n := byZone[z]; n > 0 {
			attrs = append(attrs, "zone_"+string(z), n)
		}
	}
	slog.Info("hourly report", attrs...)
}
