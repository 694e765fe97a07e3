// Population dynamics: Poisson arrivals at the entrance and removal of
// customers who have left.
package engine

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/world"
)

// Spawn adds this tick's arrivals at the initial zone and entry cell and
// returns them. New customers do not move until the next tick.
func (s *Simulation) Spawn(rng *rand.Rand) []*agents.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked(rng, s.clock.Tick)
}

// Prune removes every inactive customer and returns how many left.
// Calling it again without a tick in between removes nothing.
func (s *Simulation) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

// arrivals draws the number of customers entering this tick.
func (s *Simulation) arrivals(rng *rand.Rand) int {
	if s.cfg.ArrivalRate <= 0 {
		return 0
	}
	p := distuv.Poisson{Lambda: s.cfg.ArrivalRate, Src: rng}
	return int(p.Rand())
}

func (s *Simulation) spawnLocked(rng *rand.Rand, tick uint64) []*agents.Customer {
	n := s.arrivals(rng)
	if n == 0 {
		return nil
	}
	var entry *world.Cell
	if s.plan != nil {
		entry = &s.plan.Entry
	}
	batch := s.spawner.SpawnBatch(n, s.model.Initial(), s.model.Terminal(), entry, tick)
	s.customers = append(s.customers, batch...)
	s.stats.Spawned += n
	if len(s.customers) > s.stats.PeakPopulation {
		s.stats.PeakPopulation = len(s.customers)
	}
	return batch
}

func (s *Simulation) pruneLocked() int {
	kept := s.customers[:0]
	for _, c := range s.customers {
		if c.Active() {
			kept = append(kept, c)
		}
	}
	removed := len(s.customers) - len(kept)
	clear(s.customers[len(kept):])
	s.customers = kept
	s.stats.Exited += removed
	return removed
}
