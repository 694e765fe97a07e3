// Customer spawning: sequential ids and generated names.
package agents

import (
	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

// Spawner creates customers with sequential ids. Names come from the
// spawner's own generator so that naming never consumes simulation
// randomness.
type Spawner struct {
	rng    *rand.Rand
	nextID CustomerID
}

// NewSpawner creates a customer spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(uint64(seed) + 300)),
		nextID: 1,
	}
}

// NextID returns the id the next customer will get.
func (s *Spawner) NextID() CustomerID {
	return s.nextID
}

// Spawn creates one customer in zone initial. A visit ends in terminal.
// entry may be nil for zone-only simulations.
func (s *Spawner) Spawn(initial, terminal markov.Zone, entry *world.Cell, tick uint64) *Customer {
	id := s.nextID
	s.nextID++

	c := &Customer{
		ID:          id,
		Name:        s.generateName(),
		Zone:        initial,
		EnteredTick: tick,
		terminal:    terminal,
	}
	if entry != nil {
		p := *entry
		c.Position = &p
	}
	return c
}

// SpawnBatch creates count customers.
func (s *Spawner) SpawnBatch(count int, initial, terminal markov.Zone, entry *world.Cell, tick uint64) []*Customer {
	out := make([]*Customer, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, s.Spawn(initial, terminal, entry, tick))
	}
	return out
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

// Name pools for generated shoppers.
var firstNames = []string{
	"Ada", "Ben", "Carla", "Dev", "Elif", "Farid", "Greta", "Hannes",
	"Ines", "Jonas", "Kemal", "Lotte", "Mila", "Noah", "Olga", "Paul",
	"Rosa", "Sami", "Tilda", "Umut", "Vera", "Wim", "Yusuf", "Zoe",
	"Anouk", "Bruno", "Clara", "Dario", "Emma", "Fynn", "Hedda", "Ivo",
}

var lastNames = []string{
	"Albrecht", "Berger", "Costa", "Demir", "Engel", "Fischer", "Graf",
	"Hoffmann", "Iversen", "Jansen", "Kaya", "Lorenz", "Meyer", "Novak",
	"Olsen", "Peters", "Quast", "Richter", "Schulz", "Toprak", "Ulrich",
	"Vogel", "Weber", "Yilmaz", "Zimmermann", "Brandt", "Krause", "Seidel",
}
