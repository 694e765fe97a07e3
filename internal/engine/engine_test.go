package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

var update = flag.Bool("update", false, "rewrite golden files")

func newSim(t *testing.T, cfg Config, plan *world.FloorPlan, sink Sink) *Simulation {
	t.Helper()
	sim, err := NewSimulation(cfg, markov.Default(), plan, sink)
	require.NoError(t, err)
	return sim
}

func TestClockTimestamp(t *testing.T) {
	c := NewClock(7)
	tests := []struct {
		tick uint64
		want string
	}{
		{0, "07:00:00"},
		{1, "07:01:00"},
		{59, "07:59:00"},
		{61, "08:01:00"},
		{15 * 60, "22:00:00"},
		{17 * 60, "00:00:00"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.tick), func(t *testing.T) {
			assert.Equal(t, tt.want, c.Timestamp(tt.tick))
		})
	}

	assert.Equal(t, uint64(1), c.Advance())
	assert.Equal(t, "07:01:00", c.Now())
	assert.Equal(t, 7*time.Hour+time.Minute, c.TimeOfDay(1))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, LiveConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative_rate", func(c *Config) { c.ArrivalRate = -1 }},
		{"negative_ticks", func(c *Config) { c.Ticks = -1 }},
		{"negative_dwell", func(c *Config) { c.DwellTicks = -1 }},
		{"opening_hour", func(c *Config) { c.OpeningHour = 24 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestPoissonArrivalMean(t *testing.T) {
	sim := newSim(t, DefaultConfig(), world.DefaultFloorPlan(), nil)
	rng := rand.New(rand.NewSource(1))
	const n = 20000
	total := 0
	for i := 0; i < n; i++ {
		total += sim.arrivals(rng)
	}
	assert.InDelta(t, 1.6, float64(total)/n, 0.05)
}

func TestZeroArrivalRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 0
	sim := newSim(t, cfg, world.DefaultFloorPlan(), nil)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		_, err := sim.Tick(rng)
		require.NoError(t, err)
	}
	assert.Zero(t, sim.Population())
	assert.Zero(t, sim.Stats().Spawned)
}

func TestSpawnStartsAtEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 8
	plan := world.DefaultFloorPlan()
	sim := newSim(t, cfg, plan, nil)

	batch := sim.Spawn(rand.New(rand.NewSource(2)))
	require.NotEmpty(t, batch)
	for i, c := range batch {
		assert.Equal(t, batch[0].ID+agents.CustomerID(i), c.ID)
		assert.Equal(t, markov.ZoneEntrance, c.Zone)
		assert.Equal(t, plan.Entry, *c.Position)
		assert.Empty(t, c.Route)
	}
	assert.Equal(t, len(batch), sim.Population())
}

func TestPruneRemovesTerminalCustomers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 8
	sim := newSim(t, cfg, world.DefaultFloorPlan(), nil)

	batch := sim.Spawn(rand.New(rand.NewSource(3)))
	require.GreaterOrEqual(t, len(batch), 2)

	batch[0].Zone = markov.ZoneExit
	batch[1].Zone = markov.ZoneExit
	batch[1].Route = []world.Cell{{Row: 11, Col: 4}}

	assert.Equal(t, 1, sim.Prune())
	assert.Equal(t, len(batch)-1, sim.Population())
	assert.Equal(t, 0, sim.Prune(), "prune must be idempotent")
	assert.Equal(t, len(batch)-1, sim.Population())
	assert.Equal(t, 1, sim.Stats().Exited)
}

func TestTickIsolatesCustomerFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 8
	sink := NewMemorySink(0)
	sim := newSim(t, cfg, world.DefaultFloorPlan(), sink)
	rng := rand.New(rand.NewSource(4))

	batch := sim.Spawn(rng)
	require.GreaterOrEqual(t, len(batch), 2)
	batch[0].Zone = "bakery"

	report, err := sim.Tick(rng)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, len(batch)-1, report.Moved)
	assert.Equal(t, 1, sim.Stats().Failures)

	// The failing customer is still reported.
	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, batch[0].ID, events[0].CustomerID)
	assert.Equal(t, markov.Zone("bakery"), events[0].Zone)
}

func TestTickReturnsSinkErrors(t *testing.T) {
	boom := errors.New("disk full")
	sim := newSim(t, DefaultConfig(), world.DefaultFloorPlan(), SinkFunc(func(uint64, []Event) error {
		return boom
	}))
	_, err := sim.Tick(rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, boom)
}

func TestTickOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 3
	sink := NewMemorySink(0)
	sim := newSim(t, cfg, world.DefaultFloorPlan(), sink)
	rng := rand.New(rand.NewSource(5))

	r1, err := sim.Tick(rng)
	require.NoError(t, err)
	assert.Zero(t, r1.Moved, "nobody is in the store before the first arrivals")
	assert.Equal(t, r1.Spawned, r1.Events)
	for _, e := range sink.Events() {
		assert.Equal(t, "07:01:00", e.Timestamp)
		assert.Equal(t, markov.ZoneEntrance, e.Zone)
	}

	r2, err := sim.Tick(rng)
	require.NoError(t, err)
	assert.Equal(t, r1.Population, r2.Moved)
	assert.Equal(t, r1.Population+r2.Spawned, r2.Events)
	assert.Equal(t, uint64(2), sim.CurrentTick())
}

func TestRunReproducible(t *testing.T) {
	run := func() ([]Event, Stats) {
		cfg := DefaultConfig()
		cfg.Ticks = 120
		sink := NewMemorySink(0)
		sim := newSim(t, cfg, world.DefaultFloorPlan(), sink)
		rng := rand.New(rand.NewSource(uint64(cfg.Seed)))
		for i := 0; i < cfg.Ticks; i++ {
			_, err := sim.Tick(rng)
			require.NoError(t, err)
		}
		return sink.Events(), sim.Stats()
	}

	e1, s1 := run()
	e2, s2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, e1, e2)
	assert.Greater(t, s1.Spawned, 0)
}

func TestLongRunKeepsCustomersOnTheFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 0.5
	plan := world.DefaultFloorPlan()
	sink := NewMemorySink(0)
	sim := newSim(t, cfg, plan, sink)
	rng := rand.New(rand.NewSource(6))

	for i := 0; i < 600; i++ {
		_, err := sim.Tick(rng)
		require.NoError(t, err)
	}
	for _, e := range sink.Events() {
		require.NotNil(t, e.Position)
		require.True(t, plan.Grid.Walkable(*e.Position), "event %+v", e)
	}
	stats := sim.Stats()
	assert.Greater(t, stats.Exited, 0)
	assert.Zero(t, stats.Stalls)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, stats.Spawned-stats.Exited, sim.Population())
}

func TestZoneOnlyRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 2
	sink := NewMemorySink(0)
	sim := newSim(t, cfg, nil, sink)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 60; i++ {
		_, err := sim.Tick(rng)
		require.NoError(t, err)
	}
	events := sink.Events()
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Nil(t, e.Position)
	}
	assert.Greater(t, sim.Stats().Exited, 0)
}

func TestSnapshotIsACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 8
	sim := newSim(t, cfg, world.DefaultFloorPlan(), nil)
	batch := sim.Spawn(rand.New(rand.NewSource(8)))
	require.NotEmpty(t, batch)

	snap := sim.Snapshot()
	require.Len(t, snap.Customers, len(batch))
	snap.Customers[0].Zone = markov.ZoneExit
	snap.Customers[0].Position.Row = 0
	assert.Equal(t, markov.ZoneEntrance, batch[0].Zone)
	assert.Equal(t, 11, batch[0].Position.Row)
}

func TestNewSimulationRejectsBadInput(t *testing.T) {
	_, err := NewSimulation(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)

	bad := world.DefaultFloorPlan()
	bad.Entry = world.Cell{Row: 0, Col: 0}
	_, err = NewSimulation(DefaultConfig(), markov.Default(), bad, nil)
	assert.ErrorIs(t, err, world.ErrInvalidPlan)

	cfg := DefaultConfig()
	cfg.ArrivalRate = -1
	_, err = NewSimulation(cfg, markov.Default(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestBaseline15Ticks pins the event stream of the default fifteen-minute
// batch. Run with -update to rewrite the golden file after an intended
// change.
func TestBaseline15Ticks(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMemorySink(0)
	sim := newSim(t, cfg, world.DefaultFloorPlan(), sink)
	rng := rand.New(rand.NewSource(uint64(cfg.Seed)))
	for i := 0; i < cfg.Ticks; i++ {
		_, err := sim.Tick(rng)
		require.NoError(t, err)
	}

	var b strings.Builder
	for _, e := range sink.Events() {
		fmt.Fprintf(&b, "%s,%d,%s,%s,%v\n", e.Timestamp, e.CustomerID, e.Name, e.Zone, *e.Position)
	}
	snap := sim.Snapshot()
	fmt.Fprintf(&b, "population=%d spawned=%d exited=%d\n",
		len(snap.Customers), snap.Stats.Spawned, snap.Stats.Exited)
	got := b.String()

	golden := filepath.Join("testdata", "baseline_15ticks.golden")
	if *update {
		require.NoError(t, os.MkdirAll("testdata", 0o755))
		require.NoError(t, os.WriteFile(golden, []byte(got), 0o644))
		t.Logf("wrote %s", golden)
		return
	}
	want, err := os.ReadFile(golden)
	require.NoError(t, err, "run with -update to create %s", golden)
	assert.Equal(t, string(want), got)
	assert.True(t, strings.HasSuffix(got, "population=31 spawned=31 exited=0\n"))
}

func TestEngineRunTicks(t *testing.T) {
	e := NewEngine()
	var ticks, hours []uint64
	e.OnTick = func(tick uint64) error {
		ticks = append(ticks, tick)
		return nil
	}
	e.OnHour = func(tick uint64) { hours = append(hours, tick) }

	require.NoError(t, e.RunTicks(context.Background(), 120))
	assert.Len(t, ticks, 120)
	assert.Equal(t, uint64(1), ticks[0])
	assert.Equal(t, []uint64{60, 120}, hours)
	assert.Equal(t, uint64(120), e.Tick())
	assert.False(t, e.Running())
}

func TestEngineStopsOnTickError(t *testing.T) {
	e := NewEngine()
	boom := errors.New("boom")
	e.OnTick = func(tick uint64) error {
		if tick == 3 {
			return boom
		}
		return nil
	}
	err := e.RunTicks(context.Background(), 10)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(3), e.Tick())
}

func TestEngineStop(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Millisecond
	e.OnTick = func(tick uint64) error {
		if tick == 5 {
			e.Stop()
		}
		return nil
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.Tick())

	e2 := NewEngine()
	e2.OnTick = func(tick uint64) error {
		if tick == 2 {
			e2.Stop()
		}
		return nil
	}
	require.NoError(t, e2.RunTicks(context.Background(), 10))
	assert.Equal(t, uint64(2), e2.Tick())
}

func TestEngineStopBeforeStart(t *testing.T) {
	calls := 0
	onTick := func(uint64) error { calls++; return nil }

	e := NewEngine()
	e.Interval = time.Millisecond
	e.OnTick = onTick
	e.Stop()
	require.NoError(t, e.Run(context.Background()))
	assert.Zero(t, e.Tick())
	assert.False(t, e.Running())

	e2 := NewEngine()
	e2.OnTick = onTick
	e2.Stop()
	require.NoError(t, e2.RunTicks(context.Background(), 10))
	assert.Zero(t, e2.Tick())
	assert.Zero(t, calls)
}

func TestEngineContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEngine()
	e.Interval = time.Millisecond
	e.OnTick = func(tick uint64) error {
		if tick == 3 {
			cancel()
		}
		return nil
	}
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, e.Tick(), uint64(3))

	assert.ErrorIs(t, NewEngine().RunTicks(ctx, 5), context.Canceled)
}

func TestEnginePausedUntilStopped(t *testing.T) {
	e := NewEngine()
	e.SetSpeed(0)
	e.OnTick = func(uint64) error { return nil }
	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Stop()
	}()
	require.NoError(t, e.Run(context.Background()))
	assert.Zero(t, e.Tick())
	assert.Equal(t, 0.0, e.Speed())
}
