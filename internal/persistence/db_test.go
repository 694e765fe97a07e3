package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordRequiresRun(t *testing.T) {
	db := openDB(t)
	err := db.Record(1, []engine.Event{{Tick: 1}})
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestRecordAndQuery(t *testing.T) {
	db := openDB(t)
	id, err := db.StartRun(RunInfo{Seed: 42, ArrivalRate: 1.6, Mode: "batch"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pos := world.Cell{Row: 11, Col: 15}
	require.NoError(t, db.Record(1, []engine.Event{
		{Tick: 1, Timestamp: "07:01:00", CustomerID: 1, Name: "Ada Weber", Zone: markov.ZoneEntrance, Position: &pos},
		{Tick: 1, Timestamp: "07:01:00", CustomerID: 2, Name: "Ben Vogel", Zone: markov.ZoneEntrance},
	}))
	require.NoError(t, db.Record(2, []engine.Event{
		{Tick: 2, Timestamp: "07:02:00", CustomerID: 1, Name: "Ada Weber", Zone: markov.ZoneDairy, Position: &pos},
	}))
	require.NoError(t, db.Record(3, nil))

	recent, err := db.RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, markov.ZoneDairy, recent[0].Zone)
	assert.Equal(t, uint64(2), recent[0].Tick)
	assert.Nil(t, recent[1].Position)

	trail, err := db.CustomerTrail(1)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, []markov.Zone{markov.ZoneEntrance, markov.ZoneDairy}, []markov.Zone{trail[0].Zone, trail[1].Zone})
	assert.Equal(t, pos, *trail[1].Position)
	assert.Equal(t, "07:02:00", trail[1].Timestamp)

	counts, err := db.ZoneCounts(1)
	require.NoError(t, err)
	assert.Equal(t, map[markov.Zone]int{markov.ZoneEntrance: 2}, counts)

	latest, err := db.ZoneCounts(0)
	require.NoError(t, err)
	assert.Equal(t, map[markov.Zone]int{markov.ZoneDairy: 1}, latest)
}

func TestRunsAndMeta(t *testing.T) {
	db := openDB(t)
	_, err := db.StartRun(RunInfo{Seed: 1, ArrivalRate: 0.5, Mode: "live"})
	require.NoError(t, err)
	require.NoError(t, db.SaveMeta("layout", "default"))
	require.NoError(t, db.SaveMeta("layout", "generated"))
	v, err := db.GetMeta("layout")
	require.NoError(t, err)
	assert.Equal(t, "generated", v)

	require.NoError(t, db.FinishRun(15, engine.Stats{Spawned: 20, Exited: 3}))
	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunID(), runs[0].ID)
	assert.Equal(t, int64(15), runs[0].Ticks)
	assert.Equal(t, int64(20), runs[0].Spawned)
	assert.True(t, runs[0].FinishedAt.Valid)
}

func TestSimulationWritesToStore(t *testing.T) {
	db := openDB(t)
	_, err := db.StartRun(RunInfo{Seed: 42, ArrivalRate: 1.6, Mode: "batch"})
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	mem := engine.NewMemorySink(0)
	sim, err := engine.NewSimulation(cfg, markov.Default(), world.DefaultFloorPlan(), engine.MultiSink{db, mem})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(uint64(cfg.Seed)))
	for i := 0; i < cfg.Ticks; i++ {
		_, err := sim.Tick(rng)
		require.NoError(t, err)
	}

	all := mem.Events()
	stored, err := db.RecentEvents(len(all) + 10)
	require.NoError(t, err)
	require.Len(t, stored, len(all))
	for i := range all {
		assert.Equal(t, all[len(all)-1-i], stored[i])
	}
}
