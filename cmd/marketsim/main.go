// Command marketsim runs the supermarket customer simulation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"

	"github.com/talgya/mini-market/internal/api"
	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/eventlog"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/persistence"
	"github.com/talgya/mini-market/internal/world"
)

func main() {
	slog.SetDefault(newLogger(envOrDefault("MARKETSIM_LOG_FORMAT", "text"), envOrDefault("MARKETSIM_LOG_LEVEL", "info")))

	opts, err := loadOptions()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	cfg := opts.Config

	slog.Info("mini-market starting",
		"mode", opts.Mode,
		"seed", cfg.Seed,
		"arrival_rate", cfg.ArrivalRate,
		"ticks", cfg.Ticks,
		"dwell", cfg.DwellTicks,
	)

	// ── Transition model ──────────────────────────────────────────────
	model := markov.Default()
	if opts.MatrixPath != "" {
		model, err = markov.LoadFile(opts.MatrixPath, markov.ZoneEntrance, markov.ZoneExit)
		if err != nil {
			slog.Error("failed to load transition matrix", "path", opts.MatrixPath, "error", err)
			os.Exit(1)
		}
		slog.Info("transition matrix loaded", "path", opts.MatrixPath, "zones", len(model.Zones()))
	}

	// ── Floor plan ────────────────────────────────────────────────────
	var plan *world.FloorPlan
	if opts.Mode != modeZones {
		plan, err = buildPlan(opts.Layout, cfg.Seed)
		if err != nil {
			slog.Error("failed to build floor plan", "layout", opts.Layout, "error", err)
			os.Exit(1)
		}
		slog.Info("floor plan ready",
			"layout", opts.Layout,
			"rows", plan.Grid.Rows(),
			"cols", plan.Grid.Cols(),
			"walkable", plan.Grid.WalkableCount(),
			"zones", len(plan.Areas),
		)
	}

	// ── Sinks ─────────────────────────────────────────────────────────
	recent := engine.NewMemorySink(2000)
	sinks := engine.MultiSink{recent}

	var db *persistence.DB
	if opts.DBPath != "" {
		db, err = persistence.Open(opts.DBPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if _, err := db.StartRun(persistence.RunInfo{Seed: cfg.Seed, ArrivalRate: cfg.ArrivalRate, Mode: opts.Mode}); err != nil {
			slog.Error("failed to start run", "error", err)
			os.Exit(1)
		}
		meta := [][2]string{
			{"layout", opts.Layout},
			{"matrix", envOrDefault("MARKETSIM_MATRIX", "embedded")},
		}
		for _, kv := range meta {
			if err := db.SaveMeta(kv[0], kv[1]); err != nil {
				slog.Warn("failed to save run metadata", "key", kv[0], "error", err)
			}
		}
		sinks = append(sinks, db)
		slog.Info("database opened", "path", opts.DBPath)
	}

	var logWriter *eventlog.Writer
	if opts.EventLogPath != "" {
		logWriter, err = eventlog.Create(opts.EventLogPath, eventlog.Header{
			Seed:        cfg.Seed,
			ArrivalRate: cfg.ArrivalRate,
			Layout:      opts.Layout,
			OpeningHour: cfg.OpeningHour,
		})
		if err != nil {
			slog.Error("failed to create event log", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, logWriter)
	}

	var csvWriter *eventlog.CSVWriter
	if opts.CSVPath != "" {
		csvWriter, err = eventlog.CreateCSV(opts.CSVPath)
		if err != nil {
			slog.Error("failed to create csv log", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, csvWriter)
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(cfg, model, plan, sinks)
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	rng := rand.New(rand.NewSource(uint64(cfg.Seed)))

	eng := engine.NewEngine()
	eng.Interval = opts.Interval
	eng.OnHour = sim.ReportHour

	var bar *progressbar.ProgressBar
	if opts.Mode != modeLive {
		bar = progressbar.Default(int64(cfg.Ticks), "simulating")
	}
	eng.OnTick = func(tick uint64) error {
		report, err := sim.Tick(rng)
		if err != nil {
			return err
		}
		if bar != nil {
			bar.Add(1)
		}
		if report.Failed > 0 {
			slog.Warn("customers failed to advance", "tick", tick, "failed", report.Failed)
		}
		if opts.Mode == modeLive && int(tick) >= cfg.Ticks {
			eng.Stop()
		}
		return nil
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if opts.Port > 0 {
		if opts.AdminKey == "" {
			slog.Warn("MARKETSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Sim:      sim,
			Eng:      eng,
			DB:       db,
			Recent:   recent,
			Port:     opts.Port,
			AdminKey: opts.AdminKey,
		}
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	if apiServer != nil {
		srv := apiServer.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", opts.Port)
	}

	start := time.Now()
	if opts.Mode == modeLive {
		fmt.Println("Store is open... (Ctrl+C to close)")
		err = eng.Run(ctx)
	} else {
		err = eng.RunTicks(ctx, cfg.Ticks)
		if bar != nil {
			bar.Finish()
		}
	}
	runErr := err

	// ── Shutdown ──────────────────────────────────────────────────────
	var closeErrs []error
	if logWriter != nil {
		closeErrs = append(closeErrs, logWriter.Close())
	}
	if csvWriter != nil {
		closeErrs = append(closeErrs, csvWriter.Close())
	}
	if db != nil {
		closeErrs = append(closeErrs, db.FinishRun(sim.CurrentTick(), sim.Stats()))
	}
	if err := errors.Join(closeErrs...); err != nil {
		slog.Error("failed to close sinks", "error", err)
	}

	printSummary(sim, time.Since(start))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("simulation failed", "error", runErr)
		os.Exit(1)
	}
}

// buildPlan returns the floor plan for the layout name.
func buildPlan(layout string, seed int64) (*world.FloorPlan, error) {
	switch layout {
	case layoutDefault:
		return world.DefaultFloorPlan(), nil
	case layoutGenerated:
		cfg := world.DefaultClutterConfig()
		cfg.Seed = seed
		return world.GenerateFloorPlan(world.DefaultFloorPlan(), cfg)
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}
}

func printSummary(sim *engine.Simulation, elapsed time.Duration) {
	snap := sim.Snapshot()
	stats := snap.Stats

	fmt.Printf("\nStore closed at %s after %s ticks (%s).\n",
		snap.Timestamp, humanize.Comma(int64(snap.Tick)), elapsed.Round(time.Millisecond))
	fmt.Printf("  customers served:  %s\n", humanize.Comma(int64(stats.Spawned)))
	fmt.Printf("  left the store:    %s\n", humanize.Comma(int64(stats.Exited)))
	fmt.Printf("  still inside:      %s\n", humanize.Comma(int64(len(snap.Customers))))
	fmt.Printf("  peak population:   %s\n", humanize.Comma(int64(stats.PeakPopulation)))
	fmt.Printf("  events recorded:   %s\n", humanize.Comma(int64(stats.Events)))
	if stats.Stalls > 0 || stats.Failures > 0 {
		fmt.Printf("  stalls / failures: %d / %d\n", stats.Stalls, stats.Failures)
	}

	if len(snap.Customers) == 0 {
		return
	}

	// Observed zones of the customers still inside against the chain's
	// occupancy after the average time spent in the store.
	var inside uint64
	byZone := make(map[markov.Zone]int)
	for _, c := range snap.Customers {
		byZone[c.Zone]++
		inside += snap.Tick - c.EnteredTick
	}
	steps := int(inside / uint64(len(snap.Customers)))
	if dwell := sim.Config().DwellTicks; dwell > 0 && sim.Plan() != nil {
		steps /= dwell
	}
	expected := sim.Model().Occupancy(steps)

	zones := sim.Model().Zones()
	sort.Slice(zones, func(i, j int) bool { return byZone[zones[i]] > byZone[zones[j]] })
	fmt.Println("\n  zone        inside   chain occupancy")
	for _, z := range zones {
		fmt.Printf("  %-10s %7d   %5.1f%%\n", z, byZone[z], 100*expected[z])
	}
}
