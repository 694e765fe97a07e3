// Package engine provides the store clock, the tick loop, and the
// population manager that advances customers every tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TicksPerSimHour is the number of one-minute ticks in a sim-hour.
const TicksPerSimHour = 60

// Clock maps tick numbers to a time of day. Tick 0 is the opening time and
// every tick is one minute.
type Clock struct {
	Tick          uint64
	OpeningHour   int
	OpeningMinute int
}

// NewClock returns a clock at tick 0 opening at hour:00.
func NewClock(openingHour int) Clock {
	return Clock{OpeningHour: openingHour}
}

// Advance moves the clock one tick forward and returns the new tick.
func (c *Clock) Advance() uint64 {
	c.Tick++
	return c.Tick
}

// TimeOfDay returns the offset from midnight at the given tick.
func (c Clock) TimeOfDay(tick uint64) time.Duration {
	opening := time.Duration(c.OpeningHour)*time.Hour + time.Duration(c.OpeningMinute)*time.Minute
	d := opening + time.Duration(tick)*time.Minute
	return d % (24 * time.Hour)
}

// Timestamp formats the time of day at tick as HH:MM:00.
func (c Clock) Timestamp(tick uint64) string {
	d := c.TimeOfDay(tick)
	return fmt.Sprintf("%02d:%02d:00", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Now formats the current tick.
func (c Clock) Now() string {
	return c.Timestamp(c.Tick)
}

// Engine drives ticks, either paced in real time or as fast as possible.
type Engine struct {
	Interval time.Duration // base tick interval at speed 1

	// Callbacks, populated during setup. An OnTick error stops the loop.
	OnTick func(tick uint64) error
	OnHour func(tick uint64) // every 60 ticks

	tick    atomic.Uint64
	running atomic.Bool
	stopped atomic.Bool // set by Stop, never cleared
	wake    chan struct{}

	mu    sync.Mutex
	speed float64 // 1.0 = real time, 0 = paused
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
		wake:     make(chan struct{}, 1),
	}
}

// Tick returns the number of ticks run so far.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// Running reports whether a loop is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Speed returns the pacing multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the pacing multiplier. Zero or less pauses Run.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	e.poke()
}

// Run ticks in real time until Stop is called, ctx is done, or OnTick
// fails. Stop yields a nil error, also when it came before Run.
func (e *Engine) Run(ctx context.Context) error {
	if !e.start() {
		slog.Info("simulation engine stopped before start", "tick", e.Tick())
		return nil
	}
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())

	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			if err := e.sleep(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		if err := e.step(); err != nil {
			return err
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			if err := e.sleep(ctx, target-elapsed); err != nil {
				return err
			}
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick())
	return nil
}

// RunTicks runs n ticks back to back. It returns early when Stop is called
// or ctx is done.
func (e *Engine) RunTicks(ctx context.Context, n int) error {
	if !e.start() {
		return nil
	}
	defer e.running.Store(false)

	for i := 0; i < n && e.running.Load(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the running loop after the current tick. A stopped engine
// does not run again.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.running.Store(false)
	e.poke()
}

// start marks the loop as running unless Stop was already called.
func (e *Engine) start() bool {
	if e.stopped.Load() {
		return false
	}
	e.running.Store(true)
	if e.stopped.Load() {
		e.running.Store(false)
		return false
	}
	return true
}

// step advances the simulation by one tick.
func (e *Engine) step() error {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		if err := e.OnTick(tick); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}

	if tick%TicksPerSimHour == 0 && e.OnHour != nil {
		e.OnHour(tick)
	}
	return nil
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.wake:
		return nil
	case <-t.C:
		return nil
	}
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
