// Package engine provides the tick-based simulation loop, the disaster
// effects, and the simulation state it drives.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/disaster-abm/internal/world"
)

// TickSchedule defines when each callback runs relative to the tick counter.
const (
	TicksPerSimHour = 60                // 60 ticks = 1 sim-hour
	TicksPerSimDay  = world.TicksPerDay // 24 hours × 60
)

// Engine drives the simulation forward. One tick is one sim-minute.
type Engine struct {
	Tick     uint64        // Current tick counter (monotonic, never resets)
	Speed    float64       // Multiplier: 1.0 = real-time, 0 = paused
	Interval time.Duration // Base tick interval (default 1 second)
	Running  bool

	// Callbacks for each tick layer, populated during setup.
	OnTick func(tick uint64) // Every tick
	OnHour func(tick uint64) // Every 60 ticks
	OnDay  func(tick uint64) // Every 1440 ticks
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Tick:     0,
		Speed:    1.0,
		Interval: time.Second,
		Running:  false,
	}
}

// Run starts the paced loop. Blocks until Stop() is called or until the
// tick counter reaches limit (0 = no limit).
func (e *Engine) Run(limit uint64) {
	e.Running = true
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed)

	for e.Running && (limit == 0 || e.Tick < limit) {
		if e.Speed <= 0 {
			// Paused; sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / e.Speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	e.Running = false
	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// RunFor steps n ticks back to back without pacing.
func (e *Engine) RunFor(n uint64) {
	for i := uint64(0); i < n; i++ {
		e.step()
	}
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.Running = false
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick)
	}
	if e.Tick%TicksPerSimHour == 0 && e.OnHour != nil {
		e.OnHour(e.Tick)
	}
	if e.Tick%TicksPerSimDay == 0 && e.OnDay != nil {
		e.OnDay(e.Tick)
	}
}

// SimTime returns a human-readable simulation time string from a tick number.
func SimTime(tick uint64) string {
	day := world.Day(tick) + 1
	hhmm := world.Time24(tick)
	return fmt.Sprintf("Day %d, %02d:%02d", day, hhmm/100, hhmm%100)
}
