package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
)

// ErrAlreadyFired is returned when an intervention targets an event that
// has already happened.
var ErrAlreadyFired = errors.New("event has already fired")

// RescheduleEvent moves the pending detonation to tick at epicenter. The
// radii are kept.
func (s *Simulation) RescheduleEvent(tick uint64, epicenter orb.Point) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Disaster.Fired {
		return "", ErrAlreadyFired
	}
	if tick <= s.LastTick {
		return "", fmt.Errorf("tick %d is not after the current tick %d", tick, s.LastTick)
	}

	ev := s.Disaster.Event
	ev.Tick = tick
	ev.Epicenter = epicenter
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("reschedule: %w", err)
	}
	s.Disaster.Event = ev
	s.Env.Event = ev

	s.pub.Lock()
	s.snapshot.EventTick = tick
	s.snapshot.Epicenter = epicenter
	s.pub.Unlock()

	desc := fmt.Sprintf("Detonation rescheduled to %s at (%.6f, %.6f)", SimTime(tick), epicenter[0], epicenter[1])
	s.EmitEvent(Event{
		Tick:        s.LastTick,
		Description: desc,
		Category:    "intervention",
		Meta: map[string]any{
			"tick": tick,
			"lon":  epicenter[0],
			"lat":  epicenter[1],
		},
	})

	slog.Info("reschedule intervention", "tick", tick, "lon", epicenter[0], "lat", epicenter[1])
	return desc, nil
}
