// Package telemetry collects the named counters the simulation reports:
// population by status, deaths, zone populations, groups and displacement.
package telemetry

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Counter names.
const (
	AtHome      = "at_home"
	AtWork      = "at_work"
	OnCommute   = "on_commute"
	StayAtHome  = "stay_at_home"
	IDPHome     = "idp_home"
	IDPWork     = "idp_work"
	Deaths      = "indv_deaths"
	Fleeing     = "affected_fleeing"
	PopZone2    = "pop_zone2"
	PopZone3    = "pop_zone3"
	Blocked     = "agents_blocked"
	Sheltering  = "agents_sheltering"
	InTreatment = "in_treatment"
	Treated     = "agents_treated"
	Released    = "affected_released"

	EmergentGroups   = "emergent_groups"
	GroupPopulation  = "group_population"
	EmergentRemoved  = "emergent_removed"
	InactiveEmergent = "inactive_emergent_groups"
	CarpoolGroups    = "carpool_groups"

	BadHomeNode = "bad_home_node"
	BadAgent    = "bad_agent"
	NoDrivers   = "no_drivers"
	NoSafeNode  = "no_safe_node"
)

// HealthCategory names the counter for agents at a severity level.
func HealthCategory(severity int) string {
	return fmt.Sprintf("health_cat_%d", severity)
}

// FirstResponderZone names the counter for responders caught in a zone (1-4).
func FirstResponderZone(zone int) string {
	return fmt.Sprintf("first_resp_zone%d", zone)
}

// Sink receives counter updates from the simulation.
type Sink interface {
	Increment(name string, delta int)
}

// Discard drops every update.
var Discard Sink = discard{}

type discard struct{}

func (discard) Increment(string, int) {}

// Tally is an in-memory Sink. It is safe for concurrent readers.
type Tally struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[string]int)}
}

// Increment adds delta to a named counter.
func (t *Tally) Increment(name string, delta int) {
	t.mu.Lock()
	t.counts[name] += delta
	t.mu.Unlock()
}

// Get returns a counter value.
func (t *Tally) Get(name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[name]
}

// Snapshot copies the current counters.
func (t *Tally) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.counts)
}

// Report formats the counters one per line, sorted by name.
func (t *Tally) Report() string {
	snap := t.Snapshot()
	names := slices.Sorted(maps.Keys(snap))
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-26s %s\n", name, humanize.Comma(int64(snap[name])))
	}
	return b.String()
}
