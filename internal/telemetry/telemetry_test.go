package telemetry

import (
	"strings"
	"testing"
)

func TestTallyIncrement(t *testing.T) {
	tally := NewTally()
	tally.Increment(AtHome, 3)
	tally.Increment(AtHome, -1)
	tally.Increment(Deaths, 1200)

	if got := tally.Get(AtHome); got != 2 {
		t.Errorf("at_home = %d, want 2", got)
	}
	snap := tally.Snapshot()
	tally.Increment(AtHome, 5)
	if snap[AtHome] != 2 {
		t.Error("snapshot should not track later updates")
	}

	report := tally.Report()
	if !strings.Contains(report, "1,200") {
		t.Errorf("report should humanize counts:\n%s", report)
	}
	if strings.Index(report, AtHome) > strings.Index(report, Deaths) {
		t.Error("report should be sorted by name")
	}
}

func TestCounterNames(t *testing.T) {
	if HealthCategory(4) != "health_cat_4" {
		t.Errorf("HealthCategory(4) = %q", HealthCategory(4))
	}
	if FirstResponderZone(2) != "first_resp_zone2" {
		t.Errorf("FirstResponderZone(2) = %q", FirstResponderZone(2))
	}
	Discard.Increment("anything", 1)
}
