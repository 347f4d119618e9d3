package health

import (
	"testing"
	"time"
)

func TestTrackerLastTimestamps(t *testing.T) {
	tr := NewTracker()

	if !tr.LastEventAt().IsZero() || !tr.LastWriteAt().IsZero() {
		t.Error("fresh tracker should report zero timestamps")
	}

	before := time.Now()
	tr.RecordEvent()
	tr.RecordWrite()
	after := time.Now()

	if ev := tr.LastEventAt(); ev.Before(before) || ev.After(after) {
		t.Errorf("LastEventAt = %v outside [%v, %v]", ev, before, after)
	}
	if w := tr.LastWriteAt(); w.Before(before) || w.After(after) {
		t.Errorf("LastWriteAt = %v outside [%v, %v]", w, before, after)
	}
}

func TestTrackerEventsPerMin(t *testing.T) {
	tr := NewTracker()

	if got := tr.EventsPerMin(); got != 0 {
		t.Errorf("EventsPerMin = %v on fresh tracker, want 0", got)
	}

	for i := 0; i < 25; i++ {
		tr.RecordEvent()
	}
	if got := tr.EventsPerMin(); got != 25 {
		t.Errorf("EventsPerMin = %v, want 25", got)
	}
}
