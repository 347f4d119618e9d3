// Package health tracks pipeline liveness signals as atomic fields.
// Readers see consistent but possibly slightly stale values; the full
// HealthView is assembled on demand by the supervisor.
package health

import (
	"sync/atomic"
	"time"
)

// Tracker is a process-wide set of liveness counters. Events are counted
// into a ring of one-second buckets so the rolling per-minute rate needs
// no locks on the hot path.
type Tracker struct {
	lastEvent atomic.Int64 // unix nanos
	lastWrite atomic.Int64 // unix nanos

	bucketSec   [60]atomic.Int64
	bucketCount [60]atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordEvent notes one raw event arrival.
func (t *Tracker) RecordEvent() {
	now := time.Now()
	t.lastEvent.Store(now.UnixNano())

	sec := now.Unix()
	idx := sec % 60
	if t.bucketSec[idx].Load() != sec {
		// New second for this slot; the race with a concurrent recorder is
		// benign, the count is advisory.
		t.bucketSec[idx].Store(sec)
		t.bucketCount[idx].Store(0)
	}
	t.bucketCount[idx].Add(1)
}

// RecordWrite notes one successful store write.
func (t *Tracker) RecordWrite() {
	t.lastWrite.Store(time.Now().UnixNano())
}

func (t *Tracker) LastEventAt() time.Time {
	return nanosToTime(t.lastEvent.Load())
}

func (t *Tracker) LastWriteAt() time.Time {
	return nanosToTime(t.lastWrite.Load())
}

// EventsPerMin sums the buckets that fall inside the trailing 60 seconds.
func (t *Tracker) EventsPerMin() float64 {
	cutoff := time.Now().Unix() - 60
	var total int64
	for i := range t.bucketSec {
		if t.bucketSec[i].Load() > cutoff {
			total += t.bucketCount[i].Load()
		}
	}
	return float64(total)
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
