package service

import (
	"testing"
	"time"
)

func TestTimerSetEveryAndStopAll(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	timers := NewTimerSet(clock)

	ticks, once := 0, 0
	timers.Every("tick", time.Second, func() { ticks++ })
	timers.After("once", 1500*time.Millisecond, func() { once++ })

	clock.Advance(3 * time.Second)
	if ticks != 3 || once != 1 {
		t.Fatalf("unexpected counts ticks=%d once=%d", ticks, once)
	}
	if timers.Active() != 1 {
		t.Fatalf("expected only the repeating timer, got %d", timers.Active())
	}

	timers.StopAll()
	clock.Advance(5 * time.Second)
	if ticks != 3 {
		t.Fatalf("timer fired after StopAll")
	}
	if timers.Active() != 0 || clock.Pending() != 0 {
		t.Fatalf("timers left behind")
	}
}

func TestTimerSetCancelAndReplace(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	timers := NewTimerSet(clock)

	first, second := 0, 0
	timers.Every("segment", time.Second, func() { first++ })
	timers.Every("segment", time.Second, func() { second++ })
	clock.Advance(2 * time.Second)
	if first != 0 || second != 2 {
		t.Fatalf("replacement did not take effect: first=%d second=%d", first, second)
	}

	timers.Cancel("segment")
	timers.Cancel("missing")
	clock.Advance(2 * time.Second)
	if second != 2 {
		t.Fatalf("cancelled timer fired")
	}
}

func TestTimerSetStopAllFromCallback(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	timers := NewTimerSet(clock)

	fired := 0
	timers.Every("a", time.Second, func() {
		fired++
		timers.StopAll()
	})
	timers.Every("b", time.Second, func() { fired++ })

	clock.Advance(3 * time.Second)
	if fired != 1 {
		t.Fatalf("expected StopAll to suppress the remaining callbacks, fired=%d", fired)
	}
}
