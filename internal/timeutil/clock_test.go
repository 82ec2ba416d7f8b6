package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_AfterRecordsAndAdvances(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	got := <-clock.After(2 * time.Second)
	<-clock.After(4 * time.Second)

	if !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("first fire at %v, want %v", got, start.Add(2*time.Second))
	}
	if d := clock.Since(start); d != 6*time.Second {
		t.Errorf("Since(start) = %v, want 6s", d)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, RealClock{}, time.Hour); err == nil {
		t.Error("expected context error")
	}
}

func TestSleep_Mock(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	if err := Sleep(context.Background(), clock, time.Minute); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("expected one recorded sleep")
	}
}
