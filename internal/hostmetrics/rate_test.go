package hostmetrics

import (
	"testing"
	"time"
)

func TestCounterTrackerExactRate(t *testing.T) {
	start := time.Unix(0, 0)
	tracker := NewCounterTracker(1000, 0, start)

	up, down := tracker.Rate(2024, 0, start.Add(time.Second))
	if up != 1.0 {
		t.Fatalf("expected upload 1.0 KB/s, got %v", up)
	}
	if down != 0 {
		t.Fatalf("expected download 0 KB/s, got %v", down)
	}

	sent, recv, at := tracker.State()
	if sent != 2024 || recv != 0 || !at.Equal(start.Add(time.Second)) {
		t.Fatalf("state not advanced: sent=%d recv=%d at=%v", sent, recv, at)
	}
}

func TestCounterTrackerFloorLeavesStateUntouched(t *testing.T) {
	start := time.Unix(100, 0)
	tracker := NewCounterTracker(5000, 7000, start)

	up, down := tracker.Rate(9000, 9000, start.Add(50*time.Millisecond))
	if up != 0 || down != 0 {
		t.Fatalf("expected (0, 0) under the floor, got (%v, %v)", up, down)
	}

	sent, recv, at := tracker.State()
	if sent != 5000 || recv != 7000 || !at.Equal(start) {
		t.Fatalf("state mutated under the floor: sent=%d recv=%d at=%v", sent, recv, at)
	}
}

func TestCounterTrackerRounding(t *testing.T) {
	start := time.Unix(0, 0)
	tracker := NewCounterTracker(0, 0, start)

	up, down := tracker.Rate(1000, 3000, start.Add(3*time.Second))
	// 1000/1024/3 = 0.3255..., 3000/1024/3 = 0.9765...
	if up != 0.33 {
		t.Fatalf("expected upload 0.33, got %v", up)
	}
	if down != 0.98 {
		t.Fatalf("expected download 0.98, got %v", down)
	}
}

func TestCounterTrackerCounterReset(t *testing.T) {
	start := time.Unix(0, 0)
	tracker := NewCounterTracker(1<<40, 4096, start)

	up, down := tracker.Rate(512, 4096+2048, start.Add(time.Second))
	if up != 0 {
		t.Fatalf("expected reset counter to clamp to 0, got %v", up)
	}
	if down != 2 {
		t.Fatalf("expected download 2 KB/s, got %v", down)
	}

	// The reset value becomes the new baseline.
	up, _ = tracker.Rate(512+1024, 4096+2048, start.Add(2*time.Second))
	if up != 1 {
		t.Fatalf("expected upload 1 KB/s after re-baseline, got %v", up)
	}
}

func TestCounterTrackerExactlyAtFloor(t *testing.T) {
	start := time.Unix(0, 0)
	tracker := NewCounterTracker(0, 0, start)

	up, _ := tracker.Rate(1024, 0, start.Add(100*time.Millisecond))
	if up != 10 {
		t.Fatalf("expected 10 KB/s at the 100ms boundary, got %v", up)
	}
}
