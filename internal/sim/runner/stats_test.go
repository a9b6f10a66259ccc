package runner

import "testing"

func TestRunStats_WindowRotation(t *testing.T) {
	s := NewRunStats(10, 30)

	s.RecordContests(0, 3, 2)
	s.RecordContests(10, 3, 2)
	s.RecordContests(20, 3, 2)

	sum := s.Summarize(20)
	if sum.Contests != 15 || sum.Decisive != 9 || sum.Ties != 6 {
		t.Fatalf("full window: %+v", sum)
	}

	// Advancing one bucket evicts the oldest.
	sum = s.Summarize(30)
	if sum.Contests != 10 || sum.Decisive != 6 {
		t.Fatalf("after eviction: %+v", sum)
	}

	// A long gap clears everything.
	sum = s.Summarize(500)
	if sum != (StatsBucket{}) {
		t.Fatalf("after gap: %+v", sum)
	}
}

func TestRunStats_ExtinctionsIgnoreNonPositive(t *testing.T) {
	s := NewRunStats(10, 30)
	s.RecordExtinctions(0, 0)
	s.RecordExtinctions(0, -1)
	s.RecordExtinctions(0, 2)
	if got := s.Summarize(0).Extinctions; got != 2 {
		t.Fatalf("extinctions: got %d want 2", got)
	}
}

func TestRunStats_NilReceiverSafe(t *testing.T) {
	var s *RunStats
	s.RecordContests(0, 1, 1)
	s.RecordExtinctions(0, 1)
	if s.WindowTicks() != 0 {
		t.Fatalf("nil stats window should be 0")
	}
	if sum := s.Summarize(0); sum != (StatsBucket{}) {
		t.Fatalf("nil stats summarize should be zero: %+v", sum)
	}
}

func TestRunStats_WindowRoundsToWholeBuckets(t *testing.T) {
	s := NewRunStats(100, 250)
	if s.WindowTicks() != 200 {
		t.Fatalf("window should round down to whole buckets: %d", s.WindowTicks())
	}
	s = NewRunStats(100, 10)
	if s.WindowTicks() != 100 {
		t.Fatalf("window below one bucket should clamp: %d", s.WindowTicks())
	}
}
