package runner

// StatsBucket accumulates contest outcomes over one bucket of ticks.
type StatsBucket struct {
	Contests    int `json:"contests"`
	Decisive    int `json:"decisive"`
	Ties        int `json:"ties"`
	Extinctions int `json:"extinctions"`
}

// RunStats keeps a rolling window of per-bucket contest counts. All methods
// tolerate a nil receiver so the runner can run without stats.
type RunStats struct {
	bucketTicks uint64
	windowTicks uint64

	buckets []StatsBucket
	curIdx  int
	curBase uint64 // start tick (inclusive) of current bucket
}

func NewRunStats(bucketTicks, windowTicks uint64) *RunStats {
	if bucketTicks <= 0 {
		bucketTicks = 100
	}
	if windowTicks < bucketTicks {
		windowTicks = bucketTicks
	}
	n := int(windowTicks / bucketTicks)
	if n < 1 {
		n = 1
	}
	return &RunStats{
		bucketTicks: bucketTicks,
		windowTicks: uint64(n) * bucketTicks,
		buckets:     make([]StatsBucket, n),
		curIdx:      0,
		curBase:     0,
	}
}

func (s *RunStats) rotate(nowTick uint64) {
	if s == nil {
		return
	}
	// Move forward until nowTick is in [curBase, curBase+bucketTicks).
	for nowTick >= s.curBase+s.bucketTicks {
		s.curIdx = (s.curIdx + 1) % len(s.buckets)
		s.buckets[s.curIdx] = StatsBucket{}
		s.curBase += s.bucketTicks
	}
}

func (s *RunStats) RecordContests(nowTick uint64, decisive, ties int) {
	if s == nil {
		return
	}
	s.rotate(nowTick)
	s.buckets[s.curIdx].Contests += decisive + ties
	s.buckets[s.curIdx].Decisive += decisive
	s.buckets[s.curIdx].Ties += ties
}

func (s *RunStats) RecordExtinctions(nowTick uint64, n int) {
	if s == nil || n <= 0 {
		return
	}
	s.rotate(nowTick)
	s.buckets[s.curIdx].Extinctions += n
}

func (s *RunStats) WindowTicks() uint64 {
	if s == nil {
		return 0
	}
	return s.windowTicks
}

func (s *RunStats) Summarize(nowTick uint64) StatsBucket {
	if s == nil {
		return StatsBucket{}
	}
	s.rotate(nowTick)
	var out StatsBucket
	for _, b := range s.buckets {
		out.Contests += b.Contests
		out.Decisive += b.Decisive
		out.Ties += b.Ties
		out.Extinctions += b.Extinctions
	}
	return out
}

// RunMetrics is a thread-safe read-only view of key run loop signals.
// It is updated from the loop goroutine and read from HTTP handlers/tests.
type RunMetrics struct {
	Tick  uint64 `json:"tick"`
	Epoch uint64 `json:"epoch"`
	State string `json:"state"`

	Generation uint64 `json:"generation"`
	Surviving  int    `json:"surviving_breeds"`
	Absorbed   bool   `json:"absorbed"`
	Observers  int    `json:"observers"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	StatsWindowTicks uint64      `json:"stats_window_ticks"`
	StatsWindow      StatsBucket `json:"stats_window"`

	Populations []int `json:"populations"`
}

type QueueDepths struct {
	Subscribe   int `json:"subscribe"`
	Unsubscribe int `json:"unsubscribe"`
	Control     int `json:"control"`
}

func (r *Runner) Metrics() RunMetrics {
	if r == nil {
		return RunMetrics{}
	}
	v := r.metrics.Load()
	if v == nil {
		return RunMetrics{}
	}
	m, ok := v.(RunMetrics)
	if !ok {
		return RunMetrics{}
	}
	return m
}
