package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning holds the loop and observability knobs for a hosted run. Breed
// count and grid size are validated by the arena itself; everything here
// only shapes how fast and how visibly the run is driven.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	NumBreeds int `yaml:"num_breeds"`
	ArenaSize int `yaml:"arena_size"`

	TickRateHz   int `yaml:"tick_rate_hz"`
	StepsPerTick int `yaml:"steps_per_tick"`

	FrameEveryTicks  int `yaml:"frame_every_ticks"`
	StatsBucketTicks int `yaml:"stats_bucket_ticks"`
	StatsWindowTicks int `yaml:"stats_window_ticks"`

	AutoStart bool `yaml:"auto_start"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:  "1.0",
		NumBreeds:        5,
		ArenaSize:        50,
		TickRateHz:       20,
		StepsPerTick:     500,
		FrameEveryTicks:  5,
		StatsBucketTicks: 100,
		StatsWindowTicks: 6000,
		AutoStart:        true,
	}
}

// Load reads tuning from path. An empty path returns normalized defaults;
// a missing file is the caller's to treat as fatal or fall back on.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zeroed knobs from the defaults so partial files stay
// valid.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if strings.TrimSpace(t.ProtocolVersion) == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.NumBreeds == 0 {
		t.NumBreeds = d.NumBreeds
	}
	if t.ArenaSize == 0 {
		t.ArenaSize = d.ArenaSize
	}
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.StepsPerTick == 0 {
		t.StepsPerTick = d.StepsPerTick
	}
	if t.FrameEveryTicks == 0 {
		t.FrameEveryTicks = d.FrameEveryTicks
	}
	if t.StatsBucketTicks == 0 {
		t.StatsBucketTicks = d.StatsBucketTicks
	}
	if t.StatsWindowTicks == 0 {
		t.StatsWindowTicks = d.StatsWindowTicks
	}
	if t.StatsWindowTicks < t.StatsBucketTicks {
		t.StatsWindowTicks = t.StatsBucketTicks
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz < 1 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000], got %d", t.TickRateHz)
	}
	if t.StepsPerTick < 1 || t.StepsPerTick > 1_000_000 {
		return fmt.Errorf("steps_per_tick must be in [1, 1000000], got %d", t.StepsPerTick)
	}
	if t.FrameEveryTicks < 1 {
		return fmt.Errorf("frame_every_ticks must be > 0, got %d", t.FrameEveryTicks)
	}
	if t.StatsBucketTicks < 1 {
		return fmt.Errorf("stats_bucket_ticks must be > 0, got %d", t.StatsBucketTicks)
	}
	if t.StatsWindowTicks < t.StatsBucketTicks {
		return fmt.Errorf("stats_window_ticks must be >= stats_bucket_ticks, got %d", t.StatsWindowTicks)
	}
	return nil
}
