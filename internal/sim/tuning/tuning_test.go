package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_TuningYAML_ShippedDefaults(t *testing.T) {
	cfg, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("shipped tuning.yaml should match Defaults(): got %+v", cfg)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load empty path: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("empty path should yield defaults: got %+v", cfg)
	}
}

func TestLoad_PartialFileNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "num_breeds: 7\ntick_rate_hz: 4\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load partial tuning: %v", err)
	}
	if cfg.NumBreeds != 7 || cfg.TickRateHz != 4 {
		t.Fatalf("explicit fields should survive: got %+v", cfg)
	}
	if cfg.ArenaSize != Defaults().ArenaSize || cfg.StepsPerTick != Defaults().StepsPerTick {
		t.Fatalf("omitted fields should normalize to defaults: got %+v", cfg)
	}
	if !cfg.AutoStart {
		t.Fatalf("auto_start should default true when omitted")
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("tick_rate_hz: [not a number\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml should fail to load")
	} else if !strings.Contains(err.Error(), "tuning.yaml:") {
		t.Fatalf("error should name the file: %v", err)
	}
}

func TestValidate_RejectsOutOfRangeKnobs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Tuning)
	}{
		{"tick rate zero", func(c *Tuning) { c.TickRateHz = 0 }},
		{"tick rate huge", func(c *Tuning) { c.TickRateHz = 5000 }},
		{"steps negative", func(c *Tuning) { c.StepsPerTick = -1 }},
		{"frame cadence zero", func(c *Tuning) { c.FrameEveryTicks = 0 }},
		{"window below bucket", func(c *Tuning) { c.StatsWindowTicks = c.StatsBucketTicks - 1 }},
	}
	for _, tc := range cases {
		cfg := Defaults()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error for %+v", tc.name, cfg)
		}
	}
}

func TestNormalize_ClampsWindowToBucket(t *testing.T) {
	cfg := Tuning{StatsBucketTicks: 500, StatsWindowTicks: 100}
	cfg.Normalize()
	if cfg.StatsWindowTicks != 500 {
		t.Fatalf("window should clamp up to bucket: got %d", cfg.StatsWindowTicks)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("normalized tuning should validate: %v", err)
	}
}
