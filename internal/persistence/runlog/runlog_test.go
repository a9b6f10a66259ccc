package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zstd"

	"rpsarena.ai/internal/sim/runner"
)

func readEntries(t *testing.T, dir string, out func([]byte) error) {
	t.Helper()
	names, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no log files under %s", dir)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := os.Open(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("zstd reader: %v", err)
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
		for sc.Scan() {
			if err := out(sc.Bytes()); err != nil {
				t.Fatalf("entry: %v", err)
			}
		}
		if err := sc.Err(); err != nil {
			t.Fatalf("scan %s: %v", name, err)
		}
		dec.Close()
		_ = f.Close()
	}
}

func TestFrameLogger_RoundTrip(t *testing.T) {
	runDir := t.TempDir()
	l := NewFrameLogger(runDir)

	want := []runner.FrameLogEntry{
		{RunID: "run-1", Tick: 0, Epoch: 1, Generation: 0, Surviving: 5, Populations: []int{3, 1, 0, 2, 6}, Digest: "aa"},
		{RunID: "run-1", Tick: 5, Epoch: 1, Generation: 40, Surviving: 4, Populations: []int{6, 0, 0, 2, 4}, Digest: "bb"},
		{RunID: "run-1", Tick: 9, Epoch: 2, Generation: 2, Surviving: 5, Populations: []int{2, 2, 2, 3, 3}, Digest: "cc"},
	}
	for _, e := range want {
		if err := l.WriteFrame(e); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []runner.FrameLogEntry
	readEntries(t, filepath.Join(runDir, "frames"), func(b []byte) error {
		var e runner.FrameLogEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if len(got) != len(want) {
		t.Fatalf("entries: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Tick != want[i].Tick || got[i].Epoch != want[i].Epoch || got[i].Digest != want[i].Digest {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestOutcomeLogger_RoundTrip(t *testing.T) {
	runDir := t.TempDir()
	l := NewOutcomeLogger(runDir)

	e := runner.OutcomeLogEntry{
		RunID:      "run-1",
		Epoch:      3,
		Tick:       77,
		Winner:     2,
		Generation: 41234,
		NumBreeds:  5,
		Size:       50,
		Seed:       1337,
	}
	if err := l.WriteOutcome(e); err != nil {
		t.Fatalf("write outcome: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := 0
	readEntries(t, filepath.Join(runDir, "outcomes"), func(b []byte) error {
		var got runner.OutcomeLogEntry
		if err := json.Unmarshal(b, &got); err != nil {
			return err
		}
		if got != e {
			t.Fatalf("outcome mismatch: got %+v want %+v", got, e)
		}
		count++
		return nil
	})
	if count != 1 {
		t.Fatalf("outcomes: got %d want 1", count)
	}
}
