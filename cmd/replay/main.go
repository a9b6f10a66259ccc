// Command replay walks a run's frame logs in order and verifies the stream
// invariants: populations always sum to the same cell count and the derived
// counters agree with them. Epoch, tick, and generation must never move
// backwards.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"rpsarena.ai/internal/sim/runner"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		runID     = flag.String("run", "", "run id (required unless -frames)")
		framesDir = flag.String("frames", "", "frames dir containing frames-*.jsonl.zst (optional)")
	)
	flag.Parse()

	dir := strings.TrimSpace(*framesDir)
	if dir == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -frames")
			os.Exit(2)
		}
		dir = filepath.Join(*dataDir, "runs", *runID, "frames")
	}

	files, err := listFrameFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frames:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame files found in", dir)
		os.Exit(1)
	}

	var st streamState
	for _, path := range files {
		if err := verifyFile(path, &st); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d frames epochs=%d cells=%d\n", st.checked, st.epoch, st.cells)
}

func listFrameFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "frames-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// streamState carries the invariant anchors across log files. cells is
// learned from the first frame; epoch, tick, and generation only ever move
// forward from there.
type streamState struct {
	checked    uint64
	cells      int
	epoch      uint64
	tick       uint64
	generation uint64
}

func verifyFile(path string, st *streamState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry runner.FrameLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := checkFrame(&entry, st); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		st.checked++
	}
	return sc.Err()
}

func checkFrame(e *runner.FrameLogEntry, st *streamState) error {
	sum := 0
	surviving := 0
	for _, pop := range e.Populations {
		if pop < 0 {
			return fmt.Errorf("tick %d: negative population %v", e.Tick, e.Populations)
		}
		if pop > 0 {
			surviving++
		}
		sum += pop
	}

	if st.cells == 0 {
		st.cells = sum
	}
	if sum != st.cells {
		return fmt.Errorf("tick %d: populations sum %d, want %d (cells are conserved)", e.Tick, sum, st.cells)
	}
	if surviving != e.Surviving {
		return fmt.Errorf("tick %d: surviving_breeds %d but %d populations are nonzero", e.Tick, e.Surviving, surviving)
	}
	if e.Absorbed != (surviving == 1) {
		return fmt.Errorf("tick %d: absorbed=%v with %d surviving breeds", e.Tick, e.Absorbed, surviving)
	}
	if e.Digest == "" {
		return fmt.Errorf("tick %d: missing digest", e.Tick)
	}

	if e.Epoch < st.epoch {
		return fmt.Errorf("tick %d: epoch went backwards: %d after %d", e.Tick, e.Epoch, st.epoch)
	}
	if e.Tick < st.tick {
		return fmt.Errorf("epoch %d: tick went backwards: %d after %d", e.Epoch, e.Tick, st.tick)
	}
	if e.Epoch == st.epoch && st.checked > 0 && e.Generation < st.generation {
		return fmt.Errorf("epoch %d tick %d: generation went backwards: %d after %d", e.Epoch, e.Tick, e.Generation, st.generation)
	}

	st.epoch = e.Epoch
	st.tick = e.Tick
	st.generation = e.Generation
	return nil
}
