package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"rpsarena.ai/internal/sim/runner"
)

func TestSQLiteIndex_UpsertRunAndWriteFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	cfg := runner.Config{
		RunID:        "run-1",
		NumBreeds:    5,
		Size:         50,
		Seed:         42,
		TickRateHz:   20,
		StepsPerTick: 500,
	}
	if err := idx.UpsertRun(cfg, time.Unix(1_700_000_000, 0)); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}
	if err := idx.WriteFrame(runner.FrameLogEntry{
		RunID:       "run-1",
		Tick:        12,
		Epoch:       1,
		Generation:  3400,
		Surviving:   4,
		Populations: []int{100, 900, 0, 700, 800},
		Digest:      "deadbeef",
	}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		breeds int
		size   int
		seed   int64
	)
	row := db.QueryRow(`SELECT num_breeds,arena_size,seed FROM runs WHERE run_id='run-1'`)
	if err := row.Scan(&breeds, &size, &seed); err != nil {
		t.Fatalf("Scan runs: %v", err)
	}
	if breeds != 5 || size != 50 || seed != 42 {
		t.Fatalf("runs row mismatch: breeds=%d size=%d seed=%d", breeds, size, seed)
	}

	var (
		gen      int64
		surv     int
		absorbed int
		digest   string
	)
	row = db.QueryRow(`SELECT generation,surviving,absorbed,digest FROM frames WHERE run_id='run-1' AND epoch=1 AND tick=12`)
	if err := row.Scan(&gen, &surv, &absorbed, &digest); err != nil {
		t.Fatalf("Scan frames: %v", err)
	}
	if gen != 3400 || surv != 4 || absorbed != 0 || digest != "deadbeef" {
		t.Fatalf("frames row mismatch: gen=%d surv=%d absorbed=%d digest=%q", gen, surv, absorbed, digest)
	}
}

func TestSQLiteIndex_SummarizeOutcomes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	outcomes := []runner.OutcomeLogEntry{
		{RunID: "run-1", Epoch: 1, Tick: 10, Winner: 0, Generation: 1000, NumBreeds: 3, Size: 10, Seed: 1},
		{RunID: "run-2", Epoch: 1, Tick: 20, Winner: 0, Generation: 3000, NumBreeds: 3, Size: 10, Seed: 2},
		{RunID: "run-3", Epoch: 1, Tick: 30, Winner: 2, Generation: 2000, NumBreeds: 3, Size: 10, Seed: 3},
	}
	for _, o := range outcomes {
		if err := idx.WriteOutcome(o); err != nil {
			t.Fatalf("WriteOutcome: %v", err)
		}
	}
	// Close drains the writer and commits; queries go through a reopened
	// index, which is how the lab reads its results back.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	n, err := idx.CountOutcomes(ctx)
	if err != nil {
		t.Fatalf("CountOutcomes: %v", err)
	}
	if n != len(outcomes) {
		t.Fatalf("outcome count: got %d want %d", n, len(outcomes))
	}

	stats, err := idx.SummarizeOutcomes(ctx)
	if err != nil {
		t.Fatalf("SummarizeOutcomes: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("winner groups: got %d want 2: %+v", len(stats), stats)
	}
	if stats[0].Winner != 0 || stats[0].Count != 2 || stats[0].MeanGeneration != 2000 {
		t.Fatalf("winner 0 stats: %+v", stats[0])
	}
	if stats[1].Winner != 2 || stats[1].Count != 1 || stats[1].MeanGeneration != 2000 {
		t.Fatalf("winner 2 stats: %+v", stats[1])
	}
}

func TestSQLiteIndex_WriteAfterCloseIsNoop(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSQLite(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteFrame(runner.FrameLogEntry{RunID: "run-1"}); err != nil {
		t.Fatalf("WriteFrame after close: %v", err)
	}
	if err := idx.WriteOutcome(runner.OutcomeLogEntry{RunID: "run-1"}); err != nil {
		t.Fatalf("WriteOutcome after close: %v", err)
	}
}
