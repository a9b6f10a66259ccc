// Command lab plays arenas to absorption in a sequential batch and prints
// winner statistics read back from the sqlite index.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rpsarena.ai/internal/persistence/indexdb"
	"rpsarena.ai/internal/persistence/runlog"
	"rpsarena.ai/internal/sim/arena"
	"rpsarena.ai/internal/sim/runner"
)

func main() {
	var (
		runs        = flag.Int("runs", 10, "number of runs to play")
		numBreeds   = flag.Int("breeds", 5, "breed count")
		arenaSize   = flag.Int("size", 50, "arena edge length")
		baseSeed    = flag.Int64("seed", 1, "base rng seed (run i plays with seed+i)")
		maxContests = flag.Int64("max_contests", 2_000_000_000, "per-run contest cap before giving up")
		dataDir     = flag.String("data", "./data", "lab data directory")
		dbPath      = flag.String("db", "", "sqlite index path (default: <data>/lab/index.db)")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite index (per-run lines only, no summary)")
	)
	flag.Parse()

	if *runs <= 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: -runs must be positive")
		os.Exit(2)
	}

	labDir := filepath.Join(*dataDir, "lab")
	_ = os.MkdirAll(labDir, 0o755)

	dbFile := strings.TrimSpace(*dbPath)
	if dbFile == "" {
		dbFile = filepath.Join(labDir, "index.db")
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(dbFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
	}

	outcomeLog := runlog.NewOutcomeLogger(labDir)

	for i := 0; i < *runs; i++ {
		seed := *baseSeed + int64(i)
		id := uuid.New().String()

		entry, surviving, err := playRun(id, *numBreeds, *arenaSize, seed, *maxContests)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			os.Exit(1)
		}

		_ = outcomeLog.WriteOutcome(entry)
		if idx != nil {
			if err := idx.UpsertRun(runner.Config{
				RunID:     id,
				NumBreeds: *numBreeds,
				Size:      *arenaSize,
				Seed:      seed,
			}, time.Now()); err != nil {
				fmt.Fprintln(os.Stderr, "index run:", err)
			}
			_ = idx.WriteOutcome(entry)
		}

		if surviving == 1 {
			fmt.Printf("run %d/%d seed=%d: breed %d absorbed the arena, generation=%d contests=%d\n",
				i+1, *runs, seed, entry.Winner, entry.Generation, entry.Tick)
		} else {
			fmt.Printf("run %d/%d seed=%d: no absorption within %d contests, %d breeds left\n",
				i+1, *runs, seed, *maxContests, surviving)
		}
	}

	_ = outcomeLog.Close()

	if idx == nil {
		return
	}
	// Close drains the write queue and commits; reopen to read the totals.
	if err := idx.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close index:", err)
		os.Exit(1)
	}
	db, err := indexdb.OpenSQLite(dbFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reopen index:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	total, err := db.CountOutcomes(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "count outcomes:", err)
		os.Exit(1)
	}
	stats, err := db.SummarizeOutcomes(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summarize outcomes:", err)
		os.Exit(1)
	}

	capped := 0
	for _, s := range stats {
		if s.Winner < 0 {
			capped += s.Count
		}
	}
	fmt.Printf("indexed %d outcomes in %s (absorbed %d, capped %d)\n", total, dbFile, total-capped, capped)
	for _, s := range stats {
		if s.Winner < 0 {
			continue
		}
		fmt.Printf("  breed %d: %d wins, mean generation %.1f\n", s.Winner, s.Count, s.MeanGeneration)
	}
}

// playRun drives one arena until absorption or the contest cap is hit.
// Winner is -1 on a capped run; Tick records contests played, since the lab
// has no tick loop.
func playRun(id string, numBreeds, size int, seed, maxContests int64) (runner.OutcomeLogEntry, int, error) {
	a, err := arena.New(arena.Config{
		NumBreeds: numBreeds,
		Size:      size,
		Rand:      rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		return runner.OutcomeLogEntry{}, 0, err
	}
	a.Init()

	var contests int64
	for contests < maxContests && !a.Absorbed() {
		a.Advance()
		contests++
	}

	winner := -1
	if a.Absorbed() {
		for breed, pop := range a.Populations() {
			if pop > 0 {
				winner = breed
				break
			}
		}
	}
	return runner.OutcomeLogEntry{
		RunID:       id,
		Epoch:       1,
		Tick:        uint64(contests),
		Winner:      winner,
		Generation:  a.Generation(),
		NumBreeds:   numBreeds,
		Size:        size,
		Seed:        seed,
		FinishedAtS: time.Now().Unix(),
	}, a.SurvivingBreeds(), nil
}
