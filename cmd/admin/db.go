package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional; e.g. the lab index)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index", "run.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,num_breeds,arena_size,seed,tick_rate_hz,steps_per_tick,started_at FROM runs ORDER BY started_at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID        string `json:"run_id"`
				NumBreeds    int    `json:"num_breeds"`
				ArenaSize    int    `json:"arena_size"`
				Seed         int64  `json:"seed"`
				TickRateHz   int    `json:"tick_rate_hz"`
				StepsPerTick int    `json:"steps_per_tick"`
				StartedAt    string `json:"started_at"`
			}
			if err := rows.Scan(&r.RunID, &r.NumBreeds, &r.ArenaSize, &r.Seed, &r.TickRateHz, &r.StepsPerTick, &r.StartedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "outcomes":
		query := `SELECT run_id,epoch,tick,winner,generation,num_breeds,arena_size,seed,finished_at_s FROM outcomes ORDER BY finished_at_s DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*runID) != "" {
			query = `SELECT run_id,epoch,tick,winner,generation,num_breeds,arena_size,seed,finished_at_s FROM outcomes WHERE run_id=? ORDER BY finished_at_s DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*runID), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID       string `json:"run_id"`
				Epoch       uint64 `json:"epoch"`
				Tick        uint64 `json:"tick"`
				Winner      int    `json:"winner"`
				Generation  uint64 `json:"generation"`
				NumBreeds   int    `json:"num_breeds"`
				ArenaSize   int    `json:"arena_size"`
				Seed        int64  `json:"seed"`
				FinishedAtS int64  `json:"finished_at_s"`
			}
			if err := rows.Scan(&r.RunID, &r.Epoch, &r.Tick, &r.Winner, &r.Generation, &r.NumBreeds, &r.ArenaSize, &r.Seed, &r.FinishedAtS); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "frames":
		query := `SELECT run_id,epoch,tick,generation,surviving,absorbed,digest FROM frames ORDER BY epoch DESC, tick DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*runID) != "" {
			query = `SELECT run_id,epoch,tick,generation,surviving,absorbed,digest FROM frames WHERE run_id=? ORDER BY epoch DESC, tick DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*runID), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Epoch      uint64 `json:"epoch"`
				Tick       uint64 `json:"tick"`
				Generation uint64 `json:"generation"`
				Surviving  int    `json:"surviving_breeds"`
				Absorbed   bool   `json:"absorbed"`
				Digest     string `json:"digest"`
			}
			if err := rows.Scan(&r.RunID, &r.Epoch, &r.Tick, &r.Generation, &r.Surviving, &r.Absorbed, &r.Digest); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "winners":
		rows, err := db.Query(`SELECT winner, COUNT(*), AVG(generation) FROM outcomes GROUP BY winner ORDER BY winner`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Winner         int     `json:"winner"`
				Count          int     `json:"count"`
				MeanGeneration float64 `json:"mean_generation"`
			}
			if err := rows.Scan(&r.Winner, &r.Count, &r.MeanGeneration); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-run RUN|-db PATH] [-limit N] runs|outcomes|frames|winners")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
