// Package indexdb maintains a queryable SQLite index of runs, frames, and
// outcomes. It is a secondary store fed asynchronously from the run loop;
// the JSONL run logs remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"rpsarena.ai/internal/sim/runner"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqOutcome
)

type req struct {
	kind reqKind

	frame   runner.FrameLogEntry
	outcome runner.OutcomeLogEntry
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Frames arrive at most a few per second per run; outcomes are rare.
		// The buffer rides out commit stalls without blocking the loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			num_breeds INTEGER NOT NULL,
			arena_size INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			tick_rate_hz INTEGER NOT NULL,
			steps_per_tick INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			params_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			surviving INTEGER NOT NULL,
			absorbed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, epoch, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_frames_run_tick ON frames(run_id, tick);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			winner INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			num_breeds INTEGER NOT NULL,
			arena_size INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			finished_at_s INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_shape_winner ON outcomes(num_breeds, arena_size, winner);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteFrame(entry runner.FrameLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
	return nil
}

func (s *SQLiteIndex) WriteOutcome(entry runner.OutcomeLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqOutcome, outcome: entry}:
	default:
	}
	return nil
}

// UpsertRun records the parameters a run was started with. Synchronous:
// called once at startup before the loop produces anything worth indexing.
func (s *SQLiteIndex) UpsertRun(cfg runner.Config, startedAt time.Time) error {
	if s == nil {
		return nil
	}
	params, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,num_breeds,arena_size,seed,tick_rate_hz,steps_per_tick,started_at,params_json) VALUES(?,?,?,?,?,?,?,?)`,
		cfg.RunID,
		cfg.NumBreeds,
		cfg.Size,
		cfg.Seed,
		cfg.TickRateHz,
		cfg.StepsPerTick,
		startedAt.UTC().Format(time.RFC3339Nano),
		string(params),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// WinnerStat aggregates outcomes by winning breed.
type WinnerStat struct {
	Winner         int
	Count          int
	MeanGeneration float64
}

// SummarizeOutcomes reports, per winning breed, how many epochs it won and
// the mean generation count at absorption.
func (s *SQLiteIndex) SummarizeOutcomes(ctx context.Context) ([]WinnerStat, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT winner, COUNT(*), AVG(generation) FROM outcomes GROUP BY winner ORDER BY winner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WinnerStat
	for rows.Next() {
		var st WinnerStat
		if err := rows.Scan(&st.Winner, &st.Count, &st.MeanGeneration); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountOutcomes reports how many epochs have been recorded across all runs.
func (s *SQLiteIndex) CountOutcomes(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(run_id,epoch,tick,generation,surviving,absorbed,digest,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertOutcome, _ := s.db.Prepare(`INSERT OR REPLACE INTO outcomes(run_id,epoch,tick,winner,generation,num_breeds,arena_size,seed,finished_at_s,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertFrame != nil {
			_ = insertFrame.Close()
		}
		if insertOutcome != nil {
			_ = insertOutcome.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			f := r.frame
			raw, _ := json.Marshal(f)
			if insertFrame != nil {
				if _, err := tx.Stmt(insertFrame).Exec(
					f.RunID,
					int64(f.Epoch),
					int64(f.Tick),
					int64(f.Generation),
					f.Surviving,
					boolInt(f.Absorbed),
					f.Digest,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqOutcome:
			o := r.outcome
			raw, _ := json.Marshal(o)
			if insertOutcome != nil {
				if _, err := tx.Stmt(insertOutcome).Exec(
					o.RunID,
					int64(o.Epoch),
					int64(o.Tick),
					o.Winner,
					int64(o.Generation),
					o.NumBreeds,
					o.Size,
					o.Seed,
					o.FinishedAtS,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
