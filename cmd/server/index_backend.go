package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rpsarena.ai/internal/persistence/indexdb"
	"rpsarena.ai/internal/sim/runner"
)

type runtimeIndex interface {
	runner.FrameLogger
	runner.OutcomeLogger
	Close() error
	UpsertRun(cfg runner.Config, startedAt time.Time) error
}

func openRuntimeIndex(runDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("RPS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(runDir, "index", "run.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported RPS_INDEX_BACKEND: %s", backend)
	}
}
