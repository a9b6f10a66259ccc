package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"rpsarena.ai/internal/persistence/runlog"
	"rpsarena.ai/internal/protocol"
	"rpsarena.ai/internal/sim/runner"
	"rpsarena.ai/internal/sim/tuning"
	"rpsarena.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		runID      = flag.String("run", "", "run id (default: fresh uuid)")
		numBreeds  = flag.Int("breeds", 0, "breed count (overrides tuning when > 0)")
		arenaSize  = flag.Int("size", 0, "arena edge length (overrides tuning when > 0)")
		seed       = flag.Int64("seed", 0, "rng seed (0 draws one from the clock)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the run index (JSONL run logs are still written)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	id := strings.TrimSpace(*runID)
	if id == "" {
		id = uuid.New().String()
	}
	runSeed := *seed
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
	}

	cfg := runner.Config{
		RunID:            id,
		NumBreeds:        tune.NumBreeds,
		Size:             tune.ArenaSize,
		Seed:             runSeed,
		TickRateHz:       tune.TickRateHz,
		StepsPerTick:     tune.StepsPerTick,
		FrameEveryTicks:  tune.FrameEveryTicks,
		StatsBucketTicks: uint64(tune.StatsBucketTicks),
		StatsWindowTicks: uint64(tune.StatsWindowTicks),
		AutoStart:        tune.AutoStart,
	}
	if *numBreeds > 0 {
		cfg.NumBreeds = *numBreeds
	}
	if *arenaSize > 0 {
		cfg.Size = *arenaSize
	}

	run, err := runner.New(cfg)
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	runDir := filepath.Join(*dataDir, "runs", id)
	_ = os.MkdirAll(runDir, 0o755)

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(runDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertRun(run.Config(), time.Now()); err != nil {
			logger.Printf("index backend: upsert run: %v", err)
		}
	}

	frameLog := runlog.NewFrameLogger(runDir)
	outcomeLog := runlog.NewOutcomeLogger(runDir)
	defer frameLog.Close()
	defer outcomeLog.Close()
	run.SetFrameLogger(multiFrameLogger{a: frameLog, b: idx})
	run.SetOutcomeLogger(multiOutcomeLogger{a: outcomeLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	eff := run.Config()
	logger.Printf("run %s: %d breeds on a %dx%d arena, seed=%d", id, eff.NumBreeds, eff.Size, eff.Size, eff.Seed)

	go func() {
		if err := run.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("run stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := run.Metrics()
		tick := run.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP rpsarena_run_tick Current run tick.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_tick gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_tick{run=%q} %d\n", id, tick)

		fmt.Fprintf(rw, "# HELP rpsarena_run_epoch Current epoch (bumped on reset).\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_epoch gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_epoch{run=%q} %d\n", id, m.Epoch)

		fmt.Fprintf(rw, "# HELP rpsarena_run_generation Decisive contests resolved this epoch.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_generation gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_generation{run=%q} %d\n", id, m.Generation)

		fmt.Fprintf(rw, "# HELP rpsarena_run_surviving_breeds Breeds still holding at least one cell.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_surviving_breeds gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_surviving_breeds{run=%q} %d\n", id, m.Surviving)

		absorbed := 0
		if m.Absorbed {
			absorbed = 1
		}
		fmt.Fprintf(rw, "# HELP rpsarena_run_absorbed Whether one breed holds the whole arena.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_absorbed gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_absorbed{run=%q} %d\n", id, absorbed)

		fmt.Fprintf(rw, "# HELP rpsarena_run_observers Current number of connected observers.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_observers gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_observers{run=%q} %d\n", id, m.Observers)

		fmt.Fprintf(rw, "# HELP rpsarena_run_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_queue_depth gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_queue_depth{run=%q,queue=%q} %d\n", id, "subscribe", m.QueueDepths.Subscribe)
		fmt.Fprintf(rw, "rpsarena_run_queue_depth{run=%q,queue=%q} %d\n", id, "unsubscribe", m.QueueDepths.Unsubscribe)
		fmt.Fprintf(rw, "rpsarena_run_queue_depth{run=%q,queue=%q} %d\n", id, "control", m.QueueDepths.Control)

		fmt.Fprintf(rw, "# HELP rpsarena_run_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_run_step_ms gauge\n")
		fmt.Fprintf(rw, "rpsarena_run_step_ms{run=%q} %.3f\n", id, m.StepMS)

		fmt.Fprintf(rw, "# HELP rpsarena_breed_population Cells held per breed.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_breed_population gauge\n")
		for breed, pop := range m.Populations {
			fmt.Fprintf(rw, "rpsarena_breed_population{run=%q,breed=\"%d\"} %d\n", id, breed, pop)
		}

		fmt.Fprintf(rw, "# HELP rpsarena_stats_window Rolling window contest stats.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_stats_window gauge\n")
		fmt.Fprintf(rw, "rpsarena_stats_window{run=%q,metric=%q} %d\n", id, "contests", m.StatsWindow.Contests)
		fmt.Fprintf(rw, "rpsarena_stats_window{run=%q,metric=%q} %d\n", id, "decisive", m.StatsWindow.Decisive)
		fmt.Fprintf(rw, "rpsarena_stats_window{run=%q,metric=%q} %d\n", id, "ties", m.StatsWindow.Ties)
		fmt.Fprintf(rw, "rpsarena_stats_window{run=%q,metric=%q} %d\n", id, "extinctions", m.StatsWindow.Extinctions)

		fmt.Fprintf(rw, "# HELP rpsarena_stats_window_ticks Rolling window size in ticks.\n")
		fmt.Fprintf(rw, "# TYPE rpsarena_stats_window_ticks gauge\n")
		fmt.Fprintf(rw, "rpsarena_stats_window_ticks{run=%q} %d\n", id, m.StatsWindowTicks)
	})

	enableAdminHTTP := envBool("RPS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("RPS_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				RunID   string            `json:"run_id"`
				Tick    uint64            `json:"tick"`
				Metrics runner.RunMetrics `json:"metrics"`
			}{
				RunID:   id,
				Tick:    run.CurrentTick(),
				Metrics: run.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/control", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			var req protocol.ControlRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(rw).Encode(protocol.ControlResponse{OK: false, Code: protocol.ErrBadRequest, Message: "bad request body"})
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			resp, err := run.RequestControl(ctx2, req.Command, req.Steps)
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(protocol.ControlResponse{OK: false, Code: protocol.ErrInternal, Message: err.Error()})
				return
			}
			// Command-level rejections still report 200; the body carries the code.
			_ = json.NewEncoder(rw).Encode(resp)
		})

		obsSrv := observer.NewServer(run, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (RPS_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (RPS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiFrameLogger struct {
	a runner.FrameLogger
	b runner.FrameLogger
}

func (m multiFrameLogger) WriteFrame(entry runner.FrameLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteFrame(entry)
	}
	if m.b != nil {
		_ = m.b.WriteFrame(entry)
	}
	return nil
}

type multiOutcomeLogger struct {
	a runner.OutcomeLogger
	b runner.OutcomeLogger
}

func (m multiOutcomeLogger) WriteOutcome(entry runner.OutcomeLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteOutcome(entry)
	}
	if m.b != nil {
		_ = m.b.WriteOutcome(entry)
	}
	return nil
}
