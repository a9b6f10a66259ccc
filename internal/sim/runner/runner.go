// Package runner hosts a single arena on its own goroutine and turns its
// contests into a tick-driven run: frames for observers, rolling stats,
// and outcome records when a breed absorbs the grid.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"rpsarena.ai/internal/protocol"
	"rpsarena.ai/internal/sim/arena"
	simenc "rpsarena.ai/internal/sim/encoding"
)

// Run lifecycle states as reported to observers and admin endpoints.
const (
	StateRunning  = "running"
	StatePaused   = "paused"
	StateAbsorbed = "absorbed"
)

type Config struct {
	RunID     string
	NumBreeds int
	Size      int
	Seed      int64

	TickRateHz      int
	StepsPerTick    int
	FrameEveryTicks int

	StatsBucketTicks uint64
	StatsWindowTicks uint64

	AutoStart bool
}

// SubscribeRequest registers a read-only observer session that receives
// FRAME messages on Out. All observer state is maintained by the run loop
// goroutine.
type SubscribeRequest struct {
	SessionID string
	Out       chan []byte
	Resp      chan SubscribeResponse
}

// SubscribeResponse carries the loop-authoritative counters the transport
// needs to compose a WELCOME for the new session.
type SubscribeResponse struct {
	Epoch       uint64
	State       string
	Generation  uint64
	Surviving   int
	Populations []int
	Absorbed    bool
}

// ControlRequest asks the loop to start, pause, reset, or single-step the
// run. Resp, if non-nil, receives exactly one reply.
type ControlRequest struct {
	Command string
	Steps   int
	Resp    chan protocol.ControlResponse
}

// FrameLogger and OutcomeLogger sinks may be nil. Implemented in
// internal/persistence/runlog.
type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

type OutcomeLogger interface {
	WriteOutcome(entry OutcomeLogEntry) error
}

type FrameLogEntry struct {
	RunID       string `json:"run_id"`
	Tick        uint64 `json:"tick"`
	Epoch       uint64 `json:"epoch"`
	Generation  uint64 `json:"generation"`
	Surviving   int    `json:"surviving_breeds"`
	Populations []int  `json:"populations"`
	Absorbed    bool   `json:"absorbed"`
	Digest      string `json:"digest"`
}

// OutcomeLogEntry records one finished epoch: a single breed holds every
// cell and the run can only change again through a reset.
type OutcomeLogEntry struct {
	RunID       string `json:"run_id"`
	Epoch       uint64 `json:"epoch"`
	Tick        uint64 `json:"tick"`
	Winner      int    `json:"winner"`
	Generation  uint64 `json:"generation"`
	NumBreeds   int    `json:"num_breeds"`
	Size        int    `json:"arena_size"`
	Seed        int64  `json:"seed"`
	FinishedAtS int64  `json:"finished_at_s"`
}

// Runner is a single-threaded authoritative run loop.
// All state must be accessed only from the loop goroutine.
type Runner struct {
	cfg Config

	tick    atomic.Uint64
	metrics atomic.Value

	arena *arena.Arena
	epoch uint64
	state string

	// Reusable snapshot buffer; rows alias flat so frames encode row-major
	// without a second copy.
	grid [][]uint8
	flat []uint8

	subscribers map[string]chan []byte

	subscribe   chan SubscribeRequest
	unsubscribe chan string
	control     chan ControlRequest
	stop        chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	frameLogger   FrameLogger
	outcomeLogger OutcomeLogger

	stats *RunStats
}

// New validates cfg and builds the arena with its first epoch filled. The
// caller resolves Seed; the runner never substitutes a time-based one.
func New(cfg Config) (*Runner, error) {
	cfg.TickRateHz = clampInt(cfg.TickRateHz, 1, 1000, 20)
	cfg.StepsPerTick = clampInt(cfg.StepsPerTick, 1, 1_000_000, 500)
	cfg.FrameEveryTicks = clampInt(cfg.FrameEveryTicks, 1, 1_000_000, 5)

	a, err := arena.New(arena.Config{
		NumBreeds: cfg.NumBreeds,
		Size:      cfg.Size,
		Rand:      rand.New(rand.NewSource(cfg.Seed)),
	})
	if err != nil {
		return nil, err
	}
	a.Init()

	size := a.Size()
	flat := make([]uint8, size*size)
	rows := make([][]uint8, size)
	for i := range rows {
		rows[i] = flat[i*size : (i+1)*size]
	}

	state := StatePaused
	if cfg.AutoStart {
		state = StateRunning
	}

	r := &Runner{
		cfg:         cfg,
		arena:       a,
		epoch:       1,
		state:       state,
		grid:        rows,
		flat:        flat,
		subscribers: map[string]chan []byte{},
		subscribe:   make(chan SubscribeRequest, 16),
		unsubscribe: make(chan string, 16),
		control:     make(chan ControlRequest, 16),
		stop:        make(chan struct{}),
		stats:       NewRunStats(cfg.StatsBucketTicks, cfg.StatsWindowTicks),
	}
	r.publishMetrics(0, 0)
	return r, nil
}

func (r *Runner) SetFrameLogger(l FrameLogger)     { r.frameLogger = l }
func (r *Runner) SetOutcomeLogger(l OutcomeLogger) { r.outcomeLogger = l }

func (r *Runner) Subscribe() chan<- SubscribeRequest { return r.subscribe }
func (r *Runner) Unsubscribe() chan<- string         { return r.unsubscribe }
func (r *Runner) Control() chan<- ControlRequest     { return r.control }

func (r *Runner) CurrentTick() uint64 { return r.tick.Load() }

func (r *Runner) Config() Config { return r.cfg }

// Params describes the run for WELCOME and bootstrap payloads.
func (r *Runner) Params() protocol.ArenaParams {
	return protocol.ArenaParams{
		NumBreeds:    r.cfg.NumBreeds,
		Size:         r.cfg.Size,
		Seed:         r.cfg.Seed,
		TickRateHz:   r.cfg.TickRateHz,
		StepsPerTick: r.cfg.StepsPerTick,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.subscribe:
			r.handleSubscribe(req)
		case id := <-r.unsubscribe:
			r.handleUnsubscribe(id)
		case req := <-r.control:
			r.handleControl(req)
		case <-ticker.C:
			r.step()
		}
	}
}

func (r *Runner) Stop() { close(r.stop) }

func (r *Runner) step() {
	nowTick := r.tick.Load()
	stepStart := time.Now()

	if r.state == StateRunning {
		contests := 0
		genBefore := r.arena.Generation()
		survBefore := r.arena.SurvivingBreeds()
		for i := 0; i < r.cfg.StepsPerTick && !r.arena.Absorbed(); i++ {
			r.arena.Advance()
			contests++
		}
		decisive := int(r.arena.Generation() - genBefore)
		r.stats.RecordContests(nowTick, decisive, contests-decisive)
		r.stats.RecordExtinctions(nowTick, survBefore-r.arena.SurvivingBreeds())

		if r.arena.Absorbed() {
			r.state = StateAbsorbed
			r.logOutcome(nowTick)
			r.broadcastFrame(nowTick)
		} else if nowTick%uint64(r.cfg.FrameEveryTicks) == 0 {
			r.broadcastFrame(nowTick)
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	r.tick.Add(1)
	r.publishMetrics(nowTick+1, stepMS)
}

// StepOnce advances the run by a single tick using the same ordering
// semantics as the server loop. It is primarily intended for deterministic
// tests.
func (r *Runner) StepOnce() (tick uint64, digest string) {
	tick = r.tick.Load()
	r.step()
	return tick, r.stateDigest(tick)
}

func (r *Runner) handleSubscribe(req SubscribeRequest) {
	if req.SessionID == "" || req.Out == nil {
		if req.Resp != nil {
			req.Resp <- SubscribeResponse{}
		}
		return
	}

	// Replace existing session id if any (defensive).
	if old := r.subscribers[req.SessionID]; old != nil {
		close(old)
	}
	r.subscribers[req.SessionID] = req.Out

	resp := SubscribeResponse{
		Epoch:       r.epoch,
		State:       r.state,
		Generation:  r.arena.Generation(),
		Surviving:   r.arena.SurvivingBreeds(),
		Populations: r.arena.Populations(),
		Absorbed:    r.arena.Absorbed(),
	}

	// Seed the new session with a frame so it can render before the next
	// cadence boundary (or while paused).
	if b, _, ok := r.buildFrame(r.tick.Load()); ok {
		sendLatest(req.Out, b)
	}

	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (r *Runner) handleUnsubscribe(sessionID string) {
	if sessionID == "" {
		return
	}
	out := r.subscribers[sessionID]
	if out == nil {
		return
	}
	delete(r.subscribers, sessionID)
	close(out)
}

func (r *Runner) handleControl(req ControlRequest) {
	res := r.applyControl(req)
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- res:
	default:
		// Client timed out; don't block the run loop.
	}
}

// RequestControl asks the run loop to apply a control command. It is safe
// to call from other goroutines (e.g. HTTP handlers).
func (r *Runner) RequestControl(ctx context.Context, command string, steps int) (protocol.ControlResponse, error) {
	resp := make(chan protocol.ControlResponse, 1)
	req := ControlRequest{Command: command, Steps: steps, Resp: resp}

	select {
	case r.control <- req:
	case <-ctx.Done():
		return protocol.ControlResponse{}, ctx.Err()
	}

	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return protocol.ControlResponse{}, ctx.Err()
	}
}

func (r *Runner) applyControl(req ControlRequest) protocol.ControlResponse {
	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case "start":
		if r.state == StateAbsorbed {
			return r.controlError(protocol.ErrRunBusy, "run is absorbed; reset to begin a new epoch")
		}
		r.state = StateRunning
	case "pause":
		if r.state == StateAbsorbed {
			return r.controlError(protocol.ErrRunBusy, "run is absorbed; reset to begin a new epoch")
		}
		r.state = StatePaused
	case "reset":
		r.arena.Init()
		r.epoch++
		r.state = StateRunning
		r.broadcastFrame(r.tick.Load())
	case "step":
		if r.state != StatePaused {
			return r.controlError(protocol.ErrRunBusy, "pause the run before stepping")
		}
		steps := clampInt(req.Steps, 1, 1_000_000, 1)
		genBefore := r.arena.Generation()
		survBefore := r.arena.SurvivingBreeds()
		contests := 0
		for i := 0; i < steps && !r.arena.Absorbed(); i++ {
			r.arena.Advance()
			contests++
		}
		nowTick := r.tick.Load()
		decisive := int(r.arena.Generation() - genBefore)
		r.stats.RecordContests(nowTick, decisive, contests-decisive)
		r.stats.RecordExtinctions(nowTick, survBefore-r.arena.SurvivingBreeds())
		if r.arena.Absorbed() {
			r.state = StateAbsorbed
			r.logOutcome(nowTick)
		}
		r.broadcastFrame(nowTick)
	default:
		return r.controlError(protocol.ErrUnknownCommand, fmt.Sprintf("unknown command %q", req.Command))
	}

	r.publishMetrics(r.tick.Load(), 0)
	return protocol.ControlResponse{
		OK:         true,
		State:      r.state,
		Epoch:      r.epoch,
		Generation: r.arena.Generation(),
		Surviving:  r.arena.SurvivingBreeds(),
		Absorbed:   r.arena.Absorbed(),
	}
}

func (r *Runner) controlError(code, message string) protocol.ControlResponse {
	return protocol.ControlResponse{
		OK:         false,
		State:      r.state,
		Epoch:      r.epoch,
		Generation: r.arena.Generation(),
		Surviving:  r.arena.SurvivingBreeds(),
		Absorbed:   r.arena.Absorbed(),
		Code:       code,
		Message:    message,
	}
}

func (r *Runner) broadcastFrame(nowTick uint64) {
	b, entry, ok := r.buildFrame(nowTick)
	if !ok {
		return
	}
	for _, out := range r.subscribers {
		sendLatest(out, b)
	}
	if r.frameLogger != nil {
		_ = r.frameLogger.WriteFrame(entry)
	}
}

func (r *Runner) buildFrame(nowTick uint64) ([]byte, FrameLogEntry, bool) {
	digest := r.stateDigest(nowTick) // refreshes r.flat from the grid
	msg := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		RunID:           r.cfg.RunID,
		Epoch:           r.epoch,
		Tick:            nowTick,
		Generation:      r.arena.Generation(),
		Surviving:       r.arena.SurvivingBreeds(),
		Populations:     r.arena.Populations(),
		Absorbed:        r.arena.Absorbed(),
		Encoding:        protocol.TerrainEncoding,
		Terrain:         simenc.EncodeRLE(r.flat),
		Digest:          digest,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, FrameLogEntry{}, false
	}
	entry := FrameLogEntry{
		RunID:       r.cfg.RunID,
		Tick:        nowTick,
		Epoch:       r.epoch,
		Generation:  msg.Generation,
		Surviving:   msg.Surviving,
		Populations: msg.Populations,
		Absorbed:    msg.Absorbed,
		Digest:      digest,
	}
	return b, entry, true
}

func (r *Runner) logOutcome(nowTick uint64) {
	if r.outcomeLogger == nil {
		return
	}
	winner := -1
	for b, n := range r.arena.Populations() {
		if n > 0 {
			winner = b
			break
		}
	}
	_ = r.outcomeLogger.WriteOutcome(OutcomeLogEntry{
		RunID:       r.cfg.RunID,
		Epoch:       r.epoch,
		Tick:        nowTick,
		Winner:      winner,
		Generation:  r.arena.Generation(),
		NumBreeds:   r.cfg.NumBreeds,
		Size:        r.cfg.Size,
		Seed:        r.cfg.Seed,
		FinishedAtS: time.Now().Unix(),
	})
}

func (r *Runner) publishMetrics(nowTick uint64, stepMS float64) {
	sum := r.stats.Summarize(nowTick)
	r.metrics.Store(RunMetrics{
		Tick:       nowTick,
		Epoch:      r.epoch,
		State:      r.state,
		Generation: r.arena.Generation(),
		Surviving:  r.arena.SurvivingBreeds(),
		Absorbed:   r.arena.Absorbed(),
		Observers:  len(r.subscribers),
		QueueDepths: QueueDepths{
			Subscribe:   len(r.subscribe),
			Unsubscribe: len(r.unsubscribe),
			Control:     len(r.control),
		},
		StepMS:           stepMS,
		StatsWindowTicks: r.stats.WindowTicks(),
		StatsWindow:      sum,
		Populations:      r.arena.Populations(),
	})
}

func (r *Runner) stateDigest(nowTick uint64) string {
	_ = r.arena.Snapshot(r.grid)
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], nowTick)
	h.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.cfg.Seed))
	h.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], r.epoch)
	h.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], r.arena.Generation())
	h.Write(tmp[:])
	for _, n := range r.arena.Populations() {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(n)))
		h.Write(tmp[:])
	}
	h.Write(r.flat)
	return hex.EncodeToString(h.Sum(nil))
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
