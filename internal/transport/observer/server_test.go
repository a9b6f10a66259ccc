package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rpsarena.ai/internal/protocol"
	"rpsarena.ai/internal/sim/encoding"
	"rpsarena.ai/internal/sim/runner"
)

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	r, err := runner.New(runner.Config{
		RunID:            "run-obs",
		NumBreeds:        4,
		Size:             10,
		Seed:             21,
		TickRateHz:       20,
		StepsPerTick:     50,
		FrameEveryTicks:  1,
		StatsBucketTicks: 10,
		StatsWindowTicks: 100,
		AutoStart:        false,
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return r
}

func TestBootstrapHandler_GateAndPayload(t *testing.T) {
	r := newTestRunner(t)
	srv := NewServer(r, log.New(io.Discard, "", 0))
	h := srv.BootstrapHandler()

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp protocol.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode bootstrap: %v", err)
	}
	if resp.ProtocolVersion != protocol.Version || resp.RunID != "run-obs" {
		t.Fatalf("bootstrap identity: %+v", resp)
	}
	if resp.State != runner.StatePaused || resp.Epoch != 1 {
		t.Fatalf("bootstrap state: %+v", resp)
	}
	if resp.Params.NumBreeds != 4 || resp.Params.Size != 10 {
		t.Fatalf("bootstrap params: %+v", resp.Params)
	}
	if len(resp.Palette) != 4 {
		t.Fatalf("palette entries: got %d want 4", len(resp.Palette))
	}
	sum := 0
	for _, n := range resp.Populations {
		sum += n
	}
	if sum != 100 {
		t.Fatalf("populations must cover the grid: %d", sum)
	}
}

func TestWSHandler_SubscribeWelcomeFrames(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	srv := NewServer(r, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		MaxQueue:        16,
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID != "O1" {
		t.Fatalf("welcome: %+v", welcome)
	}
	if welcome.RunID != "run-obs" || len(welcome.Palette) != 4 {
		t.Fatalf("welcome payload: %+v", welcome)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seed protocol.FrameMsg
	if err := conn.ReadJSON(&seed); err != nil {
		t.Fatalf("read seed frame: %v", err)
	}
	if seed.Type != protocol.TypeFrame || seed.Encoding != protocol.TerrainEncoding {
		t.Fatalf("seed frame: %+v", seed)
	}
	cells, err := encoding.DecodeRLE(seed.Terrain)
	if err != nil {
		t.Fatalf("decode terrain: %v", err)
	}
	if len(cells) != 100 {
		t.Fatalf("terrain cells: got %d want 100", len(cells))
	}

	// Stepping the paused run publishes another frame to the stream.
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	res, err := r.RequestControl(cctx, "step", 3)
	if err != nil {
		t.Fatalf("request control: %v", err)
	}
	if !res.OK {
		t.Fatalf("step rejected: %+v", res)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var stepped protocol.FrameMsg
	if err := conn.ReadJSON(&stepped); err != nil {
		t.Fatalf("read step frame: %v", err)
	}
	if stepped.Type != protocol.TypeFrame || stepped.Epoch != 1 {
		t.Fatalf("step frame: %+v", stepped)
	}
	if stepped.Generation > 3 {
		t.Fatalf("3 contests can yield at most 3 generations: %+v", stepped)
	}
}

func TestWSHandler_RejectsBadHandshake(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	srv := NewServer(r, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatalf("write bad handshake: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var errMsg protocol.ErrorMsg
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error message: %v", err)
	}
	if errMsg.Type != protocol.TypeError || errMsg.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error message: %+v", errMsg)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}
