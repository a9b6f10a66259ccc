// Package observer serves read-only views of a run: a JSON bootstrap
// endpoint and a websocket stream of FRAME messages.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"rpsarena.ai/internal/protocol"
	"rpsarena.ai/internal/sim/runner"
)

type Server struct {
	run *runner.Runner
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(run *runner.Runner, logger *log.Logger) *Server {
	return &Server{
		run: run,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.run.Config()
		m := s.run.Metrics()
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			RunID:           cfg.RunID,
			Epoch:           m.Epoch,
			State:           m.State,
			Params:          s.run.Params(),
			Palette:         protocol.BreedPalette(cfg.NumBreeds),
			Generation:      m.Generation,
			Surviving:       m.Surviving,
			Populations:     m.Populations,
			Absorbed:        m.Absorbed,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			s.rejectHandshake(conn, "bad subscribe")
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			s.rejectHandshake(conn, "expected SUBSCRIBE")
			return
		}

		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, sub.MaxQueue)
		respCh := make(chan runner.SubscribeResponse, 1)

		joinReq := runner.SubscribeRequest{
			SessionID: sid,
			Out:       out,
			Resp:      respCh,
		}
		select {
		case s.run.Subscribe() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.run.Unsubscribe() <- sid:
			default:
				// Run loop is stopping; nothing else to do.
			}
		}()

		var joined runner.SubscribeResponse
		select {
		case joined = <-respCh:
		case <-r.Context().Done():
			return
		case <-time.After(5 * time.Second):
			return
		}

		// WELCOME goes out before the writer starts, so the seed frame the
		// loop already queued on out cannot overtake it.
		cfg := s.run.Config()
		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			RunID:           cfg.RunID,
			Params:          s.run.Params(),
			Palette:         protocol.BreedPalette(cfg.NumBreeds),
			Generation:      joined.Generation,
			Surviving:       joined.Surviving,
			Populations:     joined.Populations,
			Absorbed:        joined.Absorbed,
		}
		wb, err := json.Marshal(welcome)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, wb); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: drains client messages and detects disconnect. A
		// re-SUBSCRIBE carries nothing to update (the queue size is fixed
		// at join), so everything is tolerated and ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// rejectHandshake sends a protocol ERROR followed by a policy close. The
// writer goroutine has not started yet, so writing here is safe.
func (s *Server) rejectHandshake(conn *websocket.Conn, reason string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:    protocol.TypeError,
		Code:    protocol.ErrProtoBadRequest,
		Message: reason,
	})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.MaxQueue <= 0 {
		sub.MaxQueue = 64
	}
	if sub.MaxQueue < 8 {
		sub.MaxQueue = 8
	}
	if sub.MaxQueue > 256 {
		sub.MaxQueue = 256
	}
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
