// Command watch subscribes to a run's observer stream and prints one line
// per frame.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"rpsarena.ai/internal/protocol"
	"rpsarena.ai/internal/sim/encoding"
)

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8080/admin/v1/observer/ws", "observer ws url")
		maxQueue = flag.Int("max_queue", 64, "frame backlog held by the server for this session")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		MaxQueue:        *maxQueue,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s run=%s breeds=%d arena=%dx%d seed=%d surviving=%d",
				w.SessionID, w.RunID, w.Params.NumBreeds, w.Params.Size, w.Params.Size, w.Params.Seed, w.Surviving)

		case protocol.TypeFrame:
			var f protocol.FrameMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			printFrame(logger, &f)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func printFrame(logger *log.Logger, f *protocol.FrameMsg) {
	// Decode the terrain even though the counters are all we print; a frame
	// that does not decode is worth surfacing.
	cells, err := encoding.DecodeRLE(f.Terrain)
	if err != nil {
		logger.Printf("FRAME tick=%d: bad terrain: %v", f.Tick, err)
		return
	}
	if f.Absorbed {
		winner := -1
		for breed, pop := range f.Populations {
			if pop > 0 {
				winner = breed
				break
			}
		}
		logger.Printf("FRAME epoch=%d tick=%d gen=%d ABSORBED winner=%d cells=%d",
			f.Epoch, f.Tick, f.Generation, winner, len(cells))
		return
	}
	logger.Printf("FRAME epoch=%d tick=%d gen=%d surviving=%d populations=%v",
		f.Epoch, f.Tick, f.Generation, f.Surviving, f.Populations)
}
