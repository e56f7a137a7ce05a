package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is the daemon's state WS frame.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type movement struct {
	VerticalOffset   float64 `json:"vertical_offset"`
	HorizontalOffset float64 `json:"horizontal_offset"`
	HorizontalLook   float64 `json:"horizontal_look"`
	ShouldRun        bool    `json:"should_run"`
}

type counterTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "leashbridge state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as JSON instead of one-line summaries")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; allow for a couple of missed frames.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			handleTextMessage(message, *raw)
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one state frame.
func handleTextMessage(message []byte, raw bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	if raw {
		var v any
		_ = json.Unmarshal(message, &v)
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s\n", pretty)
		return
	}

	switch env.Type {
	case "state_init":
		var pretty any
		_ = json.Unmarshal(env.Data, &pretty)
		b, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[STATE]\n%s\n", b)

	case "movement_changed":
		var d struct {
			Movement movement `json:"movement"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fmt.Printf("[MOVE] %s\n", env.Data)
			return
		}
		m := d.Movement
		run := ""
		if m.ShouldRun {
			run = " RUN"
		}
		fmt.Printf("[MOVE] v=%+.2f h=%+.2f look=%+.2f%s\n", m.VerticalOffset, m.HorizontalOffset, m.HorizontalLook, run)

	case "counter_changed":
		var d struct {
			Counter counterTime `json:"counter"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fmt.Printf("[COUNTER] %s\n", env.Data)
			return
		}
		fmt.Printf("[COUNTER] %02d:%02d:%02d\n", d.Counter.Hours, d.Counter.Minutes, d.Counter.Seconds)

	case "loop_state_changed":
		var d struct {
			Loop    string `json:"loop"`
			Running bool   `json:"running"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fmt.Printf("[LOOP] %s\n", env.Data)
			return
		}
		state := "STOPPED"
		if d.Running {
			state = "RUNNING"
		}
		fmt.Printf("[LOOP] %s %s\n", d.Loop, state)

	default:
		fmt.Printf("[%s] %s\n", env.Type, env.Data)
	}
}
