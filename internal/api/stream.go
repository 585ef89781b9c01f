package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 10 * time.Second
	streamPongWait   = 2 * streamPingPeriod
)

// StreamMessage is one frame of the cabinet stream.
type StreamMessage struct {
	Cabinets []netboot.Cabinet `json:"cabinets"`
}

// streamCabinets pushes the full cabinet list on connect and after every
// registry change until the client goes away.
func (s *Server) streamCabinets(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := s.bus.Subscribe(pubsub.TopicCabinetsUpdated, "", 16)
	defer s.bus.Unsubscribe(sub)

	initial, err := s.fleet.List(r.Context())
	if err != nil {
		log.Printf("⚠️  Failed to list cabinets for stream: %v", err)
		return
	}
	if err := writeFrame(conn, initial); err != nil {
		return
	}

	// The reader only exists to notice the client closing the connection.
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			cabinets, ok := msg.([]netboot.Cabinet)
			if !ok {
				continue
			}
			if err := writeFrame(conn, cabinets); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, cabinets []netboot.Cabinet) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(StreamMessage{Cabinets: cabinets})
}
