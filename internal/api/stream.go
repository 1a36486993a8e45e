package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	streamBufferSize = 64
	sseKeepalive     = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Operational API without auth; same-origin enforcement is a proxy
	// concern here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsSSE streams bus events as server-sent events until the client
// disconnects. An optional camera_id query filters to one camera.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, unsub := s.subscribe(r.URL.Query().Get("camera_id"))
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}

// handleEventsWS streams bus events over a WebSocket. Read side is only
// serviced to detect closure.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] API: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.subscribe(r.URL.Query().Get("camera_id"))
	defer unsub()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribe(cameraID string) (<-chan *events.Event, func()) {
	if cameraID != "" {
		return s.bus.SubscribeCameraChannel(cameraID, streamBufferSize)
	}
	return s.bus.SubscribeChannel(streamBufferSize)
}
