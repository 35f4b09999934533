package app

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogPage  = 500
)

// handleWebSocket streams a project's change feed over a socket.
// Events recorded after the optional since cursor are replayed first,
// then live pushes follow. The read loop exists only to notice the
// client going away.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request, projectID int64) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "since must be an integer cursor", nil)
			return
		}
		since = parsed
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	distributor := s.service.Events()
	ch, cancel := distributor.Subscribe(projectID)
	defer cancel()

	cursor := since
	for {
		backlog, next, hasMore, err := distributor.PollSince(r.Context(), projectID, cursor, wsBacklogPage)
		if err != nil {
			log.Printf("ws: backlog fetch failed: project=%d: %v", projectID, err)
			return
		}
		for _, event := range backlog {
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(event); err != nil {
				return
			}
		}
		cursor = next
		if !hasMore {
			break
		}
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
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
		case event, ok := <-ch:
			if !ok {
				return
			}
			// The backlog replay may overlap the first live pushes.
			if event.Timestamp <= cursor {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
